package detect

import (
	"regexp"
	"strings"
)

// SiteAdapter tunes the NexusPHP engine for one tracker family. All fields
// are optional; the generic behavior applies where a hook is nil.
type SiteAdapter struct {
	// DomainSuffix selects the adapter: "example.cc" matches the apex and
	// every subdomain.
	DomainSuffix string

	// UserIDPattern overrides the default userdetails.php id extraction.
	UserIDPattern *regexp.Regexp

	// PermissionDeniedPatterns are checked against the invite page text and
	// raw HTML in addition to the built-in list.
	PermissionDeniedPatterns []*regexp.Regexp
}

// adapters is intentionally empty; entries get added as site-specific quirks
// surface in the field.
var adapters []SiteAdapter

// RegisterAdapter installs a site-specific adapter. Later registrations win
// over earlier ones for the same suffix.
func RegisterAdapter(a SiteAdapter) {
	adapters = append([]SiteAdapter{a}, adapters...)
}

// adapterFor returns the adapter matching the domain, or nil.
func adapterFor(domain string) *SiteAdapter {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" {
		return nil
	}
	for i := range adapters {
		suffix := strings.ToLower(adapters[i].DomainSuffix)
		if suffix == "" {
			continue
		}
		if d == suffix || strings.HasSuffix(d, "."+suffix) {
			return &adapters[i]
		}
	}
	return nil
}

// extractUserID pulls the logged-in user's id from raw homepage HTML.
func extractUserID(adapter *SiteAdapter, rawHTML string) string {
	if adapter != nil && adapter.UserIDPattern != nil {
		if m := adapter.UserIDPattern.FindStringSubmatch(rawHTML); m != nil && len(m) > 1 {
			return m[1]
		}
	}
	if m := userDetailsIDRe.FindStringSubmatch(rawHTML); m != nil {
		return m[1]
	}
	return ""
}

// permissionDenied checks the built-in and adapter-specific patterns against
// the invite page, returning the matched pattern source.
func permissionDenied(adapter *SiteAdapter, text, rawHTML string) (string, bool) {
	if pat, ok := firstMatch(invitePermissionDeniedPatterns, text); ok {
		return pat, true
	}
	if pat, ok := firstMatch(invitePermissionDeniedPatterns, rawHTML); ok {
		return pat, true
	}
	if adapter != nil {
		if pat, ok := firstMatch(adapter.PermissionDeniedPatterns, text); ok {
			return pat, true
		}
		if pat, ok := firstMatch(adapter.PermissionDeniedPatterns, rawHTML); ok {
			return pat, true
		}
	}
	return "", false
}
