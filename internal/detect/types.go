// Package detect implements the per-site detection engines: NexusPHP HTML
// parsing and the M-Team profile API.
package detect

import (
	"fmt"
	"net/url"
	"strings"

	"pt-watch/internal/utils"
)

// Aspect states. Unknown means the engine could not decide; it never counts
// as a change.
const (
	StateOpen    = "open"
	StateClosed  = "closed"
	StateUnknown = "unknown"
)

// maxDetailRunes caps Evidence.Detail so database rows and notifications stay
// readable.
const maxDetailRunes = 240

// Evidence records why an engine reached its verdict.
type Evidence struct {
	URL        string `json:"url"`
	HTTPStatus *int   `json:"http_status,omitempty"`
	Reason     string `json:"reason"`
	Matched    string `json:"matched,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// AspectResult is the outcome for one watched aspect of a site.
type AspectResult struct {
	State     string   `json:"state"`
	Available *int     `json:"available,omitempty"`
	Permanent *int     `json:"permanent,omitempty"`
	Temporary *int     `json:"temporary,omitempty"`
	Evidence  Evidence `json:"evidence"`
}

func intPtr(v int) *int {
	return &v
}

// truncateDetail collapses whitespace and caps the rune length.
func truncateDetail(s string) string {
	return utils.TruncateRunes(utils.CollapseWhitespace(s), maxDetailRunes)
}

// FormatErrorDetail renders a transport error for Evidence.Detail.
func FormatErrorDetail(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = fmt.Sprintf("%T", err)
	}
	return truncateDetail(msg)
}

// ErrorTypeName classifies a transport error for reason codes like
// registration_error:<Type>.
func ErrorTypeName(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"):
		return "Timeout"
	case strings.Contains(msg, "no such host"):
		return "DNSError"
	case strings.Contains(msg, "connection refused"):
		return "ConnectError"
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return "TLSError"
	case strings.Contains(msg, "stopped after"), strings.Contains(msg, "redirect"):
		return "RedirectError"
	default:
		return "RequestError"
	}
}

// AppendRetryDetail annotates a detail string with the attempts used.
func AppendRetryDetail(detail string, attempts int) string {
	if attempts <= 1 {
		return detail
	}
	suffix := fmt.Sprintf("retries=%d", attempts)
	if detail == "" {
		return suffix
	}
	if strings.Contains(detail, suffix) {
		return detail
	}
	return fmt.Sprintf("%s (%s)", detail, suffix)
}

// JoinURL resolves path against base the way browsers do, treating the base
// as a directory.
func JoinURL(base, path string) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return base + strings.TrimPrefix(path, "/")
	}
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return base + strings.TrimPrefix(path, "/")
	}
	return baseURL.ResolveReference(ref).String()
}
