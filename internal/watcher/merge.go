// Package watcher runs the periodic site scans: merging the inventory with
// overrides, probing reachability, dispatching the detection engines,
// persisting results and notifying on changes.
package watcher

import (
	"strings"

	"pt-watch/internal/models"

	"github.com/sirupsen/logrus"
)

const mteamDomainSuffix = "m-team.cc"

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func isMTeamDomain(domain string) bool {
	return strings.HasSuffix(normalizeDomain(domain), mteamDomainSuffix)
}

func validTemplate(template string) string {
	switch strings.ToLower(strings.TrimSpace(template)) {
	case models.TemplateNexusPHP:
		return models.TemplateNexusPHP
	case models.TemplateCustom:
		return models.TemplateCustom
	case models.TemplateMTeam:
		return models.TemplateMTeam
	}
	return ""
}

// MergeSites combines the inventory with the override rows. Override rows
// enrich inventory sites; manual rows define standalone sites and need a URL.
// Later entries win on duplicate domains. Override secrets must already be
// decrypted by the caller.
func MergeSites(inventory []models.Site, overrides []models.SiteOverride) []models.Site {
	byDomain := make(map[string]models.SiteOverride, len(overrides))
	for _, row := range overrides {
		if !row.Enabled {
			continue
		}
		domain := normalizeDomain(row.Domain)
		if domain == "" {
			continue
		}
		byDomain[domain] = row
	}

	var merged []models.Site
	seen := make(map[string]bool, len(inventory))

	for _, s := range inventory {
		domain := normalizeDomain(s.Domain)
		if domain == "" {
			continue
		}
		seen[domain] = true

		site := s
		site.Domain = domain

		if row, ok := byDomain[domain]; ok {
			mode := strings.ToLower(strings.TrimSpace(row.Mode))
			if mode == "" {
				mode = models.OverrideModeOverride
			}
			if mode == models.OverrideModeOverride || mode == models.OverrideModeManual {
				applyOverride(&site, row)
			}
		}
		applyMTeamDefaults(&site)
		merged = append(merged, site)
	}

	// Manual rows for domains the inventory does not know about.
	for _, row := range overrides {
		if !row.Enabled {
			continue
		}
		domain := normalizeDomain(row.Domain)
		if domain == "" || seen[domain] {
			continue
		}
		if strings.ToLower(strings.TrimSpace(row.Mode)) != models.OverrideModeManual {
			continue
		}
		if strings.TrimSpace(row.URL) == "" {
			logrus.Warnf("manual site %s has no URL, skipping", domain)
			continue
		}

		site := models.Site{
			Name:     strings.TrimSpace(row.Name),
			Domain:   domain,
			URL:      strings.TrimSpace(row.URL),
			IsActive: true,
			Template: models.TemplateCustom,
		}
		if site.Name == "" {
			site.Name = domain
		}
		applyOverride(&site, row)
		if t := validTemplate(row.Template); t != "" {
			site.Template = t
		}
		applyMTeamDefaults(&site)
		merged = append(merged, site)
	}

	// Dedupe by domain, later wins.
	result := make([]models.Site, 0, len(merged))
	index := make(map[string]int, len(merged))
	for _, site := range merged {
		if i, ok := index[site.Domain]; ok {
			result[i] = site
			continue
		}
		index[site.Domain] = len(result)
		result = append(result, site)
	}
	return result
}

func applyOverride(site *models.Site, row models.SiteOverride) {
	if name := strings.TrimSpace(row.Name); name != "" {
		site.Name = name
	}
	if cookie := strings.TrimSpace(row.Cookie); cookie != "" {
		site.CookieOverride = cookie
	}
	if auth := strings.TrimSpace(row.Authorization); auth != "" {
		site.Authorization = auth
	}
	if did := strings.TrimSpace(row.DID); did != "" {
		site.DID = did
	}
	if ua := strings.TrimSpace(row.UA); ua != "" {
		site.UA = ua
	}
	if t := validTemplate(row.Template); t != "" {
		site.Template = t
	}
	if p := strings.TrimSpace(row.RegistrationPath); p != "" {
		site.RegistrationPath = p
	}
	if p := strings.TrimSpace(row.InvitePath); p != "" {
		site.InvitePath = p
	}
	if b := strings.ToLower(strings.TrimSpace(row.BypassMethod)); b == models.BypassMethodStealth {
		site.BypassMethod = b
	}
}

// applyMTeamDefaults fills the m-team.cc family defaults: the JSON API
// template and the path-style endpoints.
func applyMTeamDefaults(site *models.Site) {
	if !isMTeamDomain(site.Domain) {
		return
	}
	if site.Template == "" {
		site.Template = models.TemplateMTeam
	}
	if site.RegistrationPath == "" {
		site.RegistrationPath = "signup"
	}
	if site.InvitePath == "" {
		site.InvitePath = "invite"
	}
}
