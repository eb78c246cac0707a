package watcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pt-watch/internal/models"
	"pt-watch/internal/store"

	"github.com/sirupsen/logrus"
)

const (
	siteListKey     = "effective_sites_summary"
	siteListVersion = 1

	// siteListMaxLines caps one notification; the rest collapses into a
	// trailing count.
	siteListMaxLines       = 12
	siteListMaxFieldsShown = 3
)

// Site sources for the summary doc.
const (
	SiteSourceMoviePilot = "moviepilot"
	SiteSourceManual     = "manual"
)

// SiteSummaryItem is one entry of the effective site list, reduced to the
// fields whose changes are worth a notification.
type SiteSummaryItem struct {
	Domain           string `json:"domain"`
	Name             string `json:"name"`
	URL              string `json:"url"`
	Template         string `json:"template"`
	RegistrationPath string `json:"registration_path"`
	InvitePath       string `json:"invite_path"`
	Source           string `json:"source"`
}

type siteListDoc struct {
	Version   int                        `json:"version"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Items     map[string]SiteSummaryItem `json:"items"`
}

// summaryFields are compared in order for the 修改 lines.
var summaryFields = []struct {
	label string
	get   func(SiteSummaryItem) string
}{
	{"name", func(i SiteSummaryItem) string { return i.Name }},
	{"url", func(i SiteSummaryItem) string { return i.URL }},
	{"template", func(i SiteSummaryItem) string { return i.Template }},
	{"registration_path", func(i SiteSummaryItem) string { return i.RegistrationPath }},
	{"invite_path", func(i SiteSummaryItem) string { return i.InvitePath }},
}

// SiteListTracker persists the effective site list between runs and reports
// what changed.
type SiteListTracker struct {
	store store.Store
}

func NewSiteListTracker(s store.Store) *SiteListTracker {
	return &SiteListTracker{store: s}
}

// SummarizeSites reduces merged sites to their summary form, keyed by domain.
func SummarizeSites(sites []models.Site) map[string]SiteSummaryItem {
	items := make(map[string]SiteSummaryItem, len(sites))
	for i := range sites {
		site := &sites[i]
		template := site.EffectiveTemplate()
		regPath := site.RegistrationPath
		invPath := site.InvitePath
		if template == models.TemplateMTeam {
			if regPath == "" {
				regPath = "signup"
			}
			if invPath == "" {
				invPath = "invite"
			}
		} else {
			if regPath == "" {
				regPath = "signup.php"
			}
			if invPath == "" {
				invPath = "invite.php"
			}
		}
		source := SiteSourceManual
		if site.ID != nil {
			source = SiteSourceMoviePilot
		}
		items[site.Domain] = SiteSummaryItem{
			Domain:           site.Domain,
			Name:             site.Name,
			URL:              site.URL,
			Template:         template,
			RegistrationPath: regPath,
			InvitePath:       invPath,
			Source:           source,
		}
	}
	return items
}

// Update stores the current summary and returns the change lines against the
// previous one. The first run seeds the doc and reports nothing.
func (t *SiteListTracker) Update(sites []models.Site) ([]string, error) {
	current := SummarizeSites(sites)

	previous, hadPrevious, err := t.load()
	if err != nil {
		return nil, err
	}
	if err := t.save(current); err != nil {
		return nil, err
	}
	if !hadPrevious {
		return nil, nil
	}
	return diffSiteList(previous, current), nil
}

func (t *SiteListTracker) load() (map[string]SiteSummaryItem, bool, error) {
	raw, err := t.store.Get(siteListKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var doc siteListDoc
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Version != siteListVersion {
		logrus.Warn("discarding unreadable site list summary")
		return nil, false, nil
	}
	return doc.Items, true, nil
}

func (t *SiteListTracker) save(items map[string]SiteSummaryItem) error {
	raw, err := json.Marshal(siteListDoc{
		Version:   siteListVersion,
		UpdatedAt: time.Now(),
		Items:     items,
	})
	if err != nil {
		return err
	}
	return t.store.Set(siteListKey, raw, 0)
}

// diffSiteList renders added, removed and changed sites as notification
// lines, capped at siteListMaxLines.
func diffSiteList(previous, current map[string]SiteSummaryItem) []string {
	var added, removed, common []string
	for domain := range current {
		if _, ok := previous[domain]; ok {
			common = append(common, domain)
		} else {
			added = append(added, domain)
		}
	}
	for domain := range previous {
		if _, ok := current[domain]; !ok {
			removed = append(removed, domain)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(common)

	var lines []string
	for _, domain := range added {
		item := current[domain]
		lines = append(lines, fmt.Sprintf("新增：%s (%s) %s", item.Name, item.Domain, item.URL))
	}
	for _, domain := range removed {
		lines = append(lines, fmt.Sprintf("删除：%s", domain))
	}
	for _, domain := range common {
		if line := describeFieldChanges(previous[domain], current[domain]); line != "" {
			lines = append(lines, line)
		}
	}

	if len(lines) > siteListMaxLines {
		extra := len(lines) - siteListMaxLines
		lines = append(lines[:siteListMaxLines], fmt.Sprintf("…以及其它 %d 项变更", extra))
	}
	return lines
}

func describeFieldChanges(prev, cur SiteSummaryItem) string {
	var parts []string
	changed := 0
	for _, field := range summaryFields {
		a, b := field.get(prev), field.get(cur)
		if a == b {
			continue
		}
		changed++
		if len(parts) < siteListMaxFieldsShown {
			parts = append(parts, fmt.Sprintf("%s:%s→%s", field.label, orDash(a), orDash(b)))
		}
	}
	if changed == 0 {
		return ""
	}
	if changed > siteListMaxFieldsShown {
		parts = append(parts, "…")
	}
	return fmt.Sprintf("修改：%s (%s)", cur.Domain, strings.Join(parts, ", "))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
