package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"pt-watch/internal/config"
	"pt-watch/internal/detect"
	"pt-watch/internal/encryption"
	"pt-watch/internal/httpclient"
	"pt-watch/internal/models"
	"pt-watch/internal/notify"
	"pt-watch/internal/providers"
	"pt-watch/internal/store"
	"pt-watch/internal/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const scanStatusKey = "scan_status"

const siteListNotifyTitle = "PT Invite Watcher: 站点列表变更"

// ErrScanRunning is returned when a scan is requested while one is active.
var ErrScanRunning = fmt.Errorf("a scan is already running")

// ScanStatus is the persisted outcome of the last scan.
type ScanStatus struct {
	OK               bool      `json:"ok"`
	RunID            string    `json:"run_id,omitempty"`
	SiteCount        int       `json:"site_count"`
	Error            string    `json:"error,omitempty"`
	Warning          string    `json:"warning,omitempty"`
	MoviePilotOK     bool      `json:"moviepilot_ok"`
	MoviePilotError  string    `json:"moviepilot_error,omitempty"`
	MoviePilotSource string    `json:"moviepilot_source"`
	LastRunAt        time.Time `json:"last_run_at"`
	DurationMS       int64     `json:"duration_ms"`
}

// SiteCheckResult bundles everything one site check produced.
type SiteCheckResult struct {
	Site         models.Site         `json:"site"`
	Engine       string              `json:"engine"`
	Reachability ReachabilityResult  `json:"reachability"`
	Registration detect.AspectResult `json:"registration"`
	Invites      detect.AspectResult `json:"invites"`
	CheckedAt    time.Time           `json:"checked_at"`
	Changes      []string            `json:"changes,omitempty"`
}

// Scanner runs full and single-site checks. Only one scan runs at a time.
type Scanner struct {
	settingsManager *config.SystemSettingsManager
	db              *gorm.DB
	store           store.Store
	encryption      encryption.Service

	clientManager  *httpclient.HTTPClientManager
	stealthManager *httpclient.StealthClientManager

	moviePilot    *providers.MoviePilotClient
	sitesCache    *providers.SitesCache
	cookieManager *providers.CookieManager
	depsStatus    *providers.DepsStatusManager

	notifier   *notify.Manager
	stateStore *StateStore
	siteList   *SiteListTracker

	nexus *detect.NexusPHPDetector
	mteam *detect.MTeamDetector

	runMu sync.Mutex
}

// NewScanner wires the scanner from its collaborators.
func NewScanner(
	settingsManager *config.SystemSettingsManager,
	db *gorm.DB,
	s store.Store,
	encryptionSvc encryption.Service,
	clientManager *httpclient.HTTPClientManager,
	stealthManager *httpclient.StealthClientManager,
	moviePilot *providers.MoviePilotClient,
	sitesCache *providers.SitesCache,
	cookieManager *providers.CookieManager,
	depsStatus *providers.DepsStatusManager,
	notifier *notify.Manager,
) *Scanner {
	return &Scanner{
		settingsManager: settingsManager,
		db:              db,
		store:           s,
		encryption:      encryptionSvc,
		clientManager:   clientManager,
		stealthManager:  stealthManager,
		moviePilot:      moviePilot,
		sitesCache:      sitesCache,
		cookieManager:   cookieManager,
		depsStatus:      depsStatus,
		notifier:        notifier,
		stateStore:      NewStateStore(db),
		siteList:        NewSiteListTracker(s),
		nexus:           detect.NewNexusPHPDetector(),
		mteam:           detect.NewMTeamDetector(),
	}
}

// Status returns the persisted outcome of the last scan, zero when no scan
// has run yet.
func (sc *Scanner) Status() ScanStatus {
	var status ScanStatus
	raw, err := sc.store.Get(scanStatusKey)
	if err != nil {
		return status
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		logrus.WithError(err).Warn("discarding unreadable scan status")
		return ScanStatus{}
	}
	return status
}

func (sc *Scanner) saveStatus(status ScanStatus) {
	raw, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := sc.store.Set(scanStatusKey, raw, 0); err != nil {
		logrus.WithError(err).Warn("failed to persist scan status")
	}
}

// ScanAll checks every effective site. A concurrent call fails fast with
// ErrScanRunning.
func (sc *Scanner) ScanAll(ctx context.Context) (ScanStatus, error) {
	if !sc.runMu.TryLock() {
		return ScanStatus{}, ErrScanRunning
	}
	defer sc.runMu.Unlock()

	started := time.Now()
	status := ScanStatus{
		RunID:     uuid.NewString(),
		LastRunAt: started,
	}

	settings := sc.settingsManager.GetSettings()

	sites, inv := sc.resolveSites(ctx, settings)
	status.MoviePilotOK = inv.mpOK
	status.MoviePilotSource = inv.source
	if inv.mpErr != nil {
		status.MoviePilotError = inv.mpErr.Error()
		if inv.source != "none" {
			status.Warning = fmt.Sprintf("moviepilot_failed: %v (fallback=%s)", inv.mpErr, inv.source)
		}
	}
	status.SiteCount = len(sites)

	if len(sites) == 0 {
		if inv.mpErr != nil {
			status.Error = inv.mpErr.Error()
		} else {
			status.Error = "no sites configured"
		}
		status.DurationMS = time.Since(started).Milliseconds()
		sc.saveStatus(status)
		return status, fmt.Errorf("%s", status.Error)
	}

	if changes, err := sc.siteList.Update(sites); err != nil {
		logrus.WithError(err).Warn("site list tracking failed")
	} else if len(changes) > 0 {
		logrus.Infof("effective site list changed: %d entries", len(changes))
		if settings.NotifyOnChange {
			sc.notifier.Send(ctx, siteListNotifyTitle, strings.Join(changes, "\n"))
		}
	}

	sc.prefetchCookies(ctx, settings)

	logrus.Infof("scan %s: checking %d sites (concurrency=%d)", status.RunID, len(sites), clampConcurrency(settings.ScanConcurrency))
	sc.checkSites(ctx, settings, sites)

	status.OK = true
	status.DurationMS = time.Since(started).Milliseconds()
	sc.saveStatus(status)
	logrus.Infof("scan %s finished in %s", status.RunID, time.Since(started).Round(time.Millisecond))
	return status, nil
}

// RunOne checks a single domain, waiting for any active scan to finish.
func (sc *Scanner) RunOne(ctx context.Context, domain string) (SiteCheckResult, error) {
	target := normalizeDomain(domain)
	if target == "" {
		return SiteCheckResult{}, fmt.Errorf("domain is required")
	}

	sc.runMu.Lock()
	defer sc.runMu.Unlock()

	settings := sc.settingsManager.GetSettings()
	sites, inv := sc.resolveSites(ctx, settings)

	var site *models.Site
	for i := range sites {
		if sites[i].Domain == target {
			site = &sites[i]
			break
		}
	}
	if site == nil {
		if inv.mpErr != nil {
			return SiteCheckResult{}, fmt.Errorf("site not found: %s (MoviePilot unavailable and no local manual site)", target)
		}
		return SiteCheckResult{}, fmt.Errorf("site not found: %s", target)
	}

	sc.prefetchCookies(ctx, settings)

	result := sc.checkSite(ctx, settings, *site)
	if err := sc.persistAndNotify(ctx, settings, &result); err != nil {
		logrus.WithError(err).Warnf("failed to persist state for %s", result.Site.Domain)
	}
	return result, nil
}

// inventoryResult tracks where the site inventory came from.
type inventoryResult struct {
	source string
	mpOK   bool
	mpErr  error
}

// resolveSites loads the MoviePilot inventory (live, then cache, then the
// database snapshot), merges in the override rows and returns the effective
// site list.
func (sc *Scanner) resolveSites(ctx context.Context, settings types.SystemSettings) ([]models.Site, inventoryResult) {
	inv := inventoryResult{source: "none"}
	var inventory []models.Site

	baseURL := settings.MoviePilotBaseURL
	configured := baseURL != "" && settings.MoviePilotUsername != ""
	if configured {
		fingerprint := providers.MoviePilotFingerprint(baseURL)
		retryInterval := time.Duration(settings.DepsRetryIntervalSeconds) * time.Second

		if sc.depsStatus.CanAttempt(providers.DepMoviePilot, fingerprint) {
			sc.moviePilot.Configure(baseURL, settings.MoviePilotUsername, settings.MoviePilotPassword, settings.MoviePilotOTP)
			sites, err := sc.moviePilot.ListSites(ctx, settings.MoviePilotOnlyActive)
			if err != nil {
				inv.mpErr = err
				sc.depsStatus.MarkFailed(providers.DepMoviePilot, fingerprint, err, retryInterval)
				logrus.WithError(err).Warn("MoviePilot site list fetch failed")
			} else {
				inv.mpOK = true
				inv.source = "live"
				inventory = sites
				sc.depsStatus.MarkOK(providers.DepMoviePilot, fingerprint)
				sc.sitesCache.Save(baseURL, sites)
			}
		} else {
			inv.mpErr = fmt.Errorf("moviepilot is backing off after a recent failure")
		}

		if inventory == nil {
			ttl := providers.ClampSitesCacheTTL(settings.SitesCacheTTLSeconds)
			if cached, ok := sc.sitesCache.FromStore(baseURL, ttl); ok {
				inventory = cached
				inv.source = "cache"
			} else if snapshot, ok := sc.sitesCache.FromSnapshot(baseURL, ttl); ok {
				inventory = snapshot
				inv.source = "state"
			}
		}
	}

	overrides, err := sc.loadOverrides()
	if err != nil {
		logrus.WithError(err).Warn("failed to load site overrides")
	}
	return MergeSites(inventory, overrides), inv
}

// loadOverrides reads the override rows and decrypts their credentials.
// A row whose secret cannot be decrypted keeps working without it.
func (sc *Scanner) loadOverrides() ([]models.SiteOverride, error) {
	var rows []models.SiteOverride
	if err := sc.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Cookie = sc.decryptField(rows[i].Domain, "cookie", rows[i].Cookie)
		rows[i].Authorization = sc.decryptField(rows[i].Domain, "authorization", rows[i].Authorization)
		rows[i].DID = sc.decryptField(rows[i].Domain, "did", rows[i].DID)
	}
	return rows, nil
}

func (sc *Scanner) decryptField(domain, field, value string) string {
	if value == "" {
		return ""
	}
	plain, err := sc.encryption.Decrypt(value)
	if err != nil {
		logrus.Warnf("cannot decrypt %s for %s, ignoring it", field, domain)
		return ""
	}
	return plain
}

// prefetchCookies warms the CookieCloud cache when the cookie source wants it
// and the dependency is not backing off.
func (sc *Scanner) prefetchCookies(ctx context.Context, settings types.SystemSettings) {
	source := settings.CookieSource
	if source != providers.CookieSourceAuto && source != providers.CookieSourceCookieCloud && source != "" {
		return
	}
	sc.cookieManager.Configure(settings.CookieCloudBaseURL, settings.CookieCloudUUID, settings.CookieCloudPassword, settings.CookieRefreshSeconds)
	if !sc.cookieManager.Configured() {
		return
	}

	fingerprint := sc.cookieManager.Fingerprint()
	if !sc.depsStatus.CanAttempt(providers.DepCookieCloud, fingerprint) {
		return
	}
	retryInterval := time.Duration(settings.DepsRetryIntervalSeconds) * time.Second
	if err := sc.cookieManager.Prefetch(ctx); err != nil {
		sc.depsStatus.MarkFailed(providers.DepCookieCloud, fingerprint, err, retryInterval)
		return
	}
	sc.depsStatus.MarkOK(providers.DepCookieCloud, fingerprint)
}

// checkSites runs the per-site checks through a bounded worker pool.
func (sc *Scanner) checkSites(ctx context.Context, settings types.SystemSettings, sites []models.Site) {
	concurrency := clampConcurrency(settings.ScanConcurrency)
	jobs := make(chan models.Site)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for site := range jobs {
				result := sc.checkSite(ctx, settings, site)
				if err := sc.persistAndNotify(ctx, settings, &result); err != nil {
					logrus.WithError(err).Warnf("failed to persist state for %s", result.Site.Domain)
				}
			}
		}()
	}

	for _, site := range sites {
		if ctx.Err() != nil {
			break
		}
		jobs <- site
	}
	close(jobs)
	wg.Wait()
}

// checkSite probes reachability and dispatches the detection engines for one
// site.
func (sc *Scanner) checkSite(ctx context.Context, settings types.SystemSettings, site models.Site) SiteCheckResult {
	result := SiteCheckResult{Site: site, CheckedAt: time.Now()}

	ua := site.UA
	if ua == "" {
		ua = settings.UserAgent
	}
	client := sc.trackerClient(settings, site)

	probe, hint := ProbeReachability(ctx, client, site.URL, ua)
	result.Reachability = probe
	result.Engine = resolveEngine(site, hint)

	if probe.State != ReachUp {
		unreachable := detect.Evidence{
			Reason: "site_unreachable",
			Detail: probe.Evidence.Reason,
		}
		if probe.Evidence.Detail != "" {
			unreachable.Detail = probe.Evidence.Reason + ": " + probe.Evidence.Detail
		}
		regEvidence := unreachable
		regEvidence.URL = detect.JoinURL(site.URL, pathOrDefault(site.RegistrationPath, site, "signup", "signup.php"))
		invEvidence := unreachable
		invEvidence.URL = detect.JoinURL(site.URL, pathOrDefault(site.InvitePath, site, "invite", "invite.php"))

		result.Registration = detect.AspectResult{State: detect.StateUnknown, Evidence: regEvidence}
		result.Invites = detect.AspectResult{State: detect.StateUnknown, Evidence: invEvidence}
		return result
	}

	result.Registration = sc.nexus.CheckRegistration(ctx, client, site, ua)
	result.Invites = sc.checkInvites(ctx, client, settings, site, ua)
	return result
}

// checkInvites picks the invite engine: the M-Team profile API when an api
// key is present, the cookie-based HTML path otherwise, falling back from one
// to the other when the first cannot decide.
func (sc *Scanner) checkInvites(ctx context.Context, client *http.Client, settings types.SystemSettings, site models.Site, ua string) detect.AspectResult {
	cookieHeader := site.CookieOverride
	if cookieHeader == "" {
		cookieHeader = sc.cookieManager.CookieHeaderFor(settings.CookieSource, site.URL, site.Cookie)
	}

	if site.EffectiveTemplate() == models.TemplateMTeam {
		if site.DID == "" && cookieHeader != "" {
			return sc.nexus.CheckInvites(ctx, client, site, ua, cookieHeader)
		}
		result := sc.mteam.CheckInvites(ctx, client, site, ua)
		if result.State == detect.StateUnknown && cookieHeader != "" {
			return sc.nexus.CheckInvites(ctx, client, site, ua, cookieHeader)
		}
		return result
	}

	return sc.nexus.CheckInvites(ctx, client, site, ua, cookieHeader)
}

// persistAndNotify diffs the result against the stored state, writes the new
// state and sends a change notification when wanted.
func (sc *Scanner) persistAndNotify(ctx context.Context, settings types.SystemSettings, result *SiteCheckResult) error {
	prev, err := sc.stateStore.Get(result.Site.Domain)
	if err != nil {
		return err
	}

	changes := DiffChanges(prev, *result)
	result.Changes = changes

	state := models.SiteState{
		Domain:            result.Site.Domain,
		Name:              result.Site.Name,
		URL:               result.Site.URL,
		Engine:            result.Engine,
		RegistrationState: result.Registration.State,
		InvitesState:      result.Invites.State,
		InvitesAvailable:  result.Invites.Available,
		LastCheckedAt:     result.CheckedAt,
	}
	if len(changes) > 0 {
		changedAt := result.CheckedAt
		state.LastChangedAt = &changedAt
	}

	evidence, err := json.Marshal(map[string]any{
		"reachability": result.Reachability,
		"registration": result.Registration,
		"invites":      result.Invites,
	})
	if err == nil {
		state.LastEvidence = datatypes.JSON(evidence)
	}

	if err := sc.stateStore.Upsert(state); err != nil {
		return err
	}

	if len(changes) > 0 {
		logrus.Infof("site %s changed: %v", result.Site.Domain, changes)
		if settings.NotifyOnChange {
			title, text := BuildNotification(*result, changes)
			sc.notifier.Send(ctx, title, text)
		}
	}
	return nil
}

// trackerClient returns the HTTP client for one site, honoring the proxy
// settings and the per-site bypass method.
func (sc *Scanner) trackerClient(settings types.SystemSettings, site models.Site) *http.Client {
	if site.BypassMethod == models.BypassMethodStealth {
		return sc.stealthManager.GetClient(settings.ProxyURL)
	}
	return sc.clientManager.GetClient(&httpclient.Config{
		ConnectTimeout:      10 * time.Second,
		RequestTimeout:      clampTimeout(settings.ScanTimeoutSeconds),
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 4,
		TLSHandshakeTimeout: 10 * time.Second,
		ProxyURL:            settings.ProxyURL,
		TrustEnvProxy:       settings.TrustEnvProxy,
	})
}

func resolveEngine(site models.Site, hint string) string {
	if site.EffectiveTemplate() == models.TemplateMTeam {
		return "mteam"
	}
	if hint != "" {
		return hint
	}
	return "unknown"
}

// pathOrDefault resolves a configured path against the template defaults.
func pathOrDefault(configured string, site models.Site, mteamDefault, nexusDefault string) string {
	if configured != "" {
		return configured
	}
	if site.EffectiveTemplate() == models.TemplateMTeam {
		return mteamDefault
	}
	return nexusDefault
}

func clampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > 64 {
		return 64
	}
	return n
}

func clampTimeout(seconds int) time.Duration {
	if seconds < 5 {
		seconds = 5
	}
	if seconds > 180 {
		seconds = 180
	}
	return time.Duration(seconds) * time.Second
}
