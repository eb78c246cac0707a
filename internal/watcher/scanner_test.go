package watcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pt-watch/internal/config"
	"pt-watch/internal/detect"
	"pt-watch/internal/encryption"
	"pt-watch/internal/httpclient"
	"pt-watch/internal/models"
	"pt-watch/internal/notify"
	"pt-watch/internal/providers"
	"pt-watch/internal/store"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestScanner(t *testing.T) (*Scanner, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Setting{}, &models.SiteState{}, &models.SiteOverride{}))

	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	enc, err := encryption.NewService("")
	require.NoError(t, err)

	stealth := httpclient.NewStealthClientManager(10 * time.Second)
	t.Cleanup(stealth.Cleanup)

	sc := NewScanner(
		config.NewSystemSettingsManager(),
		db,
		s,
		enc,
		httpclient.NewHTTPClientManager(),
		stealth,
		providers.NewMoviePilotClient(),
		providers.NewSitesCache(s, db),
		providers.NewCookieManager(),
		providers.NewDepsStatusManager(s),
		notify.NewManager(db),
	)
	return sc, db
}

func newTrackerSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<html><body><a href="torrents.php">Torrents</a></body></html>`))
		case "/signup.php":
			w.Write([]byte(`<html><body><form action="takesignup.php"><input name="username"/></form></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func manualSiteRow(domain, url string) *models.SiteOverride {
	return &models.SiteOverride{
		Domain:  domain,
		Mode:    models.OverrideModeManual,
		Name:    "Alpha",
		URL:     url,
		Enabled: true,
	}
}

func TestScanAll_ManualSite(t *testing.T) {
	sc, db := newTestScanner(t)
	srv := newTrackerSite(t)
	require.NoError(t, db.Create(manualSiteRow("alpha.example", srv.URL)).Error)

	status, err := sc.ScanAll(context.Background())
	require.NoError(t, err)
	assert.True(t, status.OK)
	assert.Equal(t, 1, status.SiteCount)
	assert.Equal(t, "none", status.MoviePilotSource)
	assert.False(t, status.MoviePilotOK)
	assert.NotEmpty(t, status.RunID)

	state, err := sc.stateStore.Get("alpha.example")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "nexusphp", state.Engine)
	assert.Equal(t, detect.StateOpen, state.RegistrationState)
	assert.Equal(t, detect.StateUnknown, state.InvitesState)
	assert.Nil(t, state.LastChangedAt)
	assert.NotEmpty(t, state.LastEvidence)

	// A second, identical scan keeps last_changed_at unset.
	_, err = sc.ScanAll(context.Background())
	require.NoError(t, err)
	state, err = sc.stateStore.Get("alpha.example")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Nil(t, state.LastChangedAt)

	// The scan status is readable back from the store.
	persisted := sc.Status()
	assert.True(t, persisted.OK)
	assert.Equal(t, 1, persisted.SiteCount)
}

func TestScanAll_NoSites(t *testing.T) {
	sc, _ := newTestScanner(t)

	status, err := sc.ScanAll(context.Background())
	require.Error(t, err)
	assert.False(t, status.OK)
	assert.Equal(t, "no sites configured", status.Error)

	persisted := sc.Status()
	assert.Equal(t, "no sites configured", persisted.Error)
}

func TestRunOne(t *testing.T) {
	sc, db := newTestScanner(t)
	srv := newTrackerSite(t)
	require.NoError(t, db.Create(manualSiteRow("alpha.example", srv.URL)).Error)

	result, err := sc.RunOne(context.Background(), "Alpha.Example")
	require.NoError(t, err)
	assert.Equal(t, "alpha.example", result.Site.Domain)
	assert.Equal(t, ReachUp, result.Reachability.State)
	assert.Equal(t, detect.StateOpen, result.Registration.State)

	state, err := sc.stateStore.Get("alpha.example")
	require.NoError(t, err)
	require.NotNil(t, state)
}

func TestRunOne_Errors(t *testing.T) {
	sc, _ := newTestScanner(t)

	_, err := sc.RunOne(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "domain is required")

	_, err = sc.RunOne(context.Background(), "ghost.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site not found: ghost.example")
}

func TestScanner_UnreachableSite(t *testing.T) {
	sc, db := newTestScanner(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(523)
	}))
	t.Cleanup(srv.Close)
	require.NoError(t, db.Create(manualSiteRow("down.example", srv.URL)).Error)

	result, err := sc.RunOne(context.Background(), "down.example")
	require.NoError(t, err)
	assert.Equal(t, ReachDown, result.Reachability.State)
	assert.Equal(t, detect.StateUnknown, result.Registration.State)
	assert.Equal(t, detect.StateUnknown, result.Invites.State)
	assert.Equal(t, "site_unreachable", result.Registration.Evidence.Reason)
	assert.Contains(t, result.Registration.Evidence.URL, "signup.php")
	assert.Contains(t, result.Invites.Evidence.URL, "invite.php")
	assert.Contains(t, result.Registration.Evidence.Detail, "down_http_status")
}
