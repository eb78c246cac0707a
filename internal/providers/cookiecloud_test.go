package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieCloudClient_FetchCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/get/test-uuid", r.URL.Path)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "secret", payload["password"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"cookie_data":{"tracker.example":[{"name":"uid","value":"1","domain":".tracker.example"}]}}`))
	}))
	t.Cleanup(srv.Close)

	c := &CookieCloudClient{BaseURL: srv.URL, UUID: "test-uuid", Password: "secret"}
	cookies, err := c.FetchCookies(context.Background(), srv.Client())
	require.NoError(t, err)
	require.Len(t, cookies["tracker.example"], 1)
	assert.Equal(t, "uid", cookies["tracker.example"][0].Name)
}

func TestCookieCloudClient_DirectMapResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"tracker.example":[{"name":"pass","value":"x","domain":"tracker.example"}]}`))
	}))
	t.Cleanup(srv.Close)

	c := &CookieCloudClient{BaseURL: srv.URL, UUID: "u", Password: "p"}
	cookies, err := c.FetchCookies(context.Background(), srv.Client())
	require.NoError(t, err)
	assert.Len(t, cookies["tracker.example"], 1)
}

// A transient 5xx from the server is retried before giving up.
func TestCookieCloudClient_RetriesTransientServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		// The retried request must carry the password again.
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "p", payload["password"])
		w.Write([]byte(`{"tracker.example":[{"name":"uid","value":"1","domain":"tracker.example"}]}`))
	}))
	t.Cleanup(srv.Close)

	c := &CookieCloudClient{BaseURL: srv.URL, UUID: "u", Password: "p"}
	cookies, err := c.FetchCookies(context.Background(), srv.Client())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, cookies["tracker.example"], 1)
}

func TestCookieCloudClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := &CookieCloudClient{BaseURL: srv.URL, UUID: "u", Password: "p"}
	_, err := c.FetchCookies(context.Background(), srv.Client())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestCookieCloudClient_NotConfigured(t *testing.T) {
	c := &CookieCloudClient{}
	_, err := c.FetchCookies(context.Background(), http.DefaultClient)
	require.Error(t, err)
}

func TestCookieManager_SourceResolution(t *testing.T) {
	m := NewCookieManager()
	m.cookies = map[string][]CookieItem{
		"tracker.example": {
			{Name: "uid", Value: "42", Domain: ".tracker.example"},
			{Name: "pass", Value: "abc", Domain: "tracker.example"},
		},
	}
	m.fetchedAt = time.Now()

	header := m.CookieHeaderFor(CookieSourceAuto, "https://pt.tracker.example/index.php", "fallback=1")
	assert.Equal(t, "pass=abc; uid=42", header)

	// moviepilot source always takes the inventory cookie.
	assert.Equal(t, "fallback=1",
		m.CookieHeaderFor(CookieSourceMoviePilot, "https://pt.tracker.example", "fallback=1"))

	// cookiecloud source returns "" when nothing matches.
	assert.Empty(t, m.CookieHeaderFor(CookieSourceCookieCloud, "https://other.example", "fallback=1"))

	// auto falls back when nothing matches.
	assert.Equal(t, "fallback=1",
		m.CookieHeaderFor(CookieSourceAuto, "https://other.example", "fallback=1"))
}

func TestCookieManager_SkipsExpired(t *testing.T) {
	m := NewCookieManager()
	m.cookies = map[string][]CookieItem{
		"tracker.example": {
			{Name: "dead", Value: "x", Domain: "tracker.example", Expires: 1},
			{Name: "live", Value: "y", Domain: "tracker.example", ExpirationDate: float64(time.Now().Add(time.Hour).Unix())},
			{Name: "session", Value: "z", Domain: "tracker.example"},
		},
	}
	m.fetchedAt = time.Now()

	header := m.CookieHeaderFor(CookieSourceCookieCloud, "https://tracker.example", "")
	assert.Equal(t, "live=y; session=z", header)
}

func TestCookieManager_SpecificDomainWins(t *testing.T) {
	m := NewCookieManager()
	m.cookies = map[string][]CookieItem{
		"example.com":    {{Name: "uid", Value: "parent", Domain: ".example.com"}},
		"pt.example.com": {{Name: "uid", Value: "child", Domain: "pt.example.com"}},
	}
	m.fetchedAt = time.Now()

	assert.Equal(t, "uid=child",
		m.CookieHeaderFor(CookieSourceCookieCloud, "https://pt.example.com", ""))
}

func TestCookieManager_PrefetchWindow(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Write([]byte(`{"cookie_data":{"a.example":[{"name":"k","value":"v","domain":"a.example"}]}}`))
	}))
	t.Cleanup(srv.Close)

	m := NewCookieManager()
	m.Configure(srv.URL, "uuid", "pw", 300)

	require.NoError(t, m.Prefetch(context.Background()))
	require.NoError(t, m.Prefetch(context.Background()))
	assert.Equal(t, 1, calls)

	// A changed endpoint drops the cache and refetches.
	m.Configure(srv.URL+"/", "other-uuid", "pw", 300)
	require.NoError(t, m.Prefetch(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestCookieManager_UnconfiguredPrefetchIsNoop(t *testing.T) {
	m := NewCookieManager()
	require.NoError(t, m.Prefetch(context.Background()))
	assert.False(t, m.Configured())
}
