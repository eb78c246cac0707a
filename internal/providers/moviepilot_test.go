package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mpServer struct {
	*httptest.Server
	logins          int
	listCalls       int
	rejectFirstList bool
}

func newMPServer(t *testing.T) *mpServer {
	t.Helper()
	s := &mpServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/login/access-token":
			s.logins++
			require.NoError(t, r.ParseForm())
			if r.PostFormValue("username") != "admin" || r.PostFormValue("password") != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"access_token":"tok-` + string(rune('0'+s.logins)) + `","token_type":"bearer"}`))
		case "/api/v1/site/":
			s.listCalls++
			if s.rejectFirstList && s.listCalls == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`[
				{"id":1,"name":"Alpha","domain":"alpha.example","url":"https://alpha.example","cookie":"uid=1","ua":"UA","is_active":true},
				{"id":2,"name":"Beta","url":"https://beta.example/","is_active":false},
				{"id":3,"name":"NoURL","domain":"nourl.example","is_active":true}
			]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func newMPClient(srv *mpServer) *MoviePilotClient {
	c := NewMoviePilotClient()
	c.httpClient = srv.Client()
	c.Configure(srv.URL, "admin", "pw", "")
	return c
}

func TestMoviePilot_ListSites(t *testing.T) {
	srv := newMPServer(t)
	c := newMPClient(srv)

	sites, err := c.ListSites(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "alpha.example", sites[0].Domain)
	assert.Equal(t, "uid=1", sites[0].Cookie)
	assert.Equal(t, 1, srv.logins)

	// The token is cached across calls.
	_, err = c.ListSites(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.logins)
}

func TestMoviePilot_IncludesInactiveWhenAsked(t *testing.T) {
	srv := newMPServer(t)
	c := newMPClient(srv)

	sites, err := c.ListSites(context.Background(), false)
	require.NoError(t, err)
	// The inactive Beta site is kept; its domain comes from the URL host.
	require.Len(t, sites, 2)
	assert.Equal(t, "beta.example", sites[1].Domain)
	assert.False(t, sites[1].IsActive)
}

func TestMoviePilot_ReloginOn401(t *testing.T) {
	srv := newMPServer(t)
	srv.rejectFirstList = true
	c := newMPClient(srv)

	sites, err := c.ListSites(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, sites, 1)
	assert.Equal(t, 2, srv.logins)
	assert.Equal(t, 2, srv.listCalls)
}

// A flapping MoviePilot answers 503 once on both endpoints; the retry wrapper
// rides it out without surfacing an error.
func TestMoviePilot_RetriesTransientServerError(t *testing.T) {
	loginCalls, listCalls := 0, 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/login/access-token":
			loginCalls++
			if loginCalls == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"access_token":"tok"}`))
		case "/api/v1/site/":
			listCalls++
			if listCalls == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`[{"id":1,"name":"Alpha","domain":"alpha.example","url":"https://alpha.example","is_active":true}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewMoviePilotClient()
	c.httpClient = srv.Client()
	c.Configure(srv.URL, "admin", "pw", "")

	sites, err := c.ListSites(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, sites, 1)
	assert.Equal(t, 2, loginCalls)
	assert.Equal(t, 2, listCalls)
}

func TestMoviePilot_LoginNotFoundHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewMoviePilotClient()
	c.httpClient = srv.Client()
	c.Configure(srv.URL, "admin", "pw", "")

	_, err := c.ListSites(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/docs")
}

func TestMoviePilot_NonArrayResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/login/access-token" {
			w.Write([]byte(`{"access_token":"tok"}`))
			return
		}
		w.Write([]byte(`{"detail":"error"}`))
	}))
	t.Cleanup(srv.Close)

	c := NewMoviePilotClient()
	c.httpClient = srv.Client()
	c.Configure(srv.URL, "admin", "pw", "")

	_, err := c.ListSites(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a JSON array")
}

func TestMoviePilot_NotConfigured(t *testing.T) {
	c := NewMoviePilotClient()
	_, err := c.ListSites(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
