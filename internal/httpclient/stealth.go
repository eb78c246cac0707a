package httpclient

import (
	"net/http"
	"sync"
	"time"

	http_tls "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/sirupsen/logrus"
)

// StealthClientManager manages HTTP clients with TLS fingerprint spoofing for
// trackers that sit behind Cloudflare. Clients are cached by proxy URL so
// connections are reused across sites that share a proxy.
type StealthClientManager struct {
	clients sync.Map
	timeout time.Duration
}

// NewStealthClientManager creates a new stealth client manager.
func NewStealthClientManager(timeout time.Duration) *StealthClientManager {
	return &StealthClientManager{
		timeout: timeout,
	}
}

// GetClient returns a stealth HTTP client, optionally routed through a proxy.
// The result is a standard *http.Client so detectors treat it like any other.
func (m *StealthClientManager) GetClient(proxyURL string) *http.Client {
	cacheKey := proxyURL
	if cacheKey == "" {
		cacheKey = "__direct__"
	}

	if cached, ok := m.clients.Load(cacheKey); ok {
		return cached.(*http.Client)
	}

	client := m.createStealthClient(proxyURL)

	actual, _ := m.clients.LoadOrStore(cacheKey, client)
	return actual.(*http.Client)
}

// createStealthClient builds a tls-client wrapped in a standard http.Client.
// The Chrome 120 profile carries proper HTTP/2 support and a modern TLS
// fingerprint.
func (m *StealthClientManager) createStealthClient(proxyURL string) *http.Client {
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(m.timeout.Seconds())),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithRandomTLSExtensionOrder(),
	}

	if proxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(proxyURL))
	}

	tlsClient, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		logrus.WithError(err).
			Warn("Failed to create stealth client, falling back to standard client")
		return &http.Client{Timeout: m.timeout}
	}

	return &http.Client{
		Transport: &tlsClientTransport{client: tlsClient},
		Timeout:   m.timeout,
	}
}

// Cleanup clears the client cache. Called during service shutdown; the
// underlying connections are reclaimed by GC.
func (m *StealthClientManager) Cleanup() {
	m.clients.Range(func(key, value any) bool {
		m.clients.Delete(key)
		return true
	})
}

// tlsClientTransport adapts tls-client to the http.RoundTripper interface.
type tlsClientTransport struct {
	client tls_client.HttpClient
}

func (t *tlsClientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fhttpReq := &http_tls.Request{
		Method: req.Method,
		URL:    req.URL,
		Header: convertHeaders(req.Header),
		Body:   req.Body,
	}
	fhttpReq = fhttpReq.WithContext(req.Context())

	fhttpResp, err := t.client.Do(fhttpReq)
	if err != nil {
		return nil, err
	}

	return &http.Response{
		Status:        fhttpResp.Status,
		StatusCode:    fhttpResp.StatusCode,
		Proto:         fhttpResp.Proto,
		ProtoMajor:    fhttpResp.ProtoMajor,
		ProtoMinor:    fhttpResp.ProtoMinor,
		Header:        convertHeadersBack(fhttpResp.Header),
		Body:          fhttpResp.Body,
		ContentLength: fhttpResp.ContentLength,
		Request:       req,
	}, nil
}

func convertHeaders(h http.Header) http_tls.Header {
	fh := make(http_tls.Header, len(h))
	for k, v := range h {
		fh[k] = v
	}
	return fh
}

func convertHeadersBack(fh http_tls.Header) http.Header {
	h := make(http.Header, len(fh))
	for k, v := range fh {
		h[k] = v
	}
	return h
}

// stealthHeaders returns browser-like HTTP headers for stealth requests.
// Accept-Encoding is intentionally omitted so transparent decompression
// stays enabled.
func stealthHeaders() map[string]string {
	return map[string]string{
		"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.9,zh-CN;q=0.8,zh;q=0.7",
		"Sec-Ch-Ua":                 `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
		"Sec-Ch-Ua-Mobile":          "?0",
		"Sec-Ch-Ua-Platform":        `"Windows"`,
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "same-origin",
		"Cache-Control":             "no-cache",
		"Pragma":                    "no-cache",
		"Connection":                "keep-alive",
		"Upgrade-Insecure-Requests": "1",
	}
}

// ApplyStealthHeaders fills in browser-like headers on a request without
// overriding anything the caller already set.
func ApplyStealthHeaders(req *http.Request, baseURL string) {
	if baseURL != "" {
		if req.Header.Get("Referer") == "" {
			req.Header.Set("Referer", baseURL)
		}
		if req.Header.Get("Origin") == "" {
			req.Header.Set("Origin", baseURL)
		}
	}

	for key, value := range stealthHeaders() {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}
}
