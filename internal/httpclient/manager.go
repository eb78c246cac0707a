package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pt-watch/internal/utils"

	"github.com/sirupsen/logrus"
)

// Config defines the parameters for creating an HTTP client.
// This struct is used to generate a unique fingerprint for client reuse.
type Config struct {
	ConnectTimeout      time.Duration
	RequestTimeout      time.Duration
	IdleConnTimeout     time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	TLSHandshakeTimeout time.Duration
	DisableCompression  bool
	ProxyURL            string
	// TrustEnvProxy makes an empty ProxyURL fall back to the standard
	// HTTP_PROXY / HTTPS_PROXY environment variables.
	TrustEnvProxy bool
}

// HTTPClientManager manages the lifecycle of HTTP clients.
// It creates and caches clients based on their configuration fingerprint,
// ensuring that clients with the same configuration are reused across scans.
type HTTPClientManager struct {
	clients map[string]*http.Client
	lock    sync.RWMutex
}

// NewHTTPClientManager creates a new client manager.
func NewHTTPClientManager() *HTTPClientManager {
	return &HTTPClientManager{
		clients: make(map[string]*http.Client),
	}
}

// testProxyConnectivity tests if the proxy is reachable.
// This runs asynchronously to avoid blocking client creation.
func testProxyConnectivity(proxyURL *url.URL) {
	dialer := &net.Dialer{
		Timeout: 3 * time.Second,
	}

	sanitized := utils.SanitizeProxyURLForLog(proxyURL)

	conn, err := dialer.Dial("tcp", proxyURL.Host)
	if err != nil {
		logrus.Warnf("Proxy connectivity test failed for '%s': %v; tracker requests through this proxy will likely fail", sanitized, err)
		return
	}
	defer conn.Close()

	logrus.Debugf("Proxy at %s is reachable", proxyURL.Host)
}

// GetClient returns an HTTP client that matches the given configuration.
// If a matching client already exists in the cache, it is returned.
// Otherwise, a new client is created, cached, and returned.
func (m *HTTPClientManager) GetClient(config *Config) *http.Client {
	fingerprint := config.getFingerprint()

	m.lock.RLock()
	client, exists := m.clients[fingerprint]
	m.lock.RUnlock()
	if exists {
		return client
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	// Double-check in case another goroutine created the client while we
	// were waiting for the lock.
	if client, exists = m.clients[fingerprint]; exists {
		return client
	}

	// Allow temporary bursts beyond the idle pool size, with a floor so a
	// low MaxIdleConnsPerHost does not strangle concurrent checks.
	maxConnsPerHost := config.MaxIdleConnsPerHost * 2
	if maxConnsPerHost < 10 {
		maxConnsPerHost = 10
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   config.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		TLSHandshakeTimeout: config.TLSHandshakeTimeout,
		DisableCompression:  config.DisableCompression,
	}

	transport.Proxy = m.resolveProxy(config)

	newClient := &http.Client{
		Transport: transport,
		Timeout:   config.RequestTimeout,
		// Matches Go's default (stop after 10 redirects), kept explicit so the
		// reachability probe can rely on it.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}

	m.clients[fingerprint] = newClient

	logrus.WithFields(logrus.Fields{
		"fingerprint":        fingerprint,
		"proxy_url":          utils.SanitizeProxyString(config.ProxyURL),
		"timeout":            config.RequestTimeout,
		"max_conns_per_host": maxConnsPerHost,
	}).Debug("Created new HTTP client")

	return newClient
}

// resolveProxy validates the configured proxy URL and returns the proxy
// function for the transport. Invalid or unsupported proxy URLs fall back to
// the environment when TrustEnvProxy is set, otherwise to no proxy at all.
func (m *HTTPClientManager) resolveProxy(config *Config) func(*http.Request) (*url.URL, error) {
	envFallback := func() func(*http.Request) (*url.URL, error) {
		if config.TrustEnvProxy {
			return http.ProxyFromEnvironment
		}
		return nil
	}

	trimmed := strings.TrimSpace(config.ProxyURL)
	if trimmed == "" {
		return envFallback()
	}

	proxyURL, err := url.Parse(trimmed)
	if err != nil {
		logrus.Warnf("Invalid proxy URL '%s', falling back: %v", utils.SanitizeProxyString(trimmed), err)
		return envFallback()
	}
	if proxyURL.Scheme != "http" && proxyURL.Scheme != "https" && proxyURL.Scheme != "socks5" {
		logrus.Warnf("Unsupported proxy scheme '%s', falling back", proxyURL.Scheme)
		return envFallback()
	}

	logrus.Debugf("HTTP client configured with proxy: %s", utils.SanitizeProxyURLForLog(proxyURL))
	go testProxyConnectivity(proxyURL)
	return http.ProxyURL(proxyURL)
}

// CloseIdleConnections closes idle connections for all managed clients.
// Called during graceful shutdown.
func (m *HTTPClientManager) CloseIdleConnections() {
	m.lock.RLock()
	defer m.lock.RUnlock()

	for _, client := range m.clients {
		if transport, ok := client.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}
	logrus.Debug("Closed idle connections for managed HTTP clients")
}

// getFingerprint generates a unique string representation of the client
// configuration. ProxyURL is trimmed so configs that differ only by
// whitespace share a client.
func (c *Config) getFingerprint() string {
	normalizedProxy := strings.TrimSpace(c.ProxyURL)
	return fmt.Sprintf(
		"ct:%.0fs|rt:%.0fs|it:%.0fs|mic:%d|mich:%d|tlst:%.0fs|dc:%t|env:%t|proxy:%s",
		c.ConnectTimeout.Seconds(),
		c.RequestTimeout.Seconds(),
		c.IdleConnTimeout.Seconds(),
		c.MaxIdleConns,
		c.MaxIdleConnsPerHost,
		c.TLSHandshakeTimeout.Seconds(),
		c.DisableCompression,
		c.TrustEnvProxy,
		normalizedProxy,
	)
}
