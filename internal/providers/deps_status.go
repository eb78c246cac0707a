package providers

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"pt-watch/internal/store"

	"github.com/sirupsen/logrus"
)

// Dependency names tracked for backoff.
const (
	DepMoviePilot  = "moviepilot"
	DepCookieCloud = "cookiecloud"
)

const (
	depsStatusKey     = "deps_status"
	depsStatusVersion = 1

	minDepRetryInterval     = 60 * time.Second
	maxDepRetryInterval     = 86400 * time.Second
	defaultDepRetryInterval = 3600 * time.Second
)

// DepStatus is the persisted health record for one upstream dependency.
type DepStatus struct {
	OK          bool       `json:"ok"`
	Error       string     `json:"error,omitempty"`
	Fingerprint string     `json:"fingerprint"`
	CheckedAt   time.Time  `json:"checked_at"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

type depsStatusDoc struct {
	Version int                  `json:"version"`
	Deps    map[string]DepStatus `json:"deps"`
}

// DepsStatusManager persists dependency health in the store so that failed
// upstreams are not hammered on every scan.
type DepsStatusManager struct {
	store store.Store
	mu    sync.Mutex
}

// NewDepsStatusManager creates a manager backed by the shared store.
func NewDepsStatusManager(s store.Store) *DepsStatusManager {
	return &DepsStatusManager{store: s}
}

// MoviePilotFingerprint derives the backoff fingerprint for a MoviePilot base
// URL.
func MoviePilotFingerprint(baseURL string) string {
	return strings.TrimRight(baseURL, "/")
}

// CanAttempt reports whether the dependency should be contacted now. A
// changed fingerprint always allows a fresh attempt.
func (m *DepsStatusManager) CanAttempt(dep, fingerprint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.load()
	status, ok := doc.Deps[dep]
	if !ok || status.Fingerprint != fingerprint || status.OK {
		return true
	}
	if status.NextRetryAt == nil {
		return true
	}
	return !time.Now().Before(*status.NextRetryAt)
}

// MarkOK records a successful contact and clears any backoff.
func (m *DepsStatusManager) MarkOK(dep, fingerprint string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.load()
	doc.Deps[dep] = DepStatus{
		OK:          true,
		Fingerprint: fingerprint,
		CheckedAt:   time.Now().UTC(),
	}
	m.save(doc)
}

// MarkFailed records a failure and schedules the next retry.
func (m *DepsStatusManager) MarkFailed(dep, fingerprint string, cause error, retryInterval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if retryInterval <= 0 {
		retryInterval = defaultDepRetryInterval
	}
	if retryInterval < minDepRetryInterval {
		retryInterval = minDepRetryInterval
	}
	if retryInterval > maxDepRetryInterval {
		retryInterval = maxDepRetryInterval
	}

	message := ""
	if cause != nil {
		message = cause.Error()
	}
	next := time.Now().UTC().Add(retryInterval)

	doc := m.load()
	doc.Deps[dep] = DepStatus{
		OK:          false,
		Error:       message,
		Fingerprint: fingerprint,
		CheckedAt:   time.Now().UTC(),
		NextRetryAt: &next,
	}
	m.save(doc)
}

// Snapshot returns a copy of the tracked statuses for the dashboard.
func (m *DepsStatusManager) Snapshot() map[string]DepStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.load()
	out := make(map[string]DepStatus, len(doc.Deps))
	for k, v := range doc.Deps {
		out[k] = v
	}
	return out
}

func (m *DepsStatusManager) load() depsStatusDoc {
	doc := depsStatusDoc{Version: depsStatusVersion, Deps: map[string]DepStatus{}}
	data, err := m.store.Get(depsStatusKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logrus.WithError(err).Warn("failed to load deps status")
		}
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		logrus.WithError(err).Warn("corrupt deps status doc, resetting")
		return depsStatusDoc{Version: depsStatusVersion, Deps: map[string]DepStatus{}}
	}
	if doc.Deps == nil {
		doc.Deps = map[string]DepStatus{}
	}
	doc.Version = depsStatusVersion
	return doc
}

func (m *DepsStatusManager) save(doc depsStatusDoc) {
	data, err := json.Marshal(doc)
	if err != nil {
		logrus.WithError(err).Warn("failed to encode deps status")
		return
	}
	if err := m.store.Set(depsStatusKey, data, 0); err != nil {
		logrus.WithError(err).Warn("failed to persist deps status")
	}
}
