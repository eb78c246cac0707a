package watcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pt-watch/internal/detect"
	"pt-watch/internal/httpclient"
)

// Reachability states.
const (
	ReachUp      = "up"
	ReachDown    = "down"
	ReachUnknown = "unknown"
)

const (
	probeAttempts  = 3
	probeDelay     = 300 * time.Millisecond
	probeBodyLimit = 512 << 10
)

// ReachabilityResult is the outcome of the pre-engine probe.
type ReachabilityResult struct {
	State    string          `json:"state"`
	Evidence detect.Evidence `json:"evidence"`
}

// nexusMarkers in a homepage body mark a NexusPHP derivative.
var nexusMarkers = []string{
	"nexusphp",
	"torrents.php",
	"userdetails.php",
	"takesignup.php",
	"takeinvite.php",
	"login.php",
}

// ProbeReachability fetches the site root and decides whether the detection
// engines should run at all. The second return is an engine hint sniffed from
// the homepage body ("nexusphp" or "").
//
// Server errors (>= 500, which covers CDN holding pages in 520-529) and
// redirects to an unrelated host count as down; any other response means the
// site answers for itself.
func ProbeReachability(ctx context.Context, client *http.Client, siteURL, userAgent string) (ReachabilityResult, string) {
	build := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, siteURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
		return req, nil
	}

	resp, attempts, err := httpclient.DoWithRetry(ctx, client, build, probeAttempts, probeDelay)
	if err != nil {
		// Transport failures mean the site is down. When the caller's own
		// context was cancelled or expired the failure says nothing about
		// the site, so that case stays unknown. Per-request client timeouts
		// also surface as DeadlineExceeded but leave ctx intact, so slow
		// sites still count as down.
		state := ReachDown
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			state = ReachUnknown
		}
		return ReachabilityResult{
			State: state,
			Evidence: detect.Evidence{
				URL:    siteURL,
				Reason: "probe_error:" + detect.ErrorTypeName(err),
				Detail: detect.AppendRetryDetail(detect.FormatErrorDetail(err), attempts),
			},
		}, ""
	}

	status := resp.StatusCode
	finalURL := siteURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	body, readErr := httpclient.ReadBody(resp, probeBodyLimit)
	if readErr != nil {
		return ReachabilityResult{
			State: ReachDown,
			Evidence: detect.Evidence{
				URL:        finalURL,
				HTTPStatus: &status,
				Reason:     "probe_error:" + detect.ErrorTypeName(readErr),
				Detail:     detect.FormatErrorDetail(readErr),
			},
		}, ""
	}

	if status >= 500 {
		return ReachabilityResult{
			State: ReachDown,
			Evidence: detect.Evidence{
				URL:        finalURL,
				HTTPStatus: &status,
				Reason:     "down_http_status",
				Detail:     detect.AppendRetryDetail(fmt.Sprintf("HTTP %d", status), attempts),
			},
		}, ""
	}

	if !hostsRelated(siteURL, finalURL) {
		return ReachabilityResult{
			State: ReachDown,
			Evidence: detect.Evidence{
				URL:        siteURL,
				HTTPStatus: &status,
				Reason:     "redirected_offsite",
				Detail:     "final=" + finalURL,
			},
		}, ""
	}

	return ReachabilityResult{
		State: ReachUp,
		Evidence: detect.Evidence{
			URL:        finalURL,
			HTTPStatus: &status,
			Reason:     "probe_ok",
		},
	}, sniffEngine(body)
}

// hostsRelated reports whether the final host still belongs to the site:
// equal hosts, or one a dot-suffix of the other. Unparseable URLs count as
// related so a weird redirect is not mistaken for a hijack.
func hostsRelated(originalURL, finalURL string) bool {
	a := hostOf(originalURL)
	b := hostOf(finalURL)
	if a == "" || b == "" || a == b {
		return true
	}
	return strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func sniffEngine(body []byte) string {
	lower := strings.ToLower(string(body))
	for _, marker := range nexusMarkers {
		if strings.Contains(lower, marker) {
			return "nexusphp"
		}
	}
	return ""
}
