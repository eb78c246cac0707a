package httpclient

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RequestBuilder produces a fresh request for each attempt. Rebuilding keeps
// retries safe for requests whose body can only be read once.
type RequestBuilder func() (*http.Request, error)

// IsRetryableStatus reports whether a status code is worth retrying.
// 408 and 429 are throttling hints; anything 5xx may be transient.
func IsRetryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		(status >= 500 && status <= 599)
}

// DoWithRetry executes the request up to attempts times, sleeping with a
// linear backoff (delay x attempt number) between tries. Retries happen on
// transport errors and on retryable statuses.
//
// The return contract matters to callers: when every attempt ended in a
// retryable status, the LAST response is returned with a nil error so the
// caller can still inspect the status code and body. Only when every attempt
// failed at the transport level is (nil, attempts, err) returned.
func DoWithRetry(ctx context.Context, client *http.Client, build RequestBuilder, attempts int, delay time.Duration) (*http.Response, int, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, attempt, err
		}
		req = req.WithContext(ctx)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, attempt, ctx.Err()
			}
			lastErr = err
			logrus.WithError(err).Debugf("request attempt %d/%d failed", attempt, attempts)
			if attempt < attempts {
				if sleepErr := sleepWithContext(ctx, delay*time.Duration(attempt)); sleepErr != nil {
					return nil, attempt, sleepErr
				}
			}
			continue
		}

		if IsRetryableStatus(resp.StatusCode) && attempt < attempts {
			DrainAndClose(resp)
			logrus.Debugf("request attempt %d/%d got status %d, retrying", attempt, attempts, resp.StatusCode)
			if sleepErr := sleepWithContext(ctx, delay*time.Duration(attempt)); sleepErr != nil {
				return nil, attempt, sleepErr
			}
			continue
		}

		return resp, attempt, nil
	}

	return nil, attempts, lastErr
}

// DrainAndClose consumes the remaining body so the underlying connection can
// be reused, then closes it.
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 32*1024))
	_ = resp.Body.Close()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
