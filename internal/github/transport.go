// internal/github/transport.go
package github

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// maxRetries is the total number of attempts made for one request.
	maxRetries = 3
	// Rate limit resets further away than this are surfaced as errors instead of waited out.
	maxRateLimitWait = 2 * time.Minute
)

// retryTransport retries server errors with exponential backoff and waits out
// primary rate limits until the reset time GitHub reports.
type retryTransport struct {
	base            http.RoundTripper
	attempts        int
	initialInterval time.Duration
	logger          *slog.Logger
}

func newRetryTransport(base http.RoundTripper, logger *slog.Logger) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &retryTransport{
		base:            base,
		attempts:        maxRetries,
		initialInterval: 200 * time.Millisecond,
		logger:          logger,
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.initialInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; ; attempt++ {
		attemptReq, err := rewind(req, attempt)
		if err != nil {
			return nil, err
		}

		resp, err := t.base.RoundTrip(attemptReq)
		if attempt >= t.attempts || !shouldRetry(resp, err) {
			return resp, err
		}

		wait := bo.NextBackOff()
		if reset, ok := rateLimitWait(resp, time.Now()); ok {
			if reset > maxRateLimitWait {
				return resp, err
			}
			wait = reset
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		t.logger.Debug("Retrying GitHub request", "method", req.Method, "path", req.URL.Path, "status", status, "attempt", attempt, "wait", wait.String())

		timer := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
}

// rewind returns a request whose body can be sent again.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return true
	}
	_, limited := rateLimitWait(resp, time.Now())
	return limited
}

// rateLimitWait reports how long to wait before retrying a rate limited response.
func rateLimitWait(resp *http.Response, now time.Time) (time.Duration, bool) {
	if resp == nil || (resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests) {
		return 0, false
	}
	if after := resp.Header.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil {
			return time.Duration(secs) * time.Second, true
		}
	}
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
			wait := time.Unix(unix, 0).Sub(now)
			if wait < 0 {
				wait = 0
			}
			return wait, true
		}
	}
	return 0, false
}
