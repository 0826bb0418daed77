// Package keycrm is the rate-limited client for the KeyCRM REST feed. It
// exposes one List call per feed; decoding stays tolerant of the quirks the
// upstream is known for (naive timestamps, ids nested under objects).
package keycrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"sales-pulse/internal/config"
	"sales-pulse/internal/logger"
)

// PageSize is the fixed page size for every feed.
const PageSize = config.SyncPageSize

// Client is a rate-limited KeyCRM HTTP client. One limiter is shared by all
// feeds so interleaved syncs cannot stampede the upstream.
type Client struct {
	http        *http.Client
	baseURL     string
	apiKey      string
	limiter     *rate.Limiter
	backoffBase time.Duration
}

// NewClient creates a client for the given base URL and bearer key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		http:        &http.Client{Timeout: config.UpstreamTimeout},
		baseURL:     baseURL,
		apiKey:      apiKey,
		limiter:     rate.NewLimiter(rate.Every(config.SyncPagePause), 1),
		backoffBase: time.Second,
	}
}

// HealthCheck verifies connectivity with a one-row order probe.
func (c *Client) HealthCheck(ctx context.Context) bool {
	var env ordersEnvelope
	err := c.getJSON(ctx, "/order", url.Values{"limit": {"1"}}, &env)
	return err == nil
}

// getJSON performs one GET with pacing, bearer auth and retries. 5xx and 429
// retry with exponential backoff (1s, 2s, 4s); 429 honors Retry-After.
// Other 4xx fail immediately.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dst interface{}) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= config.UpstreamMaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if !sleepCtx(ctx, c.backoffDelay(attempt, 0)) {
				return ctx.Err()
			}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			err := json.NewDecoder(resp.Body).Decode(dst)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
			return nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			logger.Warn("KeyCRM", fmt.Sprintf("Rate limited on %s, attempt %d", path, attempt))
			lastErr = fmt.Errorf("keycrm 429: %s", string(body))
			if !sleepCtx(ctx, c.backoffDelay(attempt, retryAfter)) {
				return ctx.Err()
			}
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("keycrm %d: %s", resp.StatusCode, string(body))
			if !sleepCtx(ctx, c.backoffDelay(attempt, 0)) {
				return ctx.Err()
			}
			continue
		}
		return fmt.Errorf("keycrm %d: %s", resp.StatusCode, string(body))
	}
	return fmt.Errorf("keycrm %s failed after %d attempts: %w", path, config.UpstreamMaxAttempts, lastErr)
}

func (c *Client) backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	return c.backoffBase << (attempt - 1)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// sleepCtx sleeps unless the context is done first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// betweenFilter renders the KeyCRM range filter value.
func betweenFilter(from, to time.Time) string {
	return from.UTC().Format("2006-01-02 15:04:05") + "," + to.UTC().Format("2006-01-02 15:04:05")
}
