package bamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bamops/reconciler/internal/core"
)

func newJSONReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// doJSON performs one logical request, handling a single forced
// re-authentication on 401 and up to 3 dedicated rate-limit retries on 429
// honouring Retry-After. It is wrapped by the caller in
// resilience.WithRetry, which retries transient network failures and also
// a rate-limit error left after the inner 429 retries are used up; those two
// retry loops are independent and compose (network/rate-limit retry outside,
// auth/429 handling inside a single attempt).
func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	if err := c.authenticate(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrAuthExpired, err)
	}

	var reauthed bool
	const maxRateLimitRetries = 3

	for rateLimitAttempt := 0; ; rateLimitAttempt++ {
		resp, body, err := c.send(ctx, method, path, payload)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrTransientNetwork, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && !reauthed:
			reauthed = true
			if err := c.forceReauthenticate(ctx); err != nil {
				return fmt.Errorf("%w: %v", core.ErrAuthExpired, err)
			}
			continue

		case resp.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: second consecutive 401", core.ErrAuthExpired)

		case resp.StatusCode == http.StatusTooManyRequests:
			if rateLimitAttempt >= maxRateLimitRetries {
				return fmt.Errorf("%w: exhausted %d rate-limit retries", core.ErrRateLimited, maxRateLimitRetries)
			}
			wait := retryAfter(resp.Header.Get("Retry-After"), 5*time.Second)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue

		case resp.StatusCode == http.StatusConflict:
			return core.ErrConflict

		case resp.StatusCode == http.StatusNotFound:
			return core.ErrNotFound

		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", core.ErrTransientNetwork, resp.StatusCode)

		case resp.StatusCode >= 400:
			return fmt.Errorf("%w: status %d: %s", core.ErrUpstreamFailure, resp.StatusCode, string(body))
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("bamclient: failed to decode response body: %w", err)
			}
		}
		return nil
	}
}

func (c *Client) send(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp, body, nil
}

func retryAfter(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
