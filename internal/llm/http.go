package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/policity/policity/internal/backoff"
)

// httpClient performs the POST requests behind Generate. Each client
// gets its own http.Transport to avoid sharing connection state across
// unrelated endpoints. Network errors, 429 and 5xx responses are retried
// under the configured backoff policy.
type httpClient struct {
	client *http.Client
	policy backoff.RetryPolicy
}

func newHTTPClient(cfg Config) *httpClient {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &httpClient{
		client: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		policy: &backoff.ExponentialBackoffPolicy{
			InitialInterval: cfg.InitialInterval,
			BackoffFactor:   2.0,
			MaxInterval:     cfg.MaxInterval,
			MaxRetries:      cfg.MaxRetries,
		},
	}
}

// post sends a JSON body and returns the full response body.
func (c *httpClient) post(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error) {
	var out []byte

	op := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}

		out = data
		return nil
	}

	if err := backoff.Retry(ctx, op, c.policy, retriable); err != nil {
		return nil, err
	}
	return out, nil
}

func retriable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Everything else is a transport-level failure, worth retrying
	// unless the caller is gone.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
