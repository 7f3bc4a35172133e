package steps

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/policity/policity/internal/build"
	"github.com/policity/policity/internal/logger"
)

const (
	defaultFactsTimeout = 30 * time.Second
	factsMaxRetries     = 2
	factsRetryWaitTime  = 2 * time.Second
	factsRetryMaxWait   = 10 * time.Second
)

// FactsClient looks up external reference data (unit costs, market
// rates, budget figures) for the research steps. Results flow through
// the fact cache so repeat runs do not hammer the source.
type FactsClient interface {
	Lookup(ctx context.Context, query string) ([]byte, error)
}

// HTTPDoer lets tests inject a transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFacts queries a facts service over HTTP: GET {base}/search?q=...
// returning a text or JSON body that is passed to the model verbatim.
type HTTPFacts struct {
	client *resty.Client
}

var _ FactsClient = (*HTTPFacts)(nil)

// NewHTTPFacts creates a facts client for the given service base URL.
func NewHTTPFacts(baseURL string, timeout time.Duration) *HTTPFacts {
	return newHTTPFacts(baseURL, timeout, nil)
}

// NewHTTPFactsWithClient creates a facts client with a custom HTTP
// transport for testing.
func NewHTTPFactsWithClient(baseURL string, timeout time.Duration, doer HTTPDoer) *HTTPFacts {
	return newHTTPFacts(baseURL, timeout, doer)
}

func newHTTPFacts(baseURL string, timeout time.Duration, doer HTTPDoer) *HTTPFacts {
	if timeout <= 0 {
		timeout = defaultFactsTimeout
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(factsMaxRetries).
		SetRetryWaitTime(factsRetryWaitTime).
		SetRetryMaxWaitTime(factsRetryMaxWait).
		SetHeader("User-Agent", build.Slug+"/"+build.Version).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				// Only retry transient transport errors.
				var netErr net.Error
				return errors.As(err, &netErr) && netErr.Timeout()
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code >= 500
		})

	if doer != nil {
		client.SetTransport(&doerTransport{doer: doer})
	}

	return &HTTPFacts{client: client}
}

func (f *HTTPFacts) Lookup(ctx context.Context, query string) ([]byte, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		Get("/search")
	if err != nil {
		return nil, fmt.Errorf("facts lookup: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("facts lookup: unexpected status code: %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

// doerTransport adapts an HTTPDoer to http.RoundTripper.
type doerTransport struct {
	doer HTTPDoer
}

func (t *doerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.doer.Do(req)
}

// fetchFacts runs a cache-backed lookup. A failed lookup degrades to
// empty reference data; the step still runs on model knowledge alone.
func fetchFacts(ctx context.Context, deps Deps, query string) []byte {
	if deps.Lookup == nil || deps.Facts == nil {
		return nil
	}
	data, err := deps.Facts.GetOrFetch(ctx, query, func(ctx context.Context) ([]byte, error) {
		return deps.Lookup.Lookup(ctx, query)
	})
	if err != nil {
		logger.Warn(ctx, "Reference data lookup failed; continuing without it", "query", query, "err", err)
		return nil
	}
	return data
}
