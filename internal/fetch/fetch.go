// Package fetch provides the outbound HTTP client used to retrieve
// paid-for upstream content.
//
// Every request, including redirect hops, passes the SSRF guard before
// any network call is made. Transient failures (network errors, 5xx,
// timeouts) are retried with backoff; 4xx responses are terminal and
// returned as-is.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kmw384/paygate/internal/circuitbreaker"
	"github.com/kmw384/paygate/internal/metrics"
	"github.com/kmw384/paygate/internal/retry"
	"github.com/kmw384/paygate/internal/ssrf"
)

const maxResponseSize = 5 * 1024 * 1024 // 5MB

var (
	// ErrTimeout marks an attempt that exceeded its per-attempt deadline.
	ErrTimeout = errors.New("fetch: upstream timed out")
	// ErrUpstream marks exhausted retries or a tripped circuit.
	ErrUpstream = errors.New("fetch: upstream unavailable")
)

// IsBlocked reports whether err came from the SSRF guard, either on the
// initial URL or on a redirect target.
func IsBlocked(err error) bool {
	return errors.Is(err, ssrf.ErrBlocked)
}

// Config configures the fetch client.
type Config struct {
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// Backoff is the base delay between attempts, doubled each retry.
	Backoff time.Duration
}

// Options are per-request settings.
type Options struct {
	Method  string
	Headers http.Header
}

// Response is the upstream result with the body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client fetches upstream URLs with SSRF checks, per-attempt timeouts,
// retry with backoff, and a per-host circuit breaker.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// New creates a fetch client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			// A redirect to a blocked host is rejected the same way a
			// direct request to it would be.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return ssrf.Check(req.URL.String())
			},
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// Fetch retrieves rawURL. The SSRF guard runs before any network call;
// blocked targets fail immediately with an error satisfying IsBlocked.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	if err := ssrf.Check(rawURL); err != nil {
		metrics.FetchAttemptsTotal.WithLabelValues("blocked").Inc()
		return nil, err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	host := parsed.Hostname()

	if !c.breaker.Allow(host) {
		metrics.FetchAttemptsTotal.WithLabelValues("terminal").Inc()
		return nil, fmt.Errorf("%w: circuit open for %s", ErrUpstream, host)
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var resp *Response
	err = retry.Do(ctx, c.cfg.MaxRetries+1, c.cfg.Backoff, func() error {
		r, attemptErr := c.attempt(ctx, method, rawURL, opts.Headers)
		if attemptErr != nil {
			return attemptErr
		}
		resp = r
		return nil
	})
	if err != nil {
		c.breaker.RecordFailure(host)
		return nil, err
	}

	c.breaker.RecordSuccess(host)
	return resp, nil
}

// attempt issues one request under the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, method, rawURL string, headers http.Header) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		// Redirect target rejected by the guard: terminal, same error
		// kind as a direct blocked request.
		if errors.Is(err, ssrf.ErrBlocked) {
			metrics.FetchAttemptsTotal.WithLabelValues("blocked").Inc()
			return nil, retry.Permanent(err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.FetchAttemptsTotal.WithLabelValues("retryable").Inc()
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		metrics.FetchAttemptsTotal.WithLabelValues("retryable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		metrics.FetchAttemptsTotal.WithLabelValues("retryable").Inc()
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       body,
	}

	// 5xx is retryable; 4xx is the upstream's answer and is returned.
	if httpResp.StatusCode >= 500 {
		metrics.FetchAttemptsTotal.WithLabelValues("retryable").Inc()
		return nil, fmt.Errorf("%w: upstream returned HTTP %d", ErrUpstream, httpResp.StatusCode)
	}

	metrics.FetchAttemptsTotal.WithLabelValues("ok").Inc()
	return resp, nil
}
