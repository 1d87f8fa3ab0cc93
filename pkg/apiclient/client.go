package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/observastack/observastack/pkg/apierrors"
	"github.com/observastack/observastack/pkg/metrics"
	"github.com/observastack/observastack/pkg/version"
)

// RequestIDHeader carries the per-call correlation id.
const RequestIDHeader = "X-Request-ID"

// TokenSource returns the bearer token to attach, if any.
type TokenSource func() (string, bool)

// Client is safe for concurrent use.
type Client struct {
	cfg       Config
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	log       *zap.SugaredLogger
	limiter   *rate.Limiter
	metrics   bool

	retrySet      bool
	retryAttempts int
	retryDelay    time.Duration

	mu          sync.Mutex
	tokenSource TokenSource
	inflight    map[uint64]context.CancelFunc
	nextID      uint64
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{
		cfg:       DefaultConfig(),
		http:      &http.Client{},
		userAgent: version.UserAgent("observastack-go"),
		log:       zap.NewNop().Sugar(),
		metrics:   true,
		inflight:  map[uint64]context.CancelFunc{},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.retrySet {
		c.cfg.RetryAttempts = c.retryAttempts
		c.cfg.RetryDelay = c.retryDelay
	}
	if c.cfg.RetryAttempts < 0 || c.cfg.RetryDelay < 0 {
		return nil, apierrors.New(apierrors.KindConfiguration, "retry settings must not be negative")
	}
	parsed, err := url.Parse(c.cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, apierrors.Newf(apierrors.KindConfiguration, "invalid base URL %q", c.cfg.BaseURL)
	}
	c.baseURL = parsed
	return c, nil
}

// WithBaseURL sets the API root all request paths are joined onto.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		if baseURL == "" {
			return apierrors.New(apierrors.KindConfiguration, "base URL is required")
		}
		c.cfg.BaseURL = baseURL
		return nil
	}
}

// WithConfig merges cfg over the current settings.
func WithConfig(cfg Config) Option {
	return func(c *Client) error {
		c.cfg = c.cfg.merge(cfg)
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return apierrors.New(apierrors.KindConfiguration, "timeout must be positive")
		}
		c.cfg.Timeout = timeout
		return nil
	}
}

// WithNetworkRetry sets the network retry budget explicitly, including zero.
func WithNetworkRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) error {
		c.retrySet = true
		c.retryAttempts = attempts
		c.retryDelay = delay
		return nil
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) error {
		if httpClient == nil {
			return errors.New("http client is required")
		}
		c.http = httpClient
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig, err := LoadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		c.http = &http.Client{Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsConfig,
		}}
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) error {
		if log != nil {
			c.log = log
		}
		return nil
	}
}

func WithTokenSource(source TokenSource) Option {
	return func(c *Client) error {
		c.tokenSource = source
		return nil
	}
}

// WithRateLimit limits outgoing attempts to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		if rps <= 0 {
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithMetrics toggles recording of the Prometheus transport collectors.
func WithMetrics(enabled bool) Option {
	return func(c *Client) error {
		c.metrics = enabled
		return nil
	}
}

// LoadTLSConfig builds a client TLS config. When caFile is set it replaces the
// system roots.
func LoadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure}
	if caFile == "" {
		return tlsConfig, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfiguration, err, "failed to read CA file")
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, apierrors.New(apierrors.KindConfiguration, "failed to parse CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// Config returns the effective settings.
func (c *Client) Config() Config {
	return c.cfg
}

// SetTokenSource replaces the token source consulted before each request.
func (c *Client) SetTokenSource(source TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenSource = source
}

func (c *Client) token() (string, bool) {
	c.mu.Lock()
	source := c.tokenSource
	c.mu.Unlock()
	if source == nil {
		return "", false
	}
	token, ok := source()
	return token, ok && token != ""
}

// Abort cancels every request currently in flight. The affected calls fail
// with a NetworkError wrapping context.Canceled. Requests issued afterwards
// are unaffected.
func (c *Client) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cancel := range c.inflight {
		cancel()
		delete(c.inflight, id)
	}
}

func (c *Client) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.inflight[id] = cancel
	c.mu.Unlock()
	return ctx, func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
		cancel()
	}
}

func (c *Client) Get(ctx context.Context, endpoint string, out any) error {
	_, err := c.Do(ctx, http.MethodGet, endpoint, nil, out)
	return err
}

func (c *Client) Post(ctx context.Context, endpoint string, body, out any) error {
	_, err := c.Do(ctx, http.MethodPost, endpoint, body, out)
	return err
}

func (c *Client) Put(ctx context.Context, endpoint string, body, out any) error {
	_, err := c.Do(ctx, http.MethodPut, endpoint, body, out)
	return err
}

func (c *Client) Patch(ctx context.Context, endpoint string, body, out any) error {
	_, err := c.Do(ctx, http.MethodPatch, endpoint, body, out)
	return err
}

func (c *Client) Delete(ctx context.Context, endpoint string, out any) error {
	_, err := c.Do(ctx, http.MethodDelete, endpoint, nil, out)
	return err
}

// Do issues one logical call. The response body is decoded into out when out
// is non-nil. Network faults are retried; all other failures return at once.
func (c *Client) Do(ctx context.Context, method, endpoint string, body, out any) (*Response, error) {
	fullURL, err := c.resolve(endpoint)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindValidation, err, "failed to marshal request")
		}
	}

	ctx, done := c.track(ctx)
	defer done()

	requestID := uuid.NewString()
	log := c.log.With("method", method, "path", fullURL.Path, "requestID", requestID)

	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(ctx, method, fullURL, payload, requestID)
		if err == nil {
			log.Debugw("API request completed", "status", resp.StatusCode, "attempt", attempt+1)
			if resp.StatusCode >= 400 {
				return resp, decodeError(resp)
			}
			if err := resp.Decode(out); err != nil {
				return resp, err
			}
			return resp, nil
		}

		if !apierrors.IsKind(err, apierrors.KindNetwork) || ctx.Err() != nil || attempt >= c.cfg.RetryAttempts {
			c.record(method, string(apierrors.KindOf(err)))
			log.Debugw("API request failed", "attempt", attempt+1, "error", err)
			return nil, err
		}

		delay := c.cfg.RetryDelay * time.Duration(attempt+1)
		log.Warnw("API request failed, retrying", "attempt", attempt+1, "maxRetries", c.cfg.RetryAttempts, "backoff", delay.String(), "error", err)
		if c.metrics {
			metrics.APIRequestRetries.WithLabelValues(method).Inc()
		}
		select {
		case <-ctx.Done():
			c.record(method, string(apierrors.KindNetwork))
			return nil, aborted(ctx)
		case <-time.After(delay):
		}
	}
}

func (c *Client) resolve(endpoint string) (*url.URL, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindValidation, err, "invalid endpoint")
	}
	fullURL := *c.baseURL
	fullURL.Path = path.Join(fullURL.Path, parsed.Path)
	fullURL.RawPath = ""
	fullURL.RawQuery = parsed.RawQuery
	return &fullURL, nil
}

// attempt performs a single round trip bounded by the configured timeout. The
// body is read before the attempt context is released.
func (c *Client) attempt(ctx context.Context, method string, fullURL *url.URL, payload []byte, requestID string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, c.classify(ctx, ctx, err)
			}
			return nil, apierrors.Wrap(apierrors.KindRateLimit, err, "client-side rate limit exceeded")
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, fullURL.String(), reader)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindValidation, err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set(RequestIDHeader, requestID)
	if token, ok := c.token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		c.observe(method, start)
		return nil, c.classify(ctx, attemptCtx, err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()
	data, err := io.ReadAll(httpResp.Body)
	c.observe(method, start)
	if err != nil {
		return nil, c.classify(ctx, attemptCtx, err)
	}
	c.record(method, strconv.Itoa(httpResp.StatusCode))
	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       data,
		RequestID:  requestID,
	}, nil
}

// classify maps a failed round trip onto the taxonomy. ctx is the call
// context, attemptCtx the per-attempt one derived from it.
func (c *Client) classify(ctx, attemptCtx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apierrors.Wrap(apierrors.KindTimeout, ctx.Err(), "request deadline exceeded")
		}
		return aborted(ctx)
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return apierrors.Wrap(apierrors.KindTimeout, err, fmt.Sprintf("request timed out after %s", c.cfg.Timeout))
	default:
		return apierrors.Wrap(apierrors.KindNetwork, err, "request failed")
	}
}

func aborted(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apierrors.Wrap(apierrors.KindTimeout, ctx.Err(), "request deadline exceeded")
	}
	return apierrors.Wrap(apierrors.KindNetwork, context.Canceled, "request aborted")
}

func (c *Client) record(method, code string) {
	if c.metrics {
		metrics.APIRequests.WithLabelValues(method, code).Inc()
	}
}

func (c *Client) observe(method string, start time.Time) {
	if c.metrics {
		metrics.APIRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}
