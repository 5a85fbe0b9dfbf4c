package utils

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"nicotsm/internal"
)

// maxRedirects bounds a single request's redirect chain
const maxRedirects = 10

var errTooManyRedirects = errors.New("stopped after 10 redirects")

// RetryConfig defines retry behavior for idempotent requests
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns a configuration that never retries
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 0,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}
}

// HTTPClientConfig contains configuration for the HTTP client
type HTTPClientConfig struct {
	Timeout     time.Duration
	ProxyURL    string
	UserAgent   string
	Jar         http.CookieJar
	Limiter     internal.RateLimiter
	RetryConfig *RetryConfig
}

// HTTPClient executes one request at a time against the upstream service,
// translating transport failures into Communication and Timeout errors.
// Non-2xx statuses are returned to the caller unchanged.
type HTTPClient struct {
	client      *http.Client
	mutex       sync.RWMutex
	userAgent   string
	timeout     time.Duration
	limiter     internal.RateLimiter
	retryConfig *RetryConfig
	logger      zerolog.Logger
}

// Request describes one upstream call
type Request struct {
	Method string
	URL    string
	Params url.Values // appended to the query string
	Form   url.Values // sent as an urlencoded body
	Header http.Header

	// NoRedirect returns the first response instead of following Location
	NoRedirect bool
	// Timeout overrides the client default when non-zero
	Timeout time.Duration
	// Idempotent requests may be retried on Communication errors
	Idempotent bool
}

// Response is a fully read upstream response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
	// Cookies holds every Set-Cookie seen along the redirect chain
	Cookies []*http.Cookie
}

// Text returns the body as a string
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON decodes the body into v
func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return internal.NewInvalidResponseError("response is not valid JSON").WithURL(r.URL).Wrap(err)
	}
	return nil
}

// HasCookie reports whether a cookie with the given name was set
func (r *Response) HasCookie(name string) bool {
	for _, c := range r.Cookies {
		if c.Name == name && c.Value != "" {
			return true
		}
	}
	return false
}

// NewHTTPClient creates a new HTTP client with default configuration
func NewHTTPClient() (*HTTPClient, error) {
	return NewHTTPClientWithConfig(&HTTPClientConfig{Timeout: 30 * time.Second})
}

// NewHTTPClientWithConfig creates a new HTTP client with custom configuration
func NewHTTPClientWithConfig(config *HTTPClientConfig) (*HTTPClient, error) {
	retryConfig := config.RetryConfig
	if retryConfig == nil {
		retryConfig = DefaultRetryConfig()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if config.ProxyURL != "" {
		if err := configureProxy(transport, config.ProxyURL); err != nil {
			return nil, err
		}
	}

	limiter := config.Limiter
	if limiter == nil {
		limiter = NewRequestLimiter(0)
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Jar:       config.Jar,
		},
		userAgent:   config.UserAgent,
		timeout:     timeout,
		limiter:     limiter,
		retryConfig: retryConfig,
		logger:      internal.WithComponent("http"),
	}, nil
}

// configureProxy sets up proxy configuration for the transport
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return internal.NewValidationErrorWithValue("misc.proxy", "invalid proxy URL", proxyURL)
	}

	switch parsedURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsedURL.User != nil {
			password, _ := parsedURL.User.Password()
			auth = &proxy.Auth{User: parsedURL.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return internal.NewValidationErrorWithValue("misc.proxy", "unsupported proxy scheme", parsedURL.Scheme).
			WithSuggestion("Use http://, https:// or socks5://")
	}

	return nil
}

// UserAgent returns the user agent string, empty when suppressed
func (c *HTTPClient) UserAgent() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.userAgent
}

// SetUserAgent sets the user agent; an empty string sends no header at all
func (c *HTTPClient) SetUserAgent(userAgent string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.userAgent = userAgent
}

// Timeout returns the default per-request timeout
func (c *HTTPClient) Timeout() time.Duration {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.timeout
}

// SetTimeout sets the default per-request timeout
func (c *HTTPClient) SetTimeout(timeout time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.timeout = timeout
}

// Jar returns the cookie jar attached to the client
func (c *HTTPClient) Jar() http.CookieJar {
	return c.client.Jar
}

// Do executes the request. Idempotent requests are retried with exponential
// backoff on Communication errors when retries are configured.
func (c *HTTPClient) Do(ctx context.Context, r *Request) (*Response, error) {
	if !r.Idempotent || c.retryConfig.MaxRetries <= 0 {
		return c.do(ctx, r)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryConfig.BaseDelay
	eb.MaxInterval = c.retryConfig.MaxDelay
	eb.Multiplier = c.retryConfig.Multiplier
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.retryConfig.MaxRetries)), ctx)

	var resp *Response
	operation := func() error {
		var err error
		resp, err = c.do(ctx, r)
		if err != nil && !internal.IsType(err, internal.ErrCommunication) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug().Err(err).Dur("wait", wait).Str("url", r.URL).Msg("retrying request")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) do(ctx context.Context, r *Request) (*Response, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.Timeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, translateLimiterError(ctx, r.URL, err)
	}

	req, err := c.newRequest(ctx, r)
	if err != nil {
		return nil, err
	}

	// Per-call copy so the redirect policy can record cookies of this chain
	var cookies []*http.Cookie
	client := *c.client
	client.CheckRedirect = func(next *http.Request, via []*http.Request) error {
		if r.NoRedirect {
			return http.ErrUseLastResponse
		}
		if len(via) >= maxRedirects {
			return errTooManyRedirects
		}
		if next.Response != nil {
			cookies = append(cookies, next.Response.Cookies()...)
		}
		return nil
	}

	internal.GetLogger().LogHTTPRequest(req)
	resp, err := client.Do(req)
	if err != nil {
		return nil, translateError(r.URL, err)
	}
	defer resp.Body.Close()
	internal.GetLogger().LogHTTPResponse(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, translateError(r.URL, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        resp.Request.URL.String(),
		Cookies:    append(cookies, resp.Cookies()...),
	}, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, r *Request) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(r.URL)
	if err != nil {
		return nil, internal.NewCommunicationError(r.URL, err)
	}
	if len(r.Params) > 0 {
		q := target.Query()
		for k, vs := range r.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	var body io.Reader
	if r.Form != nil {
		body = strings.NewReader(r.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, internal.NewCommunicationError(r.URL, err)
	}
	if r.Form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	// An explicitly empty value keeps net/http from adding its default agent
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent())
	}

	return req, nil
}

// translateLimiterError classifies a failed pacing wait. The limiter refuses
// up front when the wait would outlast the deadline, without returning
// context.DeadlineExceeded.
func translateLimiterError(ctx context.Context, rawURL string, err error) error {
	if errors.Is(err, context.Canceled) {
		return translateError(rawURL, err)
	}
	if _, ok := ctx.Deadline(); ok {
		return internal.NewTimeoutError(rawURL, err)
	}
	return translateError(rawURL, err)
}

// translateError maps a transport failure onto the error taxonomy
func translateError(rawURL string, err error) error {
	var ne *internal.NicoError
	if errors.As(err, &ne) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return internal.NewTimeoutError(rawURL, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return internal.NewTimeoutError(rawURL, err)
	}
	return internal.NewCommunicationError(rawURL, err)
}
