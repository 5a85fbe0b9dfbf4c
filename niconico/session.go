package niconico

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nicotsm/internal"
	"nicotsm/utils"
)

// SessionConfig configures the HTTP session shared by every upstream call
type SessionConfig struct {
	// CookieJar is the Netscape cookie file; empty keeps cookies in memory only
	CookieJar string
	UserAgent string
	Timeout   time.Duration
	Location  *time.Location
	Context   string
	Proxy     string
	RateLimit float64
	Retries   int
}

// SessionConfigFromConfig extracts the session settings of a loaded configuration
func SessionConfigFromConfig(cfg *internal.Config) SessionConfig {
	return SessionConfig{
		CookieJar: cfg.Login.CookieJar,
		UserAgent: cfg.Misc.UserAgent,
		Timeout:   cfg.Misc.Timeout,
		Location:  cfg.Misc.Location,
		Context:   cfg.Misc.Context,
		Proxy:     cfg.Misc.Proxy,
		RateLimit: cfg.Misc.RateLimit,
		Retries:   cfg.Misc.Retries,
	}
}

// Session owns the cookie store, the transport and the per-run settings.
// The cookie file is loaded by Open and written back by Close.
type Session struct {
	mutex    sync.RWMutex
	cookies  *CookieStore
	http     *utils.HTTPClient
	jarPath  string
	location *time.Location
	context  string
	closed   bool
	logger   zerolog.Logger
}

// Open creates a session and restores the cookie file when one is configured
func Open(config SessionConfig) (*Session, error) {
	location := config.Location
	if location == nil {
		location = time.Local
	}

	retry := utils.DefaultRetryConfig()
	retry.MaxRetries = config.Retries

	cookies := NewCookieStore()
	client, err := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		Timeout:     config.Timeout,
		ProxyURL:    config.Proxy,
		UserAgent:   config.UserAgent,
		Jar:         cookies,
		Limiter:     utils.NewRequestLimiter(config.RateLimit),
		RetryConfig: retry,
	})
	if err != nil {
		return nil, err
	}

	session := &Session{
		cookies:  cookies,
		http:     client,
		jarPath:  config.CookieJar,
		location: location,
		context:  config.Context,
		logger:   internal.WithComponent("session"),
	}

	if session.jarPath != "" {
		if err := cookies.Load(session.jarPath); err != nil {
			return nil, fmt.Errorf("load cookie jar %s: %w", session.jarPath, err)
		}
		session.logger.Debug().Str("path", session.jarPath).Int("cookies", len(cookies.All())).Msg("cookie jar loaded")
	}

	return session, nil
}

// Close flushes the cookie file. Calling it more than once is a no-op.
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.jarPath == "" {
		return nil
	}
	if err := s.cookies.Save(s.jarPath); err != nil {
		return fmt.Errorf("save cookie jar %s: %w", s.jarPath, err)
	}
	s.logger.Debug().Str("path", s.jarPath).Msg("cookie jar saved")
	return nil
}

// WithSession opens a session, runs fn and closes the session on every exit
// path, panics included. A close failure is returned when fn succeeded and
// logged as a warning otherwise.
func WithSession(config SessionConfig, fn func(*Session) error) (err error) {
	session, err := Open(config)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := session.Close()
		switch {
		case closeErr == nil:
		case err == nil:
			err = closeErr
		default:
			internal.LogWarn("cookie jar was not saved: %v", closeErr)
		}
	}()
	return fn(session)
}

// HTTP returns the transport bound to the session cookie store
func (s *Session) HTTP() *utils.HTTPClient {
	return s.http
}

// Cookies returns the session cookie store
func (s *Session) Cookies() *CookieStore {
	return s.cookies
}

// UserAgent returns the configured user agent
func (s *Session) UserAgent() string {
	return s.http.UserAgent()
}

// SetUserAgent changes the user agent; empty sends no User-Agent header
func (s *Session) SetUserAgent(userAgent string) {
	s.http.SetUserAgent(userAgent)
}

// Timeout returns the default request timeout
func (s *Session) Timeout() time.Duration {
	return s.http.Timeout()
}

// SetTimeout changes the default request timeout
func (s *Session) SetTimeout(timeout time.Duration) {
	s.http.SetTimeout(timeout)
}

// Location returns the timezone every timestamp is converted to
func (s *Session) Location() *time.Location {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.location
}

// SetLocation changes the session timezone
func (s *Session) SetLocation(location *time.Location) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.location = location
}

// Context is the _context value sent with content searches
func (s *Session) Context() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.context
}
