package internal

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SecureLogger provides structured logging with sensitive data redaction
type SecureLogger struct {
	mu        sync.RWMutex
	zl        zerolog.Logger
	redactors []Redactor
}

// Redactor defines an interface for redacting sensitive information
type Redactor interface {
	Redact(input string) string
}

// CookieRedactor redacts session cookie values from strings
type CookieRedactor struct{}

func (r *CookieRedactor) Redact(input string) string {
	patterns := []string{
		"user_session_secure=",
		"user_session=",
		"Cookie:",
		"Set-Cookie:",
	}

	result := input
	for _, pattern := range patterns {
		result = redactAfter(result, pattern, " ;\n\r\t\",")
	}
	return result
}

// CredentialRedactor redacts login form fields and registration tokens
type CredentialRedactor struct{}

func (r *CredentialRedactor) Redact(input string) string {
	params := []string{
		"password=",
		"mail_tel=",
		"token=",
		"ulck_",
	}

	result := input
	for _, param := range params {
		result = redactAfter(result, param, "&' \n\r\t\",")
	}
	return result
}

// ValueRedactor masks literal values known at runtime, such as the
// configured account credentials
type ValueRedactor struct {
	values []string
}

// NewValueRedactor creates a redactor for the non-empty values
func NewValueRedactor(values ...string) *ValueRedactor {
	r := &ValueRedactor{}
	for _, v := range values {
		if v != "" {
			r.values = append(r.values, v)
		}
	}
	return r
}

func (r *ValueRedactor) Redact(input string) string {
	result := input
	for _, v := range r.values {
		result = strings.ReplaceAll(result, v, "[REDACTED]")
	}
	return result
}

// redactAfter replaces every value that follows pattern (case-insensitive)
// up to the first stop character.
func redactAfter(input, pattern, stops string) string {
	lowerPattern := strings.ToLower(pattern)
	var b strings.Builder
	rest := input
	for {
		index := strings.Index(strings.ToLower(rest), lowerPattern)
		if index == -1 {
			b.WriteString(rest)
			return b.String()
		}
		start := index + len(pattern)
		end := start
		for end < len(rest) && !strings.ContainsRune(stops, rune(rest[end])) {
			end++
		}
		b.WriteString(rest[:start])
		if end > start {
			b.WriteString("[REDACTED]")
		}
		rest = rest[end:]
	}
}

// redactingWriter applies the logger's redactors to every encoded event
type redactingWriter struct {
	out io.Writer
	sl  *SecureLogger
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.sl.redactSensitiveData(string(p))
	if _, err := io.WriteString(w.out, redacted); err != nil {
		return 0, err
	}
	return len(p), nil
}

// NewSecureLogger creates a logger writing to output. Console output is
// human readable; anything else gets JSON lines.
func NewSecureLogger(output io.Writer, level zerolog.Level, debug, console bool) *SecureLogger {
	sl := &SecureLogger{
		redactors: []Redactor{
			&CookieRedactor{},
			&CredentialRedactor{},
		},
	}

	var w io.Writer = &redactingWriter{out: output, sl: sl}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05", NoColor: true}
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if debug {
		ctx = ctx.Caller()
	}
	sl.zl = ctx.Logger()
	return sl
}

// NewDefaultLogger creates a stderr logger with default settings
func NewDefaultLogger(debug bool) *SecureLogger {
	level := zerolog.WarnLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return NewSecureLogger(os.Stderr, level, debug, true)
}

// redactSensitiveData applies all redactors to the input string
func (sl *SecureLogger) redactSensitiveData(input string) string {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	result := input
	for _, redactor := range sl.redactors {
		result = redactor.Redact(result)
	}
	return result
}

// Zerolog exposes the underlying logger for structured events
func (sl *SecureLogger) Zerolog() *zerolog.Logger {
	return &sl.zl
}

// Component returns a child logger annotated with the component name
func (sl *SecureLogger) Component(name string) zerolog.Logger {
	return sl.zl.With().Str("component", name).Logger()
}

// Error logs an error message
func (sl *SecureLogger) Error(format string, args ...interface{}) {
	sl.zl.Error().Msg(fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (sl *SecureLogger) Warn(format string, args ...interface{}) {
	sl.zl.Warn().Msg(fmt.Sprintf(format, args...))
}

// Info logs an info message
func (sl *SecureLogger) Info(format string, args ...interface{}) {
	sl.zl.Info().Msg(fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (sl *SecureLogger) Debug(format string, args ...interface{}) {
	sl.zl.Debug().Msg(fmt.Sprintf(format, args...))
}

// LogHTTPRequest logs an HTTP request with sensitive headers redacted
func (sl *SecureLogger) LogHTTPRequest(req *http.Request) {
	if sl.zl.GetLevel() > zerolog.DebugLevel {
		return
	}
	sl.zl.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Interface("headers", sanitizeHeaders(req.Header)).
		Msg("http request")
}

// LogHTTPResponse logs an HTTP response with sensitive headers redacted
func (sl *SecureLogger) LogHTTPResponse(resp *http.Response) {
	if sl.zl.GetLevel() > zerolog.DebugLevel {
		return
	}
	sl.zl.Debug().
		Int("status", resp.StatusCode).
		Str("url", resp.Request.URL.String()).
		Interface("headers", sanitizeHeaders(resp.Header)).
		Msg("http response")
}

func sanitizeHeaders(h http.Header) map[string]string {
	sanitized := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name) {
			sanitized[name] = "[REDACTED]"
		} else {
			sanitized[name] = strings.Join(values, ", ")
		}
	}
	return sanitized
}

// isSensitiveHeader checks if a header contains sensitive information
func isSensitiveHeader(name string) bool {
	sensitiveHeaders := []string{
		"authorization",
		"cookie",
		"set-cookie",
		"x-auth-token",
		"token",
	}

	lowerName := strings.ToLower(name)
	for _, sensitive := range sensitiveHeaders {
		if strings.Contains(lowerName, sensitive) {
			return true
		}
	}
	return false
}

// AddRedactor adds a custom redactor
func (sl *SecureLogger) AddRedactor(redactor Redactor) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.redactors = append(sl.redactors, redactor)
}
