package internal

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents different types of errors
type ErrorType int

const (
	ErrCommunication ErrorType = iota
	ErrTimeout
	ErrInvalidResponse
	ErrInvalidContentID
	ErrLoginFailed
	ErrLoginRequired
	ErrNotFound
	ErrTSNotSupported
	ErrTSAlreadyRegistered
	ErrTSRegistrationExpired
	ErrTSMaxReservation
	ErrContentSearch
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// NicoError is an error raised while talking to the upstream service.
type NicoError struct {
	Code       int                    `json:"code,omitempty"`
	Message    string                 `json:"message"`
	Type       ErrorType              `json:"type"`
	Severity   ErrorSeverity          `json:"severity"`
	URL        string                 `json:"url,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *NicoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *NicoError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *NicoError of a matching type. A Timeout
// matches Communication so callers can treat every transport failure alike.
func (e *NicoError) Is(target error) bool {
	t, ok := target.(*NicoError)
	if !ok {
		return false
	}
	return e.Type.Matches(t.Type)
}

// DetailedError returns a detailed error message with all available information
func (e *NicoError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s Error", e.Severity.String(), e.Type.String()))

	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("Code: %d", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", e.Message))
	}
	if e.Err != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Err))
	}
	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("URL: %s", redactSensitiveURL(e.URL)))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrCommunication:
		return "Communication"
	case ErrTimeout:
		return "Timeout"
	case ErrInvalidResponse:
		return "InvalidResponse"
	case ErrInvalidContentID:
		return "InvalidContentID"
	case ErrLoginFailed:
		return "LoginFailed"
	case ErrLoginRequired:
		return "LoginRequired"
	case ErrNotFound:
		return "NotFound"
	case ErrTSNotSupported:
		return "TSNotSupported"
	case ErrTSAlreadyRegistered:
		return "TSAlreadyRegistered"
	case ErrTSRegistrationExpired:
		return "TSRegistrationExpired"
	case ErrTSMaxReservation:
		return "TSMaxReservation"
	case ErrContentSearch:
		return "ContentSearch"
	default:
		return "Unknown"
	}
}

// Key returns the snake_case name used in warning lines and configuration.
func (et ErrorType) Key() string {
	switch et {
	case ErrTSNotSupported:
		return "ts_not_supported"
	case ErrTSAlreadyRegistered:
		return "ts_already_registered"
	case ErrTSRegistrationExpired:
		return "ts_registration_expired"
	case ErrTSMaxReservation:
		return "ts_max_reservation"
	case ErrNotFound:
		return "not_found"
	case ErrLoginRequired:
		return "login_required"
	case ErrLoginFailed:
		return "login_failed"
	case ErrInvalidResponse:
		return "invalid_response"
	case ErrInvalidContentID:
		return "invalid_content_id"
	case ErrTimeout:
		return "timeout"
	case ErrContentSearch:
		return "content_search"
	default:
		return "communication"
	}
}

// Matches reports whether an error of type et satisfies a check for want.
func (et ErrorType) Matches(want ErrorType) bool {
	if et == want {
		return true
	}
	return et == ErrTimeout && want == ErrCommunication
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewNicoError creates a new NicoError with default severity and suggestion
func NewNicoError(code int, message string, errorType ErrorType) *NicoError {
	return &NicoError{
		Code:       code,
		Message:    message,
		Type:       errorType,
		Severity:   getDefaultSeverity(errorType),
		Suggestion: getDefaultSuggestion(errorType),
		Context:    make(map[string]interface{}),
	}
}

// WithSuggestion adds a custom suggestion to the error
func (e *NicoError) WithSuggestion(suggestion string) *NicoError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (redacted in detailed output)
func (e *NicoError) WithURL(url string) *NicoError {
	e.URL = url
	return e
}

// WithContext adds context information to the error
func (e *NicoError) WithContext(key string, value interface{}) *NicoError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap records the underlying cause.
func (e *NicoError) Wrap(err error) *NicoError {
	e.Err = err
	return e
}

// IsType reports whether err is, or wraps, a NicoError matching errorType.
func IsType(err error, errorType ErrorType) bool {
	var ne *NicoError
	if !errors.As(err, &ne) {
		return false
	}
	return ne.Type.Matches(errorType)
}

// TypeOf returns the type of the first NicoError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var ne *NicoError
	if !errors.As(err, &ne) {
		return 0, false
	}
	return ne.Type, true
}

// ContentSearchError is returned when the search API answers with a non-200
// meta status.
type ContentSearchError struct {
	Status       int                    `json:"status"`
	ErrorCode    string                 `json:"errorCode"`
	ErrorMessage string                 `json:"errorMessage"`
	Meta         map[string]interface{} `json:"meta"`
}

func (e *ContentSearchError) Error() string {
	return fmt.Sprintf("content search failed: %d %s: %s", e.Status, e.ErrorCode, e.ErrorMessage)
}

// MalformedQuery reports whether upstream rejected the query itself.
func (e *ContentSearchError) MalformedQuery() bool {
	return e.Status == 400
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field      string      `json:"field"`
	Message    string      `json:"message"`
	Value      interface{} `json:"value,omitempty"`
	Suggestion string      `json:"suggestion,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("got %v", e.Value))
	}
	if e.Suggestion != "" {
		parts = append(parts, e.Suggestion)
	}
	return strings.Join(parts, " - ")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

func getDefaultSuggestion(errorType ErrorType) string {
	switch errorType {
	case ErrCommunication:
		return "Check your network connection and proxy settings"
	case ErrTimeout:
		return "Increase misc.timeout or try again later"
	case ErrInvalidResponse:
		return "The upstream page layout may have changed"
	case ErrInvalidContentID:
		return "Use ids like lv12345 or ch678"
	case ErrLoginFailed:
		return "Check login.mail and login.password"
	case ErrLoginRequired:
		return "Configure login credentials so the session can be renewed"
	default:
		return ""
	}
}

func getDefaultSeverity(errorType ErrorType) ErrorSeverity {
	switch errorType {
	case ErrTSNotSupported, ErrTSRegistrationExpired, ErrTSAlreadyRegistered, ErrTSMaxReservation:
		return SeverityWarning
	case ErrLoginFailed:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// redactSensitiveURL drops the query string, which may carry tokens
func redactSensitiveURL(url string) string {
	if i := strings.Index(url, "?"); i >= 0 {
		return url[:i] + "?[REDACTED]"
	}
	return url
}

// Common error constructors

// NewCommunicationError wraps a transport failure.
func NewCommunicationError(url string, err error) *NicoError {
	return NewNicoError(0, "communication error", ErrCommunication).WithURL(url).Wrap(err)
}

// NewTimeoutError reports an elapsed request deadline.
func NewTimeoutError(url string, err error) *NicoError {
	return NewNicoError(0, "request timed out", ErrTimeout).WithURL(url).Wrap(err)
}

// NewInvalidResponseError reports a payload that matches no known branch.
func NewInvalidResponseError(message string) *NicoError {
	return NewNicoError(0, message, ErrInvalidResponse)
}

// NewInvalidContentIDError reports an unparsable or mismatched id.
func NewInvalidContentIDError(value interface{}, expected string) *NicoError {
	msg := fmt.Sprintf("invalid content id: %v", value)
	if expected != "" {
		msg = fmt.Sprintf("invalid content id: %v (expected prefix %q)", value, expected)
	}
	return NewNicoError(0, msg, ErrInvalidContentID).WithContext("value", value)
}

// NewLoginFailedError reports a login attempt that produced no session.
func NewLoginFailedError(message string) *NicoError {
	return NewNicoError(0, message, ErrLoginFailed)
}

// NewLoginRequiredError reports an anonymous session where one is needed.
func NewLoginRequiredError() *NicoError {
	return NewNicoError(0, "login required", ErrLoginRequired)
}
