package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind identifies the category of a failure.
type Kind string

const (
	KindAuthentication     Kind = "AuthenticationError"
	KindAuthorization      Kind = "AuthorizationError"
	KindValidation         Kind = "ValidationError"
	KindRateLimit          Kind = "RateLimitError"
	KindServiceUnavailable Kind = "ServiceUnavailableError"
	KindNetwork            Kind = "NetworkError"
	KindTimeout            Kind = "TimeoutError"
	KindHTTP               Kind = "HttpError"
	KindConfiguration      Kind = "ConfigurationError"
	KindState              Kind = "StateError"
)

// Kinds lists every member of the taxonomy.
var Kinds = []Kind{
	KindAuthentication,
	KindAuthorization,
	KindValidation,
	KindRateLimit,
	KindServiceUnavailable,
	KindNetwork,
	KindTimeout,
	KindHTTP,
	KindConfiguration,
	KindState,
}

// Sentinels for errors.Is matching on kind alone.
var (
	ErrAuthentication     = &Error{Kind: KindAuthentication}
	ErrAuthorization      = &Error{Kind: KindAuthorization}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrRateLimit          = &Error{Kind: KindRateLimit}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrHTTP               = &Error{Kind: KindHTTP}
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrState              = &Error{Kind: KindState}
)

// FieldError describes a single invalid input field of a rejected request.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the single error type of the taxonomy. Only Kind is mandatory; the
// remaining fields are filled when the source of the failure provides them.
type Error struct {
	Kind    Kind
	Message string

	// StatusCode and StatusText are set for failures derived from an HTTP response.
	StatusCode int
	StatusText string

	// Code is the server-declared error code from an {error:{code,...}} payload.
	Code    string
	Details map[string]any

	// Fields carries field level detail of a ValidationError.
	Fields []FieldError

	// RetryAfter is the server hint of a RateLimitError, zero when absent.
	RetryAfter time.Duration

	Err error
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	msg := e.Message
	if msg == "" && e.StatusText != "" {
		msg = e.StatusText
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target carrying a
// status code or server code only matches errors with the same values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.StatusCode != 0 && t.StatusCode != e.StatusCode {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return true
}

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// does not belong to the taxonomy.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsAuthentication reports whether err requires the user to log in again.
func IsAuthentication(err error) bool {
	return IsKind(err, KindAuthentication)
}

// IsRetryable reports whether another attempt could succeed. Authentication,
// authorization and validation failures are definitionally non-transient, and
// configuration and state failures do not change between attempts either.
// Errors outside the taxonomy are not retried.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case "", KindAuthentication, KindAuthorization, KindValidation, KindConfiguration, KindState:
		return false
	default:
		return true
	}
}

// FromStatus maps an HTTP status onto the taxonomy without any payload. The
// function is exhaustive over the statuses the transport distinguishes and
// falls back to KindHTTP for everything else.
func FromStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuthentication
	case http.StatusForbidden:
		return KindAuthorization
	case http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusServiceUnavailable:
		return KindServiceUnavailable
	default:
		return KindHTTP
	}
}

var codeAliases = map[string]Kind{
	"authentication":     KindAuthentication,
	"unauthenticated":    KindAuthentication,
	"unauthorized":       KindAuthentication,
	"invalidtoken":       KindAuthentication,
	"tokenexpired":       KindAuthentication,
	"authorization":      KindAuthorization,
	"forbidden":          KindAuthorization,
	"permissiondenied":   KindAuthorization,
	"accessdenied":       KindAuthorization,
	"validation":         KindValidation,
	"invalidrequest":     KindValidation,
	"invalidargument":    KindValidation,
	"ratelimit":          KindRateLimit,
	"ratelimited":        KindRateLimit,
	"toomanyrequests":    KindRateLimit,
	"serviceunavailable": KindServiceUnavailable,
	"unavailable":        KindServiceUnavailable,
	"network":            KindNetwork,
	"timeout":            KindTimeout,
	"deadlineexceeded":   KindTimeout,
	"configuration":      KindConfiguration,
	"state":              KindState,
	"http":               KindHTTP,
}

// KindFromCode resolves a server-declared error code such as
// "VALIDATION_ERROR", "ValidationError" or "rate-limit" onto a kind.
func KindFromCode(code string) (Kind, bool) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	normalized = strings.NewReplacer("_", "", "-", "", " ", "", ".", "").Replace(normalized)
	if normalized == "" {
		return "", false
	}
	if kind, ok := codeAliases[normalized]; ok {
		return kind, true
	}
	if trimmed := strings.TrimSuffix(normalized, "error"); trimmed != normalized {
		if kind, ok := codeAliases[trimmed]; ok {
			return kind, true
		}
	}
	return "", false
}
