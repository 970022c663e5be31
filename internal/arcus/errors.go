package arcus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind partitions every failure the adapter can surface into a small taxonomy
// that callers render for users. Exactly one kind is attached per failed call.
type Kind int

const (
	// KindConfiguration marks a missing or invalid credential at startup.
	// Fatal: the process must not serve requests.
	KindConfiguration Kind = iota
	// KindAuthentication marks rejected credentials or a logical login
	// failure with no token in the response.
	KindAuthentication
	// KindMFARequired marks an account that requires multi-factor auth.
	// The adapter detects and rejects these; it does not attempt the flow.
	KindMFARequired
	// KindTransport marks timeouts, DNS failures, and other network faults.
	KindTransport
	// KindRateLimit marks an HTTP 429 from the cloud.
	KindRateLimit
	// KindAPILogical marks a transport-level success whose envelope code was
	// not the success value. Carries the backend msg verbatim.
	KindAPILogical
	// KindNotFound marks an HTTP 404, typically a bad device identifier.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindMFARequired:
		return "mfa_required"
	case KindTransport:
		return "transport"
	case KindRateLimit:
		return "rate_limit"
	case KindAPILogical:
		return "api_logical"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by every failing adapter operation.
type Error struct {
	Kind       Kind
	Message    string
	Code       string   // backend envelope code, when present
	MFAOptions []string // offered MFA methods, KindMFARequired only
	wrapped    error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("arcus: %s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("arcus: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is lets errors.Is match on kind via the sentinel helpers below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Message == "" && t.Kind == e.Kind
	}
	return false
}

// KindOf extracts the taxonomy kind from err, or KindTransport with ok=false
// when err is not an adapter error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindTransport, false
}

// UserMessage renders err as a user-facing string. Unknown errors get a
// generic transport-style message so callers never crash on rendering.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return fmt.Sprintf("Unexpected error talking to Arcus: %v. Please retry.", err)
	}
	switch e.Kind {
	case KindConfiguration:
		return fmt.Sprintf("Configuration error: %s", e.Message)
	case KindAuthentication:
		return fmt.Sprintf("Authentication failed: %s. Check ARCUS_EMAIL / ARCUS_PASSWORD / ARCUS_API_KEY / ARCUS_KEY_ID.", e.Message)
	case KindMFARequired:
		return fmt.Sprintf("This account requires multi-factor authentication (%s), which this adapter does not support. Disable MFA or use a dedicated account.", strings.Join(e.MFAOptions, ", "))
	case KindTransport:
		return fmt.Sprintf("Network error reaching Arcus: %s. Please retry.", e.Message)
	case KindRateLimit:
		return "Arcus is rate limiting requests. Back off and retry later."
	case KindAPILogical:
		if e.Code != "" {
			return fmt.Sprintf("Arcus rejected the request (code %s): %s", e.Code, e.Message)
		}
		return fmt.Sprintf("Arcus rejected the request: %s", e.Message)
	case KindNotFound:
		return fmt.Sprintf("Not found: %s. Check the device identifier.", e.Message)
	}
	return e.Message
}

func configErr(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func authErr(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...)}
}

func mfaErr(options []string) *Error {
	return &Error{
		Kind:       KindMFARequired,
		Message:    fmt.Sprintf("MFA required, offered options: %s", strings.Join(options, ", ")),
		MFAOptions: options,
	}
}

func transportErr(err error) *Error {
	return &Error{Kind: KindTransport, Message: err.Error(), wrapped: err}
}

func rateLimitErr() *Error {
	return &Error{Kind: KindRateLimit, Message: "HTTP 429 from Arcus"}
}

func apiLogicalErr(code, msg string) *Error {
	if msg == "" {
		msg = "request rejected by Arcus"
	}
	return &Error{Kind: KindAPILogical, Message: msg, Code: code}
}

func notFoundErr(msg string) *Error {
	if msg == "" {
		msg = "resource not found"
	}
	return &Error{Kind: KindNotFound, Message: msg}
}

// classifyStatus maps a non-2xx HTTP status onto the taxonomy. Called by the
// executor's error handler, so classification happens exactly once per call.
func classifyStatus(status int, body []byte) error {
	switch status {
	case 401, 403:
		return authErr("HTTP %d: %s", status, truncateBody(body))
	case 404:
		return notFoundErr(truncateBody(body))
	case 429:
		return rateLimitErr()
	default:
		return apiLogicalErr("", fmt.Sprintf("HTTP %d: %s", status, truncateBody(body)))
	}
}

// classifyTransport wraps a network-layer failure. Context deadline and net
// timeouts all land in KindTransport; they never mutate token state.
func classifyTransport(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err // already classified by the error handler
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transportErr(fmt.Errorf("request timed out: %w", err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transportErr(fmt.Errorf("request timed out: %w", err))
	}
	return transportErr(err)
}

func truncateBody(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
