package llm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/recap/errors"
)

// Kind classifies a provider failure for retry decisions
type Kind int

const (
	// KindFatal is never retried: bad key, malformed request, unknown model, unconfigured provider
	KindFatal Kind = iota
	// KindTransient is retried: network failure, 5xx, unparseable output
	KindTransient
	// KindRateLimited is retried after the backend's suggested backoff when it gives one
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "fatal"
	}
}

// Error is a classified provider failure
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int           // 0 when no HTTP response was received
	RetryAfter time.Duration // suggested backoff for KindRateLimited, 0 if unknown
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Provider)
	sb.WriteString(": ")
	sb.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the failure may succeed on another attempt
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// Fatal creates a non-retryable failure
func Fatal(provider, format string, args ...interface{}) error {
	return &Error{Kind: KindFatal, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// Transient creates a retryable failure
func Transient(provider string, cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindTransient, Provider: provider, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// RateLimited creates a rate-limit failure with an optional suggested backoff
func RateLimited(provider string, retryAfter time.Duration, message string) error {
	return &Error{Kind: KindRateLimited, Provider: provider, StatusCode: http.StatusTooManyRequests, RetryAfter: retryAfter, Message: message}
}

// AsError extracts the classified failure from err
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether err is a retryable provider failure.
// Context cancellation and unclassified errors are not retryable.
func IsRetryable(err error) bool {
	if pe, ok := AsError(err); ok {
		return pe.Retryable()
	}
	return false
}

// RetryAfterOf returns the backend's suggested backoff, or 0
func RetryAfterOf(err error) time.Duration {
	if pe, ok := AsError(err); ok && pe.Kind == KindRateLimited {
		return pe.RetryAfter
	}
	return 0
}

// ClassifyStatus maps a non-2xx HTTP response to a classified failure
func ClassifyStatus(provider string, status int, header http.Header, body []byte) error {
	msg := Truncate(string(body), 300)
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Provider: provider, StatusCode: status,
			RetryAfter: ParseRetryAfter(header.Get("Retry-After"), time.Now()), Message: msg}
	case status == http.StatusRequestTimeout, status == 529, status >= 500:
		// 529 is Anthropic's "overloaded"
		return &Error{Kind: KindTransient, Provider: provider, StatusCode: status, Message: msg}
	default:
		return &Error{Kind: KindFatal, Provider: provider, StatusCode: status, Message: msg}
	}
}

// ClassifyTransport maps an error from http.Client.Do.
// Context cancellation passes through unchanged so callers can tell it from failure.
func ClassifyTransport(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if ctxErr == context.DeadlineExceeded {
			return Transient(provider, err, "call deadline exceeded")
		}
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(provider, err, "network error")
	}
	lower := strings.ToLower(err.Error())
	for _, frag := range []string{"connection refused", "connection reset", "eof", "no such host", "timeout", "tls handshake"} {
		if strings.Contains(lower, frag) {
			return Transient(provider, err, "network error")
		}
	}
	// Address policy rejections and malformed URLs will not fix themselves
	return &Error{Kind: KindFatal, Provider: provider, Message: "request failed", Cause: err}
}

// ParseRetryAfter parses a Retry-After header given as seconds or an HTTP date
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(value); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
