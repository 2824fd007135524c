// Package errs provides structured error types and helpers for yieldcache services.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeRateLimited indicates that the remote source rejected the request due to rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeRemote indicates a remote-source failure.
	CodeRemote Code = "remote"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the dependency is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeInvariant indicates an internal invariant was violated.
	CodeInvariant Code = "invariant_violation"
	// CodeConfigMissing indicates configuration required for the operation is absent.
	CodeConfigMissing Code = "config_missing"
)

// E captures structured error information produced across the engine.
type E struct {
	Scope       string
	Code        Code
	HTTP        int
	Message     string
	Metadata    map[string]string
	Remediation string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the scope and error code.
func New(scope string, code Code, opts ...Option) *E {
	e := &E{
		Scope:       strings.TrimSpace(scope),
		Code:        code,
		HTTP:        0,
		Message:     "",
		Metadata:    nil,
		Remediation: "",
		cause:       nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithMetadata merges the provided metadata into the error envelope.
func WithMetadata(meta map[string]string) Option {
	return func(e *E) {
		if len(meta) == 0 {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Metadata[key] = strings.TrimSpace(v)
		}
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, 1)
		}
		e.Metadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	scope := strings.TrimSpace(e.Scope)
	if scope == "" {
		scope = "unknown"
	}
	parts = append(parts, "scope="+scope)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Metadata[k]))
		}
		parts = append(parts, "meta="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf returns the code of the first envelope found in the error chain.
func CodeOf(err error) (Code, bool) {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code, true
	}
	return "", false
}

// Is reports whether the error chain carries an envelope with the given code.
func Is(err error, code Code) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}

// IsRetryable reports whether a failure may succeed when attempted again.
// Errors without an envelope are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	code, ok := CodeOf(err)
	if !ok {
		return true
	}
	switch code {
	case CodeInvalid, CodeInvariant, CodeConfigMissing, CodeNotFound:
		return false
	default:
		return true
	}
}
