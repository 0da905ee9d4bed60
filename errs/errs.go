// Package errs provides structured error types and helpers for portsync services.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies an error category within the sync pipeline.
type Code string

const (
	// CodeConfig indicates missing or unparseable configuration.
	CodeConfig Code = "config"
	// CodeAuth indicates authentication or signing errors.
	CodeAuth Code = "auth"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeVenueData indicates missing or malformed venue data.
	CodeVenueData Code = "venue_data"
	// CodeVenue indicates a venue-side request failure.
	CodeVenue Code = "venue_error"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeConnectivity indicates a feed handshake or command failure.
	CodeConnectivity Code = "connectivity"
	// CodeRouting indicates an inbound event that could not be routed.
	CodeRouting Code = "routing"
	// CodeUnavailable indicates the target resource is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the portsync stack.
type E struct {
	Venue   string
	Code    Code
	HTTP    int
	RawCode string
	RawMsg  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the scope and error code. Scope is the
// venue name for venue-originated failures or a component tag otherwise.
func New(scope string, code Code, opts ...Option) *E {
	e := &E{
		Venue:   strings.TrimSpace(scope),
		Code:    code,
		HTTP:    0,
		RawCode: "",
		RawMsg:  "",
		Message: "",
		cause:   nil,
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

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw venue error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

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
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }
