package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures worth retrying: rate limits, 5xx, network blips.
	ErrTransient = errors.New("transient provider error")
	// ErrFatal marks failures that will not improve on retry: bad params, invalid address.
	ErrFatal = errors.New("fatal provider error")
	// ErrEmpty is reported when a provider answered well-formed but without data.
	ErrEmpty = errors.New("empty provider result")
	// ErrTimeout is returned when the caller's deadline passed before a result was ready.
	ErrTimeout = errors.New("fetch timed out")
	// ErrMissingParam is a fatal classification for requests lacking a required parameter.
	ErrMissingParam = errors.New("missing parameter")
	// ErrInvalidParam is a fatal classification for malformed parameters.
	ErrInvalidParam = errors.New("invalid parameter")
	// ErrUnsupported is a fatal classification for scopes/endpoints a provider does not serve.
	ErrUnsupported = errors.New("unsupported request")
)

// Status tags a Result.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusEmpty
	StatusTransient
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusEmpty:
		return "empty"
	case StatusTransient:
		return "transient"
	case StatusFatal:
		return "fatal"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Result is the tagged outcome of one provider call.
type Result struct {
	Status  Status
	Payload []byte
	Reason  error
}

func Success(payload []byte) Result { return Result{Status: StatusSuccess, Payload: payload} }

func Empty() Result { return Result{Status: StatusEmpty} }

func Transient(reason error) Result { return Result{Status: StatusTransient, Reason: reason} }

func Fatal(reason error) Result { return Result{Status: StatusFatal, Reason: reason} }

// Transientf and Fatalf format a reason the same way fmt.Errorf does.
func Transientf(format string, args ...any) Result { return Transient(fmt.Errorf(format, args...)) }

func Fatalf(format string, args ...any) Result { return Fatal(fmt.Errorf(format, args...)) }

// OK reports whether the result carries a payload.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Err returns nil for a success and otherwise an error that matches the
// status sentinel with errors.Is and wraps the reason.
func (r Result) Err() error {
	var sentinel error
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusEmpty:
		sentinel = ErrEmpty
	case StatusTransient:
		sentinel = ErrTransient
	default:
		sentinel = ErrFatal
	}
	if r.Reason == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, r.Reason)
}
