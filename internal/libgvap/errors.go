package libgvap

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoSuchScenario    = errors.New("no such scenario")
	ErrNoSuchAssertion   = errors.New("no such assertion")
	ErrScenarioActive    = errors.New("another scenario is still active")
	ErrAssertionRunning  = errors.New("an assertion is still running")
	ErrNoSummaryResult   = errors.New("assertion must be ended with a result")
	ErrInvalidTransition = errors.New("invalid scenario state transition")
	ErrNoSuchProcess     = errors.New("no such process")
	ErrOutputClosed      = errors.New("output stream closed")
	ErrUnknownClient     = errors.New("unknown client")
)

// FailureKind classifies scenario and assertion failures.
type FailureKind string

const (
	FailureSpawn    FailureKind = "spawn"
	FailureRPC      FailureKind = "rpc"
	FailureMismatch FailureKind = "mismatch"
	FailureTeardown FailureKind = "teardown"
	FailureTimeout  FailureKind = "timeout"
	FailureOther    FailureKind = "error"
)

// FailureInfo is the recorded form of an error.
type FailureInfo struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// NewFailure classifies err. It returns nil for a nil error.
func NewFailure(err error) *FailureInfo {
	if err == nil {
		return nil
	}
	return &FailureInfo{Kind: Classify(err), Message: err.Error()}
}

// Classify returns the failure kind of err.
func Classify(err error) FailureKind {
	var (
		spawn    *SpawnError
		rpcErr   *RPCError
		mismatch *MismatchError
		teardown *TeardownError
	)
	switch {
	case errors.As(err, &spawn):
		return FailureSpawn
	case errors.As(err, &rpcErr):
		return FailureRPC
	case errors.As(err, &mismatch):
		return FailureMismatch
	case errors.As(err, &teardown):
		return FailureTeardown
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	default:
		return FailureOther
	}
}

// SpawnError is returned when a node did not start or never became ready.
type SpawnError struct {
	Label  string
	Reason string
	Err    error
}

func (e *SpawnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("scenario %q: node did not start: %s", e.Label, e.Reason)
	}
	return fmt.Sprintf("scenario %q: node did not start: %s: %v", e.Label, e.Reason, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// RPCError is a JSON-RPC error response, carried verbatim.
type RPCError struct {
	Method  string      `json:"method"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s: rpc error %d: %s (data: %v)", e.Method, e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// MismatchError is a well-formed response carrying an unexpected value.
type MismatchError struct {
	Method string
	Want   interface{}
	Got    interface{}
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: got %#v, want %#v", e.Method, e.Got, e.Want)
}

// TeardownError is recorded when a node could not be stopped cleanly.
type TeardownError struct {
	Label string
	Err   error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("scenario %q: teardown failed: %v", e.Label, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }
