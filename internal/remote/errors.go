package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRemoteUnavailable wraps transport failures: the backend could not be reached or did not answer.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrNotFound is returned when a remote path does not exist.
	ErrNotFound = errors.New("remote path not found")
)

// RemoteError is a non-success answer from the backend.
type RemoteError struct {
	Op      string
	Path    string
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("remote error: %s %s: status %d", e.Op, e.Path, e.Status)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += " - " + e.Message
	}
	return msg
}

// Is lets errors.Is(err, ErrNotFound) match a 404 answer.
func (e *RemoteError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// LocalIOError is a failure to read a local file (missing, permission denied, read error).
type LocalIOError struct {
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local io error: %s: %v", e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error {
	return e.Err
}

// Unavailable wraps a transport error with ErrRemoteUnavailable.
func Unavailable(op string, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrRemoteUnavailable, op, path, err)
}

// Outcome is the result class of a single remote operation.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeRemoteFailure covers unreachable backends and non-success answers; retry next pass.
	OutcomeRemoteFailure
	// OutcomeLocalFailure means the local file could not be read; retry next pass.
	OutcomeLocalFailure
	// OutcomeCanceled means the context was canceled mid-operation.
	OutcomeCanceled
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRemoteFailure:
		return "remote-failure"
	case OutcomeLocalFailure:
		return "local-failure"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by a Store to its Outcome.
func Classify(err error) Outcome {
	var remoteErr *RemoteError
	var localErr *LocalIOError

	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case errors.As(err, &localErr):
		return OutcomeLocalFailure
	case errors.Is(err, ErrRemoteUnavailable), errors.As(err, &remoteErr), errors.Is(err, ErrNotFound):
		return OutcomeRemoteFailure
	default:
		return OutcomeUnknown
	}
}
