package engine

import (
	"errors"
	"fmt"
)

// FailureKind classifies a fatal engine error
type FailureKind int

const (
	// ConnectFailure means the source or a cursor could not be opened
	ConnectFailure FailureKind = iota + 1
	// StreamFailure means the cursor reported anything but end of batch
	StreamFailure
	// HandlerFailure means a handler returned an error for a record
	HandlerFailure
)

func (k FailureKind) String() string {
	switch k {
	case ConnectFailure:
		return "connect failure"
	case StreamFailure:
		return "stream failure"
	case HandlerFailure:
		return "handler failure"
	}
	return fmt.Sprintf("failure(%d)", int(k))
}

// FatalError stops the engine. Retrying is left to whoever supervises the
// process: handler side effects are not assumed idempotent.
type FatalError struct {
	Kind FailureKind
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// AsFatal returns the FatalError carried by err, if any
func AsFatal(err error) (*FatalError, bool) {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal, true
	}
	return nil, false
}
