package terminal

import (
	"errors"
	"fmt"
	"time"
)

// ErrPaymentInProgress is returned when a second operation is started while
// one is still outstanding on the same connection. The vendor protocol gives
// no way to correlate interleaved operations, so the client rejects the
// second attempt outright.
var ErrPaymentInProgress = errors.New("payment operation already in progress")

// NotConnectedError is returned synchronously, before any I/O, when an
// operation requires an owned socket and there is none.
type NotConnectedError struct {
	Op string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s: terminal is not connected", e.Op)
}

// ConnectionError wraps a socket-level open, read, or write failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError covers connect, idle, and operation timeouts. All three share
// one shape and are told apart only by their message.
type TimeoutError struct {
	Kind  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout after %s", e.Kind, e.After)
}

func (e *TimeoutError) Timeout() bool {
	return true
}
