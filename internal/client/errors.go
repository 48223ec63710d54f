package client

import (
	"errors"
	"fmt"
)

// ErrDisconnected is the failure every in-flight and queued task gets
// when the transport is lost, and the synchronous result of submitting
// to a closed client.
var ErrDisconnected = errors.New("mysql: disconnected")

// ParamMismatchError is an execute-time arity failure, raised before
// anything is written to the wire.
type ParamMismatchError struct {
	Given    int
	Expected int
}

func (e *ParamMismatchError) Error() string {
	return fmt.Sprintf("mysql: parameter count mismatch (got %d, statement wants %d)", e.Given, e.Expected)
}
