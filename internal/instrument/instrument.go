// Package instrument rewrites JavaScript so every traced function reports its
// entry, exit and arguments to a per-trace recording.
//
// Callers treat instrumentation as a pluggable capability behind Instrumenter.
// The default implementation, Tracer, parses the script with goja's parser and
// splices hooks into function bodies; it never evaluates the script.
package instrument

import (
	"errors"
	"fmt"
)

// RuntimeName is the top-level binding the instrumented program uses to reach its recording.
const RuntimeName = "__debugflow"

// Hook is the JavaScript function expression invoked once per traced call as
// hook(info, recording). info carries function_name, first_timestamp,
// last_timestamp and function_arguments; recording is the {calls, args}
// accumulator owned by this trace.
type Hook string

// Instrumenter turns source into an instrumented, directly executable program.
type Instrumenter interface {
	Instrument(source string, onCall Hook) (string, error)
}

// Func adapts a plain function to Instrumenter.
type Func func(source string, onCall Hook) (string, error)

// Instrument calls f.
func (f Func) Instrument(source string, onCall Hook) (string, error) {
	return f(source, onCall)
}

// ErrNoHook reports an empty Hook.
var ErrNoHook = errors.New("instrument: hook is required")

// Error reports source that could not be traced, typically a syntax error.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("SyntaxError: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
