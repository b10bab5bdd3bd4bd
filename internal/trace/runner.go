package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/JakeFAU/debugflow/internal/instrument"
)

// DefaultBudget bounds a single replay.
const DefaultBudget = 2 * time.Second

const recordBinding = "__debugflowRecord"

// Hook forwards every traced call to the Go side of the runner.
const Hook instrument.Hook = `function (info) {
	` + recordBinding + `(info.function_name, +info.first_timestamp, +info.last_timestamp, info.function_arguments);
}`

// ErrBudgetExceeded reports a script that ran longer than the runner allows.
var ErrBudgetExceeded = errors.New("trace budget exceeded")

// Runner instruments a script and executes it in an isolated goja VM.
type Runner struct {
	instrumenter instrument.Instrumenter
	budget       time.Duration
	logger       *zap.Logger
}

// NewRunner wires the instrumenter used for replays.
func NewRunner(inst instrument.Instrumenter, budget time.Duration, logger *zap.Logger) *Runner {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{instrumenter: inst, budget: budget, logger: logger}
}

// Run instruments source, executes it and returns every call recorded before the
// script finished, threw or ran out of budget. A non-nil recording accompanies
// script errors so partial flows can still be shown.
func (r *Runner) Run(ctx context.Context, source string) (*Recording, error) {
	rec := &Recording{}
	code, err := r.instrumenter.Instrument(source, Hook)
	if err != nil {
		return rec, fmt.Errorf("instrument: %w", err)
	}

	vm := goja.New()
	if err := vm.Set(recordBinding, func(name string, first, last float64, args []any) {
		rec.Record(Event{FunctionName: name, FirstTimestamp: first, LastTimestamp: last, Arguments: args})
	}); err != nil {
		return rec, fmt.Errorf("bind recorder: %w", err)
	}
	if err := vm.Set("console", r.console(vm)); err != nil {
		return rec, fmt.Errorf("bind console: %w", err)
	}

	timer := time.AfterFunc(r.budget, func() {
		vm.Interrupt(ErrBudgetExceeded)
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	if _, err := vm.RunString(code); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return rec, fmt.Errorf("script interrupted: %w", cause)
			}
		}
		return rec, fmt.Errorf("script failed: %w", err)
	}
	return rec, nil
}

func (r *Runner) console(vm *goja.Runtime) *goja.Object {
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		r.logger.Info("script console", zap.String("message", strings.Join(parts, " ")))
		return goja.Undefined()
	}
	for _, name := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(name, logFn)
	}
	return console
}
