package trace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/debugflow/internal/instrument"
)

func newTestRunner(budget time.Duration) *Runner {
	return NewRunner(instrument.NewTracer(), budget, zap.NewNop())
}

func TestRunRecordsCalls(t *testing.T) {
	t.Parallel()

	rec, err := newTestRunner(0).Run(context.Background(), "function f(a){return a;} f(1); f(2);")
	require.NoError(t, err)
	require.Equal(t, 2, rec.Len())
	assert.Regexp(t, `^f-\d+-\d+$`, rec.Calls[0])
	assert.Equal(t, []any{int64(1)}, rec.Args[0])
	assert.Equal(t, []any{int64(2)}, rec.Args[1])
}

func TestRunStopsAtBudget(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_, err := newTestRunner(50*time.Millisecond).Run(context.Background(), "function spin(){ while (true) {} } spin();")
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestRunner(time.Minute).Run(ctx, "while (true) {}")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunKeepsPartialRecordingOnThrow(t *testing.T) {
	t.Parallel()

	rec, err := newTestRunner(0).Run(context.Background(), `function ok(){} ok(); throw new Error("nope");`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.Equal(t, 1, rec.Len())
}

func TestRunReportsInstrumentationErrors(t *testing.T) {
	t.Parallel()

	_, err := newTestRunner(0).Run(context.Background(), "function (")
	var instErr *instrument.Error
	require.True(t, errors.As(err, &instErr))
}

func TestRunRoutesConsoleToLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	runner := NewRunner(instrument.NewTracer(), 0, zap.New(core))
	_, err := runner.Run(context.Background(), `console.log("hello", 42);`)
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "hello 42", logs.All()[0].ContextMap()["message"])
}
