// Package pipeline turns a submitted script URL into a rendered debugging flow page.
//
// A run moves Start → Validated → Fetched → Instrumented → Rendered and stops at
// the first failing stage, which renders an error page instead (Errored). Every
// run yields a complete HTML document; failures are reported in the page, never
// as Go errors to the caller.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/debugflow/internal/fetch"
	"github.com/JakeFAU/debugflow/internal/instrument"
	"github.com/JakeFAU/debugflow/internal/metrics"
	"github.com/JakeFAU/debugflow/internal/validate"
)

// State is a pipeline state.
type State string

// Pipeline states.
const (
	StateStart        State = "start"
	StateValidated    State = "validated"
	StateFetched      State = "fetched"
	StateInstrumented State = "instrumented"
	StateRendered     State = "rendered"
	StateErrored      State = "errored"
)

// Stage names the step that failed.
type Stage string

// Pipeline stages.
const (
	StageNone       Stage = ""
	StageValidate   Stage = "validate"
	StageFetch      Stage = "fetch"
	StageInstrument Stage = "instrument"
)

// RecordCallHook accumulates "<name>-<first>-<last>" identifiers and argument
// snapshots on the recording owned by the trace.
const RecordCallHook instrument.Hook = `function (info, recording) {
	recording.calls.push(info.function_name + "-" + (+info.first_timestamp) + "-" + (+info.last_timestamp));
	recording.args.push(info.function_arguments);
}`

// Fetcher retrieves a remote script.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Result, error)
}

// Renderer fills the page templates.
type Renderer interface {
	Shell(inner string) string
	Error(message, context string) string
	Success(name, code string) string
}

// Outcome is the result of one run.
type Outcome struct {
	State State
	// Stage is the failing stage when State is StateErrored.
	Stage Stage
	// Err is the stage error when State is StateErrored.
	Err  error
	Page string
}

// Pipeline orchestrates validation, fetching, instrumentation and rendering.
type Pipeline struct {
	fetcher      Fetcher
	instrumenter instrument.Instrumenter
	renderer     Renderer
	logger       *zap.Logger
}

// New wires a Pipeline.
func New(fetcher Fetcher, inst instrument.Instrumenter, renderer Renderer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:      fetcher,
		instrumenter: inst,
		renderer:     renderer,
		logger:       logger,
	}
}

// Run processes the raw url query value. An empty value renders the landing page.
func (p *Pipeline) Run(ctx context.Context, raw string) Outcome {
	start := time.Now()
	out := p.run(ctx, raw)
	metrics.ObservePipeline(string(out.State), string(out.Stage), time.Since(start))
	if out.State == StateErrored {
		p.logger.Debug("pipeline failed",
			zap.String("stage", string(out.Stage)),
			zap.String("input", raw),
			zap.Error(out.Err),
		)
	}
	return out
}

func (p *Pipeline) run(ctx context.Context, raw string) Outcome {
	if raw == "" {
		return Outcome{State: StateRendered, Page: p.renderer.Shell("")}
	}

	url, err := validate.Validate(raw)
	if err != nil {
		return p.fail(StageValidate, err, raw)
	}

	res, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return p.fail(StageFetch, err, url)
	}
	metrics.ObserveFetchBytes(len(res.Body))

	code, err := p.instrumenter.Instrument(Wrap(res.Body), RecordCallHook)
	if err != nil {
		return p.fail(StageInstrument, err, url)
	}

	return Outcome{
		State: StateRendered,
		Page:  p.renderer.Shell(p.renderer.Success(url, code)),
	}
}

func (p *Pipeline) fail(stage Stage, err error, echo string) Outcome {
	return Outcome{
		State: StateErrored,
		Stage: stage,
		Err:   err,
		Page:  p.renderer.Shell(p.renderer.Error(err.Error(), echo)),
	}
}
