package pipeline

import (
	"context"
	"log/slog"

	"github.com/nao1215/harvest/internal/model"
)

// Step is one stage of a harvest: crawl, download or record.
//
// Do adds its results to run. Per-URL failures become outcomes of the run;
// a returned error means the stage itself could not do its work (the seed
// page is unreachable, the database is closed) and stops the pipeline.
type Step interface {
	Do(ctx context.Context, run *model.Run) error

	// Name identifies the step in logs and in run.PerformedSteps.
	Name() string
}

// Finalizer is implemented by steps that must run even after an earlier
// step failed or the context was cancelled, such as recording the run.
// Finally reports whether the step is such a step.
type Finalizer interface {
	Finally() bool
}

func isFinalizer(step Step) bool {
	f, ok := step.(Finalizer)
	return ok && f.Finally()
}

// Pipeline runs its steps in order against a single run.
type Pipeline struct {
	steps  []Step
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for step progress. slog.Default() is used
// otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates an empty Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends steps in the given order.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs the steps in order and returns the error that stopped the
// pipeline, if any.
//
// Cancellation is checked between steps; a step in progress is expected to
// honour ctx itself. Once the pipeline has stopped, because a step failed
// or because ctx was cancelled, the remaining steps are skipped except
// for finalizers. Those run with a context that can no longer be
// cancelled, so that a partial or failed run still reaches the history.
//
// The first step error is also stored in run.Error. A cancellation sets
// run.TimedOut instead.
func (p *Pipeline) Execute(ctx context.Context, run *model.Run) error {
	var stopped error

	for _, step := range p.steps {
		if stopped == nil && ctx.Err() != nil {
			p.logger.Warn("harvest interrupted", "seed", run.Seed, "before", step.Name(), "reason", ctx.Err())
			run.TimedOut = true
			stopped = ctx.Err()
		}

		stepCtx := ctx
		if stopped != nil {
			if !isFinalizer(step) {
				p.logger.Debug("step skipped", "seed", run.Seed, "step", step.Name())
				continue
			}
			stepCtx = context.WithoutCancel(ctx)
		}

		if err := p.run(stepCtx, step, run); err != nil {
			if run.Error == "" {
				run.Error = err.Error()
			}
			if stopped == nil {
				stopped = err
			}
		}
		run.PerformedSteps = append(run.PerformedSteps, step.Name())
	}

	return stopped
}

// run executes one step with start and end logging.
func (p *Pipeline) run(ctx context.Context, step Step, run *model.Run) error {
	p.logger.Info("step started", "seed", run.Seed, "step", step.Name())

	if err := step.Do(ctx, run); err != nil {
		p.logger.Error("step failed", "seed", run.Seed, "step", step.Name(), "error", err)
		return err
	}

	p.logger.Debug("step finished", "seed", run.Seed, "step", step.Name(), "outcomes", len(run.Outcomes))
	return nil
}

// StepCount returns the number of steps.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the step names in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
