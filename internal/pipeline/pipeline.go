package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nao1215/bucketcrawl/internal/model"
)

// ErrStopped is returned by a step that ended early because of a stop
// request. The pipeline treats it like a cancelled context.
var ErrStopped = errors.New("stopped before completion")

// Step is one stage of a sync.
type Step interface {
	// Do fills in the step's section of report.
	// Per-item failures belong in the report; an error return means the
	// step could not produce its section at all.
	Do(ctx context.Context, report *model.SyncReport) error

	// Name identifies the step in logs and in report.PerformedSteps.
	Name() string
}

// Pipeline runs steps in order against one SyncReport.
type Pipeline struct {
	steps           []Step
	logger          *slog.Logger
	continueOnError bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError runs the remaining steps after a step error.
// The error stays in the report. Interruptions end the run regardless.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates an empty Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends step.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends steps in order.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// StepCount returns the number of steps.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the step names in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		names = append(names, s.Name())
	}
	return names
}

// Execute runs every step against report.
//
// A step is not started once ctx is done; the report is then marked
// stopped and ctx.Err() is returned. A step that returns ErrStopped or a
// context error also marks the report stopped and ends the run. Any other
// step error ends the run unless WithContinueOnError was set.
func (p *Pipeline) Execute(ctx context.Context, report *model.SyncReport) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("pipeline cancelled before step",
				"step", step.Name(),
				"prefix", report.StartPrefix,
				"reason", err)
			report.Stopped = true
			return err
		}

		err := p.run(ctx, step, report)
		if err == nil {
			continue
		}
		if interrupted(err) {
			report.Stopped = true
			return err
		}
		if !p.continueOnError {
			return err
		}
	}
	return nil
}

// run executes one step and records its name and error in report.
func (p *Pipeline) run(ctx context.Context, step Step, report *model.SyncReport) error {
	log := p.logger.With("step", step.Name(), "prefix", report.StartPrefix)
	log.Info("step started")
	start := time.Now()

	err := step.Do(ctx, report)
	report.PerformedSteps = append(report.PerformedSteps, step.Name())
	elapsed := time.Since(start).Round(time.Millisecond)

	switch {
	case err == nil:
		log.Debug("step finished", "elapsed", elapsed)
		return nil
	case interrupted(err):
		log.Warn("step interrupted", "elapsed", elapsed, "reason", err)
	default:
		log.Error("step failed", "elapsed", elapsed, "error", err)
	}
	report.Error = err
	report.ErrorMessage = err.Error()
	return err
}

func interrupted(err error) bool {
	return errors.Is(err, ErrStopped) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
