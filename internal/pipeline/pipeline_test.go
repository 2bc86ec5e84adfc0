package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/nao1215/bucketcrawl/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStep is a test helper that implements the Step interface.
type mockStep struct {
	name      string
	doFunc    func(ctx context.Context, report *model.SyncReport) error
	callCount int
}

// Do implements Step.Do.
func (m *mockStep) Do(ctx context.Context, report *model.SyncReport) error {
	m.callCount++
	if m.doFunc != nil {
		return m.doFunc(ctx, report)
	}
	return nil
}

// Name implements Step.Name.
func (m *mockStep) Name() string {
	return m.name
}

// TestPipelineNew tests the Pipeline constructor.
func TestPipelineNew(t *testing.T) {
	t.Parallel()

	t.Run("creates pipeline with default settings", func(t *testing.T) {
		t.Parallel()

		p := New()
		if p.StepCount() != 0 {
			t.Errorf("expected 0 steps, got %d", p.StepCount())
		}
		if p.continueOnError {
			t.Error("expected continueOnError to default to false")
		}
		if p.logger == nil {
			t.Error("expected default logger")
		}
	})

	t.Run("applies WithContinueOnError option", func(t *testing.T) {
		t.Parallel()

		p := New(WithContinueOnError(true))
		if !p.continueOnError {
			t.Error("expected continueOnError to be true")
		}
	})
}

// TestPipelineAddStep tests adding steps to the pipeline.
func TestPipelineAddStep(t *testing.T) {
	t.Parallel()

	p := New()
	p.AddStep(&mockStep{name: "a"})
	p.AddSteps(&mockStep{name: "b"}, &mockStep{name: "c"})

	if p.StepCount() != 3 {
		t.Errorf("expected 3 steps, got %d", p.StepCount())
	}
	if got := p.StepNames(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("unexpected step names %v", got)
	}
}

// TestPipelineExecute tests step ordering and error handling.
func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("runs steps in order", func(t *testing.T) {
		t.Parallel()

		var order []string
		step := func(name string) *mockStep {
			return &mockStep{name: name, doFunc: func(context.Context, *model.SyncReport) error {
				order = append(order, name)
				return nil
			}}
		}

		p := New(WithLogger(quietLogger()))
		p.AddSteps(step("crawl"), step("collect"), step("download"))

		report := model.NewSyncReport("data/")
		if err := p.Execute(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"crawl", "collect", "download"}
		if !reflect.DeepEqual(order, want) {
			t.Errorf("expected order %v, got %v", want, order)
		}
		if !reflect.DeepEqual(report.PerformedSteps, want) {
			t.Errorf("expected performed steps %v, got %v", want, report.PerformedSteps)
		}
	})

	t.Run("stops on first error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		failing := &mockStep{name: "collect", doFunc: func(context.Context, *model.SyncReport) error { return boom }}
		after := &mockStep{name: "download"}

		p := New(WithLogger(quietLogger()))
		p.AddSteps(&mockStep{name: "crawl"}, failing, after)

		report := model.NewSyncReport("data/")
		if err := p.Execute(context.Background(), report); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if after.callCount != 0 {
			t.Error("step after the failure must not run")
		}
		if report.ErrorMessage != "boom" {
			t.Errorf("expected error message recorded, got %q", report.ErrorMessage)
		}
		if report.Stopped {
			t.Error("a step failure is not a stop")
		}
	})

	t.Run("continues on error when configured", func(t *testing.T) {
		t.Parallel()

		failing := &mockStep{name: "download", doFunc: func(context.Context, *model.SyncReport) error { return errors.New("boom") }}
		after := &mockStep{name: "extract"}

		p := New(WithLogger(quietLogger()), WithContinueOnError(true))
		p.AddSteps(failing, after)

		report := model.NewSyncReport("data/")
		if err := p.Execute(context.Background(), report); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if after.callCount != 1 {
			t.Error("expected the next step to run")
		}
		if report.Error == nil {
			t.Error("expected error to be recorded")
		}
	})

	t.Run("stop ends the run even with continue on error", func(t *testing.T) {
		t.Parallel()

		stopping := &mockStep{name: "crawl", doFunc: func(context.Context, *model.SyncReport) error { return ErrStopped }}
		after := &mockStep{name: "collect"}

		p := New(WithLogger(quietLogger()), WithContinueOnError(true))
		p.AddSteps(stopping, after)

		report := model.NewSyncReport("data/")
		if err := p.Execute(context.Background(), report); !errors.Is(err, ErrStopped) {
			t.Fatalf("expected ErrStopped, got %v", err)
		}
		if after.callCount != 0 {
			t.Error("no step may run after a stop")
		}
		if !report.Stopped {
			t.Error("expected report to be marked stopped")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		step := &mockStep{name: "crawl"}
		p := New(WithLogger(quietLogger()))
		p.AddStep(step)

		report := model.NewSyncReport("data/")
		if err := p.Execute(ctx, report); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if step.callCount != 0 {
			t.Error("step must not run with a cancelled context")
		}
		if !report.Stopped {
			t.Error("expected report to be marked stopped")
		}
	})
}
