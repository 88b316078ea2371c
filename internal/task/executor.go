package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Executor runs task graphs. It is safe for concurrent use: the watcher
// runs independent bindings through one Executor at the same time.
type Executor struct {
	logger   logging.Logger
	metrics  *metrics.Recorder
	failures *sperrors.Collector
	limit    int
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger leaf runs are reported to.
func WithLogger(logger logging.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics sets the recorder leaf runs are observed by.
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithCollector records the outcome of every leaf run in c.
func WithCollector(c *sperrors.Collector) Option {
	return func(e *Executor) { e.failures = c }
}

// WithConcurrency caps the members of one parallel group running at once.
// Zero or less means no cap.
func WithConcurrency(n int) Option {
	return func(e *Executor) { e.limit = n }
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewDiscard()
	}
	e.logger = e.logger.WithComponent("task")
	return e
}

// Run executes t and blocks until it completes.
func (e *Executor) Run(ctx context.Context, t *Task) error {
	if t == nil {
		return fmt.Errorf("%w: nil task", ErrInvalidTask)
	}
	switch t.kind {
	case KindFunc:
		return e.runFunc(ctx, t)
	case KindSeries:
		return e.runSeries(ctx, t)
	case KindParallel:
		return e.runParallel(ctx, t)
	default:
		return fmt.Errorf("%w: %q has unknown kind %d", ErrInvalidTask, t.name, t.kind)
	}
}

func (e *Executor) runSeries(ctx context.Context, t *Task) error {
	for _, child := range t.children {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Run(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// runParallel starts every child and waits for all of them. Siblings of a
// failed child are left running to completion, and every failure is
// reported.
func (e *Executor) runParallel(ctx context.Context, t *Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}

	for _, child := range t.children {
		child := child
		g.Go(func() error {
			if err := e.Run(ctx, child); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (e *Executor) runFunc(ctx context.Context, t *Task) (err error) {
	if t.fn == nil {
		return fmt.Errorf("%w: %q has no body", ErrInvalidTask, t.name)
	}

	perf := logging.StartOperation(e.logger.With("task", t.name), t.name)
	perf.Debug(ctx, "Starting")

	defer func() {
		if r := recover(); r != nil {
			err = sperrors.NewInternalError("PANIC", fmt.Sprintf("panic: %v", r), nil).WithTask(t.name)
			perf.Debug(ctx, "recovered panic", "stack", string(debug.Stack()))
		}

		var d time.Duration
		if err != nil {
			err = fmt.Errorf("task %q: %w", t.name, err)
			d = perf.EndWithError(ctx, err)
		} else {
			d = perf.End(ctx)
		}
		e.metrics.ObserveTask(t.name, d, err)
		if e.failures != nil {
			e.failures.Record(t.name, err)
		}
	}()

	return t.fn(ctx)
}
