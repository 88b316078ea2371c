package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/metrics"
	"github.com/conneroisu/sitepipe/internal/task"
)

// Binding maps a set of globs, relative to the project root, to the task
// rebuilding what depends on them.
type Binding struct {
	Name     string
	Patterns []string
	Task     *task.Task
}

// Runner executes a task graph.
type Runner interface {
	Run(ctx context.Context, t *task.Task) error
}

// Notifier shows a message in connected browsers.
type Notifier interface {
	Notify(message string) int
}

// ValidateBindings checks that every binding has a unique name, at least
// one valid pattern and a valid task.
func ValidateBindings(bindings []Binding) error {
	seen := make(map[string]bool)
	for _, b := range bindings {
		if b.Name == "" {
			return errors.New("binding without a name")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate binding %q", b.Name)
		}
		seen[b.Name] = true

		if len(b.Patterns) == 0 {
			return fmt.Errorf("binding %q has no patterns", b.Name)
		}
		for _, p := range b.Patterns {
			if !doublestar.ValidatePattern(filepath.ToSlash(p)) {
				return fmt.Errorf("binding %q: invalid pattern %q", b.Name, p)
			}
		}
		if b.Task == nil {
			return fmt.Errorf("binding %q has no task", b.Name)
		}
		if err := task.Validate(b.Task); err != nil {
			return fmt.Errorf("binding %q: %w", b.Name, err)
		}
	}
	return nil
}

type bindingState struct {
	running bool
	pending bool
}

// Orchestrator dispatches batches of changed paths to their bindings.
//
// A binding runs at most once per batch however many of its files
// changed, and not at all when another binding matched by the same batch
// already runs all of its leaf tasks. Runs of the same binding never overlap: a trigger arriving
// while it runs is remembered and causes exactly one more run once the
// current one finishes. Different bindings run independently.
type Orchestrator struct {
	bindings []Binding
	runner   Runner
	notifier Notifier
	logger   logging.Logger
	metrics  *metrics.Recorder

	ctx   context.Context
	mutex sync.Mutex
	state map[string]*bindingState
	wg    sync.WaitGroup
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithNotifier reports failed runs to browsers.
func WithNotifier(n Notifier) OrchestratorOption {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics counts triggers per binding.
func WithMetrics(m *metrics.Recorder) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator validates bindings and creates an orchestrator running
// them through runner.
func NewOrchestrator(bindings []Binding, runner Runner, opts ...OrchestratorOption) (*Orchestrator, error) {
	if runner == nil {
		return nil, errors.New("orchestrator needs a runner")
	}
	if err := ValidateBindings(bindings); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		bindings: append([]Binding(nil), bindings...),
		runner:   runner,
		ctx:      context.Background(),
		state:    make(map[string]*bindingState, len(bindings)),
	}
	for _, b := range bindings {
		o.state[b.Name] = &bindingState{}
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewDiscard()
	}
	o.logger = o.logger.WithComponent("watch")

	return o, nil
}

// Bindings returns the binding table.
func (o *Orchestrator) Bindings() []Binding {
	return append([]Binding(nil), o.bindings...)
}

// Match returns the bindings with a pattern matching any of paths, in
// table order and each at most once.
func (o *Orchestrator) Match(paths []string) []Binding {
	var matched []Binding
	for _, b := range o.bindings {
		if bindingMatches(b, paths) {
			matched = append(matched, b)
		}
	}
	return matched
}

func bindingMatches(b Binding, paths []string) bool {
	for _, p := range paths {
		for _, pattern := range b.Patterns {
			if ok, _ := doublestar.Match(filepath.ToSlash(pattern), p); ok {
				return true
			}
		}
	}
	return false
}

// HandleChanges is a ChangeHandler dispatching one debounced batch.
func (o *Orchestrator) HandleChanges(events []ChangeEvent) error {
	paths := make([]string, len(events))
	for i, e := range events {
		paths[i] = e.Path
	}

	for _, b := range collapse(o.Match(paths)) {
		o.logger.Debug(o.ctx, "Change detected", "binding", b.Name, "paths", paths)
		o.Trigger(b)
	}
	return nil
}

// collapse drops every binding whose leaf tasks are all run by another of
// matched. Of bindings with the same leaves the first one stays.
func collapse(matched []Binding) []Binding {
	if len(matched) < 2 {
		return matched
	}

	leaves := make([]map[*task.Task]bool, len(matched))
	for i, b := range matched {
		set := make(map[*task.Task]bool)
		for _, leaf := range b.Task.Leaves() {
			set[leaf] = true
		}
		leaves[i] = set
	}

	var kept []Binding
	for i, b := range matched {
		covered := false
		for j := range matched {
			if i == j || !subset(leaves[i], leaves[j]) {
				continue
			}
			if len(leaves[j]) > len(leaves[i]) || j < i {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, b)
		}
	}
	return kept
}

func subset(a, b map[*task.Task]bool) bool {
	for t := range a {
		if !b[t] {
			return false
		}
	}
	return true
}

// Trigger starts b, or marks it for one more run if it is running.
func (o *Orchestrator) Trigger(b Binding) {
	o.mutex.Lock()
	st, ok := o.state[b.Name]
	if !ok {
		st = &bindingState{}
		o.state[b.Name] = st
	}
	if st.running {
		st.pending = true
		o.mutex.Unlock()
		return
	}
	st.running = true
	o.wg.Add(1)
	o.mutex.Unlock()

	go o.loop(b, st)
}

func (o *Orchestrator) loop(b Binding, st *bindingState) {
	defer o.wg.Done()

	for {
		o.run(b)

		o.mutex.Lock()
		if !st.pending || o.ctx.Err() != nil {
			st.running = false
			st.pending = false
			o.mutex.Unlock()
			return
		}
		st.pending = false
		o.mutex.Unlock()
	}
}

func (o *Orchestrator) run(b Binding) {
	o.metrics.WatchTrigger(b.Name)

	if err := o.runner.Run(o.ctx, b.Task); err != nil {
		o.logger.Error(o.ctx, err, "Rebuild failed, still watching", "binding", b.Name)
		if o.notifier != nil {
			o.notifier.Notify(fmt.Sprintf("%s failed: %v", b.Name, err))
		}
	}
}

// Wait blocks until no binding is running.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Run feeds fw's batches to the orchestrator until ctx is cancelled, then
// stops fw and waits for running rebuilds to finish.
func (o *Orchestrator) Run(ctx context.Context, fw *FileWatcher) error {
	o.mutex.Lock()
	o.ctx = ctx
	o.mutex.Unlock()

	fw.AddHandler(o.HandleChanges)
	if err := fw.Start(ctx); err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	o.logger.Info(ctx, "Watching for changes", "bindings", len(o.bindings))

	<-ctx.Done()

	err := fw.Stop()
	o.Wait()
	return err
}
