package task

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicateTask is returned when two tasks share a name.
	ErrDuplicateTask = errors.New("duplicate task")
	// ErrCycle is returned when a task (transitively) contains itself.
	ErrCycle = errors.New("task graph contains a cycle")
	// ErrInvalidTask is returned for nil tasks or leaves without a body.
	ErrInvalidTask = errors.New("invalid task")
	// ErrUnknownTask is returned by Lookup-based helpers for unknown names.
	ErrUnknownTask = errors.New("unknown task")
)

// Graph is the set of named, invocable tasks. It is populated once at
// startup and read-only afterwards.
type Graph struct {
	tasks map[string]*Task
	order []string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{tasks: make(map[string]*Task)}
}

// Define registers each task under its name, stopping at the first nil
// or duplicate one.
func (g *Graph) Define(tasks ...*Task) error {
	for _, t := range tasks {
		if t == nil {
			return fmt.Errorf("%w: nil task", ErrInvalidTask)
		}
		if _, exists := g.tasks[t.name]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateTask, t.name)
		}
		g.tasks[t.name] = t
		g.order = append(g.order, t.name)
	}
	return nil
}

// Lookup returns the task registered under name.
func (g *Graph) Lookup(name string) (*Task, bool) {
	t, ok := g.tasks[name]
	return t, ok
}

// Resolve returns the tasks for names, failing on the first unknown one.
func (g *Graph) Resolve(names ...string) ([]*Task, error) {
	out := make([]*Task, 0, len(names))
	for _, name := range names {
		t, ok := g.tasks[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownTask, name, g.Names())
		}
		out = append(out, t)
	}
	return out, nil
}

// Names returns the registered names in definition order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// SortedNames returns the registered names alphabetically.
func (g *Graph) SortedNames() []string {
	out := g.Names()
	sort.Strings(out)
	return out
}

// Validate checks every registered task: no nil children, every leaf has
// a body, and no task contains itself.
func (g *Graph) Validate() error {
	for _, name := range g.order {
		if err := Validate(g.tasks[name]); err != nil {
			return fmt.Errorf("task %q: %w", name, err)
		}
	}
	return nil
}

// Validate checks a single task tree.
func Validate(t *Task) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*Task]int)

	var visit func(*Task) error
	visit = func(n *Task) error {
		if n == nil {
			return fmt.Errorf("%w: nil child", ErrInvalidTask)
		}
		switch state[n] {
		case visiting:
			return fmt.Errorf("%w: %q", ErrCycle, n.name)
		case done:
			return nil
		}
		if n.kind == KindFunc && n.fn == nil {
			return fmt.Errorf("%w: %q has no body", ErrInvalidTask, n.name)
		}
		state[n] = visiting
		for _, c := range n.children {
			if err := visit(c); err != nil {
				return err
			}
		}
		state[n] = done
		return nil
	}

	return visit(t)
}
