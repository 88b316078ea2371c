// Package task declares and runs the build task graph.
//
// A task is a named, parameterless unit of work: its configuration is
// captured by whoever constructs it and running it only produces a
// completion signal or an error. Tasks compose in two ways. A series runs
// its children one after another and stops at the first failure. A
// parallel group starts all of its children together and completes once
// every child has returned, failing if any child failed.
package task

import (
	"context"
	"fmt"
	"strings"
)

// Kind distinguishes leaf tasks from compositions.
type Kind int

const (
	KindFunc Kind = iota
	KindSeries
	KindParallel
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindSeries:
		return "series"
	case KindParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// Fn is the body of a leaf task.
type Fn func(ctx context.Context) error

// Task is a node in the graph. Tasks are immutable once built.
type Task struct {
	name     string
	kind     Kind
	fn       Fn
	children []*Task
}

// Func builds a leaf task.
func Func(name string, fn Fn) *Task {
	return &Task{name: name, kind: KindFunc, fn: fn}
}

// Series builds a task whose children run strictly in order. An empty
// name is replaced by a description of the children.
func Series(name string, children ...*Task) *Task {
	return compose(name, KindSeries, children)
}

// Parallel builds a task whose children run concurrently.
func Parallel(name string, children ...*Task) *Task {
	return compose(name, KindParallel, children)
}

func compose(name string, kind Kind, children []*Task) *Task {
	cp := make([]*Task, len(children))
	copy(cp, children)
	t := &Task{name: name, kind: kind, children: cp}
	if t.name == "" {
		t.name = t.describe()
	}
	return t
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Kind returns the task kind.
func (t *Task) Kind() Kind { return t.kind }

// Children returns a copy of the composed tasks. Leaves have none.
func (t *Task) Children() []*Task {
	cp := make([]*Task, len(t.children))
	copy(cp, t.children)
	return cp
}

func (t *Task) describe() string {
	names := make([]string, 0, len(t.children))
	for _, c := range t.children {
		if c == nil {
			names = append(names, "<nil>")
			continue
		}
		names = append(names, c.name)
	}
	return fmt.Sprintf("%s(%s)", t.kind, strings.Join(names, ", "))
}

// String renders the composition, e.g. "dev: series(init, serve, watch)".
func (t *Task) String() string {
	if t.kind == KindFunc {
		return t.name
	}
	d := t.describe()
	if d == t.name {
		return d
	}
	return t.name + ": " + d
}

// Leaves returns the leaf tasks reachable from t in declaration order,
// each at most once.
func (t *Task) Leaves() []*Task {
	seen := make(map[*Task]bool)
	var out []*Task
	var walk func(*Task)
	walk = func(n *Task) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		if n.kind == KindFunc {
			out = append(out, n)
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(t)
	return out
}
