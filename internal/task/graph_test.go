package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func TestGraphDefineAndLookup(t *testing.T) {
	g := NewGraph()
	copyTask := Func("copy", noop)
	build := Parallel("build", copyTask, Func("styles", noop))

	require.NoError(t, g.Define(copyTask))
	require.NoError(t, g.Define(build))

	got, ok := g.Lookup("build")
	require.True(t, ok)
	assert.Same(t, build, got)
	assert.Equal(t, []string{"copy", "build"}, g.Names())
	assert.Equal(t, []string{"build", "copy"}, g.SortedNames())

	_, ok = g.Lookup("missing")
	assert.False(t, ok)
}

func TestGraphRejectsDuplicates(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Define(Func("copy", noop)))
	assert.ErrorIs(t, g.Define(Func("copy", noop)), ErrDuplicateTask)
	assert.ErrorIs(t, g.Define(nil), ErrInvalidTask)
}

func TestGraphResolve(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Define(Func("copy", noop), Func("clean", noop)))

	tasks, err := g.Resolve("clean", "copy")
	require.NoError(t, err)
	assert.Equal(t, "clean", tasks[0].Name())

	_, err = g.Resolve("copy", "bogus")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestValidateDetectsCycle(t *testing.T) {
	a := Series("a", Func("leaf", noop))
	b := Series("b", a)
	// Compositions copy their children, so a cycle can only be built by
	// reaching into the struct.
	a.children = append(a.children, b)

	assert.ErrorIs(t, Validate(b), ErrCycle)
}

func TestValidateAllowsSharedLeaves(t *testing.T) {
	html := Func("html", noop)
	data := Series("data", html, Func("php", noop))
	dev := Series("dev", html, data)

	assert.NoError(t, Validate(dev))
	assert.Len(t, dev.Leaves(), 2)
}

func TestValidateRejectsInvalidNodes(t *testing.T) {
	assert.ErrorIs(t, Validate(Func("empty", nil)), ErrInvalidTask)
	assert.ErrorIs(t, Validate(Series("s", nil)), ErrInvalidTask)

	g := NewGraph()
	require.NoError(t, g.Define(Series("broken", Func("empty", nil))))
	assert.ErrorIs(t, g.Validate(), ErrInvalidTask)
}

func TestTaskDescription(t *testing.T) {
	s := Series("", Func("html", noop), Parallel("", Func("copy", noop), Func("images", noop)))

	assert.Equal(t, "series(html, parallel(copy, images))", s.Name())
	assert.Equal(t, KindSeries, s.Kind())
	assert.Equal(t, "dev: series(a)", Series("dev", Func("a", noop)).String())
	assert.Equal(t, "copy", Func("copy", noop).String())
}
