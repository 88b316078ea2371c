package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitepipe/internal/build"
	"github.com/conneroisu/sitepipe/internal/config"
	"github.com/conneroisu/sitepipe/internal/task"
)

func noop(context.Context) error { return nil }

func batch(paths ...string) []ChangeEvent {
	events := make([]ChangeEvent, len(paths))
	for i, p := range paths {
		events[i] = ChangeEvent{Type: EventTypeModified, Path: p}
	}
	return events
}

type recordingNotifier struct {
	mutex    sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string) int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.messages = append(n.messages, message)
	return 1
}

func (n *recordingNotifier) Messages() []string {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]string(nil), n.messages...)
}

func TestValidateBindings(t *testing.T) {
	valid := task.Func("styles", noop)

	testCases := []struct {
		name     string
		bindings []Binding
		wantErr  string
	}{
		{
			name:     "valid",
			bindings: []Binding{{Name: "styles", Patterns: []string{"src/sass/**/*.scss"}, Task: valid}},
		},
		{
			name:     "missing name",
			bindings: []Binding{{Patterns: []string{"src/**"}, Task: valid}},
			wantErr:  "without a name",
		},
		{
			name: "duplicate name",
			bindings: []Binding{
				{Name: "styles", Patterns: []string{"a/*"}, Task: valid},
				{Name: "styles", Patterns: []string{"b/*"}, Task: valid},
			},
			wantErr: "duplicate",
		},
		{
			name:     "no patterns",
			bindings: []Binding{{Name: "styles", Task: valid}},
			wantErr:  "no patterns",
		},
		{
			name:     "bad pattern",
			bindings: []Binding{{Name: "styles", Patterns: []string{"src/[a-"}, Task: valid}},
			wantErr:  "invalid pattern",
		},
		{
			name:     "no task",
			bindings: []Binding{{Name: "styles", Patterns: []string{"src/**"}}},
			wantErr:  "no task",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateBindings(tc.bindings)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewOrchestratorRequiresRunner(t *testing.T) {
	_, err := NewOrchestrator(nil, nil)
	assert.Error(t, err)
}

func TestMatch(t *testing.T) {
	bindings := []Binding{
		{Name: "html", Patterns: []string{"src/**/*.{html,njk}", "src/data/*.json"}, Task: task.Func("html", noop)},
		{Name: "styles", Patterns: []string{"src/sass/**/*.scss"}, Task: task.Func("styles", noop)},
		{Name: "scripts", Patterns: []string{"src/js/**/*.js"}, Task: task.Func("scripts", noop)},
	}
	o, err := NewOrchestrator(bindings, task.NewExecutor())
	require.NoError(t, err)

	names := func(bs []Binding) []string {
		var out []string
		for _, b := range bs {
			out = append(out, b.Name)
		}
		return out
	}

	testCases := []struct {
		name     string
		paths    []string
		expected []string
	}{
		{"nothing", []string{"README.md"}, nil},
		{"one stylesheet", []string{"src/sass/main.scss"}, []string{"styles"}},
		{"many stylesheets", []string{"src/sass/a.scss", "src/sass/b/_c.scss"}, []string{"styles"}},
		{"table order", []string{"src/js/app.js", "src/data/page_data.json"}, []string{"html", "scripts"}},
		{"output tree", []string{"dist/css/main.css"}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, names(o.Match(tc.paths)))
		})
	}
}

type countingCompiler struct{ calls atomic.Int32 }

func (c *countingCompiler) Compile(_ context.Context, _, _ string, _ bool) ([]byte, error) {
	c.calls.Add(1)
	return []byte("body{color:red}"), nil
}

type countingInjector struct {
	mutex sync.Mutex
	calls [][]string
}

func (i *countingInjector) InjectCSS(paths ...string) int {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.calls = append(i.calls, paths)
	return 1
}

func TestStylesheetSaveRunsStylesOnce(t *testing.T) {
	root := t.TempDir()
	for name, contents := range map[string]string{
		"src/sass/main.scss":  "@import 'vars';",
		"src/sass/admin.scss": "@import 'vars';",
		"src/sass/_vars.scss": "$c: red;",
		"src/js/app.js":       "console.log(1)",
		"src/index.html":      "<p>hi</p>",
	} {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(contents), 0644))
	}

	compiler := &countingCompiler{}
	injector := &countingInjector{}
	styles := build.NewStyles(root, config.Default(), nil,
		build.WithStyleCompiler(compiler), build.WithCSSInjector(injector))

	var scriptsRuns atomic.Int32
	bindings := []Binding{
		{Name: "styles", Patterns: []string{"src/sass/**/*.scss"}, Task: task.Func("styles", styles.Run)},
		{Name: "scripts", Patterns: []string{"src/js/**/*.js"}, Task: task.Func("scripts", func(context.Context) error {
			scriptsRuns.Add(1)
			return nil
		})},
	}
	o, err := NewOrchestrator(bindings, task.NewExecutor())
	require.NoError(t, err)

	// An editor save touches the partial and both entries in one batch.
	require.NoError(t, o.HandleChanges(batch("src/sass/_vars.scss", "src/sass/admin.scss", "src/sass/main.scss")))
	o.Wait()

	assert.Equal(t, int32(2), compiler.calls.Load(), "each entry compiled once")
	require.Len(t, injector.calls, 1, "one broadcast per save")
	assert.ElementsMatch(t, []string{"css/admin.css", "css/main.css"}, injector.calls[0])
	assert.Zero(t, scriptsRuns.Load())
	assert.FileExists(t, filepath.Join(root, "dist", "css", "main.css"))
}

func TestTriggerWhileRunningQueuesOneRerun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	var runs, active, maxActive atomic.Int32

	slow := task.Func("slow", func(context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		started <- struct{}{}
		<-release
		active.Add(-1)
		return nil
	})
	b := Binding{Name: "slow", Patterns: []string{"src/**"}, Task: slow}
	o, err := NewOrchestrator([]Binding{b}, task.NewExecutor())
	require.NoError(t, err)

	o.Trigger(b)
	<-started

	// Triggers during the run collapse into a single follow-up.
	for i := 0; i < 5; i++ {
		o.Trigger(b)
	}
	release <- struct{}{}
	<-started
	release <- struct{}{}
	o.Wait()

	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestIndependentBindingsRunConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	meet := func(context.Context) error {
		wg.Done()
		wg.Wait()
		return nil
	}
	bindings := []Binding{
		{Name: "a", Patterns: []string{"a/*"}, Task: task.Func("a", meet)},
		{Name: "b", Patterns: []string{"b/*"}, Task: task.Func("b", meet)},
	}
	o, err := NewOrchestrator(bindings, task.NewExecutor())
	require.NoError(t, err)

	require.NoError(t, o.HandleChanges(batch("a/x", "b/y")))

	done := make(chan struct{})
	go func() {
		o.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bindings did not run side by side")
	}
}

func TestBatchRunsSharedLeavesOnce(t *testing.T) {
	var htmlRuns, phpRuns, reloads, spriteRuns atomic.Int32
	count := func(n *atomic.Int32) task.Fn {
		return func(context.Context) error {
			n.Add(1)
			return nil
		}
	}
	html := task.Func("html", count(&htmlRuns))
	php := task.Func("php", count(&phpRuns))
	reload := task.Func("reload", count(&reloads))
	sprite := task.Func("sprite", count(&spriteRuns))

	bindings := []Binding{
		{Name: "html", Patterns: []string{"src/**/*.njk"}, Task: task.Series("watch:html", html, reload)},
		{Name: "sprite", Patterns: []string{"src/svg/**/*.svg"}, Task: task.Series("watch:sprite", sprite, reload)},
		{Name: "data", Patterns: []string{"src/data/page_data.json"}, Task: task.Series("watch:data", html, php, reload)},
	}
	o, err := NewOrchestrator(bindings, task.NewExecutor())
	require.NoError(t, err)

	tests := []struct {
		name    string
		paths   []string
		html    int32
		php     int32
		sprite  int32
		reloads int32
	}{
		{"template only", []string{"src/index.njk"}, 1, 0, 0, 1},
		{"template and data", []string{"src/index.njk", "src/data/page_data.json"}, 1, 1, 0, 1},
		{"template and sprite", []string{"src/index.njk", "src/svg/arrow.svg"}, 1, 0, 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, n := range []*atomic.Int32{&htmlRuns, &phpRuns, &reloads, &spriteRuns} {
				n.Store(0)
			}

			require.NoError(t, o.HandleChanges(batch(tt.paths...)))
			o.Wait()

			assert.Equal(t, tt.html, htmlRuns.Load())
			assert.Equal(t, tt.php, phpRuns.Load())
			assert.Equal(t, tt.sprite, spriteRuns.Load())
			assert.Equal(t, tt.reloads, reloads.Load())
		})
	}
}

func TestFailureNotifiesAndKeepsWatching(t *testing.T) {
	var calls atomic.Int32
	flaky := task.Func("styles", func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("Undefined variable $c")
		}
		return nil
	})
	notifier := &recordingNotifier{}
	b := Binding{Name: "styles", Patterns: []string{"src/**/*.scss"}, Task: flaky}
	o, err := NewOrchestrator([]Binding{b}, task.NewExecutor(), WithNotifier(notifier))
	require.NoError(t, err)

	require.NoError(t, o.HandleChanges(batch("src/main.scss")))
	o.Wait()
	require.NoError(t, o.HandleChanges(batch("src/main.scss")))
	o.Wait()

	assert.Equal(t, int32(2), calls.Load())
	messages := notifier.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "styles failed")
	assert.Contains(t, messages[0], "Undefined variable")
}

func TestRunWithFileWatcher(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "sass"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dist", "css"), 0755))

	var runs atomic.Int32
	b := Binding{Name: "styles", Patterns: []string{"src/sass/**/*.scss"}, Task: task.Func("styles", func(context.Context) error {
		runs.Add(1)
		return nil
	})}
	o, err := NewOrchestrator([]Binding{b}, task.NewExecutor())
	require.NoError(t, err)

	fw, err := NewFileWatcher(root, 50*time.Millisecond, nil)
	require.NoError(t, err)
	fw.AddFilter(IgnoreDirs("dist"))
	require.NoError(t, fw.AddRecursive("."))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, fw) }()

	// Let the watcher goroutines start.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "sass", "main.scss"), []byte("a{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "css", "main.css"), []byte("a{}"), 0644))

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
