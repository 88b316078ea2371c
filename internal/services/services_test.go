package services

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitepipe/internal/config"
	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/task"
	"github.com/conneroisu/sitepipe/internal/watcher"
)

// testConfig builds without the sass binary and serves the output
// directory on a free port.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Styles.Entries = nil
	cfg.Server.Proxy = ""
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Watch.Debounce = 20 * time.Millisecond
	return cfg
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, contents := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(contents), 0644))
	}
}

// readTree returns every file below dir keyed by its slash separated
// path relative to dir.
func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

var siteFiles = map[string]string{
	"src/data/page_data.json":  `{"title": "Quelle", "items": ["a", "b"]}`,
	"src/layout/base.njk":      "<html><body>{% block content %}{% endblock %}</body></html>",
	"src/index.njk":            `{% extends "layout/base.njk" %}{% block content %}<h1>{{ title }}</h1>{% endblock %}`,
	"src/about.html":           "<p>{% for i in items %}{{ i }}{% endfor %}</p>",
	"src/kontakt.php":          "<?php echo '{{ title }}'; ?>",
	"src/js/main.js":           "import $ from 'jquery'; $(function () { console.log('ready'); });",
	"src/js/lib/util.js":       "export const answer = 42;",
	"src/js/admin.js":          "import { answer } from './lib/util.js'; console.log(answer);",
	"src/svg/arrow.svg":        `<svg viewBox="0 0 64 64"><path d="M0 0h64v64z"/></svg>`,
	"src/svg/social/mail.svg":  `<svg width="16px" height="16px"><circle r="8"/></svg>`,
	"src/assets/fonts/a.woff2": "font",
	"src/assets/robots.txt":    "User-agent: *",
}

func newProject(t *testing.T, cfg *config.Config) (string, *Project) {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, siteFiles)
	return root, NewProject(root, cfg, nil, nil)
}

func TestTaskGraph(t *testing.T) {
	_, p := newProject(t, testConfig())
	tasks, err := NewTasks(p)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"copy", "html", "php", "templates", "styles", "scripts", "images",
		"sprite", "clean", "reload", "serve", "watch", "init", "build", "dev",
	}, tasks.Graph.Names())

	testCases := []struct {
		task     *task.Task
		expected string
	}{
		{tasks.Templates, "templates: parallel(html, php)"},
		{tasks.Build, "build: parallel(html, php, copy, styles, sprite, images, scripts)"},
		{tasks.Init, "init: series(html, php, sprite, assets)"},
		{tasks.Dev, "dev: series(init, serve, watch)"},
	}
	for _, tc := range testCases {
		t.Run(tc.task.Name(), func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.task.String())
		})
	}

	assets := tasks.Init.Children()[3]
	assert.Equal(t, "assets: parallel(copy, images, styles, scripts)", assets.String())
}

func TestDefaultBindings(t *testing.T) {
	_, p := newProject(t, testConfig())
	tasks, err := NewTasks(p)
	require.NoError(t, err)

	bindings := Bindings(config.Default(), tasks)
	require.NoError(t, watcher.ValidateBindings(bindings))

	patterns := make(map[string][]string)
	actions := make(map[string]string)
	for _, b := range bindings {
		patterns[b.Name] = b.Patterns
		actions[b.Name] = b.Task.String()
	}

	assert.Equal(t, []string{"src/sass/**/*.{scss,sass}"}, patterns["styles"])
	assert.Equal(t, []string{"src/**/*.njk", "src/*.{html,njk}"}, patterns["html"])
	assert.Equal(t, []string{"src/svg/**/*.svg"}, patterns["sprite"])
	assert.Equal(t, []string{"src/js/**/*.js"}, patterns["scripts"])
	assert.Equal(t, []string{"src/**/*.php"}, patterns["php"])
	assert.Equal(t, []string{"src/data/page_data.json"}, patterns["data"])

	assert.Equal(t, "styles", actions["styles"])
	assert.Equal(t, "watch:html: series(html, reload)", actions["html"])
	assert.Equal(t, "watch:data: series(html, php, reload)", actions["data"])
}

func TestBindingsSkipPipelinesWithoutInputs(t *testing.T) {
	cfg := testConfig()
	cfg.Scripts.Entries = nil
	cfg.Images.Patterns = nil
	_, p := newProject(t, cfg)
	tasks, err := NewTasks(p)
	require.NoError(t, err)

	bindings := Bindings(cfg, tasks)
	require.NoError(t, watcher.ValidateBindings(bindings))

	var names []string
	for _, b := range bindings {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"styles", "html", "sprite", "php", "data"}, names)
}

func TestBuildWritesSite(t *testing.T) {
	root, p := newProject(t, testConfig())
	service, err := NewBuildService(p)
	require.NoError(t, err)

	result, err := service.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Failures)

	out := readTree(t, filepath.Join(root, "dist"))
	assert.Contains(t, out["index.html"], "<h1>Quelle</h1>")
	assert.Equal(t, "<p>ab</p>", out["about.html"])
	assert.Equal(t, "<?php echo 'Quelle'; ?>", out["kontakt.php"])
	assert.Contains(t, out["js/main.js"], "jQuery")
	assert.Contains(t, out["js/admin.js"], "42")
	assert.NotContains(t, out, "js/lib/util.js")
	assert.Contains(t, out["assets/svg/main.svg"], `<symbol id="arrow"`)
	assert.Contains(t, out["assets/svg/main.svg"], `<symbol id="social--mail"`)
	assert.Equal(t, "font", out["assets/fonts/a.woff2"])
	assert.Equal(t, "User-agent: *", out["assets/robots.txt"])
	assert.NotContains(t, out, "layout/base.html")
}

func TestBuildIsDeterministic(t *testing.T) {
	sequential := testConfig()
	sequential.Build.Concurrency = 1
	rootA, pa := newProject(t, sequential)
	rootB, pb := newProject(t, testConfig())

	a, err := NewBuildService(pa)
	require.NoError(t, err)
	_, err = a.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)

	// Same members in another order, without a limit.
	b, err := NewTasks(pb)
	require.NoError(t, err)
	shuffled := task.Parallel("build", b.Scripts, b.Images, b.Sprite, b.Styles, b.Copy, b.PHP, b.HTML)
	require.NoError(t, pb.Executor.Run(context.Background(), shuffled))

	assert.Equal(t, readTree(t, filepath.Join(rootA, "dist")), readTree(t, filepath.Join(rootB, "dist")))
}

func TestBuildFailureKeepsGoing(t *testing.T) {
	root, p := newProject(t, testConfig())
	writeTree(t, root, map[string]string{"src/data/page_data.json": "{\n  \"title\": \n}"})

	service, err := NewBuildService(p)
	require.NoError(t, err)

	result, err := service.Build(context.Background(), BuildOptions{})
	require.Error(t, err)
	assert.False(t, result.Success)

	var failed []string
	for _, f := range result.Failures {
		failed = append(failed, f.Task)
		assert.Equal(t, sperrors.ErrorTypeInput, f.Type)
	}
	assert.Equal(t, []string{"html", "php"}, failed)

	// Siblings of the failed templates still ran.
	out := readTree(t, filepath.Join(root, "dist"))
	assert.Contains(t, out, "js/main.js")
	assert.Contains(t, out, "assets/robots.txt")

	// Fixing the data clears the failures on the next build.
	writeTree(t, root, map[string]string{"src/data/page_data.json": `{"title": "Quelle", "items": []}`})
	result, err = service.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Failures)
	assert.False(t, p.Failures.HasFailures())
}

func TestBuildCleanRemovesStaleOutput(t *testing.T) {
	root, p := newProject(t, testConfig())
	writeTree(t, root, map[string]string{"dist/stale.html": "old"})

	service, err := NewBuildService(p)
	require.NoError(t, err)
	_, err = service.Build(context.Background(), BuildOptions{Clean: true})
	require.NoError(t, err)

	out := readTree(t, filepath.Join(root, "dist"))
	assert.NotContains(t, out, "stale.html")
	assert.Contains(t, out, "index.html")
}

func TestRunNamedTasks(t *testing.T) {
	root, p := newProject(t, testConfig())
	service, err := NewBuildService(p)
	require.NoError(t, err)

	require.NoError(t, service.Run(context.Background(), "copy", "sprite"))
	out := readTree(t, filepath.Join(root, "dist"))
	assert.Contains(t, out, "assets/robots.txt")
	assert.Contains(t, out, "assets/svg/main.svg")
	assert.NotContains(t, out, "index.html")

	err = service.Run(context.Background(), "deploy")
	assert.ErrorIs(t, err, task.ErrUnknownTask)
}

func TestServeRebuildsOnChange(t *testing.T) {
	root, p := newProject(t, testConfig())
	service, err := NewServeService(p)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		result *ServeResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := service.Serve(ctx)
		done <- outcome{result, err}
	}()

	require.Eventually(t, func() bool { return service.tasks.Server.Addr() != "" }, 10*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + service.tasks.Server.Addr() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Keep touching the source until the watcher has picked it up.
	out := filepath.Join(root, "dist", "js", "late.js")
	assert.Eventually(t, func() bool {
		writeTree(t, root, map[string]string{"src/js/late.js": "console.log('late');"})
		_, err := os.Stat(out)
		return err == nil
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case o := <-done:
		assert.NoError(t, o.err)
		assert.NotEmpty(t, o.result.ServerURL)
	case <-time.After(10 * time.Second):
		t.Fatal("dev loop did not stop")
	}
}
