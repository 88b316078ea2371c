// Package services composes the build stages into the named task graph
// and runs its two entry points: the one-shot build and the dev loop.
package services

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/conneroisu/sitepipe/internal/build"
	"github.com/conneroisu/sitepipe/internal/config"
	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/livereload"
	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/metrics"
	"github.com/conneroisu/sitepipe/internal/server"
	"github.com/conneroisu/sitepipe/internal/task"
	"github.com/conneroisu/sitepipe/internal/watcher"
)

// Project holds what every task of one project run shares.
type Project struct {
	Root        string
	Config      *config.Config
	Logger      logging.Logger
	Metrics     *metrics.Recorder
	Failures    *sperrors.Collector
	Broadcaster *livereload.Broadcaster
	Executor    *task.Executor
}

// NewProject wires the shared pieces for the project at root. Logger and
// metrics may be nil.
func NewProject(root string, cfg *config.Config, logger logging.Logger, m *metrics.Recorder) *Project {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	failures := sperrors.NewCollector()

	return &Project{
		Root:     root,
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Failures: failures,
		Broadcaster: livereload.NewBroadcaster(
			livereload.WithLogger(logger),
			livereload.WithMetrics(m),
			livereload.WithNotifications(cfg.Server.Notify),
			livereload.WithOriginPatterns(proxyHost(cfg.Server.Proxy)...),
		),
		Executor: task.NewExecutor(
			task.WithLogger(logger),
			task.WithMetrics(m),
			task.WithCollector(failures),
			task.WithConcurrency(cfg.Build.Concurrency),
		),
	}
}

// proxyHost lets pages served by the backend itself connect too.
func proxyHost(proxy string) []string {
	u, err := url.Parse(proxy)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

// Tasks is the task graph of a project. The named fields are the nodes
// the entry points and the watch bindings refer to.
type Tasks struct {
	Copy      *task.Task
	HTML      *task.Task
	PHP       *task.Task
	Templates *task.Task
	Styles    *task.Task
	Scripts   *task.Task
	Images    *task.Task
	Sprite    *task.Task
	Clean     *task.Task
	Reload    *task.Task
	Serve     *task.Task
	Watch     *task.Task
	Init      *task.Task
	Build     *task.Task
	Dev       *task.Task

	Server *server.Server
	Graph  *task.Graph
}

// NewTasks declares every task of p and validates the graph.
func NewTasks(p *Project) (*Tasks, error) {
	cfg := p.Config
	log := p.Logger

	srv, err := server.New(p.Root, cfg, p.Broadcaster,
		server.WithLogger(log),
		server.WithMetrics(p.Metrics),
		server.WithCollector(p.Failures),
	)
	if err != nil {
		return nil, err
	}

	t := &Tasks{Server: srv}
	t.Copy = task.Func("copy", build.NewCopier(p.Root, cfg, log).Run)
	t.HTML = task.Func("html", build.NewTemplateRenderer(p.Root, cfg, build.HTMLVariant(cfg), log).Run)
	t.PHP = task.Func("php", build.NewTemplateRenderer(p.Root, cfg, build.PHPVariant(cfg), log).Run)
	t.Templates = task.Parallel("templates", t.HTML, t.PHP)
	t.Styles = task.Func("styles", build.NewStyles(p.Root, cfg, log, build.WithCSSInjector(p.Broadcaster)).Run)
	t.Scripts = task.Func("scripts", build.NewScripts(p.Root, cfg, log).Run)
	t.Images = task.Func("images", build.NewImages(p.Root, cfg, log).Run)
	t.Sprite = task.Func("sprite", build.NewSprite(p.Root, cfg, log).Run)
	t.Clean = task.Func("clean", build.NewCleaner(p.Root, cfg, log).Run)
	t.Reload = task.Func("reload", func(context.Context) error {
		p.Broadcaster.Reload()
		return nil
	})
	t.Serve = task.Func("serve", srv.Start)

	bindings := Bindings(cfg, t)
	orchestrator, err := watcher.NewOrchestrator(bindings, p.Executor,
		watcher.WithNotifier(p.Broadcaster),
		watcher.WithLogger(log),
		watcher.WithMetrics(p.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid watch bindings: %w", err)
	}
	t.Watch = task.Func("watch", func(ctx context.Context) error {
		fw, err := newFileWatcher(p.Root, cfg, log)
		if err != nil {
			return err
		}
		return orchestrator.Run(ctx, fw)
	})

	t.Init = task.Series("init", t.HTML, t.PHP, t.Sprite,
		task.Parallel("assets", t.Copy, t.Images, t.Styles, t.Scripts))
	t.Build = task.Parallel("build", t.HTML, t.PHP, t.Copy, t.Styles, t.Sprite, t.Images, t.Scripts)
	t.Dev = task.Series("dev", t.Init, t.Serve, t.Watch)

	t.Graph = task.NewGraph()
	err = t.Graph.Define(
		t.Copy, t.HTML, t.PHP, t.Templates, t.Styles, t.Scripts, t.Images,
		t.Sprite, t.Clean, t.Reload, t.Serve, t.Watch, t.Init, t.Build, t.Dev,
	)
	if err != nil {
		return nil, err
	}
	if err := t.Graph.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Bindings returns the watch table: which source changes rebuild what.
// Every action but styles ends with a full reload; styles injects the
// changed stylesheets itself.
func Bindings(cfg *config.Config, t *Tasks) []watcher.Binding {
	tplRoot := filepath.ToSlash(cfg.Templates.Root)
	withReload := func(name string, tasks ...*task.Task) *task.Task {
		return task.Series("watch:"+name, append(tasks, t.Reload)...)
	}

	bindings := []watcher.Binding{
		{Name: "styles", Patterns: styleSources(cfg), Task: t.Styles},
		{Name: "html", Patterns: append([]string{tplRoot + "/**/*.njk"}, slashed(cfg.Templates.HTML)...), Task: withReload("html", t.HTML)},
		{Name: "sprite", Patterns: []string{filepath.ToSlash(cfg.Sprite.Source) + "/**/*.svg"}, Task: withReload("sprite", t.Sprite)},
		{Name: "images", Patterns: slashed(cfg.Images.Patterns), Task: withReload("images", t.Images)},
		{Name: "scripts", Patterns: dirsOf(cfg.Scripts.Entries, "*.js"), Task: withReload("scripts", t.Scripts)},
		{Name: "php", Patterns: []string{tplRoot + "/**/*.php"}, Task: withReload("php", t.PHP)},
		{Name: "data", Patterns: []string{filepath.ToSlash(cfg.Paths.Data)}, Task: withReload("data", t.HTML, t.PHP)},
	}

	// A pipeline configured without inputs has nothing to watch.
	out := bindings[:0]
	for _, b := range bindings {
		if len(b.Patterns) > 0 {
			out = append(out, b)
		}
	}
	return out
}

// styleSources covers the entries and everything they may import.
func styleSources(cfg *config.Config) []string {
	patterns := dirsOf(cfg.Styles.Entries, "*.{scss,sass}")
	for _, lp := range cfg.Styles.LoadPaths {
		patterns = append(patterns, path.Join(filepath.ToSlash(lp), "**/*.{scss,sass}"))
	}
	return dedupe(patterns)
}

// dirsOf returns "<dir>/**/<glob>" for the static directory of each
// pattern, e.g. src/js/*.js gives src/js/**/*.js.
func dirsOf(patterns []string, glob string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(p))
		out = append(out, path.Join(base, "**", glob))
	}
	return dedupe(out)
}

func slashed(patterns []string) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = filepath.ToSlash(p)
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// newFileWatcher watches the source tree. The output directory is never
// watched, so writing output cannot trigger another rebuild.
func newFileWatcher(root string, cfg *config.Config, logger logging.Logger) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(root, cfg.Watch.Debounce, logger)
	if err != nil {
		return nil, sperrors.NewIOError("WATCH", "creating file watcher", err)
	}
	fw.AddFilter(watcher.IgnoreDirs(cfg.Paths.Output))
	fw.AddFilter(watcher.IgnoreNames(cfg.Watch.Ignore...))

	if err := fw.AddRecursive(cfg.Paths.Source); err != nil {
		fw.Stop()
		return nil, sperrors.NewIOError("WATCH", fmt.Sprintf("watching %s", cfg.Paths.Source), err)
	}
	return fw, nil
}
