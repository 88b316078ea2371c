package build

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/sitepipe/internal/config"
	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/logging"
)

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// Scripts bundles every entry script into <dest>/<name>.js. Development
// builds carry an inline source map; production builds are minified with
// process.env.NODE_ENV set to "production".
type Scripts struct {
	root    string
	entries []string
	output  string
	mode    config.Mode
	target  string
	globals map[string]string
	logger  logging.Logger
}

// NewScripts creates the script bundler.
func NewScripts(root string, cfg *config.Config, logger logging.Logger) *Scripts {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Scripts{
		root:    root,
		entries: cfg.Scripts.Entries,
		output:  filepath.Join(cfg.Paths.Output, cfg.Scripts.Dest),
		mode:    cfg.Mode,
		target:  cfg.Scripts.Target,
		globals: cfg.Scripts.Globals,
		logger:  logger.WithComponent("scripts"),
	}
}

// Run bundles and writes the scripts.
func (s *Scripts) Run(ctx context.Context) error {
	written, err := Src(s.root, s.entries).
		Pipe(Batch("bundle", s.bundle)).
		Dest(ctx, s.output)
	if err != nil {
		return err
	}

	s.logger.Debug(ctx, "Bundled scripts", "count", len(written), "mode", s.mode.BundlerMode())
	return nil
}

// Options returns the bundler options for the given entry points.
func (s *Scripts) Options(absRoot string, entries []string) (api.BuildOptions, error) {
	target, ok := targets[strings.ToLower(s.target)]
	if !ok {
		return api.BuildOptions{}, sperrors.NewConfigError("SCRIPT_TARGET", fmt.Sprintf("unknown script target %q", s.target))
	}

	opts := api.BuildOptions{
		EntryPoints:   entries,
		AbsWorkingDir: absRoot,
		Outdir:        "bundle",
		EntryNames:    "[name]",
		Bundle:        true,
		Write:         false,
		Platform:      api.PlatformBrowser,
		Format:        api.FormatIIFE,
		Target:        target,
		LogLevel:      api.LogLevelSilent,
		Define: map[string]string{
			"process.env.NODE_ENV": fmt.Sprintf("%q", s.mode.BundlerMode()),
		},
		Sourcemap: api.SourceMapNone,
	}
	if s.mode.SourceMaps() {
		opts.Sourcemap = api.SourceMapInline
	}
	if s.mode.Minify() {
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
	}
	if len(s.globals) > 0 {
		opts.Plugins = []api.Plugin{globalsPlugin(s.globals)}
	}

	return opts, nil
}

func (s *Scripts) bundle(ctx context.Context, files []*File) ([]*File, error) {
	if len(files) == 0 {
		return files, nil
	}

	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return nil, sperrors.NewIOError("SCRIPT_ROOT", "resolving project root", err)
	}

	entries := make([]string, len(files))
	for i, f := range files {
		entries[i] = filepath.FromSlash(f.Path)
	}

	opts, err := s.Options(absRoot, entries)
	if err != nil {
		return nil, err
	}

	result := api.Build(opts)
	if len(result.Errors) > 0 {
		return nil, bundleError(result.Errors)
	}
	for _, w := range result.Warnings {
		s.logger.Warn(ctx, nil, "Bundler warning", "message", w.Text)
	}

	outdir := filepath.Join(absRoot, "bundle")
	out := make([]*File, 0, len(result.OutputFiles))
	for _, of := range result.OutputFiles {
		rel, err := filepath.Rel(outdir, of.Path)
		if err != nil {
			return nil, sperrors.NewInternalError("BUNDLE_OUTPUT", "unexpected bundle output path", err)
		}
		out = append(out, &File{Path: filepath.ToSlash(rel), Contents: of.Contents, Mode: 0644})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}

func bundleError(msgs []api.Message) error {
	first := msgs[0]
	message := first.Text
	if len(msgs) > 1 {
		message = fmt.Sprintf("%s (and %d more errors)", message, len(msgs)-1)
	}
	te := sperrors.NewInputError("BUNDLE", message, nil)
	if loc := first.Location; loc != nil {
		return te.WithLocation(loc.File, loc.Line, loc.Column+1)
	}
	return te
}

// globalsPlugin resolves the configured module names to properties of
// window instead of bundling them, e.g. jquery to window.jQuery.
func globalsPlugin(globals map[string]string) api.Plugin {
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, regexp.QuoteMeta(name))
	}
	sort.Strings(names)
	filter := "^(" + strings.Join(names, "|") + ")$"

	return api.Plugin{
		Name: "globals",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: filter},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{Path: args.Path, Namespace: "global-external"}, nil
				})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: "global-external"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					contents := fmt.Sprintf("module.exports = window[%q];", globals[args.Path])
					return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
				})
		},
	}
}
