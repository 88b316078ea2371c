package build

import (
	"context"
	"errors"
	"path"
	"path/filepath"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/conneroisu/sitepipe/internal/config"
	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/logging"
)

// CSSInjector is told which stylesheets changed so connected browsers can
// swap them without a full reload.
type CSSInjector interface {
	InjectCSS(paths ...string) int
}

// Styles compiles the stylesheet entries. Source maps are embedded in
// development; production adds vendor prefixes and minifies.
type Styles struct {
	root      string
	entries   []string
	dest      string
	output    string
	mode      config.Mode
	compiler  StyleCompiler
	processor CSSProcessor
	injector  CSSInjector
	logger    logging.Logger
}

// StylesOption configures Styles.
type StylesOption func(*Styles)

// WithStyleCompiler replaces the sass CLI.
func WithStyleCompiler(c StyleCompiler) StylesOption {
	return func(s *Styles) { s.compiler = c }
}

// WithCSSProcessor replaces the prefixer command.
func WithCSSProcessor(p CSSProcessor) StylesOption {
	return func(s *Styles) { s.processor = p }
}

// WithCSSInjector sets who is told about freshly written stylesheets.
func WithCSSInjector(i CSSInjector) StylesOption {
	return func(s *Styles) { s.injector = i }
}

// NewStyles creates the styles pipeline.
func NewStyles(root string, cfg *config.Config, logger logging.Logger, opts ...StylesOption) *Styles {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	logger = logger.WithComponent("styles")
	s := &Styles{
		root:      root,
		entries:   cfg.Styles.Entries,
		dest:      cfg.Styles.Dest,
		output:    filepath.Join(cfg.Paths.Output, cfg.Styles.Dest),
		mode:      cfg.Mode,
		compiler:  NewSassCompiler(cfg.Styles.Compiler, cfg.Styles.LoadPaths),
		processor: NewCommandProcessor(cfg.Styles.Prefixer, logger),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream builds the chain for the configured mode.
func (s *Styles) Stream() *Stream {
	return Src(s.root, s.entries).
		Pipe(Map("sass", s.compile)).
		PipeIf(s.mode.Prefix(), Map("prefix", s.prefix)).
		PipeIf(s.mode.Minify(), Map("minify", minifyCSS))
}

// Run compiles, writes and then announces the written stylesheets.
func (s *Styles) Run(ctx context.Context) error {
	stream := s.Stream()
	written, err := stream.Dest(ctx, s.output)
	if err != nil {
		return err
	}
	s.logger.Debug(ctx, "Compiled stylesheets", "stages", stream.Stages(), "files", len(written))

	if s.injector != nil && len(written) > 0 {
		paths := make([]string, len(written))
		for i, w := range written {
			paths[i] = path.Join(filepath.ToSlash(s.dest), w)
		}
		n := s.injector.InjectCSS(paths...)
		s.logger.Debug(ctx, "Injected stylesheets", "paths", paths, "clients", n)
	}

	return nil
}

func (s *Styles) compile(ctx context.Context, f *File) (*File, error) {
	out, err := s.compiler.Compile(ctx, s.root, f.Path, s.mode.SourceMaps())
	if err != nil {
		return nil, err
	}
	nf := f.WithExt(".css")
	nf.Contents = out
	return nf, nil
}

func (s *Styles) prefix(ctx context.Context, f *File) (*File, error) {
	out, err := s.processor.Process(ctx, s.root, f.Contents)
	if err != nil {
		var te *sperrors.TaskError
		if errors.As(err, &te) && te.FilePath == "" {
			te.WithLocation(f.Path, 0, 0)
		}
		return nil, err
	}
	nf := *f
	nf.Contents = out
	return &nf, nil
}

var minifier = newMinifier()

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	return m
}

func minifyCSS(_ context.Context, f *File) (*File, error) {
	out, err := minifier.Bytes("text/css", f.Contents)
	if err != nil {
		return nil, sperrors.NewInputError("CSS_MINIFY", "minifying stylesheet", err).WithLocation(f.Path, 0, 0)
	}
	nf := *f
	nf.Contents = out
	return &nf, nil
}
