package build

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flosch/pongo2/v6"

	"github.com/conneroisu/sitepipe/internal/config"
	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/logging"
)

// TemplateVariant selects which sources a renderer reads and which
// extension its output carries.
type TemplateVariant struct {
	Name     string
	Patterns []string
	Ext      string
}

// HTMLVariant renders the page templates to .html.
func HTMLVariant(cfg *config.Config) TemplateVariant {
	return TemplateVariant{Name: "html", Patterns: cfg.Templates.HTML, Ext: ".html"}
}

// PHPVariant renders the PHP templates to .php with the same page data.
func PHPVariant(cfg *config.Config) TemplateVariant {
	return TemplateVariant{Name: "php", Patterns: cfg.Templates.PHP, Ext: ".php"}
}

// TemplateRenderer renders Jinja style templates with the page data file
// as context. The data file is read on every run and never cached.
type TemplateRenderer struct {
	root     string
	variant  TemplateVariant
	tplRoot  string
	dataPath string
	output   string
	logger   logging.Logger
}

// NewTemplateRenderer creates a renderer for variant.
func NewTemplateRenderer(root string, cfg *config.Config, variant TemplateVariant, logger logging.Logger) *TemplateRenderer {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &TemplateRenderer{
		root:     root,
		variant:  variant,
		tplRoot:  cfg.Templates.Root,
		dataPath: cfg.Paths.Data,
		output:   cfg.Paths.Output,
		logger:   logger.WithComponent(variant.Name),
	}
}

// Run renders every matching template into the output root.
func (r *TemplateRenderer) Run(ctx context.Context) error {
	written, err := Src(r.root, r.variant.Patterns, Base(r.tplRoot)).
		Pipe(Batch("render", r.render)).
		Dest(ctx, r.output)
	if err != nil {
		return err
	}

	r.logger.Debug(ctx, "Rendered templates", "count", len(written))
	return nil
}

func (r *TemplateRenderer) render(ctx context.Context, files []*File) ([]*File, error) {
	if len(files) == 0 {
		return files, nil
	}

	data, err := LoadPageData(filepath.Join(r.root, r.dataPath))
	if err != nil {
		return nil, err
	}

	loader, err := pongo2.NewLocalFileSystemLoader(filepath.Join(r.root, r.tplRoot))
	if err != nil {
		return nil, sperrors.NewIOError("TEMPLATE_ROOT", "opening template root", err).WithLocation(r.tplRoot, 0, 0)
	}
	set := pongo2.NewSet(r.variant.Name, loader)

	out := make([]*File, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		abs, err := filepath.Abs(filepath.Join(r.root, filepath.FromSlash(f.Path)))
		if err != nil {
			return nil, sperrors.NewIOError("TEMPLATE_PATH", "resolving template", err).WithLocation(f.Path, 0, 0)
		}
		tpl, err := set.FromFile(abs)
		if err != nil {
			return nil, templateError(f.Path, err)
		}
		rendered, err := tpl.ExecuteBytes(pongo2.Context(data))
		if err != nil {
			return nil, templateError(f.Path, err)
		}

		nf := f.WithExt(r.variant.Ext)
		nf.Contents = rendered
		out = append(out, nf)
	}

	return out, nil
}

// LoadPageData reads and decodes the JSON page data at path. Syntax errors
// carry the line and column of the offending byte.
func LoadPageData(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, sperrors.NewIOError("PAGE_DATA", "reading page data", err).WithLocation(path, 0, 0)
	}

	data := make(map[string]interface{})
	if err := json.Unmarshal(raw, &data); err != nil {
		te := sperrors.NewInputError("PAGE_DATA", "malformed page data", err)
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			line, col := position(raw, syntaxErr.Offset)
			return nil, te.WithLocation(path, line, col)
		}
		return nil, te.WithLocation(path, 0, 0)
	}

	return data, nil
}

func templateError(path string, err error) error {
	te := sperrors.NewInputError("TEMPLATE", "rendering template", err)
	var perr *pongo2.Error
	if errors.As(err, &perr) && perr.Line > 0 {
		file := path
		if perr.Filename != "" {
			file = perr.Filename
		}
		return te.WithLocation(file, perr.Line, perr.Column)
	}
	return te.WithLocation(path, 0, 0)
}

// position converts a byte offset into a 1-based line and column.
func position(data []byte, offset int64) (int, int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	before := data[:offset]
	line := bytes.Count(before, []byte("\n")) + 1
	col := int(offset) - bytes.LastIndexByte(before, '\n')
	if col < 1 {
		col = 1
	}
	return line, col
}

// String describes the renderer for task listings.
func (r *TemplateRenderer) String() string {
	return fmt.Sprintf("%s templates %v", r.variant.Name, r.variant.Patterns)
}
