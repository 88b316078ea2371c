package build

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/sitepipe/internal/config"
	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/logging"
)

// Shape is one icon of a sprite.
type Shape struct {
	ID      string
	Source  string
	ViewBox string
	Width   float64
	Height  float64
	Inner   string
}

type svgDocument struct {
	XMLName xml.Name `xml:"svg"`
	ViewBox string   `xml:"viewBox,attr"`
	Width   string   `xml:"width,attr"`
	Height  string   `xml:"height,attr"`
	Inner   string   `xml:",innerxml"`
}

// Sprite merges the icons of a directory into a symbol sprite, a stacked
// view sprite with its SCSS partial, a defs sprite and an example page.
type Sprite struct {
	root   string
	cfg    config.SpriteConfig
	output string
	minify bool
	logger logging.Logger
}

// NewSprite creates the sprite builder.
func NewSprite(root string, cfg *config.Config, logger logging.Logger) *Sprite {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Sprite{
		root:   root,
		cfg:    cfg.Sprite,
		output: filepath.Join(cfg.Paths.Output, cfg.Sprite.Dest),
		minify: cfg.Mode.Minify(),
		logger: logger.WithComponent("sprite"),
	}
}

// Run builds and writes the sprite files.
func (s *Sprite) Run(ctx context.Context) error {
	source := filepath.ToSlash(s.cfg.Source)
	written, err := Src(s.root, []string{source + "/**/*.svg"}, Base(source)).
		Pipe(Batch("sprite", s.assemble)).
		PipeIf(s.minify, Map("minify", minifySVG)).
		Dest(ctx, s.output)
	if err != nil {
		return err
	}

	s.logger.Debug(ctx, "Built sprite", "files", written)
	return nil
}

func (s *Sprite) assemble(ctx context.Context, files []*File) ([]*File, error) {
	if len(files) == 0 {
		return nil, nil
	}

	shapes := make([]Shape, 0, len(files))
	seen := make(map[string]string)
	for _, f := range files {
		shape, err := ParseShape(f.Rel(), f.Contents)
		if err != nil {
			return nil, sperrors.NewInputError("SVG_PARSE", "parsing icon", err).WithLocation(f.Path, 0, 0)
		}
		if prev, dup := seen[shape.ID]; dup {
			return nil, sperrors.NewInputError("SVG_DUPLICATE",
				fmt.Sprintf("icon id %q is used by %s and %s", shape.ID, prev, f.Path), nil)
		}
		seen[shape.ID] = f.Path
		shape.Width, shape.Height = fit(shape.Width, shape.Height, float64(s.cfg.MaxWidth), float64(s.cfg.MaxHeight))
		shapes = append(shapes, shape)
	}

	viewDir := path.Dir(filepath.ToSlash(s.cfg.Partial))
	out := []*File{
		{Path: s.cfg.Name, Contents: symbolSprite(shapes)},
		{Path: path.Join(viewDir, "sprite.svg"), Contents: viewSprite(shapes)},
		{Path: filepath.ToSlash(s.cfg.Partial), Contents: spriteSCSS(shapes, s.cfg.Prefix, "sprite.svg")},
		{Path: "defs/sprite.svg", Contents: defsSprite(shapes)},
	}
	if s.cfg.Example {
		var buf bytes.Buffer
		if err := examplePage(shapes, s.cfg.Name, s.cfg.Prefix).Render(ctx, &buf); err != nil {
			return nil, sperrors.NewInternalError("SPRITE_EXAMPLE", "rendering example page", err)
		}
		out = append(out, &File{Path: "symbol.html", Contents: buf.Bytes()})
	}
	for _, f := range out {
		f.Mode = 0644
	}

	return out, nil
}

var (
	idFold     = cases.Lower(language.Und)
	idInvalid  = regexp.MustCompile(`[^\p{Ll}\p{Lo}\p{N}_-]+`)
	dimsSuffix = regexp.MustCompile(`(?i)px$`)
)

// ShapeID derives a symbol id from an icon's path below the sprite
// source, e.g. "social/Twitter Logo.svg" becomes "social--twitter-logo".
func ShapeID(rel string) string {
	rel = strings.TrimSuffix(rel, path.Ext(rel))
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		p = idInvalid.ReplaceAllString(idFold.String(p), "-")
		parts[i] = strings.Trim(p, "-")
	}
	return strings.Join(parts, "--")
}

// ParseShape reads an icon and its intrinsic size. The viewBox wins over
// width and height attributes.
func ParseShape(rel string, data []byte) (Shape, error) {
	var doc svgDocument
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return Shape{}, err
	}

	shape := Shape{ID: ShapeID(rel), Source: rel, Inner: strings.TrimSpace(doc.Inner)}
	if shape.ID == "" {
		return Shape{}, fmt.Errorf("cannot derive an id from %q", rel)
	}

	if doc.ViewBox != "" {
		fields := strings.FieldsFunc(doc.ViewBox, func(r rune) bool { return r == ' ' || r == ',' })
		if len(fields) != 4 {
			return Shape{}, fmt.Errorf("malformed viewBox %q", doc.ViewBox)
		}
		w, errW := strconv.ParseFloat(fields[2], 64)
		h, errH := strconv.ParseFloat(fields[3], 64)
		if errW != nil || errH != nil || w <= 0 || h <= 0 {
			return Shape{}, fmt.Errorf("malformed viewBox %q", doc.ViewBox)
		}
		shape.ViewBox, shape.Width, shape.Height = doc.ViewBox, w, h
		return shape, nil
	}

	w, errW := strconv.ParseFloat(dimsSuffix.ReplaceAllString(doc.Width, ""), 64)
	h, errH := strconv.ParseFloat(dimsSuffix.ReplaceAllString(doc.Height, ""), 64)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return Shape{}, fmt.Errorf("icon has neither a viewBox nor a width and height")
	}
	shape.ViewBox = fmt.Sprintf("0 0 %s %s", num(w), num(h))
	shape.Width, shape.Height = w, h
	return shape, nil
}

// fit scales w×h down, keeping the aspect ratio, until it fits maxW×maxH.
func fit(w, h, maxW, maxH float64) (float64, float64) {
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = maxW / w
	}
	if maxH > 0 && h*scale > maxH {
		scale = maxH / h
	}
	return round2(w * scale), round2(h * scale)
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

const svgOpen = `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink"`

func symbolSprite(shapes []Shape) []byte {
	var b bytes.Buffer
	b.WriteString(svgOpen + ">")
	for _, sh := range shapes {
		fmt.Fprintf(&b, `<symbol id="%s" viewBox="%s">%s</symbol>`, sh.ID, sh.ViewBox, sh.Inner)
	}
	b.WriteString("</svg>\n")
	return b.Bytes()
}

func defsSprite(shapes []Shape) []byte {
	var b bytes.Buffer
	b.WriteString(svgOpen + "><defs>")
	for _, sh := range shapes {
		fmt.Fprintf(&b, `<svg id="%s" viewBox="%s">%s</svg>`, sh.ID, sh.ViewBox, sh.Inner)
	}
	b.WriteString("</defs></svg>\n")
	return b.Bytes()
}

// viewSprite stacks the shapes vertically at their fitted size.
func viewSprite(shapes []Shape) []byte {
	var width, height float64
	for _, sh := range shapes {
		width = math.Max(width, sh.Width)
		height += sh.Height
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, `%s width="%s" height="%s" viewBox="0 0 %s %s">`, svgOpen, num(width), num(height), num(width), num(height))
	var y float64
	for _, sh := range shapes {
		fmt.Fprintf(&b, `<svg id="%s" y="%s" width="%s" height="%s" viewBox="%s">%s</svg>`,
			sh.ID, num(y), num(sh.Width), num(sh.Height), sh.ViewBox, sh.Inner)
		y = round2(y + sh.Height)
	}
	b.WriteString("</svg>\n")
	return b.Bytes()
}

func spriteSCSS(shapes []Shape, prefix, sprite string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%%%s {\n\tbackground: url(\"%s\") no-repeat;\n}\n", prefix, sprite)
	var y float64
	for _, sh := range shapes {
		offset := "0"
		if y > 0 {
			offset = num(-y)
		}
		fmt.Fprintf(&b, "\n.%s-%s {\n\t@extend %%%s;\n\tbackground-position: 0 %spx;\n}\n",
			prefix, sh.ID, prefix, offset)
		fmt.Fprintf(&b, "\n.%s-%s-dims {\n\twidth: %spx;\n\theight: %spx;\n}\n",
			prefix, sh.ID, num(sh.Width), num(sh.Height))
		y = round2(y + sh.Height)
	}
	return b.Bytes()
}

func minifySVG(_ context.Context, f *File) (*File, error) {
	if path.Ext(f.Path) != ".svg" {
		return f, nil
	}
	out, err := minifier.Bytes("image/svg+xml", f.Contents)
	if err != nil {
		return nil, sperrors.NewInputError("SVG_MINIFY", "minifying sprite", err).WithLocation(f.Path, 0, 0)
	}
	nf := *f
	nf.Contents = out
	return &nf, nil
}
