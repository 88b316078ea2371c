package build

import (
	"bytes"
	"context"
	"image/png"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/conneroisu/sitepipe/internal/config"
	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/logging"
)

// Images copies raster images into the output tree and, in production,
// re-encodes them. GIFs are never re-encoded so animations survive.
type Images struct {
	root     string
	patterns []string
	base     string
	output   string
	compress bool
	quality  int
	logger   logging.Logger
}

// NewImages creates the image pipeline.
func NewImages(root string, cfg *config.Config, logger logging.Logger) *Images {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Images{
		root:     root,
		patterns: cfg.Images.Patterns,
		base:     cfg.Images.Base,
		output:   filepath.Join(cfg.Paths.Output, cfg.Images.Dest),
		compress: cfg.Mode.CompressImages(),
		quality:  cfg.Images.JPEGQuality,
		logger:   logger.WithComponent("images"),
	}
}

// Run copies, optionally recompressing, every matching image.
func (im *Images) Run(ctx context.Context) error {
	written, err := Src(im.root, im.patterns, Base(im.base)).
		PipeIf(im.compress, Map("recompress", im.recompress)).
		Dest(ctx, im.output)
	if err != nil {
		return err
	}

	im.logger.Debug(ctx, "Processed images", "count", len(written), "compressed", im.compress)
	return nil
}

func (im *Images) recompress(_ context.Context, f *File) (*File, error) {
	var format imaging.Format
	var opts []imaging.EncodeOption
	switch strings.ToLower(path.Ext(f.Path)) {
	case ".jpg", ".jpeg":
		format = imaging.JPEG
		opts = append(opts, imaging.JPEGQuality(im.quality))
	case ".png":
		format = imaging.PNG
		opts = append(opts, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		return f, nil
	}

	img, err := imaging.Decode(bytes.NewReader(f.Contents), imaging.AutoOrientation(true))
	if err != nil {
		return nil, sperrors.NewInputError("IMAGE_DECODE", "decoding image", err).WithLocation(f.Path, 0, 0)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, sperrors.NewInternalError("IMAGE_ENCODE", "encoding image", err).WithLocation(f.Path, 0, 0)
	}

	if buf.Len() >= len(f.Contents) {
		return f, nil
	}
	nf := *f
	nf.Contents = buf.Bytes()
	return &nf, nil
}
