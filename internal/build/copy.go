package build

import (
	"context"
	"path/filepath"

	"github.com/conneroisu/sitepipe/internal/config"
	"github.com/conneroisu/sitepipe/internal/logging"
)

// Copier copies static assets into the output tree unchanged.
type Copier struct {
	root   string
	cfg    config.AssetsConfig
	output string
	logger logging.Logger
}

// NewCopier creates the asset copier for the project rooted at root.
func NewCopier(root string, cfg *config.Config, logger logging.Logger) *Copier {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Copier{
		root:   root,
		cfg:    cfg.Assets,
		output: filepath.Join(cfg.Paths.Output, cfg.Assets.Dest),
		logger: logger.WithComponent("copy"),
	}
}

// Run copies every included, non-excluded asset.
func (c *Copier) Run(ctx context.Context) error {
	written, err := Src(c.root, c.cfg.Include, Exclude(c.cfg.Exclude...), Base(c.cfg.Base)).
		Dest(ctx, c.output)
	if err != nil {
		return err
	}

	c.logger.Debug(ctx, "Copied assets", "count", len(written), "dest", c.output)
	return nil
}
