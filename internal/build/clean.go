package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conneroisu/sitepipe/internal/config"
	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/logging"
)

// Cleaner removes the output directory and everything in it.
type Cleaner struct {
	root   string
	output string
	logger logging.Logger
}

// NewCleaner creates the clean task.
func NewCleaner(root string, cfg *config.Config, logger logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Cleaner{root: root, output: cfg.Paths.Output, logger: logger.WithComponent("clean")}
}

// Run deletes the output directory. A missing directory is not an error.
func (c *Cleaner) Run(ctx context.Context) error {
	rel := filepath.Clean(c.output)
	if rel == "." || rel == string(filepath.Separator) || filepath.IsAbs(rel) {
		return sperrors.NewConfigError("CLEAN_TARGET", fmt.Sprintf("refusing to remove %q", c.output))
	}

	target := filepath.Join(c.root, rel)
	if err := os.RemoveAll(target); err != nil {
		return sperrors.NewIOError("CLEAN", "removing output directory", err).WithLocation(target, 0, 0)
	}

	c.logger.Info(ctx, "Removed output directory", "path", target)
	return nil
}
