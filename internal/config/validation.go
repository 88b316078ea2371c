package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// Validate checks cfg for correctness and for paths escaping the project.
func Validate(cfg *Config) error {
	if cfg.Mode != ModeDevelopment && cfg.Mode != ModeProduction {
		return &ValidationError{Field: "mode", Value: cfg.Mode, Message: "must be development or production"}
	}

	if err := validateServerConfig(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	paths := map[string]string{
		"paths.source":   cfg.Paths.Source,
		"paths.output":   cfg.Paths.Output,
		"paths.data":     cfg.Paths.Data,
		"templates.root": cfg.Templates.Root,
		"sprite.source":  cfg.Sprite.Source,
	}
	for field, path := range paths {
		if err := validatePath(path); err != nil {
			return &ValidationError{Field: field, Value: path, Message: err.Error()}
		}
	}
	if err := validateOutput(cfg); err != nil {
		return err
	}

	// Output subdirectories must stay inside the output root.
	dests := map[string]string{
		"assets.dest":  cfg.Assets.Dest,
		"styles.dest":  cfg.Styles.Dest,
		"scripts.dest": cfg.Scripts.Dest,
		"images.dest":  cfg.Images.Dest,
		"sprite.dest":  cfg.Sprite.Dest,
	}
	for field, dest := range dests {
		if strings.Contains(filepath.Clean(dest), "..") || filepath.IsAbs(dest) {
			return &ValidationError{Field: field, Value: dest, Message: "must be relative to paths.output"}
		}
	}

	patterns := map[string][]string{
		"assets.include":  cfg.Assets.Include,
		"assets.exclude":  cfg.Assets.Exclude,
		"templates.html":  cfg.Templates.HTML,
		"templates.php":   cfg.Templates.PHP,
		"styles.entries":  cfg.Styles.Entries,
		"scripts.entries": cfg.Scripts.Entries,
		"images.patterns": cfg.Images.Patterns,
	}
	for field, list := range patterns {
		for _, pattern := range list {
			if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
				return &ValidationError{Field: field, Value: pattern, Message: "invalid glob pattern"}
			}
		}
	}

	if cfg.Images.JPEGQuality < 1 || cfg.Images.JPEGQuality > 100 {
		return &ValidationError{Field: "images.jpeg_quality", Value: cfg.Images.JPEGQuality, Message: "must be between 1 and 100"}
	}
	if cfg.Sprite.MaxWidth <= 0 || cfg.Sprite.MaxHeight <= 0 {
		return &ValidationError{Field: "sprite.max_width", Value: cfg.Sprite.MaxWidth, Message: "sprite dimensions must be positive"}
	}
	if cfg.Build.Concurrency < 0 {
		return &ValidationError{Field: "build.concurrency", Value: cfg.Build.Concurrency, Message: "must not be negative"}
	}
	if cfg.Watch.Debounce < 0 {
		return &ValidationError{Field: "watch.debounce", Value: cfg.Watch.Debounce, Message: "must not be negative"}
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	if config.Proxy != "" {
		u, err := url.Parse(config.Proxy)
		if err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("proxy %q must be an http or https URL", config.Proxy)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy %q has no host", config.Proxy)
		}
	}

	return nil
}

// validateOutput keeps the output tree apart from the input trees. clean
// removes the output tree and the watcher ignores it.
func validateOutput(cfg *Config) error {
	out := filepath.Clean(cfg.Paths.Output)
	if out == "." {
		return &ValidationError{Field: "paths.output", Value: cfg.Paths.Output, Message: "must not be the project root"}
	}

	inputs := []struct{ field, path string }{
		{"paths.source", cfg.Paths.Source},
		{"templates.root", cfg.Templates.Root},
		{"sprite.source", cfg.Sprite.Source},
		{"paths.data", filepath.Dir(cfg.Paths.Data)},
	}
	for _, in := range inputs {
		dir := filepath.Clean(in.path)
		overlap := within(out, dir) || within(dir, out)
		if dir == "." {
			// Only a data file at the project root gets here.
			overlap = within(out, filepath.Clean(cfg.Paths.Data))
		}
		if overlap {
			return &ValidationError{
				Field:   "paths.output",
				Value:   cfg.Paths.Output,
				Message: fmt.Sprintf("must not overlap %s %q", in.field, in.path),
			}
		}
	}
	return nil
}

// within reports whether p is dir or lies below it.
func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
