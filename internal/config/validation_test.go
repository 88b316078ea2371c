package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"defaults", func(*Config) {}, ""},
		{"empty proxy serves statically", func(c *Config) { c.Server.Proxy = "" }, ""},
		{"system assigned port", func(c *Config) { c.Server.Port = 0 }, ""},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server"},
		{"proxy without scheme", func(c *Config) { c.Server.Proxy = "quelle.test" }, "server"},
		{"ftp proxy", func(c *Config) { c.Server.Proxy = "ftp://quelle.test" }, "server"},
		{"host injection", func(c *Config) { c.Server.Host = "localhost;rm" }, "server"},
		{"unknown mode", func(c *Config) { c.Mode = Mode(7) }, "mode"},
		{"output escapes", func(c *Config) { c.Paths.Output = "../public" }, "paths.output"},
		{"output is source", func(c *Config) { c.Paths.Output = "src" }, "paths.output"},
		{"output is project root", func(c *Config) { c.Paths.Output = "." }, "paths.output"},
		{"output cleans to project root", func(c *Config) { c.Paths.Output = "src/.." }, "paths.output"},
		{"output trailing slash", func(c *Config) { c.Paths.Output = "src/" }, "paths.output"},
		{"output inside source", func(c *Config) { c.Paths.Output = "src/dist" }, "paths.output"},
		{"output contains source", func(c *Config) { c.Paths.Output = "web"; c.Paths.Source = "web/src" }, "paths.output"},
		{"output is template root", func(c *Config) {
			c.Templates.Root = "views"
			c.Paths.Output = "views"
		}, "paths.output"},
		{"output is data dir", func(c *Config) {
			c.Paths.Data = "data/page_data.json"
			c.Paths.Output = "data"
		}, "paths.output"},
		{"data file at project root", func(c *Config) { c.Paths.Data = "page_data.json" }, ""},
		{"sibling output", func(c *Config) { c.Paths.Output = "public" }, ""},
		{"output shares prefix with source", func(c *Config) { c.Paths.Output = "src-dist" }, ""},
		{"empty source", func(c *Config) { c.Paths.Source = "" }, "paths.source"},
		{"absolute dest", func(c *Config) { c.Styles.Dest = "/css" }, "styles.dest"},
		{"dest escapes", func(c *Config) { c.Scripts.Dest = "../js" }, "scripts.dest"},
		{"bad glob", func(c *Config) { c.Assets.Include = []string{"src/[assets"} }, "assets.include"},
		{"quality zero", func(c *Config) { c.Images.JPEGQuality = 0 }, "images.jpeg_quality"},
		{"sprite height", func(c *Config) { c.Sprite.MaxHeight = 0 }, "sprite.max_width"},
		{"negative concurrency", func(c *Config) { c.Build.Concurrency = -1 }, "build.concurrency"},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = -time.Second }, "watch.debounce"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.field)
		})
	}
}
