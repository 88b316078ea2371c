package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitepipe/internal/config"
)

func TestInitService_InitProject(t *testing.T) {
	service := NewInitService()

	tests := []struct {
		name      string
		opts      InitOptions
		wantFiles []string
		noFiles   []string
	}{
		{
			name:      "default_initialization",
			opts:      InitOptions{ProjectDir: "site"},
			wantFiles: []string{ConfigFile, "src/index.njk", "src/sass/main.scss", "src/js/main.js", "src/data/page_data.json"},
		},
		{
			name:      "minimal_initialization",
			opts:      InitOptions{ProjectDir: "minimal", Minimal: true},
			wantFiles: []string{ConfigFile},
			noFiles:   []string{"src"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.ProjectDir = filepath.Join(t.TempDir(), tt.opts.ProjectDir)

			require.NoError(t, service.InitProject(tt.opts))

			for _, f := range tt.wantFiles {
				assert.FileExists(t, filepath.Join(tt.opts.ProjectDir, filepath.FromSlash(f)))
			}
			for _, f := range tt.noFiles {
				assert.NoFileExists(t, filepath.Join(tt.opts.ProjectDir, f))
			}
		})
	}
}

func TestInitConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewInitService().InitProject(InitOptions{ProjectDir: dir, Minimal: true}))

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, ConfigFile))
	require.NoError(t, v.ReadInConfig())

	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestInitRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("mode: production\n"), 0644))

	err := NewInitService().InitProject(InitOptions{ProjectDir: dir, Minimal: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mode: production\n", string(data))

	require.NoError(t, NewInitService().InitProject(InitOptions{ProjectDir: dir, Minimal: true, Force: true}))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mode: development")
}

func TestInitKeepsExistingSources(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"src/sass/main.scss": "a { b: c }"})

	require.NoError(t, NewInitService().InitProject(InitOptions{ProjectDir: dir}))

	data, err := os.ReadFile(filepath.Join(dir, "src", "sass", "main.scss"))
	require.NoError(t, err)
	assert.Equal(t, "a { b: c }", string(data))
}
