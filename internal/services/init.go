package services

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sitepipe/internal/config"
	sperrors "github.com/conneroisu/sitepipe/internal/errors"
)

// ConfigFile is the name of the project configuration file.
const ConfigFile = ".sitepipe.yml"

// InitService handles project initialization business logic
type InitService struct{}

// NewInitService creates a new initialization service
func NewInitService() *InitService {
	return &InitService{}
}

// InitOptions contains options for project initialization
type InitOptions struct {
	ProjectDir string
	// Minimal writes only the configuration file.
	Minimal bool
	// Force overwrites an existing configuration file.
	Force bool
}

// InitProject writes the default configuration and, unless minimal, a
// source tree the default configuration builds.
func (s *InitService) InitProject(opts InitOptions) error {
	if err := os.MkdirAll(opts.ProjectDir, 0755); err != nil {
		return sperrors.NewIOError("INIT_DIR", "cannot create project directory", err).WithLocation(opts.ProjectDir, 0, 0)
	}

	if err := s.createConfigFile(opts.ProjectDir, opts.Force); err != nil {
		return err
	}

	if opts.Minimal {
		return nil
	}
	return s.createSourceTree(opts.ProjectDir)
}

// MarshalConfig renders cfg the way it is written to ConfigFile.
func MarshalConfig(cfg *config.Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, sperrors.NewInternalError("CONFIG_MARSHAL", "encoding configuration", err)
	}
	return data, nil
}

func (s *InitService) createConfigFile(projectDir string, force bool) error {
	path := filepath.Join(projectDir, ConfigFile)
	if _, err := os.Stat(path); err == nil && !force {
		return sperrors.NewConfigError("INIT_EXISTS", fmt.Sprintf("%s already exists, use --force to overwrite", path))
	}

	data, err := MarshalConfig(config.Default())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return sperrors.NewIOError("INIT_CONFIG", "writing configuration", err).WithLocation(path, 0, 0)
	}
	return nil
}

// starterFiles build with the default configuration. Existing files are
// left alone.
var starterFiles = map[string]string{
	"src/index.njk": `{% extends "layout/base.njk" %}
{% block content %}<h1>{{ site.title }}</h1>{% endblock %}
`,
	"src/layout/base.njk": `<!DOCTYPE html>
<html lang="de">
<head>
	<meta charset="utf-8">
	<title>{{ site.title }}</title>
	<link rel="stylesheet" href="/css/main.css">
</head>
<body>
{% block content %}{% endblock %}
<script src="/js/main.js"></script>
</body>
</html>
`,
	"src/data/page_data.json": `{
	"site": {"title": "Neue Seite"}
}
`,
	"src/sass/main.scss": `@use "variables" as *;

body {
	color: $text;
}
`,
	"src/sass/admin.scss": `@use "variables" as *;

.admin {
	border-top: 3px solid $text;
}
`,
	"src/sass/_variables.scss": `$text: #222;
`,
	"src/js/main.js": `document.documentElement.classList.add("js");
`,
	"src/assets/images/.gitkeep": "",
	"src/svg/.gitkeep":           "",
}

func (s *InitService) createSourceTree(projectDir string) error {
	for name, contents := range starterFiles {
		path := filepath.Join(projectDir, filepath.FromSlash(name))
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return sperrors.NewIOError("INIT_TREE", "creating source directory", err).WithLocation(path, 0, 0)
		}
		if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
			return sperrors.NewIOError("INIT_TREE", "writing starter file", err).WithLocation(path, 0, 0)
		}
	}
	return nil
}
