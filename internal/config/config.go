// Package config provides configuration management for sitepipe using
// Viper for loading from files, environment variables and command-line
// flags.
//
// The configuration describes the source tree layout, the output tree,
// the options handed to every delegated tool (sass, esbuild, pongo2,
// imaging) and the dev server proxy. A single *Config is built at startup
// and threaded explicitly through every task constructor.
package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      Mode            `mapstructure:"mode" yaml:"mode"`
	Paths     PathsConfig     `mapstructure:"paths" yaml:"paths"`
	Assets    AssetsConfig    `mapstructure:"assets" yaml:"assets"`
	Templates TemplatesConfig `mapstructure:"templates" yaml:"templates"`
	Styles    StylesConfig    `mapstructure:"styles" yaml:"styles"`
	Scripts   ScriptsConfig   `mapstructure:"scripts" yaml:"scripts"`
	Images    ImagesConfig    `mapstructure:"images" yaml:"images"`
	Sprite    SpriteConfig    `mapstructure:"sprite" yaml:"sprite"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	Build     BuildConfig     `mapstructure:"build" yaml:"build"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type PathsConfig struct {
	Source string `mapstructure:"source" yaml:"source"`
	Output string `mapstructure:"output" yaml:"output"`
	Data   string `mapstructure:"data" yaml:"data"`
}

type AssetsConfig struct {
	Include []string `mapstructure:"include" yaml:"include"`
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`
	Base    string   `mapstructure:"base" yaml:"base"`
	Dest    string   `mapstructure:"dest" yaml:"dest"`
}

type TemplatesConfig struct {
	Root string   `mapstructure:"root" yaml:"root"`
	HTML []string `mapstructure:"html" yaml:"html"`
	PHP  []string `mapstructure:"php" yaml:"php"`
}

type StylesConfig struct {
	Entries   []string `mapstructure:"entries" yaml:"entries"`
	LoadPaths []string `mapstructure:"load_paths" yaml:"load_paths"`
	Dest      string   `mapstructure:"dest" yaml:"dest"`
	Compiler  string   `mapstructure:"compiler" yaml:"compiler"`
	Prefixer  string   `mapstructure:"prefixer" yaml:"prefixer"`
}

type ScriptsConfig struct {
	Entries []string          `mapstructure:"entries" yaml:"entries"`
	Dest    string            `mapstructure:"dest" yaml:"dest"`
	Target  string            `mapstructure:"target" yaml:"target"`
	Globals map[string]string `mapstructure:"globals" yaml:"globals"`
}

type ImagesConfig struct {
	Patterns    []string `mapstructure:"patterns" yaml:"patterns"`
	Base        string   `mapstructure:"base" yaml:"base"`
	Dest        string   `mapstructure:"dest" yaml:"dest"`
	JPEGQuality int      `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
}

type SpriteConfig struct {
	Source    string `mapstructure:"source" yaml:"source"`
	Dest      string `mapstructure:"dest" yaml:"dest"`
	Name      string `mapstructure:"name" yaml:"name"`
	Partial   string `mapstructure:"partial" yaml:"partial"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	MaxWidth  int    `mapstructure:"max_width" yaml:"max_width"`
	MaxHeight int    `mapstructure:"max_height" yaml:"max_height"`
	Example   bool   `mapstructure:"example" yaml:"example"`
}

type ServerConfig struct {
	Host   string `mapstructure:"host" yaml:"host"`
	Port   int    `mapstructure:"port" yaml:"port"`
	Proxy  string `mapstructure:"proxy" yaml:"proxy"`
	Open   bool   `mapstructure:"open" yaml:"open"`
	Notify bool   `mapstructure:"notify" yaml:"notify"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Ignore   []string      `mapstructure:"ignore" yaml:"ignore"`
}

type BuildConfig struct {
	// Concurrency caps how many members of a parallel group run at once.
	// Zero means no limit.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the layout the project has always used: sources under
// src/, everything rendered into dist/.
func Default() *Config {
	return &Config{
		Mode: ModeDevelopment,
		Paths: PathsConfig{
			Source: "src",
			Output: "dist",
			Data:   "src/data/page_data.json",
		},
		Assets: AssetsConfig{
			Include: []string{"src/assets/**/*"},
			Exclude: []string{"src/assets/images/**", "src/assets/svg/**"},
			Base:    "src/assets",
			Dest:    "assets",
		},
		Templates: TemplatesConfig{
			Root: "src",
			HTML: []string{"src/*.{html,njk}"},
			PHP:  []string{"src/*.php"},
		},
		Styles: StylesConfig{
			Entries:   []string{"src/sass/main.scss", "src/sass/admin.scss"},
			LoadPaths: []string{"src/sass"},
			Dest:      "css",
			Compiler:  "sass",
			Prefixer:  "postcss --use autoprefixer",
		},
		Scripts: ScriptsConfig{
			Entries: []string{"src/js/*.js"},
			Dest:    "js",
			Target:  "es2015",
			Globals: map[string]string{"jquery": "jQuery"},
		},
		Images: ImagesConfig{
			Patterns:    []string{"src/assets/images/**/*.{jpg,jpeg,png,gif}"},
			Base:        "src/assets/images",
			Dest:        "assets/images",
			JPEGQuality: 80,
		},
		Sprite: SpriteConfig{
			Source:    "src/svg",
			Dest:      "assets/svg",
			Name:      "main.svg",
			Partial:   "view/_sprite.scss",
			Prefix:    "svg",
			MaxWidth:  32,
			MaxHeight: 32,
			Example:   true,
		},
		Server: ServerConfig{
			Host:   "localhost",
			Port:   3000,
			Proxy:  "http://quelle.test",
			Notify: true,
		},
		Watch: WatchConfig{
			Debounce: 100 * time.Millisecond,
			Ignore:   []string{".git", "node_modules"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every default with viper so that IsSet-free
// merging works for file, env and flag sources alike.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("mode", d.Mode.String())
	v.SetDefault("paths.source", d.Paths.Source)
	v.SetDefault("paths.output", d.Paths.Output)
	v.SetDefault("paths.data", d.Paths.Data)
	v.SetDefault("assets.include", d.Assets.Include)
	v.SetDefault("assets.exclude", d.Assets.Exclude)
	v.SetDefault("assets.base", d.Assets.Base)
	v.SetDefault("assets.dest", d.Assets.Dest)
	v.SetDefault("templates.root", d.Templates.Root)
	v.SetDefault("templates.html", d.Templates.HTML)
	v.SetDefault("templates.php", d.Templates.PHP)
	v.SetDefault("styles.entries", d.Styles.Entries)
	v.SetDefault("styles.load_paths", d.Styles.LoadPaths)
	v.SetDefault("styles.dest", d.Styles.Dest)
	v.SetDefault("styles.compiler", d.Styles.Compiler)
	v.SetDefault("styles.prefixer", d.Styles.Prefixer)
	v.SetDefault("scripts.entries", d.Scripts.Entries)
	v.SetDefault("scripts.dest", d.Scripts.Dest)
	v.SetDefault("scripts.target", d.Scripts.Target)
	v.SetDefault("scripts.globals", d.Scripts.Globals)
	v.SetDefault("images.patterns", d.Images.Patterns)
	v.SetDefault("images.base", d.Images.Base)
	v.SetDefault("images.dest", d.Images.Dest)
	v.SetDefault("images.jpeg_quality", d.Images.JPEGQuality)
	v.SetDefault("sprite.source", d.Sprite.Source)
	v.SetDefault("sprite.dest", d.Sprite.Dest)
	v.SetDefault("sprite.name", d.Sprite.Name)
	v.SetDefault("sprite.partial", d.Sprite.Partial)
	v.SetDefault("sprite.prefix", d.Sprite.Prefix)
	v.SetDefault("sprite.max_width", d.Sprite.MaxWidth)
	v.SetDefault("sprite.max_height", d.Sprite.MaxHeight)
	v.SetDefault("sprite.example", d.Sprite.Example)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.proxy", d.Server.Proxy)
	v.SetDefault("server.open", d.Server.Open)
	v.SetDefault("server.notify", d.Server.Notify)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.ignore", d.Watch.Ignore)
	v.SetDefault("build.concurrency", d.Build.Concurrency)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load decodes the global viper instance into a validated Config.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom decodes v into a validated Config. Defaults are registered on v
// first, so an empty viper yields Default().
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		modeHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	// --prod is a switch rather than a value, it can only promote the mode.
	if v.GetBool("prod") {
		cfg.Mode = ModeProduction
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// modeHook decodes strings into Mode. TextUnmarshallerHookFunc would do the
// same for strings but rejects the integer a caller may Set directly.
func modeHook() mapstructure.DecodeHookFuncType {
	modeType := reflect.TypeOf(Mode(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != modeType {
			return data, nil
		}
		switch val := data.(type) {
		case string:
			return ParseMode(val)
		case Mode:
			return val, nil
		case int:
			return Mode(val), nil
		default:
			return data, nil
		}
	}
}
