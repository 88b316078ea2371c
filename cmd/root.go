// Package cmd provides the command-line interface for sitepipe with
// configuration management supporting multiple configuration sources.
//
// Configuration System:
//
//	Configuration is merged from several sources with clear precedence:
//	1. Command-line flags (--prod, --port, etc.) - highest priority
//	2. Individual environment variables (SITEPIPE_SERVER_PORT, etc.)
//	3. The configuration file: --config, else SITEPIPE_CONFIG_FILE, else
//	   .sitepipe.yml in the working directory
//	4. Built-in defaults - lowest priority
//
// Environment Variables:
//
//	SITEPIPE_CONFIG_FILE: Path to custom configuration file
//	SITEPIPE_MODE: development or production
//	SITEPIPE_SERVER_PROXY: Backend the dev server proxies to
//	And many more following the SITEPIPE_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/sitepipe/internal/config"
	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/metrics"
	"github.com/conneroisu/sitepipe/internal/services"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sitepipe",
	Short: "Build, serve and live-reload a static site's assets",
	Long: `sitepipe renders templates, compiles stylesheets, bundles scripts,
optimizes images and assembles SVG sprites for a site, then serves it
through a live-reloading proxy while watching the sources.

Quick Start:
  sitepipe init          Write .sitepipe.yml and a starter source tree
  sitepipe               Build, serve and watch (same as sitepipe dev)
  sitepipe build --prod  One-shot production build
  sitepipe styles        Run a single task
  sitepipe tasks         List every task and what it runs`,
	SilenceUsage: true,
	RunE:         runDev,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .sitepipe.yml, can also use SITEPIPE_CONFIG_FILE env var)")
	flags.Bool("prod", false, "production mode: minify, prefix and compress")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	bindFlags(flags, map[string]string{
		"prod":       "prod",
		"log-level":  "log.level",
		"log-format": "log.format",
	})
}

// initConfig initializes the configuration system with support for multiple config sources.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. SITEPIPE_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .sitepipe.yml in current directory
func initConfig() {
	applyFlagBindings()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SITEPIPE_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(strings.TrimSuffix(services.ConfigFile, ".yml"))
	}

	// SITEPIPE_SERVER_PORT overrides server.port and so on.
	viper.SetEnvPrefix("SITEPIPE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine, defaults apply.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadProject loads the effective configuration and wires the shared
// pieces of a run in the working directory.
func loadProject(cmd *cobra.Command) (*services.Project, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})

	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	return services.NewProject(root, cfg, logger, metrics.NewRecorder()), nil
}
