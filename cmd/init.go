package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/sitepipe/internal/services"
)

var (
	initMinimal bool
	initForce   bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Create a configuration file and starter sources",
	Long: `Write .sitepipe.yml with the default configuration and, unless
--minimal is given, a starter source tree: a layout and page template,
page data, stylesheets and a script.

Existing source files are never overwritten. An existing configuration
file is only replaced with --force.

Examples:
  sitepipe init
  sitepipe init my-site
  sitepipe init --minimal --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initMinimal, "minimal", false, "Only write the configuration file")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	err := services.NewInitService().InitProject(services.InitOptions{
		ProjectDir: dir,
		Minimal:    initMinimal,
		Force:      initForce,
	})
	if err != nil {
		return err
	}

	out := newPrinter(cmd.OutOrStdout())
	out.success("Initialized %s in %s", services.ConfigFile, dir)
	if !initMinimal {
		out.line("Run %s to start the dev loop.", out.label("sitepipe dev"))
	}
	return nil
}
