package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/sitepipe/internal/services"
)

var buildClean bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build every asset once",
	Long: `Run the build task: templates, copied assets, styles, sprite, images
and scripts, all in parallel. Failures of one task do not stop the others;
the command exits non-zero if any task failed.

Examples:
  sitepipe build               # Development build
  sitepipe build --prod        # Minified, prefixed, compressed
  sitepipe build --clean       # Empty the output directory first`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVar(&buildClean, "clean", false, "Empty the output directory before building")
}

func runBuild(cmd *cobra.Command, args []string) error {
	project, err := loadProject(cmd)
	if err != nil {
		return err
	}
	svc, err := services.NewBuildService(project)
	if err != nil {
		return err
	}

	out := newPrinter(cmd.OutOrStdout())
	result, err := svc.Build(cmd.Context(), services.BuildOptions{Clean: buildClean})
	if project.Failures.HasFailures() {
		out.failures(result.Failures)
	}
	if err != nil {
		return err
	}

	out.success("Built %s in %s (%s)", project.Config.Paths.Output, round(result.Duration), project.Config.Mode)
	return nil
}
