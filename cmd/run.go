package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sitepipe/internal/services"
)

var runCmd = &cobra.Command{
	Use:   "run <task>...",
	Short: "Run named tasks one after another",
	Long: `Run one or more tasks from the task graph in the order given.
"sitepipe tasks" lists them. Running dev is the same as "sitepipe dev".

Examples:
  sitepipe run clean build
  sitepipe run sprite styles --prod`,
	Args:              cobra.MinimumNArgs(1),
	ValidArgsFunction: completeTasks,
	RunE:              runTasks,
}

// Single tasks get a command of their own.
var taskCommands = []struct {
	name  string
	short string
}{
	{"copy", "Copy static assets to the output directory"},
	{"html", "Render HTML templates"},
	{"php", "Render PHP templates"},
	{"templates", "Render HTML and PHP templates"},
	{"styles", "Compile stylesheets"},
	{"scripts", "Bundle scripts"},
	{"images", "Optimize images"},
	{"sprite", "Assemble the SVG sprite"},
	{"clean", "Empty the output directory"},
}

func init() {
	rootCmd.AddCommand(runCmd)

	for _, tc := range taskCommands {
		name := tc.name
		rootCmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: tc.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runTasks(cmd, []string{name})
			},
		})
	}
}

func runTasks(cmd *cobra.Command, args []string) error {
	if len(args) == 1 && args[0] == "dev" {
		return runDev(cmd, nil)
	}

	project, err := loadProject(cmd)
	if err != nil {
		return err
	}
	svc, err := services.NewBuildService(project)
	if err != nil {
		return err
	}

	out := newPrinter(cmd.OutOrStdout())
	start := time.Now()
	err = svc.Run(cmd.Context(), args...)
	if project.Failures.HasFailures() {
		out.failures(project.Failures.Failures())
	}
	if err != nil {
		return err
	}
	out.success("Finished %v in %s", args, round(time.Since(start)))
	return nil
}

func completeTasks(cmd *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	project, err := loadProject(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	tasks, err := services.NewTasks(project)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return tasks.Graph.SortedNames(), cobra.ShellCompDirectiveNoFileComp
}
