package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/sitepipe/internal/services"
)

var devCmd = &cobra.Command{
	Use:     "dev",
	Aliases: []string{"serve"},
	Short:   "Build, serve with live reload and rebuild on change",
	Long: `Run the dev task: an initial build, the dev server and the watcher.

The server proxies the configured backend and injects the live-reload
client into HTML responses. With an empty proxy it serves the output
directory instead. Stylesheet changes are swapped in place, everything
else reloads the page.

Examples:
  sitepipe dev                            # Proxy http://quelle.test
  sitepipe dev --proxy http://localhost:8080
  sitepipe dev --proxy "" --port 8000     # Serve the output directory`,
	RunE: runDev,
}

func init() {
	rootCmd.AddCommand(devCmd)

	addServerFlags(devCmd)
}

func runDev(cmd *cobra.Command, args []string) error {
	project, err := loadProject(cmd)
	if err != nil {
		return err
	}
	svc, err := services.NewServeService(project)
	if err != nil {
		return err
	}

	result, err := svc.Serve(cmd.Context())
	if result != nil && result.ServerURL != "" {
		newPrinter(cmd.OutOrStdout()).success("Stopped serving %s", result.ServerURL)
	}
	return err
}
