package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sitepipe/internal/services"
	"github.com/conneroisu/sitepipe/internal/task"
)

var tasksFormat string

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"list"},
	Short:   "List the task graph",
	Long: `List every named task in declaration order with what it runs, followed
by the watch bindings of the dev loop.

Examples:
  sitepipe tasks
  sitepipe tasks --format json`,
	Args: cobra.NoArgs,
	RunE: runListTasks,
}

func init() {
	rootCmd.AddCommand(tasksCmd)

	tasksCmd.Flags().StringVarP(&tasksFormat, "format", "f", "text", "Output format (text, json)")
}

type taskEntry struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Runs   []string `json:"runs,omitempty"`
	Leaves []string `json:"leaves"`
}

type bindingEntry struct {
	Name     string   `json:"name"`
	Patterns []string `json:"patterns"`
	Runs     string   `json:"runs"`
}

func runListTasks(cmd *cobra.Command, args []string) error {
	project, err := loadProject(cmd)
	if err != nil {
		return err
	}
	tasks, err := services.NewTasks(project)
	if err != nil {
		return err
	}

	var entries []taskEntry
	for _, name := range tasks.Graph.Names() {
		t, _ := tasks.Graph.Lookup(name)
		entries = append(entries, taskEntry{
			Name:   name,
			Kind:   t.Kind().String(),
			Runs:   names(t.Children()),
			Leaves: names(t.Leaves()),
		})
	}

	var bindings []bindingEntry
	for _, b := range services.Bindings(project.Config, tasks) {
		bindings = append(bindings, bindingEntry{Name: b.Name, Patterns: b.Patterns, Runs: b.Task.String()})
	}

	switch tasksFormat {
	case "json":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]interface{}{"tasks": entries, "watch": bindings})
	case "text":
		out := newPrinter(cmd.OutOrStdout())
		out.line(out.label("Tasks"))
		for _, name := range tasks.Graph.Names() {
			t, _ := tasks.Graph.Lookup(name)
			out.line("  %s", t)
		}
		out.line("")
		out.line(out.label("Watch"))
		for _, b := range bindings {
			out.line("  %-8s %v -> %s", b.Name, b.Patterns, b.Runs)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", tasksFormat)
	}
}

func names(tasks []*task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name()
	}
	return out
}
