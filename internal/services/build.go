package services

import (
	"context"
	"fmt"
	"time"

	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/task"
)

// BuildService runs the one-shot entry point and individual tasks.
type BuildService struct {
	project *Project
	tasks   *Tasks
}

// NewBuildService declares the project's tasks.
func NewBuildService(p *Project) (*BuildService, error) {
	tasks, err := NewTasks(p)
	if err != nil {
		return nil, err
	}
	return &BuildService{project: p, tasks: tasks}, nil
}

// Tasks returns the declared task graph.
func (s *BuildService) Tasks() *Tasks {
	return s.tasks
}

// BuildOptions contains options for the build process
type BuildOptions struct {
	// Clean empties the output directory first.
	Clean bool
}

// BuildResult contains the result of a build operation
type BuildResult struct {
	Duration time.Duration
	Success  bool
	Failures []sperrors.Failure
}

// Build runs the build task, everything in parallel once. Failures left
// over from an earlier build of the same project are forgotten first.
func (s *BuildService) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()
	result := &BuildResult{}
	s.project.Failures.Clear()

	root := s.tasks.Build
	if opts.Clean {
		root = task.Series("clean-build", s.tasks.Clean, s.tasks.Build)
	}

	err := s.project.Executor.Run(ctx, root)
	result.Duration = time.Since(start)
	result.Failures = s.project.Failures.Failures()
	result.Success = err == nil && !s.project.Failures.HasFailures()
	if err != nil {
		return result, fmt.Errorf("build failed: %w", err)
	}

	s.project.Logger.Info(ctx, "Build finished", "duration", result.Duration, "mode", s.project.Config.Mode)
	return result, nil
}

// Run runs the named tasks one after another.
func (s *BuildService) Run(ctx context.Context, names ...string) error {
	tasks, err := s.tasks.Graph.Resolve(names...)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := s.project.Executor.Run(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
