package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// ServeService runs the development loop: an initial build, the dev
// server and the watcher, until interrupted.
type ServeService struct {
	project *Project
	tasks   *Tasks
}

// NewServeService declares the project's tasks.
func NewServeService(p *Project) (*ServeService, error) {
	tasks, err := NewTasks(p)
	if err != nil {
		return nil, err
	}
	return &ServeService{project: p, tasks: tasks}, nil
}

// ServeResult contains the result of a serve operation
type ServeResult struct {
	ServerURL string
}

// Serve runs the dev task's steps in order. A failing initial build is
// reported and serving goes on, so fixing the source recovers through the
// watcher. Serve returns once ctx is cancelled or SIGINT/SIGTERM arrives.
func (s *ServeService) Serve(ctx context.Context) (*ServeResult, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := s.project.Logger
	exec := s.project.Executor
	result := &ServeResult{}

	if err := exec.Run(ctx, s.tasks.Init); err != nil {
		log.Warn(ctx, err, "Initial build failed, serving anyway")
	}

	if err := exec.Run(ctx, s.tasks.Serve); err != nil {
		return result, fmt.Errorf("starting dev server: %w", err)
	}
	result.ServerURL = "http://" + s.tasks.Server.Addr()

	watchErr := exec.Run(ctx, s.tasks.Watch)
	serveErr := s.tasks.Server.Wait()
	log.Info(context.Background(), "Dev loop stopped")

	return result, errors.Join(watchErr, serveErr)
}
