// Package internal contains the implementation packages of sitepipe.
//
// # Package Organization
//
//   - task: Named tasks composed in series and parallel, and their executor
//   - build: The asset pipelines: templates, styles, scripts, images,
//     sprite, copy and clean, on top of a small file stream
//   - watcher: fsnotify watching with debouncing and the binding table
//     that maps changed paths to tasks
//   - livereload: WebSocket registry of connected browsers
//   - server: Dev server, reverse proxy and client script injection
//   - services: The task graph of a project and the build, serve and init
//     entry points used by the CLI
//   - config: Viper backed configuration with validation
//   - errors: Typed task errors and the per-task failure collector
//   - logging: Structured logging on log/slog
//   - metrics: Prometheus instrumentation
//   - validation: Checks for values handed to external processes
//   - version: Build information
//
// # Design Principles
//
// Tasks never share mutable state. A failing task is reported and recorded
// and never stops the dev loop. Outputs are written only once a pipeline
// has produced every file.
package internal
