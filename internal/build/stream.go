// Package build implements the asset pipelines: a small stream-transform
// chain (Src, Pipe, PipeIf, Dest) and the concrete copy, template, style,
// script, image, sprite and clean tasks built on top of it.
//
// Every chain reads all of its inputs and runs every stage in memory
// before the first byte is written, so a failing stage leaves the output
// tree exactly as it was.
package build

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	sperrors "github.com/conneroisu/sitepipe/internal/errors"
)

// File is one item flowing through a chain. Path is slash separated and
// relative to the project root. Base is the directory the file's output
// location is computed from, so a file at src/sass/main.scss with base
// src/sass lands at <dest>/main.scss.
type File struct {
	Path     string
	Base     string
	Contents []byte
	Mode     fs.FileMode
}

// Rel returns the path of f relative to its base.
func (f *File) Rel() string {
	if f.Base == "" || f.Base == "." {
		return f.Path
	}
	return strings.TrimPrefix(f.Path, strings.TrimSuffix(f.Base, "/")+"/")
}

// WithExt returns a copy of f whose path carries ext instead of its
// current extension.
func (f *File) WithExt(ext string) *File {
	c := *f
	c.Path = strings.TrimSuffix(f.Path, path.Ext(f.Path)) + ext
	return &c
}

// Stage transforms the files of a chain. A stage may drop, rename, add or
// rewrite files. Returning an error aborts the chain.
type Stage interface {
	Name() string
	Transform(ctx context.Context, files []*File) ([]*File, error)
}

type batchStage struct {
	name string
	fn   func(ctx context.Context, files []*File) ([]*File, error)
}

func (s *batchStage) Name() string { return s.name }

func (s *batchStage) Transform(ctx context.Context, files []*File) ([]*File, error) {
	return s.fn(ctx, files)
}

// Batch turns fn into a Stage that sees every file at once.
func Batch(name string, fn func(ctx context.Context, files []*File) ([]*File, error)) Stage {
	return &batchStage{name: name, fn: fn}
}

// Map turns fn into a Stage applied to each file in order. A nil result
// drops the file.
func Map(name string, fn func(ctx context.Context, f *File) (*File, error)) Stage {
	return Batch(name, func(ctx context.Context, files []*File) ([]*File, error) {
		out := make([]*File, 0, len(files))
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			nf, err := fn(ctx, f)
			if err != nil {
				return nil, err
			}
			if nf != nil {
				out = append(out, nf)
			}
		}
		return out, nil
	})
}

// SrcOption configures Src.
type SrcOption func(*Stream)

// Exclude drops files matching any of patterns.
func Exclude(patterns ...string) SrcOption {
	return func(s *Stream) { s.excludes = append(s.excludes, patterns...) }
}

// Base overrides the directory outputs are computed relative to. By
// default it is the static prefix of the pattern that matched the file.
func Base(dir string) SrcOption {
	return func(s *Stream) { s.base = filepath.ToSlash(dir) }
}

// Stream is a linear chain of stages between a set of source globs and an
// output directory.
type Stream struct {
	root     string
	patterns []string
	excludes []string
	base     string
	stages   []Stage
}

// Src starts a chain reading files under root that match patterns.
func Src(root string, patterns []string, opts ...SrcOption) *Stream {
	s := &Stream{root: root, patterns: patterns}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pipe appends a stage.
func (s *Stream) Pipe(stage Stage) *Stream {
	s.stages = append(s.stages, stage)
	return s
}

// PipeIf appends stage only when cond holds. The condition is evaluated
// when the chain is built, not per file.
func (s *Stream) PipeIf(cond bool, stage Stage) *Stream {
	if cond {
		s.stages = append(s.stages, stage)
	}
	return s
}

// Stages returns the names of the stages in the chain.
func (s *Stream) Stages() []string {
	names := make([]string, len(s.stages))
	for i, st := range s.stages {
		names[i] = st.Name()
	}
	return names
}

// Collect reads the sources and runs every stage without writing.
func (s *Stream) Collect(ctx context.Context) ([]*File, error) {
	files, err := s.read()
	if err != nil {
		return nil, err
	}

	for _, st := range s.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err = st.Transform(ctx, files)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st.Name(), err)
		}
	}

	return files, nil
}

// Dest runs the chain and writes the result under dir, relative to the
// project root. It returns the written paths relative to dir, sorted.
func (s *Stream) Dest(ctx context.Context, dir string) ([]string, error) {
	files, err := s.Collect(ctx)
	if err != nil {
		return nil, err
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		rel := f.Rel()
		target := filepath.Join(s.root, dir, filepath.FromSlash(rel))
		if err := WriteFileAtomic(target, f.Contents, f.Mode); err != nil {
			return written, err
		}
		written = append(written, rel)
	}
	sort.Strings(written)

	return written, nil
}

func (s *Stream) read() ([]*File, error) {
	fsys := os.DirFS(s.root)
	seen := make(map[string]bool)
	var files []*File

	for _, pattern := range s.patterns {
		pattern = filepath.ToSlash(pattern)
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, sperrors.NewConfigError("BAD_GLOB", fmt.Sprintf("pattern %q: %v", pattern, err))
		}
		if len(matches) == 0 && isLiteral(pattern) {
			return nil, sperrors.NewIOError("MISSING_SOURCE", "source file not found", fs.ErrNotExist).
				WithLocation(pattern, 0, 0)
		}

		base := s.base
		if base == "" {
			base, _ = doublestar.SplitPattern(pattern)
		}

		sort.Strings(matches)
		for _, m := range matches {
			if seen[m] || s.excluded(m) {
				continue
			}
			seen[m] = true

			full := filepath.Join(s.root, filepath.FromSlash(m))
			data, err := os.ReadFile(full)
			if err != nil {
				return nil, sperrors.NewIOError("READ_SOURCE", "reading source", err).WithLocation(m, 0, 0)
			}
			mode := fs.FileMode(0644)
			if info, err := os.Stat(full); err == nil {
				mode = info.Mode().Perm()
			}
			files = append(files, &File{Path: m, Base: base, Contents: data, Mode: mode})
		}
	}

	return files, nil
}

func (s *Stream) excluded(p string) bool {
	for _, ex := range s.excludes {
		if ok, _ := doublestar.Match(filepath.ToSlash(ex), p); ok {
			return true
		}
	}
	return false
}

func isLiteral(pattern string) bool {
	return !strings.ContainsAny(pattern, "*?[{\\")
}

// WriteFileAtomic writes data to a temporary file next to target and
// renames it into place, creating parent directories as needed.
func WriteFileAtomic(target string, data []byte, mode fs.FileMode) error {
	if mode == 0 {
		mode = 0644
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return sperrors.NewIOError("MKDIR", "creating output directory", err).WithLocation(dir, 0, 0)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return sperrors.NewIOError("WRITE_OUTPUT", "creating temporary file", err).WithLocation(target, 0, 0)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return sperrors.NewIOError("WRITE_OUTPUT", "writing output", err).WithLocation(target, 0, 0)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return sperrors.NewIOError("WRITE_OUTPUT", "closing output", err).WithLocation(target, 0, 0)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return sperrors.NewIOError("WRITE_OUTPUT", "setting permissions", err).WithLocation(target, 0, 0)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return sperrors.NewIOError("WRITE_OUTPUT", "renaming output", err).WithLocation(target, 0, 0)
	}

	return nil
}
