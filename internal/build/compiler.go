package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/validation"
)

// StyleCompiler turns one stylesheet entry into CSS.
type StyleCompiler interface {
	Compile(ctx context.Context, dir, path string, sourceMap bool) ([]byte, error)
}

// CSSProcessor rewrites compiled CSS, e.g. adding vendor prefixes.
type CSSProcessor interface {
	Process(ctx context.Context, dir string, css []byte) ([]byte, error)
}

// allowedTools are the executables sitepipe is willing to start.
var allowedTools = map[string]bool{
	"sass":         true,
	"dart-sass":    true,
	"sassc":        true,
	"npx":          true,
	"postcss":      true,
	"autoprefixer": true,
}

// SassCompiler runs the sass CLI and reads the CSS from its stdout.
type SassCompiler struct {
	command   string
	args      []string
	loadPaths []string
}

// NewSassCompiler creates a compiler from a command line such as "sass"
// or "npx sass".
func NewSassCompiler(commandLine string, loadPaths []string) *SassCompiler {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		fields = []string{"sass"}
	}
	return &SassCompiler{command: fields[0], args: fields[1:], loadPaths: loadPaths}
}

// sassLocation matches the trace line dart-sass prints under an error,
// e.g. "  src/sass/main.scss 3:13  root stylesheet".
var sassLocation = regexp.MustCompile(`(?m)^\s+(\S+\.(?:scss|sass|css)) (\d+):(\d+)\s`)

// Compile compiles path, relative to dir. In source map mode the map is
// embedded in the CSS.
func (sc *SassCompiler) Compile(ctx context.Context, dir, path string, sourceMap bool) ([]byte, error) {
	args := append([]string{}, sc.args...)
	for _, lp := range sc.loadPaths {
		args = append(args, "--load-path="+lp)
	}
	if sourceMap {
		args = append(args, "--embed-source-map", "--embed-sources")
	} else {
		args = append(args, "--no-source-map")
	}
	args = append(args, "--no-color", path)

	if err := validateCommand(sc.command, args); err != nil {
		return nil, sperrors.NewConfigError("STYLE_COMPILER", err.Error())
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, sc.command, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sass interrupted: %w", ctx.Err())
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, sperrors.NewIOError("SASS_NOT_FOUND", "style compiler not installed", err)
		}
		return nil, sassError(path, stderr.String(), err)
	}

	return stdout.Bytes(), nil
}

func sassError(path, stderr string, cause error) error {
	message := strings.TrimSpace(stderr)
	if first, _, ok := strings.Cut(message, "\n"); ok {
		message = first
	}
	message = strings.TrimPrefix(message, "Error: ")
	if message == "" {
		message = "style compilation failed"
	}

	te := sperrors.NewInputError("SASS_SYNTAX", message, cause)
	if m := sassLocation.FindStringSubmatch(stderr); m != nil {
		line, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		return te.WithLocation(m[1], line, col)
	}
	return te.WithLocation(path, 0, 0)
}

// CommandProcessor pipes CSS through an external command's stdin and
// stdout. A missing executable is reported once and the CSS passes
// through unchanged.
type CommandProcessor struct {
	command string
	args    []string
	logger  logging.Logger
	warned  sync.Once
}

// NewCommandProcessor creates a processor from a command line such as
// "postcss --use autoprefixer".
func NewCommandProcessor(commandLine string, logger logging.Logger) *CommandProcessor {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	fields := strings.Fields(commandLine)
	p := &CommandProcessor{logger: logger}
	if len(fields) > 0 {
		p.command, p.args = fields[0], fields[1:]
	}
	return p
}

// Process runs the command on css.
func (p *CommandProcessor) Process(ctx context.Context, dir string, css []byte) ([]byte, error) {
	if p.command == "" {
		return css, nil
	}
	if _, err := exec.LookPath(p.command); err != nil {
		p.warned.Do(func() {
			p.logger.Warn(ctx, err, "CSS post-processor not installed, passing CSS through", "command", p.command)
		})
		return css, nil
	}
	if err := validateCommand(p.command, p.args); err != nil {
		return nil, sperrors.NewConfigError("CSS_PROCESSOR", err.Error())
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(css)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s interrupted: %w", p.command, ctx.Err())
		}
		return nil, sperrors.NewInputError("CSS_PROCESSOR", strings.TrimSpace(stderr.String()), err)
	}

	return stdout.Bytes(), nil
}

// validateCommand checks the executable against the allowlist and every
// argument for shell metacharacters.
func validateCommand(command string, args []string) error {
	if err := validation.ValidateCommand(command, allowedTools); err != nil {
		return fmt.Errorf("command validation failed: %w", err)
	}
	for _, arg := range args {
		if err := validation.ValidateArgument(arg); err != nil {
			return fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}
	return nil
}
