package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/muesli/termenv"

	sperrors "github.com/conneroisu/sitepipe/internal/errors"
)

// printer writes command summaries, colored when the writer is a terminal.
type printer struct {
	out *termenv.Output
}

func newPrinter(w io.Writer) *printer {
	return &printer{out: termenv.NewOutput(w)}
}

func (p *printer) styled(s, color string) termenv.Style {
	return p.out.String(s).Foreground(p.out.Color(color))
}

func (p *printer) success(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", p.styled("✓", "#04B575"), fmt.Sprintf(format, args...))
}

func (p *printer) failure(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", p.styled("✗", "#FF5F87"), fmt.Sprintf(format, args...))
}

func (p *printer) line(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) label(s string) string {
	return p.out.String(s).Bold().String()
}

// failures lists each failed task with the location that caused it.
func (p *printer) failures(failures []sperrors.Failure) {
	for _, f := range failures {
		where := ""
		if f.FilePath != "" {
			where = " " + f.FilePath
			if f.Line > 0 {
				where = fmt.Sprintf("%s:%d", where, f.Line)
			}
		}
		p.failure("%s [%s]%s", p.label(f.Task), f.Type, where)
		p.line("    %s", f.Message)
	}
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
