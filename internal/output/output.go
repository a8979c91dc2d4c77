// Package output provides consistent CLI output formatting.
//
// A Writer is either decorated (interactive terminal: status marks,
// progress lines) or plain (piped output: stable, grep-friendly
// text). Write errors are intentionally ignored for console output.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Writer formats command output.
type Writer struct {
	out       io.Writer
	decorated bool
}

// New creates a plain Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// NewAuto creates a Writer that decorates output when out is an
// interactive terminal.
func NewAuto(out io.Writer) *Writer {
	w := &Writer{out: out}
	if f, ok := out.(*os.File); ok {
		w.decorated = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return w
}

// Decorated reports whether status marks and progress are shown.
func (w *Writer) Decorated() bool {
	return w.decorated
}

// Printf prints a plain line.
func (w *Writer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format+"\n", args...)
}

// Successf prints a success line, marked on a terminal.
func (w *Writer) Successf(format string, args ...any) {
	w.marked("✓", format, args...)
}

// Warnf prints a warning line, marked on a terminal.
func (w *Writer) Warnf(format string, args ...any) {
	w.marked("!", format, args...)
}

// Progressf prints transient progress. Suppressed when piped so bulk
// runs do not flood downstream consumers.
func (w *Writer) Progressf(format string, args ...any) {
	if !w.decorated {
		return
	}
	_, _ = fmt.Fprintf(w.out, format+"\n", args...)
}

func (w *Writer) marked(mark, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if w.decorated {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", mark, msg)
		return
	}
	_, _ = fmt.Fprintln(w.out, msg)
}
