// Package errs carries source-located compiler diagnostics and the
// caret-style printer used to report them, independently of the
// internal-error path used by the rsi package for invariant violations.
package errs

import (
	"fmt"
	"strings"

	"github.com/robotino04/rsharpc/token"
)

// SourceError is one diagnostic tied to a source location, with the full
// line of source it occurred on so the printer can render a caret
// without re-reading the file.
type SourceError struct {
	Pos     token.Pos
	Message string
	Line    string
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Message)
}

func New(pos token.Pos, line, format string, args ...any) *SourceError {
	return &SourceError{Pos: pos, Line: line, Message: fmt.Sprintf(format, args...)}
}

// List collects every diagnostic produced by a single validation pass;
// parsing and semantic analysis both keep going after a recoverable
// error so they can report as many as possible in one run.
type List struct {
	Errors []*SourceError
}

func (l *List) Add(pos token.Pos, line, format string, args ...any) {
	l.Errors = append(l.Errors, New(pos, line, format, args...))
}

func (l *List) HasErrors() bool { return len(l.Errors) > 0 }

func (l *List) Err() error {
	if !l.HasErrors() {
		return nil
	}
	return l
}

func (l *List) Error() string {
	parts := make([]string, len(l.Errors))
	for i, e := range l.Errors {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "\n")
}

const (
	colorRed   = "\033[1;31m"
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
)

// Print renders one error with a bold source-position header, the
// offending line, and a red caret under the reported column.
func Print(e *SourceError, useColor bool) string {
	var b strings.Builder
	header := fmt.Sprintf("%s: %s", e.Pos, e.Message)
	if useColor {
		header = colorBold + header + colorReset
	}
	fmt.Fprintln(&b, header)
	if e.Line != "" {
		fmt.Fprintln(&b, e.Line)
		caret := strings.Repeat(" ", max(e.Pos.Column-1, 0)) + "^"
		if useColor {
			caret = colorRed + caret + colorReset
		}
		fmt.Fprintln(&b, caret)
	}
	return b.String()
}
