// Package diag prints assembler diagnostics as "file:line: severity:
// message" lines, coloring the severity when writing to a terminal.
package diag

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/tinyrange/asmlayout/internal/asm"
)

var severityStyles = map[asm.Severity]ansi.Style{
	asm.SeverityWarning:  ansi.Style{}.Bold().ForegroundColor(ansi.Yellow),
	asm.SeverityError:    ansi.Style{}.Bold().ForegroundColor(ansi.Red),
	asm.SeverityInternal: ansi.Style{}.Bold().ForegroundColor(ansi.Magenta),
}

type Printer struct {
	w     io.Writer
	color bool

	warnings int
	errors   int
}

// New returns a printer writing to w. Color is enabled when w is a
// terminal.
func New(w io.Writer) *Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{w: w, color: color}
}

// SetColor overrides terminal detection.
func (p *Printer) SetColor(on bool) { p.color = on }

// Print writes one diagnostic reported against file.
func (p *Printer) Print(file string, d asm.Diagnostic) error {
	if d.Severity >= asm.SeverityError {
		p.errors++
	} else {
		p.warnings++
	}

	var sb strings.Builder
	if file != "" {
		sb.WriteString(file)
		sb.WriteByte(':')
	}
	if d.Line > 0 {
		fmt.Fprintf(&sb, "%d:", d.Line)
	}
	if sb.Len() > 0 {
		sb.WriteByte(' ')
	}
	sb.WriteString(p.style(d.Severity, d.Severity.String()))
	sb.WriteString(": ")
	if d.Section != "" {
		fmt.Fprintf(&sb, "[%s] ", d.Section)
	}
	msg := ""
	if d.Err != nil {
		msg = d.Err.Error()
	}
	if !p.color {
		// Messages may quote input that carries escape sequences.
		msg = ansi.Strip(msg)
	}
	sb.WriteString(msg)
	sb.WriteByte('\n')

	_, err := io.WriteString(p.w, sb.String())
	return err
}

// PrintAll writes every diagnostic in order.
func (p *Printer) PrintAll(file string, diags []asm.Diagnostic) error {
	for _, d := range diags {
		if err := p.Print(file, d); err != nil {
			return err
		}
	}
	return nil
}

// Summary writes the warning and error counts, if any.
func (p *Printer) Summary() error {
	if p.warnings == 0 && p.errors == 0 {
		return nil
	}
	_, err := fmt.Fprintf(p.w, "%d warning(s), %d error(s)\n", p.warnings, p.errors)
	return err
}

func (p *Printer) Counts() (warnings, errors int) {
	return p.warnings, p.errors
}

func (p *Printer) style(sev asm.Severity, s string) string {
	if !p.color {
		return s
	}
	st, ok := severityStyles[sev]
	if !ok {
		return s
	}
	return st.Styled(s)
}
