package asm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTooComplex         = errors.New("expression too complex")
	ErrNotConstant        = errors.New("expression is not constant")
	ErrCircularReference  = errors.New("circular reference detected")
	ErrSecondaryExpansion = errors.New("secondary expansion of an external or complex value")
	ErrOrgOverlap         = errors.New("ORG overlap with already existing data")
	ErrNoConvergence      = errors.New("layout did not converge")
	ErrNonMonotonic       = errors.New("bytecode length decreased during expansion")
	ErrUndefinedSymbol    = errors.New("undefined symbol")
	ErrSymbolRedefined    = errors.New("symbol redefined")
	ErrValueOverflow      = errors.New("value does not fit")
	ErrValueSize          = errors.New("unsupported value size")
	ErrBranchOutOfRange   = errors.New("branch target out of range")
	ErrNegativeMultiple   = errors.New("multiple is negative")
	ErrMultipleDecreased  = errors.New("multiple moved following data backwards")
	ErrMultipleOffset     = errors.New("cannot combine multiple with alignment or origin")
	ErrBadAlignment       = errors.New("alignment boundary is not a power of two")
	ErrIncbinRange        = errors.New("incbin start past end of data")
	ErrRelocUnsupported   = errors.New("relocation not supported by output format")
	ErrLayoutFailed       = errors.New("layout has errors")
	ErrLengthMismatch     = errors.New("emitted length does not match layout")
	ErrNoBitsData         = errors.New("initialized space declared in nobits section: ignoring")
)

// Severity classifies a Diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	// SeverityInternal marks a broken engine contract rather than a
	// problem in the input.
	SeverityInternal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityInternal:
		return "internal error"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Diagnostic is a single problem reported against a source line.
type Diagnostic struct {
	Severity Severity
	Line     int
	Section  string
	Err      error
}

func (d Diagnostic) Error() string {
	var sb strings.Builder
	if d.Section != "" {
		sb.WriteString(d.Section)
		sb.WriteString(":")
	}
	if d.Line > 0 {
		fmt.Fprintf(&sb, "%d:", d.Line)
	}
	if sb.Len() > 0 {
		sb.WriteString(" ")
	}
	sb.WriteString(d.Severity.String())
	sb.WriteString(": ")
	sb.WriteString(d.Err.Error())
	return sb.String()
}

func (d Diagnostic) Unwrap() error {
	return d.Err
}

// Diagnostics accumulates problems so a single run reports all of them.
type Diagnostics struct {
	list []Diagnostic
}

func (d *Diagnostics) Add(diag Diagnostic) {
	d.list = append(d.list, diag)
}

func (d *Diagnostics) Warn(line int, section string, err error) {
	d.Add(Diagnostic{Severity: SeverityWarning, Line: line, Section: section, Err: err})
}

func (d *Diagnostics) Fail(line int, section string, err error) {
	d.Add(Diagnostic{Severity: SeverityError, Line: line, Section: section, Err: err})
}

func (d *Diagnostics) Internal(section string, err error) {
	d.Add(Diagnostic{Severity: SeverityInternal, Section: section, Err: err})
}

// List returns a copy of the accumulated diagnostics in report order.
func (d *Diagnostics) List() []Diagnostic {
	return append([]Diagnostic(nil), d.list...)
}

// HasErrors reports whether any error or internal error was recorded.
func (d *Diagnostics) HasErrors() bool {
	for _, diag := range d.list {
		if diag.Severity >= SeverityError {
			return true
		}
	}
	return false
}

// Err joins every error-class diagnostic, or returns nil.
func (d *Diagnostics) Err() error {
	return joinErrors(d.list)
}

func joinErrors(list []Diagnostic) error {
	var errs []error
	for _, diag := range list {
		if diag.Severity >= SeverityError {
			errs = append(errs, diag)
		}
	}
	return errors.Join(errs...)
}
