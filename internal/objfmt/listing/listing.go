// Package listing writes a human-readable listing of a laid-out object:
// every bytecode with its address, emitted bytes and labels, followed by
// the relocations left for a linker.
package listing

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/tinyrange/asmlayout/internal/asm"
	"github.com/tinyrange/asmlayout/internal/objfmt"
)

// maxBytes is the number of bytes shown per bytecode before eliding.
const maxBytes = 8

type Format struct {
	Origin       uint64
	SectionAlign uint64
}

var _ objfmt.Format = (*Format)(nil)

func (*Format) Name() string { return "listing" }

func (f *Format) Write(obj *asm.Object, w io.Writer) error {
	align := f.SectionAlign
	if align == 0 {
		align = 1
	}
	order, err := objfmt.Place(obj, f.Origin, align)
	if err != nil {
		return err
	}
	progs, err := objfmt.EmitAll(obj, order, &objfmt.Output{Object: obj, AllowRelocs: true})
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for i, s := range order {
		if i > 0 {
			buf.WriteByte('\n')
		}
		writeSection(&buf, obj, s, progs[i])
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func writeSection(buf *bytes.Buffer, obj *asm.Object, s *asm.Section, prog asm.Program) {
	fmt.Fprintf(buf, "section %s base=0x%x size=%d", s.Name(), s.Base, s.Size())
	if s.NoBits {
		buf.WriteString(" nobits")
	}
	stats := s.Stats()
	fmt.Fprintf(buf, " passes=%d spans=%d\n", stats.Passes, stats.Spans)

	code := prog.Bytes()
	for _, bc := range s.Bytecodes() {
		for _, id := range bc.Symbols() {
			fmt.Fprintf(buf, "%s:\n", obj.SymbolInfo(id).Name)
		}
		var shown []byte
		if !s.NoBits {
			shown = code[bc.Offset():bc.NextOffset()]
		}
		fmt.Fprintf(buf, "  %08x  %-*s  %s", s.Base+bc.Offset(), maxBytes*3+3, hexBytes(shown), describe(bc))
		if bc.Line > 0 {
			fmt.Fprintf(buf, "  ; line %d", bc.Line)
		}
		buf.WriteByte('\n')
	}
	for _, id := range s.TrailingLabels() {
		fmt.Fprintf(buf, "%s:\n", obj.SymbolInfo(id).Name)
	}

	for _, r := range prog.Relocations() {
		kind := "abs"
		if r.PCRelative {
			kind = "pcrel"
		}
		fmt.Fprintf(buf, "  reloc %08x  %s%+d  %s%d\n", s.Base+r.Offset, obj.SymbolInfo(r.Symbol).Name, r.Addend, kind, r.Size)
	}
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i == maxBytes {
			sb.WriteString("...")
			break
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", c)
	}
	return sb.String()
}

func describe(bc *asm.Bytecode) string {
	var desc string
	switch c := bc.Contents().(type) {
	case *asm.Instruction:
		desc = c.Name
		if b := c.Branch; b != nil {
			if b.Near() {
				desc += " near"
			} else {
				desc += " short"
			}
		}
	case *asm.IncludeBinary:
		desc = fmt.Sprintf("incbin %q", c.Name)
	default:
		desc = c.Kind().String()
	}
	m := bc.Multiple()
	switch {
	case m != nil && !m.IsConst():
		desc += fmt.Sprintf(" x%d (deferred)", bc.Mult())
	case bc.Mult() != 1:
		desc += fmt.Sprintf(" x%d", bc.Mult())
	}
	return desc
}
