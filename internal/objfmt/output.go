package objfmt

import (
	"errors"
	"fmt"
	"math"

	"github.com/tinyrange/asmlayout/internal/asm"
)

// Output is the asm.Output used by every format in this module. Constant
// values are written in place. References to external symbols become
// relocations on the field's section when AllowRelocs is set.
type Output struct {
	Object      *asm.Object
	AllowRelocs bool
}

var _ asm.Output = (*Output)(nil)

func (o *Output) OutputValue(v *asm.Value, dest []byte, bitOffset uint, loc asm.Location, warn asm.WarnMode) error {
	return asm.WriteValue(dest, v, bitOffset, warn)
}

func (o *Output) OutputReloc(sym asm.SymbolID, v *asm.Value, loc asm.Location, dest []byte, warn asm.WarnMode) error {
	info := o.Object.SymbolInfo(sym)
	if info.Kind == asm.SymbolUndefined {
		return fmt.Errorf("%w: %q", asm.ErrUndefinedSymbol, info.Name)
	}
	if !o.AllowRelocs {
		return fmt.Errorf("%w: reference to %q", asm.ErrRelocUnsupported, info.Name)
	}
	c := v.Abs.Const()
	if !c.IsInt64() {
		return fmt.Errorf("%w: addend %s", asm.ErrValueOverflow, c)
	}
	sect := o.Object.SectionByID(loc.Section)
	sect.AddReloc(asm.Reloc{
		Offset:     o.Object.LocationOffset(loc),
		Symbol:     sym,
		Addend:     c.Int64(),
		Size:       v.Size,
		PCRelative: v.IPRelative,
		Signed:     v.Signed,
	})
	// The field keeps zero bits until the relocation is applied.
	return nil
}

// Place assigns section bases starting at start. Sections with file bytes
// come first in creation order, followed by the NoBits sections. Each base
// is rounded up to align. The sections are returned in placement order.
func Place(obj *asm.Object, start, align uint64) ([]*asm.Section, error) {
	if align == 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("%w: section alignment %d", asm.ErrBadAlignment, align)
	}
	var progbits, nobits []*asm.Section
	for _, s := range obj.Sections() {
		if !s.LaidOut() {
			return nil, fmt.Errorf("section %q has not been laid out", s.Name())
		}
		if s.NoBits {
			nobits = append(nobits, s)
		} else {
			progbits = append(progbits, s)
		}
	}
	order := append(progbits, nobits...)

	addr := start
	for _, s := range order {
		base := alignUp(addr, align)
		if base < addr || base > math.MaxUint64-s.Size() {
			return nil, fmt.Errorf("section %q does not fit in the address space", s.Name())
		}
		s.Base = base
		addr = base + s.Size()
	}
	return order, nil
}

// EmitAll emits the given sections in order. Every section is attempted so
// that all diagnostics end up on the object.
func EmitAll(obj *asm.Object, sections []*asm.Section, out asm.Output) ([]asm.Program, error) {
	progs := make([]asm.Program, 0, len(sections))
	var errs []error
	for _, s := range sections {
		prog, err := obj.EmitSection(s.ID(), out)
		if err != nil {
			errs = append(errs, fmt.Errorf("section %q: %w", s.Name(), err))
			continue
		}
		progs = append(progs, prog)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return progs, nil
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
