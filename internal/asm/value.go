package asm

import (
	"fmt"
)

// Value is an expression destined for a fixed-width field.
//
// After finalization Abs only references locations, Rel holds the single
// symbol left for the linker (if any) and Sub the location subtracted from
// the result (for IP-relative fields and branch displacements).
type Value struct {
	Abs Expr
	Rel SymbolID
	Sub *Location

	// Size is the field width in bits.
	Size uint

	Signed     bool
	IPRelative bool
	JumpTarget bool
	NoWarn     bool

	Line int

	finalized bool
}

func NewValue(e Expr, size uint) Value {
	return Value{Abs: e, Size: size}
}

// Clone returns a copy that shares nothing mutable with v.
func (v *Value) Clone() Value {
	c := *v
	if v.Sub != nil {
		sub := *v.Sub
		c.Sub = &sub
	}
	return c
}

// IsConst reports whether the value needs neither layout nor a relocation.
func (v *Value) IsConst() bool {
	return v.Abs.IsConst() && !v.HasReloc() && v.Sub == nil
}

// HasReloc reports whether emission will defer to a relocation.
func (v *Value) HasReloc() bool { return v.Rel != NoSymbol }

func (v *Value) warnMode() WarnMode {
	switch {
	case v.NoWarn:
		return WarnNone
	case v.Signed:
		return WarnSigned
	default:
		return WarnUnsigned
	}
}

// finalize expands EQUs and labels and splits off the relocation symbol.
// site is the field location used when the value is IP-relative.
func (o *Object) finalizeValue(v *Value, site Location) error {
	if v.finalized {
		return nil
	}
	e, err := o.expand(v.Abs)
	if err != nil {
		return err
	}

	var rel SymbolID
	var locs []Term
	for _, t := range e.terms {
		if t.IsLocation() {
			locs = append(locs, t)
			continue
		}
		if rel != NoSymbol || t.Coef != 1 {
			return fmt.Errorf("%w: %s", ErrTooComplex, v.Abs)
		}
		rel = t.Sym
	}

	v.Abs = Expr{c: e.Const()}.Add(Expr{terms: locs})
	v.Rel = rel
	if v.IPRelative && v.Sub == nil {
		sub := site
		v.Sub = &sub
	}
	v.finalized = true
	return nil
}
