package asm

import (
	"errors"
	"fmt"
	"math/big"
)

// WarnMode selects the range a written value is checked against.
type WarnMode int

const (
	WarnNone WarnMode = iota
	// WarnSigned accepts [-2^(n-1), 2^(n-1)).
	WarnSigned
	// WarnUnsigned accepts [-2^(n-1), 2^n) so that negative constants
	// can still fill unsigned fields.
	WarnUnsigned
)

func (m WarnMode) String() string {
	switch m {
	case WarnNone:
		return "none"
	case WarnSigned:
		return "signed"
	case WarnUnsigned:
		return "unsigned"
	default:
		return fmt.Sprintf("WarnMode(%d)", int(m))
	}
}

// Output is implemented by object formats to place values and relocations
// into emitted bytes. Both methods must only touch the bits they own and
// produce the same result when called twice with the same arguments.
type Output interface {
	// OutputValue writes v, which has no relocation symbol and a constant
	// Abs, into dest at bitOffset. loc is the field location.
	OutputValue(v *Value, dest []byte, bitOffset uint, loc Location, warn WarnMode) error
	// OutputReloc handles a value that refers to sym. v.Abs is the
	// constant addend.
	OutputReloc(sym SymbolID, v *Value, loc Location, dest []byte, warn WarnMode) error
}

// WriteIntNum ORs the low size bits of n, shifted left by shift bits, into
// the little-endian buffer dest. If n does not fit under warn it still
// writes the truncated bits and returns an error wrapping
// ErrValueOverflow.
func WriteIntNum(dest []byte, n *big.Int, size, shift uint, warn WarnMode) error {
	if need := (size + shift + 7) / 8; uint(len(dest)) < need {
		return fmt.Errorf("destination has %d bytes, %d-bit value at bit %d needs %d", len(dest), size, shift, need)
	}

	var overflow error
	if !fits(n, size, warn) {
		overflow = fmt.Errorf("%w: %s in %d bits (%s)", ErrValueOverflow, n, size, warn)
	}

	mod := new(big.Int).Lsh(big.NewInt(1), size)
	bits := new(big.Int).Mod(n, mod)
	bits.Lsh(bits, shift)

	raw := bits.Bytes()
	for i, b := range raw {
		// raw is big-endian.
		dest[len(raw)-1-i] |= b
	}
	return overflow
}

func fits(n *big.Int, size uint, warn WarnMode) bool {
	if warn == WarnNone || size == 0 {
		return true
	}
	lo := new(big.Int).Lsh(big.NewInt(1), size-1)
	lo.Neg(lo)
	var hi *big.Int
	if warn == WarnSigned {
		hi = new(big.Int).Lsh(big.NewInt(1), size-1)
	} else {
		hi = new(big.Int).Lsh(big.NewInt(1), size)
	}
	return n.Cmp(lo) >= 0 && n.Cmp(hi) < 0
}

// WriteValue writes a constant value with WriteIntNum. It is the common
// body of an OutputValue implementation.
func WriteValue(dest []byte, v *Value, shift uint, warn WarnMode) error {
	if !v.IsConst() {
		return fmt.Errorf("%w: %s", ErrNotConstant, v.Abs)
	}
	if v.NoWarn {
		warn = WarnNone
	}
	return WriteIntNum(dest, v.Abs.Const(), v.Size, shift, warn)
}

// emitter serializes one bytecode, one copy at a time.
type emitter struct {
	obj  *Object
	sect *Section
	bc   *Bytecode
	out  Output

	// copyOff is the offset of the current copy from the bytecode start.
	copyOff uint64
	diags   Diagnostics
}

func (e *emitter) warn(line int, err error) {
	e.diags.Warn(line, e.sect.name, err)
}

// value resolves v for the field at byte offset at inside the current
// copy and hands it to the output.
func (e *emitter) value(orig *Value, dest []byte, at uint64) {
	v := orig.Clone()
	if v.Sub != nil && v.Sub.Section == e.sect.id && v.Sub.BC == e.bc.index {
		v.Sub.Off += e.copyOff
	}
	field := e.bc.Location(e.copyOff + at)
	warn := v.warnMode()

	abs := e.obj.address(v.Abs)
	var err error
	if !v.HasReloc() {
		if v.Sub != nil {
			abs.Sub(abs, new(big.Int).SetUint64(e.obj.LocationAddress(*v.Sub)))
		}
		v.Abs = Expr{c: abs}
		v.Sub = nil
		err = e.out.OutputValue(&v, dest, 0, field, warn)
	} else {
		if v.Sub != nil {
			// The linker subtracts the field address; correct for a
			// subtracted location elsewhere.
			delta := int64(e.obj.LocationOffset(field)) - int64(e.obj.LocationOffset(*v.Sub))
			if v.Sub.Section != field.Section {
				err = fmt.Errorf("%w: relative to another section", ErrTooComplex)
			}
			abs.Add(abs, big.NewInt(delta))
			v.IPRelative = true
		}
		v.Abs = Expr{c: abs}
		if err == nil {
			err = e.out.OutputReloc(v.Rel, &v, field, dest, warn)
		}
	}

	line := orig.Line
	if line == 0 {
		line = e.bc.Line
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrValueOverflow) && orig.JumpTarget:
		e.diags.Fail(line, e.sect.name, fmt.Errorf("%w: %w", ErrBranchOutOfRange, err))
	case errors.Is(err, ErrValueOverflow):
		e.warn(line, err)
	default:
		e.diags.Fail(line, e.sect.name, err)
	}
}

// ResolveAndEmit returns the bytes of a laid-out bytecode. Values are
// resolved against the final offsets and section bases and passed to out.
// Warnings are returned with the bytes; the error joins everything worse.
// Calling it again with the same output yields the same bytes.
func (o *Object) ResolveAndEmit(bc *Bytecode, out Output) ([]byte, []Diagnostic, error) {
	s := o.SectionByID(bc.sect)
	if !s.laidOut {
		return nil, nil, fmt.Errorf("section %q has not been laid out", s.name)
	}
	if bc.err != nil {
		return nil, nil, fmt.Errorf("%w: bytecode %d: %w", ErrLayoutFailed, bc.index, bc.err)
	}

	e := &emitter{obj: o, sect: s, bc: bc, out: out}
	buf := make([]byte, 0, bc.TotalLen())
	for k := int64(0); k < bc.mult; k++ {
		e.copyOff = uint64(k) * bc.length
		start := len(buf)
		var err error
		buf, err = emitContents(e, buf)
		if err == nil && uint64(len(buf)-start) != bc.length {
			err = fmt.Errorf("%w: %s bytecode %d produced %d bytes, laid out as %d",
				ErrLengthMismatch, bc.contents.Kind(), bc.index, len(buf)-start, bc.length)
		}
		if err != nil {
			e.diags.Add(Diagnostic{Severity: SeverityInternal, Line: bc.Line, Section: s.name, Err: err})
			break
		}
	}
	return buf, e.diags.List(), e.diags.Err()
}

// EmitSection emits every bytecode of a section and records the
// diagnostics on the object. Sections whose layout failed are refused.
func (o *Object) EmitSection(id SectionID, out Output) (Program, error) {
	s := o.SectionByID(id)
	if !s.laidOut {
		return Program{}, fmt.Errorf("section %q has not been laid out", s.name)
	}
	if s.failed {
		return Program{}, fmt.Errorf("%w: section %q", ErrLayoutFailed, s.name)
	}

	var code []byte
	var bss uint64
	var diags Diagnostics
	for _, bc := range s.bcs {
		b, list, _ := o.ResolveAndEmit(bc, out)
		for _, d := range list {
			diags.Add(d)
		}
		if s.NoBits {
			// Reserved space and padding are the only uninitialized bytes.
			if sp := bc.Special(); len(b) > 0 && (sp == SpecialNone || sp == SpecialInstruction) {
				diags.Warn(bc.Line, s.name, fmt.Errorf("%w (%s)", ErrNoBitsData, bc.contents.Kind()))
			}
			bss += uint64(len(b))
			continue
		}
		code = append(code, b...)
	}
	for _, d := range diags.list {
		o.diags.Add(d)
	}
	if err := diags.Err(); err != nil {
		return Program{}, err
	}
	return newProgram(s.name, code, s.Relocs(), bss), nil
}
