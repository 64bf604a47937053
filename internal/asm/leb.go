package asm

import (
	"fmt"
	"math/big"

	"github.com/tinyrange/asmlayout/internal/leb128"
)

const spanLEB128 = 1

func (c *LEB128) finalize(l *layout) error {
	c.value = Value{Abs: c.Expr, Signed: c.Signed, Line: l.bc.Line}
	if err := l.obj.finalizeValue(&c.value, l.bc.Location(0)); err != nil {
		return err
	}
	if c.value.HasReloc() {
		return fmt.Errorf("%w: leb128 of symbol %q", ErrNotConstant, l.obj.sym(c.value.Rel).Name)
	}
	return nil
}

func (c *LEB128) calcLen(l *layout) (uint64, error) {
	if c.value.IsConst() {
		c.size = uint64(leb128.Size(c.value.Abs.Const(), c.Signed))
		return c.size, nil
	}
	// Start from the encoding of zero and let the optimizer grow it. A
	// value that is not a distance inside this section is forced to the
	// longest form, which the optimizer rejects.
	c.size = 1
	l.addSpan(spanLEB128, NotifyAnyChange, c.value, 0, 0, 0)
	return c.size, nil
}

func (c *LEB128) expand(bc *Bytecode, sp *Span, old, cur int64) Outcome {
	if n := uint64(leb128.Size(big.NewInt(cur), c.Signed)); n > c.size {
		c.size = n
		bc.length = n
	}
	return watch(0, 0)
}

func (c *LEB128) emit(e *emitter, dst []byte) ([]byte, error) {
	v := e.obj.address(c.value.Abs)
	if !c.Signed && v.Sign() < 0 {
		e.warn(c.value.Line, fmt.Errorf("%w: negative value %s in unsigned leb128", ErrValueOverflow, v))
	}
	out, err := leb128.AppendPadded(dst, v, c.Signed, int(c.size))
	if err != nil {
		return dst, fmt.Errorf("%w: %w", ErrLengthMismatch, err)
	}
	return out, nil
}
