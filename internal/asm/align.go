package asm

import (
	"fmt"
)

func (a *Align) calcLen(l *layout) (uint64, error) {
	v, err := l.obj.constInt64(a.Boundary)
	if err != nil {
		return 0, fmt.Errorf("align boundary: %w", err)
	}
	if v <= 0 || !isPowerOfTwo(uint64(v)) {
		return 0, fmt.Errorf("%w: %d", ErrBadAlignment, v)
	}
	a.boundary = uint64(v)

	a.maxSkip = 0
	if a.MaxSkip != nil {
		v, err := l.obj.constInt64(*a.MaxSkip)
		if err != nil {
			return 0, fmt.Errorf("align max skip: %w", err)
		}
		if a.maxSkip, err = nonNegative(v, "align max skip"); err != nil {
			return 0, err
		}
	}
	if len(a.CodeFill) > 0 {
		for n := 1; n < len(a.CodeFill); n++ {
			if len(a.CodeFill[n]) != n {
				return 0, fmt.Errorf("align code fill entry %d has %d bytes", n, len(a.CodeFill[n]))
			}
		}
		if len(a.CodeFill) < 2 {
			return 0, fmt.Errorf("align code fill has no entries")
		}
	}
	// The real length is only known once the offset is.
	return 0, nil
}

func (a *Align) place(offset uint64) uint64 {
	pad := (a.boundary - offset%a.boundary) % a.boundary
	if a.maxSkip != 0 && pad > a.maxSkip {
		return 0
	}
	return pad
}

func (a *Align) emit(e *emitter, dst []byte) []byte {
	n := e.bc.length
	if len(a.CodeFill) == 0 {
		return appendFill(dst, a.Fill, n)
	}
	longest := uint64(len(a.CodeFill) - 1)
	for n > 0 {
		k := min(n, longest)
		dst = append(dst, a.CodeFill[k]...)
		n -= k
	}
	return dst
}

func (o *Org) calcLen(l *layout) (uint64, error) {
	v, err := l.obj.constInt64(o.Start)
	if err != nil {
		return 0, fmt.Errorf("org: %w", err)
	}
	if o.start, err = nonNegative(v, "org"); err != nil {
		return 0, err
	}
	return 0, nil
}

func (o *Org) place(offset uint64) (uint64, error) {
	if offset > o.start {
		return 0, fmt.Errorf("%w: at 0x%x, origin 0x%x", ErrOrgOverlap, offset, o.start)
	}
	return o.start - offset, nil
}
