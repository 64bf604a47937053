package asm

import (
	"fmt"
)

const spanBranch = 1

func (in *Instruction) finalize(l *layout) error {
	for i := range in.Operands {
		op := &in.Operands[i]
		if err := l.obj.finalizeValue(&op.Value, l.bc.Location(op.Offset)); err != nil {
			return fmt.Errorf("%s operand %d: %w", in.Name, i, err)
		}
	}
	if b := in.Branch; b != nil {
		if err := l.obj.finalizeValue(&b.Target, l.bc.Location(0)); err != nil {
			return fmt.Errorf("%s target: %w", in.Name, err)
		}
		start := l.bc.Location(0)
		b.Target.Sub = &start
		b.Target.Signed = true
		b.Target.JumpTarget = true
	}
	return nil
}

func (in *Instruction) calcLen(l *layout) (uint64, error) {
	b := in.Branch
	if b == nil {
		for i, op := range in.Operands {
			if op.Value.Size == 0 || op.Value.Size%8 != 0 {
				return 0, fmt.Errorf("%s operand %d: %w: %d bits", in.Name, i, ErrValueSize, op.Value.Size)
			}
			if op.Offset+uint64(op.Value.Size/8) > uint64(len(in.Bytes)) {
				return 0, fmt.Errorf("%s operand %d lies outside the %d byte encoding", in.Name, i, len(in.Bytes))
			}
		}
		return uint64(len(in.Bytes)), nil
	}

	if b.NearSize == 0 || b.NearSize%8 != 0 {
		return 0, fmt.Errorf("%s: %w: %d bit displacement", in.Name, ErrValueSize, b.NearSize)
	}
	switch {
	case b.Form == BranchNear || b.ShortOpcode == nil:
		b.near = true
	case b.Form == BranchShort:
		b.near = false
	case l.bc.multiple != nil && l.bc.mult == 0:
		// A deferred repeat count leaves the later copies unplaced.
		b.near = true
	default:
		b.near = false
		n := int64(b.shortLen())
		// The displacement is taken from the end of the short form. Copy k
		// sits k*n bytes further on, so the last copy bounds the backward
		// reach.
		reach := n * max(1, l.bc.mult)
		l.addSpan(spanBranch, NotifyOutsideWindow, b.Target, -128+reach, 127+n, 0)
	}
	return b.length(), nil
}

func (in *Instruction) expand(bc *Bytecode, sp *Span, old, cur int64) Outcome {
	b := in.Branch
	if b == nil || sp.ID != spanBranch {
		return failed(fmt.Errorf("%s: unexpected span %d", in.Name, sp.ID))
	}
	b.near = true
	bc.length = b.length()
	return retire()
}

func (in *Instruction) emit(e *emitter, dst []byte) ([]byte, error) {
	start := len(dst)
	b := in.Branch
	if b == nil {
		dst = append(dst, in.Bytes...)
		for i := range in.Operands {
			op := &in.Operands[i]
			at := start + int(op.Offset)
			e.value(&op.Value, dst[at:at+int(op.Value.Size/8)], op.Offset)
		}
		return dst, nil
	}

	opcode, size := b.ShortOpcode, uint(8)
	if b.near {
		opcode, size = b.NearOpcode, b.NearSize
	}
	dst = append(dst, opcode...)
	dst = append(dst, make([]byte, size/8)...)

	v := b.Target.Clone()
	v.Size = size
	v.Abs = v.Abs.AddInt(-int64(b.length()))
	e.value(&v, dst[start+len(opcode):], uint64(len(opcode)))
	return dst, nil
}
