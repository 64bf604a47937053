package asm

import (
	"fmt"
)

// UnknownOffset is the offset of a bytecode that has not been laid out.
const UnknownOffset = ^uint64(0)

// Bytecode is one layout unit of a section.
type Bytecode struct {
	contents Contents
	Line     int

	multiple *Expr
	mult     int64

	sect    SectionID
	index   int
	length  uint64
	offset  uint64
	symbols []SymbolID
	err     error
}

func (bc *Bytecode) Contents() Contents { return bc.contents }

func (bc *Bytecode) Special() SpecialKind { return bc.contents.Special() }

// Len is the length of one copy, excluding the multiple.
func (bc *Bytecode) Len() uint64 { return bc.length }

func (bc *Bytecode) Offset() uint64 { return bc.offset }

// Mult is the resolved repeat count.
func (bc *Bytecode) Mult() int64 { return bc.mult }

// TotalLen is Len times Mult.
func (bc *Bytecode) TotalLen() uint64 { return bc.length * uint64(bc.mult) }

func (bc *Bytecode) NextOffset() uint64 { return bc.offset + bc.TotalLen() }

func (bc *Bytecode) Index() int { return bc.index }

func (bc *Bytecode) Section() SectionID { return bc.sect }

// Symbols are the labels positioned immediately before this bytecode.
func (bc *Bytecode) Symbols() []SymbolID { return append([]SymbolID(nil), bc.symbols...) }

// Err is the terminal layout error, if any.
func (bc *Bytecode) Err() error { return bc.err }

// Multiple returns the repeat expression, or nil for a single copy.
func (bc *Bytecode) Multiple() *Expr { return bc.multiple }

// SetMultiple repeats the bytecode e times. e may depend on distances in
// the same section, in which case it is settled by the optimizer.
func (bc *Bytecode) SetMultiple(e Expr) {
	bc.multiple = &e
}

// Location returns the position off bytes into the bytecode.
func (bc *Bytecode) Location(off uint64) Location {
	return Location{Section: bc.sect, BC: bc.index, Off: off}
}

// layout carries what contents need while they compute their length.
type layout struct {
	obj  *Object
	sect *Section
	bc   *Bytecode
	// spans collects registrations from calcLen.
	spans []*Span
}

func (l *layout) addSpan(id int, policy NotifyPolicy, v Value, neg, pos, cur int64) {
	l.spans = append(l.spans, &Span{
		BC:     l.bc.index,
		ID:     id,
		Policy: policy,
		Value:  v,
		Neg:    neg,
		Pos:    pos,
		Cur:    cur,
	})
}

func finalizeContents(l *layout) error {
	switch c := l.bc.contents.(type) {
	case *Data:
		return c.finalize(l)
	case *LEB128:
		return c.finalize(l)
	case *Reserve, *IncludeBinary, *Align, *Org:
		return nil
	case *Instruction:
		return c.finalize(l)
	default:
		panic(fmt.Sprintf("asm: unhandled contents %T", c))
	}
}

func calcContentsLen(l *layout) (uint64, error) {
	switch c := l.bc.contents.(type) {
	case *Data:
		return c.calcLen(l)
	case *LEB128:
		return c.calcLen(l)
	case *Reserve:
		return c.calcLen(l)
	case *IncludeBinary:
		return c.calcLen(l)
	case *Align:
		return c.calcLen(l)
	case *Org:
		return c.calcLen(l)
	case *Instruction:
		return c.calcLen(l)
	default:
		panic(fmt.Sprintf("asm: unhandled contents %T", c))
	}
}

// expandContents asks the bytecode to grow for a span whose value moved
// from old to cur.
func expandContents(bc *Bytecode, sp *Span, old, cur int64) Outcome {
	switch c := bc.contents.(type) {
	case *LEB128:
		return c.expand(bc, sp, old, cur)
	case *Instruction:
		return c.expand(bc, sp, old, cur)
	case *Data, *Reserve, *IncludeBinary, *Align, *Org:
		return failed(fmt.Errorf("%s registers no spans (span %d)", c.Kind(), sp.ID))
	default:
		panic(fmt.Sprintf("asm: unhandled contents %T", c))
	}
}

// placeContents recomputes the length of an offset setter at offset.
func placeContents(bc *Bytecode, offset uint64) (uint64, error) {
	switch c := bc.contents.(type) {
	case *Align:
		return c.place(offset), nil
	case *Org:
		return c.place(offset)
	default:
		panic(fmt.Sprintf("asm: %T is not an offset setter", c))
	}
}

func emitContents(e *emitter, dst []byte) ([]byte, error) {
	switch c := e.bc.contents.(type) {
	case *Data:
		return c.emit(e, dst)
	case *LEB128:
		return c.emit(e, dst)
	case *Reserve:
		return appendFill(dst, 0, e.bc.length), nil
	case *IncludeBinary:
		return append(dst, c.Data[c.start:c.start+c.n]...), nil
	case *Align:
		return c.emit(e, dst), nil
	case *Org:
		return appendFill(dst, c.Fill, e.bc.length), nil
	case *Instruction:
		return c.emit(e, dst)
	default:
		panic(fmt.Sprintf("asm: unhandled contents %T", c))
	}
}

func appendFill(dst []byte, fill byte, n uint64) []byte {
	for i := uint64(0); i < n; i++ {
		dst = append(dst, fill)
	}
	return dst
}
