package asm

import (
	"fmt"
)

type ContentKind int

const (
	KindData ContentKind = iota
	KindLEB128
	KindReserve
	KindIncludeBinary
	KindAlign
	KindOrg
	KindInstruction
)

func (k ContentKind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindLEB128:
		return "leb128"
	case KindReserve:
		return "reserve"
	case KindIncludeBinary:
		return "incbin"
	case KindAlign:
		return "align"
	case KindOrg:
		return "org"
	case KindInstruction:
		return "insn"
	default:
		return fmt.Sprintf("ContentKind(%d)", int(k))
	}
}

// SpecialKind lets object formats treat some bytecodes differently
// without knowing their contents.
type SpecialKind int

const (
	SpecialNone SpecialKind = iota
	SpecialReserve
	SpecialOffsetSetter
	SpecialInstruction
)

func (k SpecialKind) String() string {
	switch k {
	case SpecialNone:
		return "none"
	case SpecialReserve:
		return "reserve"
	case SpecialOffsetSetter:
		return "offset-setter"
	case SpecialInstruction:
		return "instruction"
	default:
		return fmt.Sprintf("SpecialKind(%d)", int(k))
	}
}

// Contents is the kind-specific part of a bytecode. The set of
// implementations is closed; see the dispatch in bytecode.go.
type Contents interface {
	Kind() ContentKind
	Special() SpecialKind
	contents()
}

var (
	_ Contents = (*Data)(nil)
	_ Contents = (*LEB128)(nil)
	_ Contents = (*Reserve)(nil)
	_ Contents = (*IncludeBinary)(nil)
	_ Contents = (*Align)(nil)
	_ Contents = (*Org)(nil)
	_ Contents = (*Instruction)(nil)
)

// DataItem is either raw bytes or a sized value.
type DataItem struct {
	Bytes []byte
	Value *Value
}

func RawBytes(b ...byte) DataItem {
	return DataItem{Bytes: append([]byte(nil), b...)}
}

func ValueItem(v Value) DataItem {
	return DataItem{Value: &v}
}

func (d DataItem) size() uint64 {
	if d.Value != nil {
		return uint64(d.Value.Size / 8)
	}
	return uint64(len(d.Bytes))
}

type Data struct {
	Items []DataItem
}

func NewData(items ...DataItem) *Data { return &Data{Items: items} }

func (*Data) Kind() ContentKind    { return KindData }
func (*Data) Special() SpecialKind { return SpecialNone }
func (*Data) contents()            {}

// LEB128 encodes an expression as a variable-length integer. Distances
// between labels of the same section are allowed and grow the encoding
// as needed.
type LEB128 struct {
	Expr   Expr
	Signed bool

	value Value
	size  uint64
}

func NewLEB128(e Expr, signed bool) *LEB128 { return &LEB128{Expr: e, Signed: signed} }

func (*LEB128) Kind() ContentKind    { return KindLEB128 }
func (*LEB128) Special() SpecialKind { return SpecialNone }
func (*LEB128) contents()            {}

// Reserve is Count items of ItemSize zero bytes.
type Reserve struct {
	Count    Expr
	ItemSize uint64
}

func NewReserve(count Expr, itemSize uint64) *Reserve {
	return &Reserve{Count: count, ItemSize: itemSize}
}

func (*Reserve) Kind() ContentKind    { return KindReserve }
func (*Reserve) Special() SpecialKind { return SpecialReserve }
func (*Reserve) contents()            {}

// IncludeBinary copies a slice of Data. Start and MaxLen are optional and
// must be constant.
type IncludeBinary struct {
	Name   string
	Data   []byte
	Start  *Expr
	MaxLen *Expr

	start, n uint64
}

func NewIncludeBinary(name string, data []byte) *IncludeBinary {
	return &IncludeBinary{Name: name, Data: data}
}

func (*IncludeBinary) Kind() ContentKind    { return KindIncludeBinary }
func (*IncludeBinary) Special() SpecialKind { return SpecialNone }
func (*IncludeBinary) contents()            {}

// Align pads to a power-of-two Boundary. Padding longer than MaxSkip (when
// non-zero) is dropped. CodeFill, when set, is indexed by length and holds
// a no-op sequence of that length; otherwise Fill is repeated.
type Align struct {
	Boundary Expr
	Fill     byte
	MaxSkip  *Expr
	CodeFill [][]byte

	boundary uint64
	maxSkip  uint64
}

func NewAlign(boundary uint64) *Align {
	return &Align{Boundary: Int(int64(boundary))}
}

func (*Align) Kind() ContentKind    { return KindAlign }
func (*Align) Special() SpecialKind { return SpecialOffsetSetter }
func (*Align) contents()            {}

// Org pads with Fill up to the section offset Start.
type Org struct {
	Start Expr
	Fill  byte

	start uint64
}

func NewOrg(start uint64, fill byte) *Org {
	return &Org{Start: Int(int64(start)), Fill: fill}
}

func (*Org) Kind() ContentKind    { return KindOrg }
func (*Org) Special() SpecialKind { return SpecialOffsetSetter }
func (*Org) contents()            {}

// Operand is a value patched into an instruction's encoding at a byte
// offset.
type Operand struct {
	Offset uint64
	Value  Value
}

type BranchForm int

const (
	BranchAuto BranchForm = iota
	BranchShort
	BranchNear
)

func (f BranchForm) String() string {
	switch f {
	case BranchAuto:
		return "auto"
	case BranchShort:
		return "short"
	case BranchNear:
		return "near"
	default:
		return fmt.Sprintf("BranchForm(%d)", int(f))
	}
}

// Branch is a relative jump with an 8-bit short form and a wider near
// form. The displacement is relative to the end of the instruction.
type Branch struct {
	ShortOpcode []byte
	NearOpcode  []byte
	// NearSize is the near displacement width in bits.
	NearSize uint
	Target   Value
	Form     BranchForm

	near bool
}

// Near reports whether the near form is selected.
func (b *Branch) Near() bool { return b.near }

func (b *Branch) shortLen() uint64 { return uint64(len(b.ShortOpcode)) + 1 }

func (b *Branch) nearLen() uint64 { return uint64(len(b.NearOpcode)) + uint64(b.NearSize/8) }

func (b *Branch) length() uint64 {
	if b.near {
		return b.nearLen()
	}
	return b.shortLen()
}

// Instruction is a fixed encoding with patched operands, or a relaxable
// Branch when Branch is set.
type Instruction struct {
	Name     string
	Bytes    []byte
	Operands []Operand
	Branch   *Branch
}

func (*Instruction) Kind() ContentKind    { return KindInstruction }
func (*Instruction) Special() SpecialKind { return SpecialInstruction }
func (*Instruction) contents()            {}

func isPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

func nonNegative(v int64, what string) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("%s is negative (%d)", what, v)
	}
	return uint64(v), nil
}
