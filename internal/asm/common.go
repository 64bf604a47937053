package asm

import (
	"fmt"
	"math/big"
)

// Context is where fragments place bytecodes. *Section implements it.
type Context interface {
	Append(c Contents, line int) *Bytecode
	DefineLabel(name string, line int) (SymbolID, error)
	Symbol(name string) SymbolID
}

var (
	_ Context = (*Section)(nil)
)

type Fragment interface {
	Emit(ctx Context) error
}

type Group []Fragment

var (
	_ Fragment = Group{}
)

func (g Group) Emit(ctx Context) error {
	for _, frag := range g {
		if err := frag.Emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

type Label string

type labelDef struct {
	label Label
}

func MarkLabel(label Label) Fragment {
	return &labelDef{label: label}
}

func (l *labelDef) Emit(ctx Context) error {
	if _, err := ctx.DefineLabel(string(l.label), 0); err != nil {
		return fmt.Errorf("label %q: %w", l.label, err)
	}
	return nil
}

type contentsFrag struct {
	contents func() Contents
	times    *Expr
}

// Put appends a bytecode built by fn each time the fragment is emitted.
func Put(fn func() Contents) Fragment {
	return &contentsFrag{contents: fn}
}

// Times appends a bytecode built by fn repeated count times.
func Times(count Expr, fn func() Contents) Fragment {
	return &contentsFrag{contents: fn, times: &count}
}

func (f *contentsFrag) Emit(ctx Context) error {
	bc := ctx.Append(f.contents(), 0)
	if f.times != nil {
		bc.SetMultiple(*f.times)
	}
	return nil
}

type lineContext struct {
	Context
	line int
}

func (c lineContext) Append(contents Contents, _ int) *Bytecode {
	return c.Context.Append(contents, c.line)
}

func (c lineContext) DefineLabel(name string, _ int) (SymbolID, error) {
	return c.Context.DefineLabel(name, c.line)
}

type lineFrag struct {
	line int
	frag Fragment
}

// AtLine tags everything frag emits with a source line.
func AtLine(line int, frag Fragment) Fragment {
	return lineFrag{line: line, frag: frag}
}

func (f lineFrag) Emit(ctx Context) error {
	return f.frag.Emit(lineContext{Context: ctx, line: f.line})
}

// Reloc is a field the linker must patch with Symbol + Addend, minus the
// field address when PCRelative.
type Reloc struct {
	Offset     uint64   `yaml:"offset"`
	Symbol     SymbolID `yaml:"symbol"`
	Addend     int64    `yaml:"addend"`
	Size       uint     `yaml:"size"`
	PCRelative bool     `yaml:"pcrel,omitempty"`
	Signed     bool     `yaml:"signed,omitempty"`
}

// Program is the emitted content of one section.
type Program struct {
	name        string
	code        []byte
	relocations []Reloc
	bssSize     uint64
}

func (p Program) Name() string { return p.name }

func (p Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

func (p Program) Relocations() []Reloc {
	return append([]Reloc(nil), p.relocations...)
}

func (p Program) BSSSize() uint64 {
	return p.bssSize
}

// RelocatedCopy applies every relocation for a program loaded at base.
// resolve supplies symbol addresses.
func (p Program) RelocatedCopy(base uint64, resolve func(SymbolID) (uint64, bool)) ([]byte, error) {
	out := append([]byte(nil), p.code...)
	for _, r := range p.relocations {
		sym, ok := resolve(r.Symbol)
		if !ok {
			return nil, fmt.Errorf("%w: symbol %d", ErrUndefinedSymbol, r.Symbol)
		}
		n := byteSize(r.Size)
		if r.Offset+n > uint64(len(out)) {
			return nil, fmt.Errorf("relocation at 0x%x overruns %d byte program", r.Offset, len(out))
		}
		v := new(big.Int).SetUint64(sym)
		v.Add(v, big.NewInt(r.Addend))
		if r.PCRelative {
			v.Sub(v, new(big.Int).SetUint64(base+r.Offset))
		}
		warn := WarnUnsigned
		if r.Signed || r.PCRelative {
			warn = WarnSigned
		}
		field := out[r.Offset : r.Offset+n]
		clear(field)
		if err := WriteIntNum(field, v, r.Size, 0, warn); err != nil {
			return nil, fmt.Errorf("relocation at 0x%x: %w", r.Offset, err)
		}
	}
	return out, nil
}

func newProgram(name string, code []byte, relocations []Reloc, bss uint64) Program {
	return Program{
		name:        name,
		code:        append([]byte(nil), code...),
		relocations: append([]Reloc(nil), relocations...),
		bssSize:     bss,
	}
}

func byteSize(bits uint) uint64 {
	return uint64(bits+7) / 8
}
