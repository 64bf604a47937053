package program

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tinyrange/asmlayout/internal/asm"
	"github.com/tinyrange/asmlayout/internal/asm/amd64"
)

// Item is one entry of a section. Exactly one of the kind fields is set;
// the remaining fields modify it.
type Item struct {
	Label   string   `yaml:"label,omitempty"`
	Bytes   []int    `yaml:"bytes,omitempty"`
	Text    string   `yaml:"string,omitempty"`
	Data    []string `yaml:"data,omitempty"`
	LEB128  string   `yaml:"leb128,omitempty"`
	Reserve string   `yaml:"reserve,omitempty"`
	Incbin  string   `yaml:"incbin,omitempty"`
	Align   uint64   `yaml:"align,omitempty"`
	Org     *uint64  `yaml:"org,omitempty"`
	Jmp     string   `yaml:"jmp,omitempty"`
	Jcc     string   `yaml:"jcc,omitempty"`
	Call    string   `yaml:"call,omitempty"`
	Ret     bool     `yaml:"ret,omitempty"`
	Nop     int      `yaml:"nop,omitempty"`
	MovImm  *MovImm  `yaml:"movImm,omitempty"`

	// Size is the bit width of each data value (default 8).
	Size   uint `yaml:"size,omitempty"`
	Signed bool `yaml:"signed,omitempty"`
	// ItemSize is the byte size of each reserved item (default 1).
	ItemSize uint64 `yaml:"itemSize,omitempty"`
	Start    string `yaml:"start,omitempty"`
	MaxLen   string `yaml:"maxLen,omitempty"`
	Fill     *uint8 `yaml:"fill,omitempty"`
	MaxSkip  string `yaml:"maxSkip,omitempty"`
	// Code pads alignment with multi-byte nops.
	Code bool   `yaml:"code,omitempty"`
	Cond string `yaml:"cond,omitempty"`
	// Form is "short", "near" or empty for automatic relaxation.
	Form string `yaml:"form,omitempty"`

	Times string `yaml:"times,omitempty"`
	Line  int    `yaml:"line,omitempty"`
}

type MovImm struct {
	Reg   string `yaml:"reg"`
	Value string `yaml:"value"`
}

func (it *Item) kinds() []string {
	var kinds []string
	add := func(set bool, name string) {
		if set {
			kinds = append(kinds, name)
		}
	}
	add(it.Label != "", "label")
	add(it.Bytes != nil, "bytes")
	add(it.Text != "", "string")
	add(it.Data != nil, "data")
	add(it.LEB128 != "", "leb128")
	add(it.Reserve != "", "reserve")
	add(it.Incbin != "", "incbin")
	add(it.Align != 0, "align")
	add(it.Org != nil, "org")
	add(it.Jmp != "", "jmp")
	add(it.Jcc != "", "jcc")
	add(it.Call != "", "call")
	add(it.Ret, "ret")
	add(it.Nop != 0, "nop")
	add(it.MovImm != nil, "movImm")
	return kinds
}

type builder struct {
	sect *asm.Section
	dir  string
}

func (b *builder) scope() scope {
	return scope{symbol: b.sect.Symbol, here: b.sect.Here}
}

func (b *builder) expr(src string) (asm.Expr, error) {
	return parseExpr(src, b.scope())
}

func (b *builder) item(it *Item) error {
	kinds := it.kinds()
	if len(kinds) != 1 {
		return fmt.Errorf("item must have exactly one kind, has %v", kinds)
	}
	kind := kinds[0]

	if kind == "label" {
		if it.Times != "" {
			return fmt.Errorf("label %q cannot repeat", it.Label)
		}
		_, err := b.sect.DefineLabel(it.Label, it.Line)
		return err
	}

	c, err := b.contents(kind, it)
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	// $ in the repeat count is the start of the repeated bytecode.
	var times *asm.Expr
	if it.Times != "" {
		e, err := b.expr(it.Times)
		if err != nil {
			return fmt.Errorf("times: %w", err)
		}
		times = &e
	}
	bc := b.sect.Append(c, it.Line)
	if times != nil {
		bc.SetMultiple(*times)
	}
	return nil
}

func (b *builder) contents(kind string, it *Item) (asm.Contents, error) {
	switch kind {
	case "bytes":
		raw := make([]byte, len(it.Bytes))
		for i, v := range it.Bytes {
			if v < -128 || v > 255 {
				return nil, fmt.Errorf("byte %d out of range", v)
			}
			raw[i] = byte(v)
		}
		return asm.NewData(asm.RawBytes(raw...)), nil
	case "string":
		return asm.NewData(asm.RawBytes([]byte(it.Text)...)), nil
	case "data":
		size := it.Size
		if size == 0 {
			size = 8
		}
		items := make([]asm.DataItem, 0, len(it.Data))
		for _, src := range it.Data {
			e, err := b.expr(src)
			if err != nil {
				return nil, err
			}
			v := asm.NewValue(e, size)
			v.Signed = it.Signed
			v.Line = it.Line
			items = append(items, asm.ValueItem(v))
		}
		return asm.NewData(items...), nil
	case "leb128":
		e, err := b.expr(it.LEB128)
		if err != nil {
			return nil, err
		}
		return asm.NewLEB128(e, it.Signed), nil
	case "reserve":
		e, err := b.expr(it.Reserve)
		if err != nil {
			return nil, err
		}
		size := it.ItemSize
		if size == 0 {
			size = 1
		}
		return asm.NewReserve(e, size), nil
	case "incbin":
		return b.incbin(it)
	case "align":
		a := asm.NewAlign(it.Align)
		if it.Fill != nil {
			a.Fill = *it.Fill
		}
		if it.MaxSkip != "" {
			e, err := b.expr(it.MaxSkip)
			if err != nil {
				return nil, err
			}
			a.MaxSkip = &e
		}
		if it.Code {
			a.CodeFill = amd64.CodeFill
		}
		return a, nil
	case "org":
		var fill byte
		if it.Fill != nil {
			fill = *it.Fill
		}
		return asm.NewOrg(*it.Org, fill), nil
	case "jmp", "jcc", "call":
		return b.branch(kind, it)
	case "ret":
		return amd64.RetContents(), nil
	case "nop":
		return amd64.NopContents(it.Nop)
	case "movImm":
		reg, err := amd64.LookupReg(it.MovImm.Reg)
		if err != nil {
			return nil, err
		}
		e, err := b.expr(it.MovImm.Value)
		if err != nil {
			return nil, err
		}
		v := asm.Value{Abs: e, Line: it.Line, Signed: it.Signed}
		if e.IsConst() && e.Const().Sign() < 0 {
			v.Signed = true
		}
		return amd64.MovImmContents(reg, v)
	default:
		panic(fmt.Sprintf("program: unhandled item kind %q", kind))
	}
}

func (b *builder) incbin(it *Item) (asm.Contents, error) {
	path := it.Incbin
	if !filepath.IsAbs(path) && b.dir != "" {
		path = filepath.Join(b.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := asm.NewIncludeBinary(it.Incbin, data)
	if it.Start != "" {
		e, err := b.expr(it.Start)
		if err != nil {
			return nil, err
		}
		c.Start = &e
	}
	if it.MaxLen != "" {
		e, err := b.expr(it.MaxLen)
		if err != nil {
			return nil, err
		}
		c.MaxLen = &e
	}
	return c, nil
}

func (b *builder) branch(kind string, it *Item) (asm.Contents, error) {
	var form asm.BranchForm
	switch strings.ToLower(it.Form) {
	case "", "auto":
		form = asm.BranchAuto
	case "short":
		form = asm.BranchShort
	case "near":
		form = asm.BranchNear
	default:
		return nil, fmt.Errorf("unknown branch form %q", it.Form)
	}

	var src string
	switch kind {
	case "jmp":
		src = it.Jmp
	case "jcc":
		src = it.Jcc
	case "call":
		src = it.Call
	}
	target, err := b.expr(src)
	if err != nil {
		return nil, err
	}

	var in *asm.Instruction
	switch kind {
	case "jmp":
		in = amd64.JmpContents(target, form)
	case "jcc":
		cond, err := amd64.LookupCond(strings.ToLower(it.Cond))
		if err != nil {
			return nil, err
		}
		in = amd64.JccContents(cond, target, form)
	case "call":
		if form == asm.BranchShort {
			return nil, fmt.Errorf("call has no short form")
		}
		in = amd64.CallContents(target)
	}
	in.Branch.Target.Line = it.Line
	return in, nil
}
