package amd64

import (
	"fmt"

	"github.com/tinyrange/asmlayout/internal/asm"
)

// Cond is the condition code carried in the low nibble of a Jcc opcode.
type Cond uint8

const (
	CondO Cond = iota
	CondNO
	CondB
	CondAE
	CondE
	CondNE
	CondBE
	CondA
	CondS
	CondNS
	CondP
	CondNP
	CondL
	CondGE
	CondLE
	CondG
)

var condNames = map[string]Cond{
	"o": CondO, "no": CondNO,
	"b": CondB, "c": CondB, "nae": CondB,
	"ae": CondAE, "nb": CondAE, "nc": CondAE,
	"e": CondE, "z": CondE,
	"ne": CondNE, "nz": CondNE,
	"be": CondBE, "na": CondBE,
	"a": CondA, "nbe": CondA,
	"s": CondS, "ns": CondNS,
	"p": CondP, "pe": CondP,
	"np": CondNP, "po": CondNP,
	"l": CondL, "nge": CondL,
	"ge": CondGE, "nl": CondGE,
	"le": CondLE, "ng": CondLE,
	"g": CondG, "nle": CondG,
}

// LookupCond parses a condition suffix such as "ne" or "ge".
func LookupCond(name string) (Cond, error) {
	c, ok := condNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown condition %q", name)
	}
	return c, nil
}

func branch(name string, short, near []byte, target asm.Expr, form asm.BranchForm) *asm.Instruction {
	return &asm.Instruction{
		Name: name,
		Branch: &asm.Branch{
			ShortOpcode: short,
			NearOpcode:  near,
			NearSize:    32,
			Target:      asm.NewValue(target, 32),
			Form:        form,
		},
	}
}

// JmpContents is jmp rel8 (EB) relaxing to jmp rel32 (E9).
func JmpContents(target asm.Expr, form asm.BranchForm) *asm.Instruction {
	return branch("jmp", []byte{0xeb}, []byte{0xe9}, target, form)
}

// JccContents is jcc rel8 (7x) relaxing to jcc rel32 (0F 8x).
func JccContents(cond Cond, target asm.Expr, form asm.BranchForm) *asm.Instruction {
	return branch("jcc", []byte{0x70 | byte(cond)}, []byte{0x0f, 0x80 | byte(cond)}, target, form)
}

// CallContents is call rel32 (E8). There is no short form.
func CallContents(target asm.Expr) *asm.Instruction {
	return branch("call", nil, []byte{0xe8}, target, asm.BranchNear)
}

func RetContents() *asm.Instruction {
	return &asm.Instruction{Name: "ret", Bytes: []byte{0xc3}}
}

// NopContents is a single no-op instruction of n bytes.
func NopContents(n int) (*asm.Instruction, error) {
	if n < 1 || n >= len(CodeFill) {
		return nil, fmt.Errorf("no %d-byte nop (1 to %d supported)", n, len(CodeFill)-1)
	}
	return &asm.Instruction{Name: "nop", Bytes: append([]byte(nil), CodeFill[n]...)}, nil
}

// MovImmContents is mov r32, imm32 (B8+r) or mov r64, imm64 (REX.W B8+r).
// The immediate may reference labels and external symbols.
func MovImmContents(dst Reg, v asm.Value) (*asm.Instruction, error) {
	info, err := regEncoding(dst)
	if err != nil {
		return nil, err
	}
	rex := rexState{w: dst.size == size64, b: info.high}

	var out []byte
	if p := rex.prefix(); p != 0 {
		out = append(out, p)
	}
	out = append(out, 0xb8+info.code)
	off := uint64(len(out))
	out = append(out, make([]byte, dst.size)...)

	v.Size = uint(dst.size) * 8
	return &asm.Instruction{
		Name:     "mov",
		Bytes:    out,
		Operands: []asm.Operand{{Offset: off, Value: v}},
	}, nil
}

func put(c asm.Contents) fragmentFunc {
	return func(ctx asm.Context) error {
		ctx.Append(c, 0)
		return nil
	}
}

func target(ctx asm.Context, label asm.Label) asm.Expr {
	return asm.SymRef(ctx.Symbol(string(label)))
}

func Jmp(label asm.Label) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		return put(JmpContents(target(ctx, label), asm.BranchAuto))(ctx)
	})
}

func Jcc(cond Cond, label asm.Label) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		return put(JccContents(cond, target(ctx, label), asm.BranchAuto))(ctx)
	})
}

func Call(label asm.Label) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		return put(CallContents(target(ctx, label)))(ctx)
	})
}

func Ret() asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		return put(RetContents())(ctx)
	})
}

func Nop(n int) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := NopContents(n)
		if err != nil {
			return err
		}
		return put(c)(ctx)
	})
}

func MovImmediate(dst Reg, value int64) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := MovImmContents(dst, asm.Value{Abs: asm.Int(value), Signed: value < 0})
		if err != nil {
			return err
		}
		return put(c)(ctx)
	})
}

// MovAddress loads the absolute address of label.
func MovAddress(dst Reg, label asm.Label) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := MovImmContents(dst, asm.Value{Abs: target(ctx, label)})
		if err != nil {
			return err
		}
		return put(c)(ctx)
	})
}

// AlignCode pads to boundary with multi-byte nops.
func AlignCode(boundary uint64) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		a := asm.NewAlign(boundary)
		a.CodeFill = CodeFill
		return put(a)(ctx)
	})
}
