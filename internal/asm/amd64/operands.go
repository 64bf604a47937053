package amd64

import (
	"fmt"

	"github.com/tinyrange/asmlayout/internal/asm"
)

type operandSize uint8

const (
	size32 operandSize = 4
	size64 operandSize = 8
)

type RegID uint8

const (
	RAX RegID = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// Reg represents a general-purpose register with an explicit operand size.
type Reg struct {
	id   RegID
	size operandSize
}

// Reg64 constructs a 64-bit register operand.
func Reg64(id RegID) Reg { return Reg{id: id, size: size64} }

// Reg32 constructs a 32-bit register operand.
func Reg32(id RegID) Reg { return Reg{id: id, size: size32} }

func (r Reg) String() string {
	if int(r.id) >= len(regNames) {
		return fmt.Sprintf("reg%d", r.id)
	}
	name := regNames[r.id]
	if r.size == size32 {
		if r.id >= R8 {
			return name + "d"
		}
		return "e" + name[1:]
	}
	return name
}

// LookupReg parses a register name such as "rax", "ecx" or "r9d".
func LookupReg(name string) (Reg, error) {
	for id, n := range regNames {
		if name == n {
			return Reg64(RegID(id)), nil
		}
		if name == Reg32(RegID(id)).String() {
			return Reg32(RegID(id)), nil
		}
	}
	return Reg{}, fmt.Errorf("unknown register %q", name)
}

type registerCode struct {
	code byte
	high bool
}

func regEncoding(reg Reg) (registerCode, error) {
	if reg.id > R15 {
		return registerCode{}, fmt.Errorf("invalid register id %d", reg.id)
	}
	if reg.size != size32 && reg.size != size64 {
		return registerCode{}, fmt.Errorf("unsupported %d-bit register width", reg.size*8)
	}
	return registerCode{code: byte(reg.id) & 7, high: reg.id >= R8}, nil
}

type rexState struct {
	w bool
	b bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.b {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.b {
		p |= 0x01
	}
	return p
}

type fragmentFunc func(asm.Context) error

func (f fragmentFunc) Emit(ctx asm.Context) error { return f(ctx) }
