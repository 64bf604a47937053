package elf

import (
	"bytes"
	"debug/elf"
	"errors"
	"testing"

	"github.com/tinyrange/asmlayout/internal/asm"
	"github.com/tinyrange/asmlayout/internal/asm/amd64"
)

func helloObject(t *testing.T) *asm.Object {
	t.Helper()
	obj := asm.NewObject(asm.Options{})
	if _, err := obj.DeclareExtern("puts", 1); err != nil {
		t.Fatalf("DeclareExtern: %v", err)
	}
	text := obj.Section(".text")
	err := asm.Group{
		asm.MarkLabel("_start"),
		amd64.MovAddress(amd64.Reg32(amd64.RSI), "msg"),
		asm.MarkLabel("call"),
		amd64.Call("puts"),
		amd64.Ret(),
	}.Emit(text)
	if err != nil {
		t.Fatalf("emit .text: %v", err)
	}
	data := obj.Section(".data")
	err = asm.Group{
		asm.MarkLabel("msg"),
		asm.Put(func() asm.Contents { return asm.NewData(asm.RawBytes('h', 'i')) }),
	}.Emit(data)
	if err != nil {
		t.Fatalf("emit .data: %v", err)
	}
	bss := obj.Section(".bss")
	bss.NoBits = true
	bss.Append(asm.NewReserve(asm.Int(32), 1), 0)

	if err := obj.FinalizeLayout(); err != nil {
		t.Fatalf("FinalizeLayout: %v", err)
	}
	return obj
}

func TestExecutableHeader(t *testing.T) {
	obj := helloObject(t)
	f := &Format{Config: Config{Entry: "_start", Externs: map[string]uint64{"puts": 0x500000}}}
	out, err := f.Executable(obj)
	if err != nil {
		t.Fatalf("Executable: %v", err)
	}

	cfg := DefaultConfig()
	ef, err := elf.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("parse ELF: %v", err)
	}
	defer ef.Close()

	if got, want := ef.FileHeader.Type, elf.ET_EXEC; got != want {
		t.Fatalf("ELF type=%v, want %v", got, want)
	}
	if got, want := ef.FileHeader.Machine, elf.EM_X86_64; got != want {
		t.Fatalf("machine=%v, want %v", got, want)
	}
	if got, want := ef.FileHeader.Entry, cfg.BaseAddress; got != want {
		t.Fatalf("entry point=%#x, want %#x", got, want)
	}
	if len(ef.Progs) != 1 {
		t.Fatalf("expected single program header, got %d", len(ef.Progs))
	}
	ph := ef.Progs[0]
	if got, want := ph.Type, elf.PT_LOAD; got != want {
		t.Fatalf("program header type=%v, want %v", got, want)
	}
	if got, want := ph.Flags, cfg.SegmentFlags; got != want {
		t.Fatalf("segment flags=%v, want %v", got, want)
	}
	if got, want := ph.Off, cfg.SegmentOffset; got != want {
		t.Fatalf("segment offset=%#x, want %#x", got, want)
	}
	if got, want := ph.Vaddr, cfg.BaseAddress; got != want {
		t.Fatalf("segment vaddr=%#x, want %#x", got, want)
	}
	// 11 bytes of code, 5 bytes of padding, 2 bytes of data.
	if got, want := ph.Filesz, uint64(18); got != want {
		t.Fatalf("segment filesz=%d, want %d", got, want)
	}
	// .bss starts at 0x20 and holds 32 bytes.
	if got, want := ph.Memsz, uint64(0x40); got != want {
		t.Fatalf("segment memsz=%#x, want %#x", got, want)
	}

	want := []byte{
		0xbe, 0x10, 0x10, 0x40, 0x00, // mov esi, msg
		0xe8, 0xf6, 0xef, 0x0f, 0x00, // call puts
		0xc3,
		0, 0, 0, 0, 0,
		'h', 'i',
	}
	if got := out[cfg.SegmentOffset:]; !bytes.Equal(got, want) {
		t.Fatalf("segment = % x, want % x", got, want)
	}
}

func TestExecutableEntry(t *testing.T) {
	obj := helloObject(t)
	f := &Format{Config: Config{Entry: "call", Externs: map[string]uint64{"puts": 0x500000}}}
	out, err := f.Executable(obj)
	if err != nil {
		t.Fatalf("Executable: %v", err)
	}
	ef, err := elf.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("parse ELF: %v", err)
	}
	defer ef.Close()
	if got, want := ef.FileHeader.Entry, uint64(0x401005); got != want {
		t.Fatalf("entry point=%#x, want %#x", got, want)
	}

	f.Config.Entry = "missing"
	if _, err := f.Executable(helloObject(t)); !errors.Is(err, asm.ErrUndefinedSymbol) {
		t.Fatalf("missing entry error = %v, want ErrUndefinedSymbol", err)
	}
}

func TestExecutableUnresolvedExtern(t *testing.T) {
	_, err := (&Format{}).Executable(helloObject(t))
	if !errors.Is(err, asm.ErrUndefinedSymbol) {
		t.Fatalf("Executable error = %v, want ErrUndefinedSymbol", err)
	}
}

func TestCustomConfig(t *testing.T) {
	obj := asm.NewObject(asm.Options{})
	if err := amd64.Ret().Emit(obj.Section(".text")); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := obj.FinalizeLayout(); err != nil {
		t.Fatalf("FinalizeLayout: %v", err)
	}

	cfg := Config{
		BaseAddress:      0x500000,
		SegmentOffset:    0x2000,
		SegmentAlignment: 0x1000,
		SegmentFlags:     elf.PF_R | elf.PF_X,
	}
	out, err := (&Format{Config: cfg}).Executable(obj)
	if err != nil {
		t.Fatalf("Executable: %v", err)
	}
	ef, err := elf.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("parse ELF: %v", err)
	}
	defer ef.Close()
	ph := ef.Progs[0]
	if ph.Off != cfg.SegmentOffset || ph.Vaddr != cfg.BaseAddress || ph.Flags != cfg.SegmentFlags {
		t.Fatalf("program header = %+v", ph.ProgHeader)
	}
	if got := out[cfg.SegmentOffset:]; !bytes.Equal(got, []byte{0xc3}) {
		t.Fatalf("segment = % x", got)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"offset too small", Config{SegmentOffset: 0x10, SegmentAlignment: 0x10, BaseAddress: 0x1000}},
		{"alignment not power of two", Config{SegmentAlignment: 0x1800}},
		{"offset misaligned", Config{SegmentOffset: 0x1800}},
		{"base below offset", Config{BaseAddress: 0x800}},
		{"base incongruent", Config{BaseAddress: 0x401800}},
	}
	for _, tt := range tests {
		if err := tt.cfg.withDefaults().validate(); err == nil {
			t.Errorf("%s: validate succeeded", tt.name)
		}
	}
	if err := DefaultConfig().validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
}
