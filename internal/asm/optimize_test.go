package asm

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type recordedReloc struct {
	sym    SymbolID
	addend int64
	loc    Location
	pcrel  bool
	size   uint
}

type recordOutput struct {
	values int
	relocs []recordedReloc
}

func (r *recordOutput) OutputValue(v *Value, dest []byte, bitOffset uint, loc Location, warn WarnMode) error {
	r.values++
	return WriteValue(dest, v, bitOffset, warn)
}

func (r *recordOutput) OutputReloc(sym SymbolID, v *Value, loc Location, dest []byte, warn WarnMode) error {
	r.relocs = append(r.relocs, recordedReloc{
		sym:    sym,
		addend: v.Abs.Const().Int64(),
		loc:    loc,
		pcrel:  v.IPRelative,
		size:   v.Size,
	})
	return nil
}

func jmp(target Expr) *Instruction {
	return &Instruction{
		Name: "jmp",
		Branch: &Branch{
			ShortOpcode: []byte{0xeb},
			NearOpcode:  []byte{0xe9},
			NearSize:    32,
			Target:      NewValue(target, 32),
		},
	}
}

func filler(n int) *Data {
	return NewData(RawBytes(make([]byte, n)...))
}

func mustLabel(t *testing.T, s *Section, name string) SymbolID {
	t.Helper()
	id, err := s.DefineLabel(name, 0)
	if err != nil {
		t.Fatalf("DefineLabel(%q): %v", name, err)
	}
	return id
}

func labelOffset(o *Object, id SymbolID) uint64 {
	return o.LocationOffset(o.SymbolInfo(id).Label)
}

func emitAll(t *testing.T, o *Object, s *Section, out Output) []byte {
	t.Helper()
	prog, err := o.EmitSection(s.ID(), out)
	if err != nil {
		t.Fatalf("EmitSection(%q): %v", s.Name(), err)
	}
	return prog.Bytes()
}

func checkContiguous(t *testing.T, s *Section) {
	t.Helper()
	var want uint64
	for _, bc := range s.Bytecodes() {
		if got := bc.Offset(); got != want {
			t.Fatalf("bytecode %d offset = %d, want %d", bc.Index(), got, want)
		}
		want += bc.Len() * uint64(bc.Mult())
	}
	if s.Size() != want {
		t.Fatalf("section size = %d, want %d", s.Size(), want)
	}
}

func TestForcedExpansion(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	l := o.Symbol("L")
	a := s.Append(jmp(SymRef(l)), 1)
	s.Append(filler(200), 2)
	mustLabel(t, s, "L")
	s.Append(NewData(RawBytes(0xc3)), 3)

	stats, err := o.FinalizeSection(s.ID())
	if err != nil {
		t.Fatalf("FinalizeSection: %v", err)
	}
	if got, want := stats.Passes, 2; got != want {
		t.Fatalf("Passes = %d, want %d", got, want)
	}
	if got, want := stats.Expansions, 1; got != want {
		t.Fatalf("Expansions = %d, want %d", got, want)
	}
	if got, want := a.Len(), uint64(5); got != want {
		t.Fatalf("jmp length = %d, want %d", got, want)
	}
	if got, want := labelOffset(o, l), uint64(205); got != want {
		t.Fatalf("L offset = %d, want %d", got, want)
	}
	spans := s.Spans()
	if len(spans) != 1 || spans[0].State != SpanRetired || spans[0].Policy != NotifyOutsideWindow {
		t.Fatalf("spans = %+v, want one retired outside-window span", spans)
	}
	checkContiguous(t, s)

	code := emitAll(t, o, s, &recordOutput{})
	if got, want := code[:5], []byte{0xe9, 0xc8, 0x00, 0x00, 0x00}; !bytes.Equal(got, want) {
		t.Fatalf("jmp bytes = % x, want % x", got, want)
	}
	if got, want := len(code), 206; got != want {
		t.Fatalf("len(code) = %d, want %d", got, want)
	}
}

func TestShortBranchStaysShort(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	l := o.Symbol("back")
	mustLabel(t, s, "back")
	s.Append(filler(100), 0)
	s.Append(jmp(SymRef(l)), 0)

	stats, err := o.FinalizeSection(s.ID())
	if err != nil {
		t.Fatalf("FinalizeSection: %v", err)
	}
	if stats.Passes != 1 || stats.Expansions != 0 {
		t.Fatalf("stats = %+v, want a single pass without expansions", stats)
	}
	code := emitAll(t, o, s, &recordOutput{})
	// -102 from the end of the jmp.
	if got, want := code[100:], []byte{0xeb, 0x9a}; !bytes.Equal(got, want) {
		t.Fatalf("jmp bytes = % x, want % x", got, want)
	}
}

func TestRepeatedBranch(t *testing.T) {
	tests := []struct {
		name  string
		times int64
		len   uint64
		tail  []byte
	}{
		// Copies stay short while the last one still reaches back.
		{"short", 3, 2, []byte{0xeb, 0xf4, 0xeb, 0xf2, 0xeb, 0xf0}},
		// The 70th copy would need -140.
		{"near", 70, 5, []byte{0xe9, 0x98, 0xfe, 0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewObject(Options{})
			s := o.Section(".text")
			mustLabel(t, s, "back")
			s.Append(filler(10), 0)
			bc := s.Append(jmp(SymRef(o.Symbol("back"))), 0)
			bc.SetMultiple(Int(tt.times))

			if _, err := o.FinalizeSection(s.ID()); err != nil {
				t.Fatalf("FinalizeSection: %v", err)
			}
			if bc.Len() != tt.len {
				t.Fatalf("copy length = %d, want %d", bc.Len(), tt.len)
			}
			checkContiguous(t, s)
			code := emitAll(t, o, s, &recordOutput{})
			if got, want := uint64(len(code)), 10+uint64(tt.times)*tt.len; got != want {
				t.Fatalf("len(code) = %d, want %d", got, want)
			}
			if got := code[len(code)-len(tt.tail):]; !bytes.Equal(got, tt.tail) {
				t.Fatalf("tail = % x, want % x", got, tt.tail)
			}
		})
	}
}

// chainedBranches builds a section where growing the second branch pushes
// the first one out of its short window.
func chainedBranches(t *testing.T, opts Options) (*Object, *Section, *Bytecode, *Bytecode) {
	t.Helper()
	o := NewObject(opts)
	s := o.Section(".text")
	a := s.Append(jmp(SymRef(o.Symbol("L1"))), 0)
	b := s.Append(jmp(SymRef(o.Symbol("L2"))), 0)
	s.Append(filler(124), 0)
	mustLabel(t, s, "L1")
	s.Append(filler(200), 0)
	mustLabel(t, s, "L2")
	return o, s, a, b
}

func TestChainedExpansion(t *testing.T) {
	o, s, a, b := chainedBranches(t, Options{})
	stats, err := o.FinalizeSection(s.ID())
	if err != nil {
		t.Fatalf("FinalizeSection: %v", err)
	}
	if got, want := stats.Passes, 2; got != want {
		t.Fatalf("Passes = %d, want %d", got, want)
	}
	if a.Len() != 5 || b.Len() != 5 {
		t.Fatalf("lengths = %d, %d, want 5, 5", a.Len(), b.Len())
	}
	if got, want := labelOffset(o, o.Symbol("L2")), uint64(334); got != want {
		t.Fatalf("L2 offset = %d, want %d", got, want)
	}
	checkContiguous(t, s)

	code := emitAll(t, o, s, &recordOutput{})
	want := []byte{0xe9, 0x81, 0x00, 0x00, 0x00, 0xe9, 0x44, 0x01, 0x00, 0x00}
	if !bytes.Equal(code[:10], want) {
		t.Fatalf("branches = % x, want % x", code[:10], want)
	}
}

// Each branch targets a label just past the next branch, so expanding the
// last one ripples back to the first.
func TestCascadeConvergesInTwoPasses(t *testing.T) {
	const k = 4
	o := NewObject(Options{})
	s := o.Section(".text")
	var branches []*Bytecode
	for i := 0; i < k; i++ {
		if i > 0 {
			s.Append(filler(125), 0)
		}
		branches = append(branches, s.Append(jmp(SymRef(o.Symbol(fmt.Sprintf("L%d", i)))), 0))
		if i > 0 {
			mustLabel(t, s, fmt.Sprintf("L%d", i-1))
		}
	}
	s.Append(filler(200), 0)
	mustLabel(t, s, fmt.Sprintf("L%d", k-1))

	stats, err := o.FinalizeSection(s.ID())
	if err != nil {
		t.Fatalf("FinalizeSection: %v", err)
	}
	if got, want := stats.Passes, 2; got != want {
		t.Fatalf("Passes = %d, want %d", got, want)
	}
	if got, want := stats.Expansions, k; got != want {
		t.Fatalf("Expansions = %d, want %d", got, want)
	}
	for i, bc := range branches {
		if bc.Len() != 5 {
			t.Errorf("branch %d length = %d, want 5", i, bc.Len())
		}
	}
	if got, want := s.Size(), uint64(595); got != want {
		t.Fatalf("section size = %d, want %d", got, want)
	}
	checkContiguous(t, s)

	code := emitAll(t, o, s, &recordOutput{})
	if got, want := code[:5], []byte{0xe9, 0x82, 0x00, 0x00, 0x00}; !bytes.Equal(got, want) {
		t.Fatalf("first branch = % x, want % x", got, want)
	}
}

// trackedChain adds a repeated byte after the chained branches whose count
// is the distance from the first branch to L2, so it grows with every
// branch expansion.
func trackedChain(t *testing.T, opts Options) (*Object, *Section, *Bytecode) {
	t.Helper()
	o, s, a, _ := chainedBranches(t, opts)
	rep := s.Append(filler(1), 0)
	rep.SetMultiple(SymRef(o.Symbol("L2")).Sub(LocRef(a.Location(0))))
	return o, s, rep
}

func TestTrackedChain(t *testing.T) {
	o, s, rep := trackedChain(t, Options{})
	stats, err := o.FinalizeSection(s.ID())
	if err != nil {
		t.Fatalf("FinalizeSection: %v", err)
	}
	if got, want := rep.Mult(), int64(334); got != want {
		t.Fatalf("Mult = %d, want %d", got, want)
	}
	if stats.Passes != 2 || stats.Expansions != 4 {
		t.Fatalf("stats = %+v, want 2 passes and 4 expansions", stats)
	}
	checkContiguous(t, s)
}

func TestIterationCap(t *testing.T) {
	o, s, _ := trackedChain(t, Options{MaxPasses: 1})
	_, err := o.FinalizeSection(s.ID())
	if !errors.Is(err, ErrNoConvergence) {
		t.Fatalf("FinalizeSection error = %v, want ErrNoConvergence", err)
	}
	diags := o.Diagnostics()
	if len(diags) != 1 || diags[0].Severity != SeverityInternal {
		t.Fatalf("diagnostics = %v, want one internal error", diags)
	}
	if _, err := o.EmitSection(s.ID(), &recordOutput{}); !errors.Is(err, ErrLayoutFailed) {
		t.Fatalf("EmitSection error = %v, want ErrLayoutFailed", err)
	}
}

func TestIdempotentEmission(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	ext, _ := o.DeclareExtern("ext", 0)
	here := o.Symbol("here")
	mustLabel(t, s, "here")
	bc := s.Append(NewData(
		RawBytes(0x48),
		ValueItem(Value{Abs: SymRef(here).AddInt(3), Size: 32}),
		ValueItem(Value{Abs: SymRef(ext), Size: 64}),
	), 0)
	bc.SetMultiple(Int(3))
	s.Base = 0x1000

	if err := o.FinalizeLayout(); err != nil {
		t.Fatalf("FinalizeLayout: %v", err)
	}
	out := &recordOutput{}
	first, _, err := o.ResolveAndEmit(bc, out)
	if err != nil {
		t.Fatalf("ResolveAndEmit: %v", err)
	}
	second, _, err := o.ResolveAndEmit(bc, out)
	if err != nil {
		t.Fatalf("ResolveAndEmit (again): %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("emission differs:\n% x\n% x", first, second)
	}
	if got, want := len(first), 3*13; got != want {
		t.Fatalf("len = %d, want %d", got, want)
	}
	if got, want := first[1:5], []byte{0x03, 0x10, 0x00, 0x00}; !bytes.Equal(got, want) {
		t.Fatalf("address field = % x, want % x", got, want)
	}
}

func TestRelocationDeferral(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	ext, _ := o.DeclareExtern("puts", 0)
	s.Append(NewData(ValueItem(Value{Abs: SymRef(ext).AddInt(4), Size: 32})), 1)
	call := s.Append(jmp(SymRef(ext)), 2)

	if err := o.FinalizeLayout(); err != nil {
		t.Fatalf("FinalizeLayout: %v", err)
	}
	if got, want := call.Len(), uint64(5); got != want {
		t.Fatalf("branch to extern length = %d, want %d", got, want)
	}

	out := &recordOutput{}
	code := emitAll(t, o, s, out)
	if out.values != 0 {
		t.Fatalf("OutputValue called %d times, want 0", out.values)
	}
	want := []recordedReloc{
		{sym: ext, addend: 4, loc: Location{Section: s.ID(), BC: 0, Off: 0}, size: 32},
		{sym: ext, addend: -4, loc: Location{Section: s.ID(), BC: 1, Off: 1}, pcrel: true, size: 32},
	}
	if len(out.relocs) != len(want) {
		t.Fatalf("relocs = %+v, want %+v", out.relocs, want)
	}
	for i := range want {
		if out.relocs[i] != want[i] {
			t.Errorf("reloc %d = %+v, want %+v", i, out.relocs[i], want[i])
		}
	}
	if got, want := len(code), 9; got != want {
		t.Fatalf("len(code) = %d, want %d", got, want)
	}
}

func TestEquCycle(t *testing.T) {
	o := NewObject(Options{})
	a := o.Symbol("a")
	b := o.Symbol("b")
	if _, err := o.DefineEqu("a", SymRef(b).AddInt(1), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := o.DefineEqu("b", SymRef(a), 2); err != nil {
		t.Fatal(err)
	}
	s := o.Section(".data")
	bc := s.Append(NewData(ValueItem(NewValue(SymRef(a), 32))), 3)

	_, err := o.FinalizeSection(s.ID())
	if !errors.Is(err, ErrCircularReference) {
		t.Fatalf("FinalizeSection error = %v, want ErrCircularReference", err)
	}
	if !errors.Is(bc.Err(), ErrCircularReference) {
		t.Fatalf("bytecode error = %v", bc.Err())
	}
}

func TestEquExpansion(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".data")
	start := o.Symbol("start")
	end := o.Symbol("end")
	if _, err := o.DefineEqu("len", SymRef(end).Sub(SymRef(start)), 0); err != nil {
		t.Fatal(err)
	}
	mustLabel(t, s, "start")
	s.Append(NewData(ValueItem(NewValue(SymRef(o.Symbol("len")).Scale(2), 16))), 0)
	s.Append(filler(6), 0)
	mustLabel(t, s, "end")

	if err := o.FinalizeLayout(); err != nil {
		t.Fatalf("FinalizeLayout: %v", err)
	}
	code := emitAll(t, o, s, &recordOutput{})
	if got, want := code[:2], []byte{16, 0}; !bytes.Equal(got, want) {
		t.Fatalf("2*len = % x, want % x", got, want)
	}
}

func TestDeferredMultiple(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	mustLabel(t, s, "a")
	s.Append(filler(3), 0)
	mustLabel(t, s, "b")
	rep := s.Append(NewData(RawBytes(0x90)), 0)
	rep.SetMultiple(SymRef(o.Symbol("b")).Sub(SymRef(o.Symbol("a"))))
	mustLabel(t, s, "c")

	stats, err := o.FinalizeSection(s.ID())
	if err != nil {
		t.Fatalf("FinalizeSection: %v", err)
	}
	if got, want := rep.Mult(), int64(3); got != want {
		t.Fatalf("Mult = %d, want %d", got, want)
	}
	if got, want := stats.Passes, 2; got != want {
		t.Fatalf("Passes = %d, want %d", got, want)
	}
	if got, want := labelOffset(o, o.Symbol("c")), uint64(6); got != want {
		t.Fatalf("c offset = %d, want %d", got, want)
	}
	checkContiguous(t, s)
}

func TestMultipleCircular(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	mustLabel(t, s, "a")
	rep := s.Append(NewData(RawBytes(0x90)), 7)
	rep.SetMultiple(SymRef(o.Symbol("b")).Sub(SymRef(o.Symbol("a"))))
	mustLabel(t, s, "b")

	_, err := o.FinalizeSection(s.ID())
	if !errors.Is(err, ErrCircularReference) {
		t.Fatalf("FinalizeSection error = %v, want ErrCircularReference", err)
	}
	diags := o.Diagnostics()
	if len(diags) != 1 || diags[0].Line != 7 {
		t.Fatalf("diagnostics = %v, want one on line 7", diags)
	}
}

func TestMultipleErrors(t *testing.T) {
	tests := []struct {
		name     string
		contents Contents
		times    Expr
		want     error
	}{
		{"negative", filler(1), Int(-2), ErrNegativeMultiple},
		{"offset setter", NewAlign(4), Int(2), ErrMultipleOffset},
		{"extern", filler(1), SymRef(1), ErrNotConstant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewObject(Options{})
			o.DeclareExtern("ext", 0)
			s := o.Section(".text")
			s.Append(tt.contents, 0).SetMultiple(tt.times)
			if _, err := o.FinalizeSection(s.ID()); !errors.Is(err, tt.want) {
				t.Fatalf("FinalizeSection error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOrg(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	s.Append(filler(2), 0)
	org := s.Append(NewOrg(8, 0xcc), 0)
	s.Append(NewData(RawBytes(0x01)), 0)

	if err := o.FinalizeLayout(); err != nil {
		t.Fatalf("FinalizeLayout: %v", err)
	}
	if got, want := org.Len(), uint64(6); got != want {
		t.Fatalf("org length = %d, want %d", got, want)
	}
	code := emitAll(t, o, s, &recordOutput{})
	want := []byte{0, 0, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0x01}
	if !bytes.Equal(code, want) {
		t.Fatalf("code = % x, want % x", code, want)
	}
}

func TestOrgOverlap(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	s.Append(filler(8), 0)
	org := s.Append(NewOrg(4, 0), 12)

	_, err := o.FinalizeSection(s.ID())
	if !errors.Is(err, ErrOrgOverlap) {
		t.Fatalf("FinalizeSection error = %v, want ErrOrgOverlap", err)
	}
	if !errors.Is(org.Err(), ErrOrgOverlap) {
		t.Fatalf("org error = %v", org.Err())
	}
}

func TestAlign(t *testing.T) {
	nops := [][]byte{nil, {0x90}, {0x66, 0x90}, {0x0f, 0x1f, 0x00}}
	tests := []struct {
		name  string
		align *Align
		want  []byte
	}{
		{"fill", &Align{Boundary: Int(8), Fill: 0xcc}, []byte{0xcc, 0xcc, 0xcc, 0xcc, 0xcc}},
		{"max skip", &Align{Boundary: Int(8), MaxSkip: ptr(Int(2))}, nil},
		{"code fill", &Align{Boundary: Int(8), CodeFill: nops}, []byte{0x0f, 0x1f, 0x00, 0x66, 0x90}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewObject(Options{})
			s := o.Section(".text")
			s.Append(filler(3), 0)
			a := s.Append(tt.align, 0)
			s.Append(NewData(RawBytes(0xc3)), 0)
			if err := o.FinalizeLayout(); err != nil {
				t.Fatalf("FinalizeLayout: %v", err)
			}
			if got, want := a.Len(), uint64(len(tt.want)); got != want {
				t.Fatalf("align length = %d, want %d", got, want)
			}
			checkContiguous(t, s)
			code := emitAll(t, o, s, &recordOutput{})
			if got := code[3 : len(code)-1]; !bytes.Equal(got, tt.want) {
				t.Fatalf("padding = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestAlignAbsorbsExpansion(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	j := s.Append(jmp(SymRef(o.Symbol("far"))), 0)
	a := s.Append(NewAlign(16), 0)
	s.Append(filler(300), 0)
	mustLabel(t, s, "far")

	if err := o.FinalizeLayout(); err != nil {
		t.Fatalf("FinalizeLayout: %v", err)
	}
	if j.Len() != 5 || a.Len() != 11 {
		t.Fatalf("lengths = %d, %d, want 5, 11", j.Len(), a.Len())
	}
	if got, want := labelOffset(o, o.Symbol("far")), uint64(316); got != want {
		t.Fatalf("far offset = %d, want %d", got, want)
	}
	checkContiguous(t, s)
}

func TestBadAlignment(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	s.Append(NewAlign(12), 0)
	if _, err := o.FinalizeSection(s.ID()); !errors.Is(err, ErrBadAlignment) {
		t.Fatalf("FinalizeSection error = %v, want ErrBadAlignment", err)
	}
}

func TestCollectAllDiagnostics(t *testing.T) {
	o := NewObject(Options{})
	o.DefineEqu("loop", SymRef(o.Symbol("loop")), 0)
	s := o.Section(".text")
	s.Append(filler(8), 1)
	s.Append(NewOrg(4, 0), 2)
	s.Append(NewAlign(3), 3)
	s.Append(NewData(ValueItem(NewValue(SymRef(o.Symbol("loop")), 8))), 4)
	good := s.Append(jmp(SymRef(o.Symbol("end"))), 5)
	s.Append(filler(200), 6)
	mustLabel(t, s, "end")

	_, err := o.FinalizeSection(s.ID())
	if err == nil {
		t.Fatalf("FinalizeSection succeeded")
	}
	var lines []int
	for _, d := range o.Diagnostics() {
		lines = append(lines, d.Line)
	}
	if len(lines) != 3 || lines[0] != 3 || lines[1] != 4 || lines[2] != 2 {
		t.Fatalf("diagnostic lines = %v, want [3 4 2]", lines)
	}
	for _, want := range []error{ErrOrgOverlap, ErrBadAlignment, ErrCircularReference} {
		if !errors.Is(err, want) {
			t.Errorf("error %v does not include %v", err, want)
		}
	}
	if got, want := good.Len(), uint64(5); got != want {
		t.Fatalf("unrelated branch length = %d, want %d", got, want)
	}
}

func TestLEB128Distance(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".debug")
	leb := s.Append(NewLEB128(SymRef(o.Symbol("end")).Sub(SymRef(o.Symbol("start"))), false), 0)
	mustLabel(t, s, "start")
	s.Append(filler(200), 0)
	mustLabel(t, s, "end")

	stats, err := o.FinalizeSection(s.ID())
	if err != nil {
		t.Fatalf("FinalizeSection: %v", err)
	}
	if leb.Len() != 2 || stats.Passes != 2 {
		t.Fatalf("leb length = %d after %d passes, want 2 after 2", leb.Len(), stats.Passes)
	}
	code := emitAll(t, o, s, &recordOutput{})
	if got, want := code[:2], []byte{0xc8, 0x01}; !bytes.Equal(got, want) {
		t.Fatalf("leb bytes = % x, want % x", got, want)
	}
}

func TestSecondaryExpansion(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".data")
	mustLabel(t, s, "here")
	s.Append(NewLEB128(SymRef(o.Symbol("here")), false), 0)

	_, err := o.FinalizeSection(s.ID())
	if !errors.Is(err, ErrSecondaryExpansion) {
		t.Fatalf("FinalizeSection error = %v, want ErrSecondaryExpansion", err)
	}
}

func TestLayoutRequiredBeforeEmit(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	bc := s.Append(filler(1), 0)
	if _, _, err := o.ResolveAndEmit(bc, &recordOutput{}); err == nil {
		t.Fatalf("ResolveAndEmit before layout succeeded")
	}
}

func TestRedefinedLabel(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	mustLabel(t, s, "x")
	if _, err := s.DefineLabel("x", 4); !errors.Is(err, ErrSymbolRedefined) {
		t.Fatalf("DefineLabel error = %v, want ErrSymbolRedefined", err)
	}
}

func TestDumpYAML(t *testing.T) {
	o := NewObject(Options{})
	s := o.Section(".text")
	s.Append(jmp(SymRef(o.Symbol("L"))), 1)
	s.Append(filler(200), 2)
	mustLabel(t, s, "L")
	if err := o.FinalizeLayout(); err != nil {
		t.Fatalf("FinalizeLayout: %v", err)
	}

	var buf bytes.Buffer
	if err := o.DumpYAML(&buf); err != nil {
		t.Fatalf("DumpYAML: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"name: .text",
		"passes: 2",
		"policy: outside-window",
		"state: retired",
		"trailing_labels:",
		"value: .text+0xcd",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}

func ptr[T any](v T) *T { return &v }
