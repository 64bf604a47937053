package objfmt

import (
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/tinyrange/asmlayout/internal/asm"
)

type namedFormat string

func (f namedFormat) Name() string                        { return string(f) }
func (f namedFormat) Write(*asm.Object, io.Writer) error { return nil }

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(namedFormat("elf"), namedFormat("bin"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if got, want := r.Names(), []string{"bin", "elf"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	f, err := r.Lookup("bin")
	if err != nil || f.Name() != "bin" {
		t.Fatalf("Lookup(bin) = %v, %v", f, err)
	}
	if _, err := r.Lookup("coff"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("Lookup(coff) error = %v, want ErrUnknownFormat", err)
	}
	if err := r.Register(namedFormat("bin")); err == nil {
		t.Fatalf("duplicate Register succeeded")
	}
}

func externObject(t *testing.T, declare bool) (*asm.Object, *asm.Section) {
	t.Helper()
	obj := asm.NewObject(asm.Options{})
	text := obj.Section(".text")
	if declare {
		if _, err := obj.DeclareExtern("puts", 1); err != nil {
			t.Fatalf("DeclareExtern: %v", err)
		}
	}
	text.Append(asm.NewData(asm.RawBytes(0xaa)), 1)
	v := asm.NewValue(asm.SymRef(obj.Symbol("puts")).AddInt(8), 32)
	text.Append(asm.NewData(asm.ValueItem(v)), 2)
	if err := obj.FinalizeLayout(); err != nil {
		t.Fatalf("FinalizeLayout: %v", err)
	}
	return obj, text
}

func TestOutputRecordsRelocation(t *testing.T) {
	obj, text := externObject(t, true)
	prog, err := obj.EmitSection(text.ID(), &Output{Object: obj, AllowRelocs: true})
	if err != nil {
		t.Fatalf("EmitSection: %v", err)
	}
	if got, want := prog.Bytes(), []byte{0xaa, 0, 0, 0, 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("bytes = % x, want % x", got, want)
	}
	puts, _ := obj.LookupSymbol("puts")
	want := []asm.Reloc{{Offset: 1, Symbol: puts, Addend: 8, Size: 32}}
	if got := prog.Relocations(); !reflect.DeepEqual(got, want) {
		t.Fatalf("relocations = %+v, want %+v", got, want)
	}
}

func TestOutputRejectsRelocations(t *testing.T) {
	obj, text := externObject(t, true)
	_, err := obj.EmitSection(text.ID(), &Output{Object: obj})
	if !errors.Is(err, asm.ErrRelocUnsupported) {
		t.Fatalf("EmitSection error = %v, want ErrRelocUnsupported", err)
	}
	diags := obj.Diagnostics()
	if len(diags) != 1 || diags[0].Line != 2 {
		t.Fatalf("diagnostics = %v, want one on line 2", diags)
	}
}

func TestOutputUndefinedSymbol(t *testing.T) {
	obj, text := externObject(t, false)
	_, err := obj.EmitSection(text.ID(), &Output{Object: obj, AllowRelocs: true})
	if !errors.Is(err, asm.ErrUndefinedSymbol) {
		t.Fatalf("EmitSection error = %v, want ErrUndefinedSymbol", err)
	}
}

func TestPlace(t *testing.T) {
	obj := asm.NewObject(asm.Options{})
	text := obj.Section(".text")
	text.Append(asm.NewData(asm.RawBytes(1, 2, 3, 4, 5)), 0)
	bss := obj.Section(".bss")
	bss.NoBits = true
	bss.Append(asm.NewReserve(asm.Int(16), 1), 0)
	data := obj.Section(".data")
	data.Append(asm.NewData(asm.RawBytes(6, 7, 8)), 0)
	if err := obj.FinalizeLayout(); err != nil {
		t.Fatalf("FinalizeLayout: %v", err)
	}

	order, err := Place(obj, 0x1000, 16)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	var names []string
	for _, s := range order {
		names = append(names, s.Name())
	}
	if want := []string{".text", ".data", ".bss"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("order = %v, want %v", names, want)
	}
	for _, tt := range []struct {
		s    *asm.Section
		base uint64
	}{{text, 0x1000}, {data, 0x1010}, {bss, 0x1020}} {
		if tt.s.Base != tt.base {
			t.Errorf("%s base = %#x, want %#x", tt.s.Name(), tt.s.Base, tt.base)
		}
	}

	progs, err := EmitAll(obj, order, &Output{Object: obj})
	if err != nil {
		t.Fatalf("EmitAll: %v", err)
	}
	if got := progs[2].BSSSize(); got != 16 {
		t.Fatalf("bss size = %d, want 16", got)
	}

	if _, err := Place(obj, 0, 3); !errors.Is(err, asm.ErrBadAlignment) {
		t.Fatalf("Place(align 3) error = %v, want ErrBadAlignment", err)
	}
}

func TestPlaceRequiresLayout(t *testing.T) {
	obj := asm.NewObject(asm.Options{})
	obj.Section(".text").Append(asm.NewData(asm.RawBytes(1)), 0)
	if _, err := Place(obj, 0, 1); err == nil {
		t.Fatalf("Place before layout succeeded")
	}
}
