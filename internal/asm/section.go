package asm

import (
	"sort"
)

// Section is an ordered, append-only list of bytecodes. Insertion order is
// output byte order.
type Section struct {
	obj  *Object
	id   SectionID
	name string

	bcs     []*Bytecode
	pending []SymbolID

	spans  []*Span
	relocs map[uint64]Reloc
	size   uint64

	laidOut bool
	failed  bool
	stats   LayoutStats

	// Base is the address of the first byte, assigned by the object
	// format after layout.
	Base uint64
	// NoBits marks sections that occupy address space but no file bytes.
	NoBits bool
}

func (s *Section) ID() SectionID { return s.id }

func (s *Section) Name() string { return s.name }

func (s *Section) Object() *Object { return s.obj }

// Append adds a bytecode holding c at the end of the section. Labels
// defined since the previous Append attach to it.
func (s *Section) Append(c Contents, line int) *Bytecode {
	bc := &Bytecode{
		contents: c,
		Line:     line,
		sect:     s.id,
		index:    len(s.bcs),
		offset:   UnknownOffset,
		mult:     1,
		symbols:  s.pending,
	}
	s.pending = nil
	s.bcs = append(s.bcs, bc)
	s.laidOut = false
	return bc
}

// DefineLabel binds name to the position immediately before the next
// appended bytecode.
func (s *Section) DefineLabel(name string, line int) (SymbolID, error) {
	id, err := s.obj.defineLabel(name, s.Here(), line)
	if err != nil {
		return id, err
	}
	s.pending = append(s.pending, id)
	return id, nil
}

// Symbol returns the object's symbol for name, creating it on first use.
func (s *Section) Symbol(name string) SymbolID {
	return s.obj.Symbol(name)
}

// Here is the location of the next appended bytecode.
func (s *Section) Here() Location {
	return Location{Section: s.id, BC: len(s.bcs)}
}

// Bytecodes returns the section's bytecodes in order.
func (s *Section) Bytecodes() []*Bytecode {
	return append([]*Bytecode(nil), s.bcs...)
}

func (s *Section) Bytecode(i int) *Bytecode { return s.bcs[i] }

// TrailingLabels are labels defined after the last bytecode.
func (s *Section) TrailingLabels() []SymbolID {
	return append([]SymbolID(nil), s.pending...)
}

// Size is the total byte length after layout.
func (s *Section) Size() uint64 { return s.size }

func (s *Section) LaidOut() bool { return s.laidOut }

// Failed reports whether layout of this section recorded an error.
func (s *Section) Failed() bool { return s.failed }

func (s *Section) Stats() LayoutStats { return s.stats }

// Spans returns a snapshot of the spans registered by the last layout.
func (s *Section) Spans() []Span {
	out := make([]Span, len(s.spans))
	for i, sp := range s.spans {
		out[i] = *sp
	}
	return out
}

// AddReloc records r. A relocation at an offset that already has one
// replaces it, so emitting a bytecode twice leaves one entry.
func (s *Section) AddReloc(r Reloc) {
	s.relocs[r.Offset] = r
}

// Relocs returns the recorded relocations sorted by offset.
func (s *Section) Relocs() []Reloc {
	out := make([]Reloc, 0, len(s.relocs))
	for _, r := range s.relocs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func (s *Section) offsetOf(loc Location) uint64 {
	if loc.BC >= len(s.bcs) {
		return s.size + loc.Off
	}
	return s.bcs[loc.BC].offset + loc.Off
}
