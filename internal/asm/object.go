// Package asm implements an assembler backend: sections of variable-size
// bytecodes, the span optimizer that settles their lengths, and the output
// step that turns settled bytecodes into bytes and relocations.
package asm

import (
	"fmt"
	"log/slog"
)

const minMaxPasses = 64

type Options struct {
	// MaxPasses bounds the span optimizer per section. Zero picks a limit
	// from the number of spans.
	MaxPasses int
	Logger    *slog.Logger
}

// Object owns the sections and symbols of one assembly unit.
type Object struct {
	opts Options
	log  *slog.Logger

	sections     []*Section
	sectionNames map[string]SectionID

	symbols     []Symbol
	symbolNames map[string]SymbolID

	diags Diagnostics
}

func NewObject(opts Options) *Object {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Object{
		opts:         opts,
		log:          log,
		sectionNames: make(map[string]SectionID),
		symbolNames:  make(map[string]SymbolID),
	}
}

// Section returns the named section, creating it on first use.
func (o *Object) Section(name string) *Section {
	if id, ok := o.sectionNames[name]; ok {
		return o.sections[id]
	}
	s := &Section{
		obj:    o,
		id:     SectionID(len(o.sections)),
		name:   name,
		relocs: make(map[uint64]Reloc),
	}
	o.sections = append(o.sections, s)
	o.sectionNames[name] = s.id
	return s
}

func (o *Object) SectionByID(id SectionID) *Section {
	if id < 0 || int(id) >= len(o.sections) {
		panic(fmt.Sprintf("asm: invalid section id %d", id))
	}
	return o.sections[id]
}

func (o *Object) LookupSection(name string) (*Section, bool) {
	id, ok := o.sectionNames[name]
	if !ok {
		return nil, false
	}
	return o.sections[id], true
}

// Sections returns the sections in creation order.
func (o *Object) Sections() []*Section {
	return append([]*Section(nil), o.sections...)
}

// Diagnostics returns everything reported by layout and emission so far.
func (o *Object) Diagnostics() []Diagnostic {
	return o.diags.List()
}

func (o *Object) HasErrors() bool {
	return o.diags.HasErrors()
}

// LocationOffset returns the section-relative offset of loc. It is only
// meaningful once the section has been laid out.
func (o *Object) LocationOffset(loc Location) uint64 {
	return o.SectionByID(loc.Section).offsetOf(loc)
}

// LocationAddress returns the absolute address of loc using the section
// base assigned by the object format.
func (o *Object) LocationAddress(loc Location) uint64 {
	s := o.SectionByID(loc.Section)
	return s.Base + s.offsetOf(loc)
}

// SymbolAddress resolves a label symbol to its absolute address.
func (o *Object) SymbolAddress(id SymbolID) (uint64, error) {
	s := o.sym(id)
	if s.Kind != SymbolLabel {
		return 0, fmt.Errorf("%w: %q is %s, not a label", ErrUndefinedSymbol, s.Name, s.Kind)
	}
	return o.LocationAddress(s.Label), nil
}
