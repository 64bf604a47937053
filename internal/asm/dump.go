package asm

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type dumpObject struct {
	Sections []dumpSection `yaml:"sections"`
	Symbols  []dumpSymbol  `yaml:"symbols,omitempty"`
}

type dumpSection struct {
	Name      string         `yaml:"name"`
	Base      string         `yaml:"base"`
	Size      uint64         `yaml:"size"`
	NoBits    bool           `yaml:"nobits,omitempty"`
	Stats     *LayoutStats   `yaml:"stats,omitempty"`
	Bytecodes []dumpBytecode `yaml:"bytecodes"`
	Spans     []dumpSpan     `yaml:"spans,omitempty"`
	Relocs    []Reloc        `yaml:"relocs,omitempty"`
	Trailing  []string       `yaml:"trailing_labels,omitempty"`
}

type dumpBytecode struct {
	Index    int      `yaml:"index"`
	Kind     string   `yaml:"kind"`
	Special  string   `yaml:"special,omitempty"`
	Offset   string   `yaml:"offset"`
	Length   uint64   `yaml:"length"`
	Multiple int64    `yaml:"multiple"`
	Line     int      `yaml:"line,omitempty"`
	Labels   []string `yaml:"labels,omitempty"`
	Error    string   `yaml:"error,omitempty"`
}

type dumpSpan struct {
	Bytecode int    `yaml:"bytecode"`
	ID       int    `yaml:"id"`
	Policy   string `yaml:"policy"`
	Neg      int64  `yaml:"neg_threshold"`
	Pos      int64  `yaml:"pos_threshold"`
	Cur      int64  `yaml:"cur_value"`
	State    string `yaml:"state"`
}

type dumpSymbol struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`
	Value string `yaml:"value,omitempty"`
	Line  int    `yaml:"line,omitempty"`
}

// DumpYAML writes the layout state of every section: bytecode offsets and
// lengths, spans with their thresholds, relocations and symbols.
func (o *Object) DumpYAML(w io.Writer) error {
	var doc dumpObject
	for _, s := range o.sections {
		ds := dumpSection{
			Name:   s.name,
			Base:   fmt.Sprintf("0x%x", s.Base),
			Size:   s.size,
			NoBits: s.NoBits,
			Relocs: s.Relocs(),
		}
		if s.laidOut {
			stats := s.stats
			ds.Stats = &stats
		}
		for _, bc := range s.bcs {
			db := dumpBytecode{
				Index:    bc.index,
				Kind:     bc.contents.Kind().String(),
				Offset:   "unknown",
				Length:   bc.length,
				Multiple: bc.mult,
				Line:     bc.Line,
				Labels:   o.symbolNamesOf(bc.symbols),
			}
			if sp := bc.Special(); sp != SpecialNone {
				db.Special = sp.String()
			}
			if bc.offset != UnknownOffset {
				db.Offset = fmt.Sprintf("0x%x", bc.offset)
			}
			if bc.err != nil {
				db.Error = bc.err.Error()
			}
			ds.Bytecodes = append(ds.Bytecodes, db)
		}
		for _, sp := range s.spans {
			ds.Spans = append(ds.Spans, dumpSpan{
				Bytecode: sp.BC,
				ID:       sp.ID,
				Policy:   sp.Policy.String(),
				Neg:      sp.Neg,
				Pos:      sp.Pos,
				Cur:      sp.Cur,
				State:    sp.State.String(),
			})
		}
		ds.Trailing = o.symbolNamesOf(s.pending)
		doc.Sections = append(doc.Sections, ds)
	}
	for _, id := range o.Symbols() {
		sym := o.sym(id)
		dsym := dumpSymbol{Name: sym.Name, Kind: sym.Kind.String(), Line: sym.Line}
		switch sym.Kind {
		case SymbolLabel:
			if s := o.sections[sym.Label.Section]; s.laidOut {
				dsym.Value = fmt.Sprintf("%s+0x%x", s.name, s.offsetOf(sym.Label))
			}
		case SymbolEqu:
			dsym.Value = sym.Equ.String()
		}
		doc.Symbols = append(doc.Symbols, dsym)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode layout dump: %w", err)
	}
	return enc.Close()
}

func (o *Object) symbolNamesOf(ids []SymbolID) []string {
	var names []string
	for _, id := range ids {
		names = append(names, o.sym(id).Name)
	}
	return names
}
