package asm

import (
	"fmt"
)

type SymbolKind int

const (
	SymbolUndefined SymbolKind = iota
	SymbolLabel
	SymbolEqu
	SymbolExtern
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolUndefined:
		return "undefined"
	case SymbolLabel:
		return "label"
	case SymbolEqu:
		return "equ"
	case SymbolExtern:
		return "extern"
	default:
		return fmt.Sprintf("SymbolKind(%d)", int(k))
	}
}

// Symbol is a named entry in an Object's symbol arena. Labels refer to
// their position by Location, never by pointer.
type Symbol struct {
	Name  string
	Kind  SymbolKind
	Label Location
	Equ   Expr
	Line  int
}

// Symbol returns the id for name, creating an undefined symbol on first
// use.
func (o *Object) Symbol(name string) SymbolID {
	if id, ok := o.symbolNames[name]; ok {
		return id
	}
	o.symbols = append(o.symbols, Symbol{Name: name})
	id := SymbolID(len(o.symbols))
	o.symbolNames[name] = id
	return id
}

// LookupSymbol returns the id for name without creating it.
func (o *Object) LookupSymbol(name string) (SymbolID, bool) {
	id, ok := o.symbolNames[name]
	return id, ok
}

// SymbolInfo returns a copy of the symbol for id.
func (o *Object) SymbolInfo(id SymbolID) Symbol {
	return *o.sym(id)
}

// Symbols returns every symbol id in definition order.
func (o *Object) Symbols() []SymbolID {
	ids := make([]SymbolID, len(o.symbols))
	for i := range o.symbols {
		ids[i] = SymbolID(i + 1)
	}
	return ids
}

func (o *Object) sym(id SymbolID) *Symbol {
	if id <= NoSymbol || int(id) > len(o.symbols) {
		panic(fmt.Sprintf("asm: invalid symbol id %d", id))
	}
	return &o.symbols[id-1]
}

func (o *Object) define(name string, line int, fn func(*Symbol)) (SymbolID, error) {
	id := o.Symbol(name)
	s := o.sym(id)
	if s.Kind != SymbolUndefined {
		return id, fmt.Errorf("%w: %q (first defined on line %d)", ErrSymbolRedefined, name, s.Line)
	}
	fn(s)
	s.Line = line
	return id, nil
}

// DefineEqu binds name to an expression. The expression may reference
// symbols that are defined later; cycles are detected during layout.
func (o *Object) DefineEqu(name string, e Expr, line int) (SymbolID, error) {
	return o.define(name, line, func(s *Symbol) {
		s.Kind = SymbolEqu
		s.Equ = e
	})
}

// DeclareExtern marks name as provided by another object. References to it
// are emitted as relocations.
func (o *Object) DeclareExtern(name string, line int) (SymbolID, error) {
	return o.define(name, line, func(s *Symbol) {
		s.Kind = SymbolExtern
	})
}

func (o *Object) defineLabel(name string, loc Location, line int) (SymbolID, error) {
	return o.define(name, line, func(s *Symbol) {
		s.Kind = SymbolLabel
		s.Label = loc
	})
}

// expand rewrites e so that it only references locations and symbols that
// cannot be resolved locally (externs and undefined names). EQU bodies are
// substituted recursively and labels become locations.
func (o *Object) expand(e Expr) (Expr, error) {
	return o.expandVisiting(e, map[SymbolID]bool{})
}

func (o *Object) expandVisiting(e Expr, visiting map[SymbolID]bool) (Expr, error) {
	out := Expr{c: e.Const()}
	var rest []Term
	for _, t := range e.terms {
		if t.IsLocation() {
			rest = append(rest, t)
			continue
		}
		s := o.sym(t.Sym)
		switch s.Kind {
		case SymbolLabel:
			rest = append(rest, Term{Coef: t.Coef, Loc: s.Label})
		case SymbolEqu:
			if visiting[t.Sym] {
				return Expr{}, fmt.Errorf("%w: EQU %q references itself", ErrCircularReference, s.Name)
			}
			visiting[t.Sym] = true
			body, err := o.expandVisiting(s.Equ, visiting)
			delete(visiting, t.Sym)
			if err != nil {
				return Expr{}, err
			}
			out = out.Add(body.Scale(t.Coef))
		default:
			rest = append(rest, t)
		}
	}
	return out.Add(Expr{terms: rest}), nil
}
