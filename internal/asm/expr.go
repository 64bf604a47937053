package asm

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// SymbolID addresses a symbol in its Object's arena. The zero value means
// no symbol.
type SymbolID int

const NoSymbol SymbolID = 0

// SectionID addresses a section in its Object.
type SectionID int

// Location is a position inside a section: Off bytes past the start of
// bytecode BC. BC may equal the bytecode count to name the section end.
type Location struct {
	Section SectionID
	BC      int
	Off     uint64
}

func (l Location) String() string {
	return fmt.Sprintf("s%d:bc%d+%d", l.Section, l.BC, l.Off)
}

func (l Location) less(o Location) bool {
	if l.Section != o.Section {
		return l.Section < o.Section
	}
	if l.BC != o.BC {
		return l.BC < o.BC
	}
	return l.Off < o.Off
}

// Term is a scaled symbol or location inside an Expr. Exactly one of Sym
// and Loc is meaningful: a term with Sym == NoSymbol is a location term.
type Term struct {
	Coef int64
	Sym  SymbolID
	Loc  Location
}

func (t Term) IsLocation() bool { return t.Sym == NoSymbol }

func (t Term) sameBase(o Term) bool {
	if t.Sym != o.Sym {
		return false
	}
	return t.Sym != NoSymbol || t.Loc == o.Loc
}

// Expr is a linear expression Const + sum(Coef * term). It is immutable;
// every operation returns a new value.
type Expr struct {
	c     *big.Int
	terms []Term
}

func Int(v int64) Expr { return Expr{c: big.NewInt(v)} }

func BigInt(v *big.Int) Expr { return Expr{c: new(big.Int).Set(v)} }

func SymRef(id SymbolID) Expr {
	return Expr{terms: []Term{{Coef: 1, Sym: id}}}
}

func LocRef(loc Location) Expr {
	return Expr{terms: []Term{{Coef: 1, Loc: loc}}}
}

// Const returns a copy of the constant part.
func (e Expr) Const() *big.Int {
	if e.c == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(e.c)
}

// Terms returns a copy of the non-constant terms.
func (e Expr) Terms() []Term {
	return append([]Term(nil), e.terms...)
}

func (e Expr) IsConst() bool { return len(e.terms) == 0 }

func (e Expr) Add(o Expr) Expr {
	c := e.Const()
	c.Add(c, o.Const())
	terms := append(e.Terms(), o.terms...)
	return normalize(c, terms)
}

func (e Expr) Sub(o Expr) Expr {
	return e.Add(o.Scale(-1))
}

func (e Expr) AddInt(v int64) Expr {
	c := e.Const()
	c.Add(c, big.NewInt(v))
	return Expr{c: c, terms: e.terms}
}

func (e Expr) Scale(k int64) Expr {
	c := e.Const()
	c.Mul(c, big.NewInt(k))
	terms := e.Terms()
	for i := range terms {
		terms[i].Coef *= k
	}
	return normalize(c, terms)
}

// normalize merges duplicate terms, drops zero coefficients and orders the
// rest so equal expressions compare equal.
func normalize(c *big.Int, terms []Term) Expr {
	var out []Term
	for _, t := range terms {
		merged := false
		for i := range out {
			if out[i].sameBase(t) {
				out[i].Coef += t.Coef
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, t)
		}
	}
	kept := out[:0]
	for _, t := range out {
		if t.Coef != 0 {
			kept = append(kept, t)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Sym != b.Sym {
			return a.Sym < b.Sym
		}
		return a.Loc.less(b.Loc)
	})
	if len(kept) == 0 {
		kept = nil
	}
	return Expr{c: c, terms: kept}
}

func (e Expr) String() string {
	var sb strings.Builder
	for i, t := range e.terms {
		coef := t.Coef
		switch {
		case i == 0 && coef < 0:
			sb.WriteString("-")
			coef = -coef
		case i > 0 && coef < 0:
			sb.WriteString(" - ")
			coef = -coef
		case i > 0:
			sb.WriteString(" + ")
		}
		if coef != 1 {
			fmt.Fprintf(&sb, "%d*", coef)
		}
		if t.IsLocation() {
			sb.WriteString(t.Loc.String())
		} else {
			fmt.Fprintf(&sb, "sym%d", t.Sym)
		}
	}
	c := e.Const()
	switch {
	case len(e.terms) == 0:
		sb.WriteString(c.String())
	case c.Sign() > 0:
		sb.WriteString(" + ")
		sb.WriteString(c.String())
	case c.Sign() < 0:
		sb.WriteString(" - ")
		sb.WriteString(new(big.Int).Neg(c).String())
	}
	return sb.String()
}
