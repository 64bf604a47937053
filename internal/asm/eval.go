package asm

import (
	"math/big"
)

// distance evaluates v against the current offsets of s. It succeeds only
// when v is a pure distance inside s: no relocation symbol, every location
// in s, and coefficients that cancel so the section base drops out.
func (s *Section) distance(v *Value) (int64, bool) {
	if v.HasReloc() {
		return 0, false
	}
	val := v.Abs.Const()
	var weight int64
	add := func(coef int64, loc Location) bool {
		if loc.Section != s.id {
			return false
		}
		weight += coef
		off := new(big.Int).SetUint64(s.offsetOf(loc))
		val.Add(val, off.Mul(off, big.NewInt(coef)))
		return true
	}
	for _, t := range v.Abs.terms {
		if !add(t.Coef, t.Loc) {
			return 0, false
		}
	}
	if v.Sub != nil && !add(-1, *v.Sub) {
		return 0, false
	}
	if weight != 0 || !val.IsInt64() {
		return 0, false
	}
	return val.Int64(), true
}

// isDistance reports whether e can be evaluated by distance once offsets
// are known, without looking at them.
func (s *Section) isDistance(e Expr) bool {
	var weight int64
	for _, t := range e.terms {
		if !t.IsLocation() || t.Loc.Section != s.id {
			return false
		}
		weight += t.Coef
	}
	return weight == 0
}

// address evaluates e with every location replaced by its absolute address.
// e must not contain symbol terms.
func (o *Object) address(e Expr) *big.Int {
	val := e.Const()
	for _, t := range e.terms {
		addr := new(big.Int).SetUint64(o.LocationAddress(t.Loc))
		val.Add(val, addr.Mul(addr, big.NewInt(t.Coef)))
	}
	return val
}

// constInt64 expands e and requires the result to be a constant.
func (o *Object) constInt64(e Expr) (int64, error) {
	x, err := o.expand(e)
	if err != nil {
		return 0, err
	}
	if !x.IsConst() {
		return 0, ErrNotConstant
	}
	c := x.Const()
	if !c.IsInt64() {
		return 0, ErrNotConstant
	}
	return c.Int64(), nil
}
