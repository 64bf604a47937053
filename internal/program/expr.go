package program

import (
	"fmt"
	"math/big"
	"strings"
	"text/scanner"

	"github.com/tinyrange/asmlayout/internal/asm"
)

// scope supplies symbols and the current position to the expression
// reader. here is nil where '$' has no meaning.
type scope struct {
	symbol func(name string) asm.SymbolID
	here   func() asm.Location
}

// parseExpr reads a linear expression: integers (decimal, 0x, 0o, 0b),
// symbol names, '$' for the current position, unary minus, '+', '-',
// parentheses, and '*' where at least one side is constant.
func parseExpr(src string, sc scope) (asm.Expr, error) {
	p := &exprParser{src: src, scope: sc}
	p.s.Init(strings.NewReader(src))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts
	p.s.IsIdentRune = func(ch rune, i int) bool {
		return ch == '_' || ch == '.' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' ||
			i > 0 && ch >= '0' && ch <= '9'
	}
	p.s.Error = func(_ *scanner.Scanner, msg string) {
		if p.err == nil {
			p.err = fmt.Errorf("expression %q: %s", src, msg)
		}
	}
	p.next()

	e, err := p.sum()
	if err != nil {
		return asm.Expr{}, err
	}
	if p.tok != scanner.EOF {
		return asm.Expr{}, p.errorf("unexpected %q", p.s.TokenText())
	}
	return e, p.err
}

type exprParser struct {
	src   string
	scope scope
	s     scanner.Scanner
	tok   rune
	err   error
}

func (p *exprParser) next() { p.tok = p.s.Scan() }

func (p *exprParser) errorf(format string, args ...any) error {
	return fmt.Errorf("expression %q: %s", p.src, fmt.Sprintf(format, args...))
}

func (p *exprParser) sum() (asm.Expr, error) {
	e, err := p.product()
	if err != nil {
		return asm.Expr{}, err
	}
	for p.tok == '+' || p.tok == '-' {
		op := p.tok
		p.next()
		rhs, err := p.product()
		if err != nil {
			return asm.Expr{}, err
		}
		if op == '+' {
			e = e.Add(rhs)
		} else {
			e = e.Sub(rhs)
		}
	}
	return e, nil
}

func (p *exprParser) product() (asm.Expr, error) {
	e, err := p.unary()
	if err != nil {
		return asm.Expr{}, err
	}
	for p.tok == '*' {
		p.next()
		rhs, err := p.unary()
		if err != nil {
			return asm.Expr{}, err
		}
		switch {
		case rhs.IsConst():
			e, err = scale(e, rhs.Const())
		case e.IsConst():
			e, err = scale(rhs, e.Const())
		default:
			err = fmt.Errorf("expression %q: %w: product of two non-constant terms", p.src, asm.ErrTooComplex)
		}
		if err != nil {
			return asm.Expr{}, err
		}
	}
	return e, nil
}

func scale(e asm.Expr, k *big.Int) (asm.Expr, error) {
	if e.IsConst() {
		return asm.BigInt(new(big.Int).Mul(e.Const(), k)), nil
	}
	if !k.IsInt64() {
		return asm.Expr{}, fmt.Errorf("%w: coefficient %s", asm.ErrTooComplex, k)
	}
	return e.Scale(k.Int64()), nil
}

func (p *exprParser) unary() (asm.Expr, error) {
	if p.tok == '-' {
		p.next()
		e, err := p.unary()
		if err != nil {
			return asm.Expr{}, err
		}
		return e.Scale(-1), nil
	}
	if p.tok == '+' {
		p.next()
		return p.unary()
	}
	return p.primary()
}

func (p *exprParser) primary() (asm.Expr, error) {
	text := p.s.TokenText()
	switch p.tok {
	case scanner.Int:
		p.next()
		v, ok := new(big.Int).SetString(text, 0)
		if !ok {
			return asm.Expr{}, p.errorf("bad integer %q", text)
		}
		return asm.BigInt(v), nil
	case scanner.Ident:
		p.next()
		return asm.SymRef(p.scope.symbol(text)), nil
	case '$':
		p.next()
		if p.scope.here == nil {
			return asm.Expr{}, p.errorf("'$' used outside a section")
		}
		return asm.LocRef(p.scope.here()), nil
	case '(':
		p.next()
		e, err := p.sum()
		if err != nil {
			return asm.Expr{}, err
		}
		if p.tok != ')' {
			return asm.Expr{}, p.errorf("missing ')'")
		}
		p.next()
		return e, nil
	case scanner.EOF:
		return asm.Expr{}, p.errorf("unexpected end")
	default:
		return asm.Expr{}, p.errorf("unexpected %q", text)
	}
}
