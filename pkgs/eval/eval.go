// Package eval implements the C-style operator-precedence constant-expression
// evaluator used inside "< >" property values and "/memreserve/" entries.
package eval

import (
	"math/big"

	"github.com/aledsdavies/dts/pkgs/dterror"
	"github.com/aledsdavies/dts/pkgs/lexer"
)

// Eval parses and evaluates one constant expression from l, starting at
// ternary precedence (the lowest), and returns its arbitrary-precision value.
// Range checking against the eventual cell width happens at emission time,
// not here.
func Eval(l *lexer.Lexer) (*big.Int, error) {
	return parseTernary(l)
}

func peekMisc(l *lexer.Lexer, val string) (bool, error) {
	tok, err := l.Peek()
	if err != nil {
		return false, err
	}
	return tok.Kind == lexer.MISC && tok.Value == val, nil
}

func consumeMisc(l *lexer.Lexer, val string) (bool, error) {
	ok, err := peekMisc(l, val)
	if err != nil || !ok {
		return ok, err
	}
	if _, err := l.Next(); err != nil {
		return false, err
	}
	return true, nil
}

func parseTernary(l *lexer.Lexer) (*big.Int, error) {
	cond, err := parseLogicalOr(l)
	if err != nil {
		return nil, err
	}
	ok, err := consumeMisc(l, "?")
	if err != nil {
		return nil, err
	}
	if !ok {
		return cond, nil
	}
	thenVal, err := parseTernary(l)
	if err != nil {
		return nil, err
	}
	if _, err := expectMisc(l, ":"); err != nil {
		return nil, err
	}
	elseVal, err := parseTernary(l)
	if err != nil {
		return nil, err
	}
	if cond.Sign() != 0 {
		return thenVal, nil
	}
	return elseVal, nil
}

func expectMisc(l *lexer.Lexer, val string) (lexer.Token, error) {
	tok, err := l.Next()
	if err != nil {
		return tok, err
	}
	if tok.Kind != lexer.MISC || tok.Value != val {
		return tok, dterror.AtPosition(dterror.CodeSyntax, tok.File, tok.Line, tok.Column,
			"expected '"+val+"', not '"+tok.Value+"'")
	}
	return tok, nil
}

type binLevel struct {
	ops  []string
	next func(*lexer.Lexer) (*big.Int, error)
	apply func(op string, a, b *big.Int) (*big.Int, error)
}

func parseLeftAssoc(l *lexer.Lexer, lvl binLevel) (*big.Int, error) {
	left, err := lvl.next(l)
	if err != nil {
		return nil, err
	}
	for {
		matched := ""
		for _, op := range lvl.ops {
			ok, err := peekMisc(l, op)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = op
				break
			}
		}
		if matched == "" {
			return left, nil
		}
		if _, err := l.Next(); err != nil {
			return nil, err
		}
		right, err := lvl.next(l)
		if err != nil {
			return nil, err
		}
		left, err = lvl.apply(matched, left, right)
		if err != nil {
			return nil, err
		}
	}
}

func boolBig(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

func parseLogicalOr(l *lexer.Lexer) (*big.Int, error) {
	return parseLeftAssoc(l, binLevel{[]string{"||"}, parseLogicalAnd, func(_ string, a, b *big.Int) (*big.Int, error) {
		return boolBig(a.Sign() != 0 || b.Sign() != 0), nil
	}})
}

func parseLogicalAnd(l *lexer.Lexer) (*big.Int, error) {
	return parseLeftAssoc(l, binLevel{[]string{"&&"}, parseBitOr, func(_ string, a, b *big.Int) (*big.Int, error) {
		return boolBig(a.Sign() != 0 && b.Sign() != 0), nil
	}})
}

func parseBitOr(l *lexer.Lexer) (*big.Int, error) {
	return parseLeftAssoc(l, binLevel{[]string{"|"}, parseBitXor, func(_ string, a, b *big.Int) (*big.Int, error) {
		return new(big.Int).Or(a, b), nil
	}})
}

func parseBitXor(l *lexer.Lexer) (*big.Int, error) {
	return parseLeftAssoc(l, binLevel{[]string{"^"}, parseBitAnd, func(_ string, a, b *big.Int) (*big.Int, error) {
		return new(big.Int).Xor(a, b), nil
	}})
}

func parseBitAnd(l *lexer.Lexer) (*big.Int, error) {
	return parseLeftAssoc(l, binLevel{[]string{"&"}, parseEquality, func(_ string, a, b *big.Int) (*big.Int, error) {
		return new(big.Int).And(a, b), nil
	}})
}

func parseEquality(l *lexer.Lexer) (*big.Int, error) {
	return parseLeftAssoc(l, binLevel{[]string{"==", "!="}, parseRelational, func(op string, a, b *big.Int) (*big.Int, error) {
		eq := a.Cmp(b) == 0
		if op == "!=" {
			eq = !eq
		}
		return boolBig(eq), nil
	}})
}

func parseRelational(l *lexer.Lexer) (*big.Int, error) {
	return parseLeftAssoc(l, binLevel{[]string{"<=", ">=", "<", ">"}, parseShift, func(op string, a, b *big.Int) (*big.Int, error) {
		c := a.Cmp(b)
		var r bool
		switch op {
		case "<=":
			r = c <= 0
		case ">=":
			r = c >= 0
		case "<":
			r = c < 0
		case ">":
			r = c > 0
		}
		return boolBig(r), nil
	}})
}

func parseShift(l *lexer.Lexer) (*big.Int, error) {
	return parseLeftAssoc(l, binLevel{[]string{"<<", ">>"}, parseAdditive, func(op string, a, b *big.Int) (*big.Int, error) {
		if !b.IsUint64() {
			return nil, dterror.New(dterror.CodeOverflow, "shift amount out of range")
		}
		n := uint(b.Uint64())
		r := new(big.Int)
		if op == "<<" {
			r.Lsh(a, n)
		} else {
			r.Rsh(a, n)
		}
		return r, nil
	}})
}

func parseAdditive(l *lexer.Lexer) (*big.Int, error) {
	return parseLeftAssoc(l, binLevel{[]string{"+", "-"}, parseMultiplicative, func(op string, a, b *big.Int) (*big.Int, error) {
		if op == "+" {
			return new(big.Int).Add(a, b), nil
		}
		return new(big.Int).Sub(a, b), nil
	}})
}

func parseMultiplicative(l *lexer.Lexer) (*big.Int, error) {
	return parseLeftAssoc(l, binLevel{[]string{"*", "/", "%"}, parseUnary, func(op string, a, b *big.Int) (*big.Int, error) {
		if (op == "/" || op == "%") && b.Sign() == 0 {
			return nil, dterror.New(dterror.CodeDivByZero, "division by zero")
		}
		switch op {
		case "*":
			return new(big.Int).Mul(a, b), nil
		case "/":
			return new(big.Int).Quo(a, b), nil
		default:
			return new(big.Int).Rem(a, b), nil
		}
	}})
}

func parseUnary(l *lexer.Lexer) (*big.Int, error) {
	for _, op := range []string{"-", "~", "!"} {
		ok, err := consumeMisc(l, op)
		if err != nil {
			return nil, err
		}
		if ok {
			v, err := parseUnary(l)
			if err != nil {
				return nil, err
			}
			switch op {
			case "-":
				return new(big.Int).Neg(v), nil
			case "~":
				return new(big.Int).Not(v), nil
			default:
				return boolBig(v.Sign() == 0), nil
			}
		}
	}
	return parsePrimary(l)
}

func parsePrimary(l *lexer.Lexer) (*big.Int, error) {
	tok, err := l.Next()
	if err != nil {
		return nil, err
	}
	switch {
	case tok.Kind == lexer.NUM || tok.Kind == lexer.CHARLIT:
		return tok.Num, nil
	case tok.Kind == lexer.MISC && tok.Value == "(":
		v, err := parseTernary(l)
		if err != nil {
			return nil, err
		}
		if _, err := expectMisc(l, ")"); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, dterror.AtPosition(dterror.CodeSyntax, tok.File, tok.Line, tok.Column,
			"expected number, character literal, or '(', not '"+tok.Value+"'")
	}
}
