package eval_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/dts/pkgs/dterror"
	"github.com/aledsdavies/dts/pkgs/eval"
	"github.com/aledsdavies/dts/pkgs/lexer"
	"github.com/aledsdavies/dts/pkgs/source"
)

func evalString(t *testing.T, expr string) (*big.Int, error) {
	t.Helper()
	src := &source.Stack{Filename: "test.dts", Contents: expr, Line: 1}
	return eval.Eval(lexer.New(src))
}

func TestPrecedence(t *testing.T) {
	cases := []struct {
		expr string
		want int64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"2 << 3 + 1", 32},
		{"1 ? 2 : 3", 2},
		{"0 ? 2 : 3", 3},
		{"1 | 2 & 3", 3},
		{"~0 & 0xff", 255},
		{"10 % 3", 1},
		{"-5 + 10", 5},
		{"1 == 1 && 2 != 3", 1},
		{"5 > 3 ? 1 : 0", 1},
	}
	for _, c := range cases {
		got, err := evalString(t, c.expr)
		require.NoError(t, err, c.expr)
		require.Equal(t, big.NewInt(c.want).String(), got.String(), c.expr)
	}
}

func TestDivisionByZero(t *testing.T) {
	_, err := evalString(t, "1 / 0")
	require.Error(t, err)
	require.True(t, dterror.IsCode(err, dterror.CodeDivByZero))

	_, err = evalString(t, "1 % 0")
	require.True(t, dterror.IsCode(err, dterror.CodeDivByZero))
}

func TestArbitraryPrecision(t *testing.T) {
	got, err := evalString(t, "0xffffffffffffffff + 1")
	require.NoError(t, err)
	require.Equal(t, "18446744073709551616", got.String())
}
