package eval

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByLCY/papyrus/diag"
)

func TestMethods(t *testing.T) {
	cases := []struct {
		code string
		want Value
	}{
		{`(1, 2, 3).contains(2)`, Bool(true)},
		{`(1, 2, 3).contains(4)`, Bool(false)},
		{`("a", "b").contains("b")`, Bool(true)},
		{`(1, 2, 3).at(0)`, Int(1)},
		{`(1, 2, 3).at(-1)`, Int(3)},
		{`(1, 2, 3).at(-3)`, Int(1)},
		{`(1, 2, 3).first()`, Int(1)},
		{`(1, 2, 3).last()`, Int(3)},
		{`(1, 2, 3).len()`, Int(3)},
		{`(1, 2, 3).rev()`, ArrayOf(Int(3), Int(2), Int(1))},
		{`().rev()`, ArrayOf()},
		{`("a", "b", "c").join(", ")`, Str("a, b, c")},
		{`("a", "b").join()`, Str("ab")},
		{`((1,), (2, 3)).join()`, ArrayOf(Int(1), Int(2), Int(3))},
		{"let double(x) = x * 2\n(1, 2).map(double)", ArrayOf(Int(2), Int(4))},
		{"let big(x) = x > 1\n(1, 2, 3).filter(big)", ArrayOf(Int(2), Int(3))},
		{`"  hi ".trim()`, Str("hi")},
		{`"héllo".len()`, Int(5)},
		{`"héllo".at(1)`, Str("é")},
		{`"abc".at(-1)`, Str("c")},
		{`"abc".contains("bc")`, Bool(true)},
		{`"abc".starts-with("ab")`, Bool(true)},
		{`"abc".ends-with("ab")`, Bool(false)},
		{`"a b  c".split()`, ArrayOf(Str("a"), Str("b"), Str("c"))},
		{`"a,,b".split(",")`, ArrayOf(Str("a"), Str(""), Str("b"))},
		{`(a: 1, b: 2).values()`, ArrayOf(Int(1), Int(2))},
		{`(a: 1, b: 2).len()`, Int(2)},
		{`(a: 1).at("a")`, Int(1)},
		{`(a: 1).at("b", default: 0)`, Int(0)},
	}
	for _, c := range cases {
		got, err := EvalString(c.code, Options{})
		require.NoError(t, err, c.code)
		assert.True(t, Equal(c.want, got), "%s: want %s, got %s", c.code, Repr(c.want), Repr(got))
	}
}

func TestMethodErrors(t *testing.T) {
	cases := map[string]string{
		`(1, 2, 3).at(3)`:     "out of bounds",
		`(1, 2, 3).at(-4)`:    "out of bounds",
		`"abc".at(5)`:         "out of bounds",
		`().first()`:          "empty",
		`(a: 1).at("b")`:      "does not contain key",
		`"abc".contains(1)`:   "expected",
		`(1, 2).map(3)`:       "expected",
		`(1, 2).frobnicate()`: "array has no method frobnicate",
		`"x".frobnicate()`:    "string has no method frobnicate",
		`none.len()`:          "has no method len",
	}
	for code, msg := range cases {
		_, err := EvalString(code, Options{})
		require.Error(t, err, code)
		assert.True(t, errors.Is(err, diag.ErrEval), code)
		assert.Contains(t, err.Error(), msg, code)
	}
}
