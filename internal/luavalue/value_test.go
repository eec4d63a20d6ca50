// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package luavalue

import (
	"errors"
	"math"
	"testing"
)

func TestArithmetic(t *testing.T) {
	tests := []struct {
		op     Operator
		p1, p2 Value
		want   Value
		err    error
	}{
		{op: Add, p1: Integer(2), p2: Integer(3), want: Integer(5)},
		{op: Add, p1: Integer(2), p2: Float(0.5), want: Float(2.5)},
		{op: Divide, p1: Integer(1), p2: Integer(2), want: Float(0.5)},
		{op: IntegerDivide, p1: Integer(-7), p2: Integer(2), want: Integer(-4)},
		{op: IntegerDivide, p1: Integer(1), p2: Integer(0), err: ErrDivideByZero},
		{op: Modulo, p1: Integer(-7), p2: Integer(3), want: Integer(2)},
		{op: Modulo, p1: Float(-7), p2: Float(3), want: Float(2)},
		{op: Modulo, p1: Integer(5), p2: Integer(0), err: ErrDivideByZero},
		{op: Power, p1: Integer(2), p2: Integer(10), want: Float(1024)},
		{op: ShiftLeft, p1: Integer(1), p2: Integer(4), want: Integer(16)},
		{op: ShiftRight, p1: Integer(-1), p2: Integer(63), want: Integer(1)},
		{op: ShiftLeft, p1: Integer(1), p2: Integer(64), want: Integer(0)},
		{op: BitwiseAnd, p1: Float(1.5), p2: Integer(1), err: ErrNotInteger},
		{op: BitwiseNot, p1: Integer(0), want: Integer(-1)},
		{op: UnaryMinus, p1: Float(2), want: Float(-2)},
		{op: Add, p1: String("1"), p2: Integer(1), err: ErrNotNumber},
	}
	for _, test := range tests {
		got, err := Arithmetic(test.op, test.p1, test.p2)
		if test.err != nil {
			if !errors.Is(err, test.err) {
				t.Errorf("Arithmetic(%d, %v, %v) error = %v; want %v", test.op, test.p1, test.p2, err, test.err)
			}
			continue
		}
		if err != nil || got != test.want {
			t.Errorf("Arithmetic(%d, %v, %v) = %v, %v; want %v, <nil>", test.op, test.p1, test.p2, got, err, test.want)
		}
	}
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		v        Value
		integers bool
		want     string
	}{
		{Value{}, true, "nil"},
		{Bool(true), true, "true"},
		{Integer(42), true, "42"},
		{Integer(math.MinInt64), true, "(-9223372036854775807-1)"},
		{Float(3), true, "3.0"},
		{Float(3), false, "3"},
		{Float(0.1), false, "0.1"},
		{Float(math.Inf(1)), true, "(1/0)"},
		{Float(math.NaN()), true, "(0/0)"},
		{String("a\"b"), true, `"a\"b"`},
	}
	for _, test := range tests {
		if got := test.v.Literal(test.integers); got != test.want {
			t.Errorf("%#v.Literal(%t) = %q; want %q", test.v, test.integers, got, test.want)
		}
	}
}

func TestEqual(t *testing.T) {
	if !Integer(1).Equal(Float(1)) {
		t.Error("1 ~= 1.0")
	}
	if Integer(1) == Float(1) {
		t.Error("Integer(1) and Float(1) are identical")
	}
	if String("1").Equal(Integer(1)) {
		t.Error(`"1" == 1`)
	}
	if !Bool(false).Equal(Bool(false)) || Bool(false).Equal(Value{}) {
		t.Error("boolean equality is wrong")
	}
}
