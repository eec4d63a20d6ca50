// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package luavalue

import (
	"errors"
	"fmt"
	"math"
)

// Operator is the subset of Lua operators that operate on numbers.
type Operator int

// Arithmetic operators.
const (
	Add Operator = 1 + iota
	Subtract
	Multiply
	Modulo
	Power
	Divide
	IntegerDivide
	BitwiseAnd
	BitwiseOr
	BitwiseXOR
	ShiftLeft
	ShiftRight
	UnaryMinus
	BitwiseNot
)

// IsUnary reports whether the operator only uses one value.
func (op Operator) IsUnary() bool {
	return op == UnaryMinus || op == BitwiseNot
}

// IsIntegral reports whether the operator only operates on integral values.
func (op Operator) IsIntegral() bool {
	switch op {
	case BitwiseAnd, BitwiseOr, BitwiseXOR, ShiftLeft, ShiftRight, BitwiseNot:
		return true
	default:
		return false
	}
}

// [Arithmetic] errors.
var (
	ErrDivideByZero = errors.New("attempt to perform 'n//0' or 'n%0'")
	ErrNotNumber    = errors.New("arithmetic on non-number")
	ErrNotInteger   = errors.New("number has no integer representation")
)

// Arithmetic performs an arithmetic or bitwise operation
// with Lua 5.4 semantics.
// If the operator is unary, p1 is used and p2 is ignored.
func Arithmetic(op Operator, p1, p2 Value) (Value, error) {
	if op.IsUnary() {
		p2 = Integer(0)
	}

	switch op {
	case BitwiseAnd, BitwiseOr, BitwiseXOR, ShiftLeft, ShiftRight, BitwiseNot:
		i1, err := toInteger(p1)
		if err != nil {
			return Value{}, err
		}
		i2, err := toInteger(p2)
		if err != nil {
			return Value{}, err
		}
		result, err := intArithmetic(op, i1, i2)
		if err != nil {
			return Value{}, err
		}
		return Integer(result), nil
	case Divide, Power:
		n1, ok := p1.Float64()
		if !ok {
			return Value{}, ErrNotNumber
		}
		n2, ok := p2.Float64()
		if !ok {
			return Value{}, ErrNotNumber
		}
		return Float(floatArithmetic(op, n1, n2)), nil
	case Add, Subtract, Multiply, Modulo, IntegerDivide, UnaryMinus:
		if p1.IsInteger() && p2.IsInteger() {
			i1, _ := p1.Int64()
			i2, _ := p2.Int64()
			result, err := intArithmetic(op, i1, i2)
			if err != nil {
				return Value{}, err
			}
			return Integer(result), nil
		}
		n1, ok := p1.Float64()
		if !ok {
			return Value{}, ErrNotNumber
		}
		n2, ok := p2.Float64()
		if !ok {
			return Value{}, ErrNotNumber
		}
		return Float(floatArithmetic(op, n1, n2)), nil
	default:
		return Value{}, fmt.Errorf("invalid operator %d", int(op))
	}
}

func toInteger(v Value) (int64, error) {
	i, ok := v.Int64()
	if !ok {
		if v.IsNumber() {
			return 0, ErrNotInteger
		}
		return 0, ErrNotNumber
	}
	return i, nil
}

func intArithmetic(op Operator, v1, v2 int64) (int64, error) {
	switch op {
	case Add:
		return v1 + v2, nil
	case Subtract:
		return v1 - v2, nil
	case Multiply:
		return v1 * v2, nil
	case Modulo:
		if v2 == 0 {
			return 0, ErrDivideByZero
		}
		if v2 == -1 {
			return 0, nil
		}
		m := v1 % v2
		if m != 0 && (m^v2) < 0 {
			m += v2
		}
		return m, nil
	case IntegerDivide:
		if v2 == 0 {
			return 0, ErrDivideByZero
		}
		if v2 == -1 {
			return -v1, nil
		}
		q := v1 / v2
		if v1^v2 < 0 && v1%v2 != 0 {
			// Go truncates toward zero; Lua floors.
			q--
		}
		return q, nil
	case BitwiseAnd:
		return v1 & v2, nil
	case BitwiseOr:
		return v1 | v2, nil
	case BitwiseXOR:
		return v1 ^ v2, nil
	case ShiftRight:
		v2 = -v2
		fallthrough
	case ShiftLeft:
		// Lua shifts are logical, and displacements of 64 or more yield zero.
		switch {
		case v2 <= -64 || v2 >= 64:
			return 0, nil
		case v2 < 0:
			return int64(uint64(v1) >> -v2), nil
		default:
			return int64(uint64(v1) << v2), nil
		}
	case UnaryMinus:
		return -v1, nil
	case BitwiseNot:
		return ^v1, nil
	default:
		return 0, fmt.Errorf("operator %d not implemented for integers", int(op))
	}
}

func floatArithmetic(op Operator, v1, v2 float64) float64 {
	switch op {
	case Add:
		return v1 + v2
	case Subtract:
		return v1 - v2
	case Multiply:
		return v1 * v2
	case Divide:
		return floatDivide(v1, v2)
	case Power:
		if v2 == 2 {
			return v1 * v1
		}
		return math.Pow(v1, v2)
	case IntegerDivide:
		return math.Floor(floatDivide(v1, v2))
	case UnaryMinus:
		return -v1
	case Modulo:
		if math.IsInf(v2, 0) && !math.IsNaN(v1) && !math.IsInf(v1, 0) {
			if (v1 >= 0) == (v2 > 0) {
				return v1
			}
			return v2
		}
		m := math.Mod(v1, v2)
		if m != 0 && (m < 0) != (v2 < 0) {
			m += v2
		}
		return m
	default:
		panic("unhandled arithmetic operator")
	}
}

// floatDivide returns the result of v1 divided by v2.
// If v2 is zero, then the result is ±Inf or NaN.
func floatDivide(v1, v2 float64) float64 {
	if v2 == 0 {
		switch {
		case v1 == 0 || math.IsNaN(v1):
			return math.NaN()
		case math.Signbit(v1) != math.Signbit(v2):
			return math.Inf(-1)
		default:
			return math.Inf(1)
		}
	}
	return v1 / v2
}
