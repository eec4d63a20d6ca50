// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package luavalue provides the subset of Lua values that can appear as constants:
// nil, booleans, integers, floats, and strings.
package luavalue

import (
	"math"
	"strconv"
	"strings"

	"oclare.dev/pkg/internal/lualex"
)

// Kind is the type of a [Value].
type Kind uint8

// Value kinds.
const (
	NilKind Kind = iota
	BooleanKind
	IntegerKind
	FloatKind
	StringKind
)

// Value is a constant Lua value.
// The zero value is nil.
// Values can be compared with == for identity,
// which distinguishes the integer 1 from the float 1.0.
type Value struct {
	kind Kind
	bits uint64
	s    string
}

// Bool converts a boolean to a [Value].
func Bool(b bool) Value {
	v := Value{kind: BooleanKind}
	if b {
		v.bits = 1
	}
	return v
}

// Integer converts an integer to a [Value].
func Integer(i int64) Value {
	return Value{kind: IntegerKind, bits: uint64(i)}
}

// Float converts a floating-point number to a [Value].
func Float(f float64) Value {
	return Value{kind: FloatKind, bits: math.Float64bits(f)}
}

// String converts a string to a [Value].
func String(s string) Value {
	return Value{kind: StringKind, s: s}
}

// Kind returns the type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is the zero value.
func (v Value) IsNil() bool { return v.kind == NilKind }

// IsNumber reports whether v is an integer or a float.
func (v Value) IsNumber() bool { return v.kind == IntegerKind || v.kind == FloatKind }

// IsInteger reports whether v is an integer.
func (v Value) IsInteger() bool { return v.kind == IntegerKind }

// IsString reports whether v is a string.
func (v Value) IsString() bool { return v.kind == StringKind }

// Truthy reports whether v tests true in a Lua condition.
func (v Value) Truthy() bool {
	return !(v.kind == NilKind || v.kind == BooleanKind && v.bits == 0)
}

// Float64 returns the value as a floating-point number
// and reports whether the value is a number.
// No coercion from strings occurs.
func (v Value) Float64() (_ float64, isNumber bool) {
	switch v.kind {
	case IntegerKind:
		return float64(int64(v.bits)), true
	case FloatKind:
		return math.Float64frombits(v.bits), true
	default:
		return 0, false
	}
}

// Int64 returns the value as an integer.
// Floats are converted only if they have an exact integer representation.
func (v Value) Int64() (_ int64, ok bool) {
	switch v.kind {
	case IntegerKind:
		return int64(v.bits), true
	case FloatKind:
		return FloatToInteger(math.Float64frombits(v.bits))
	default:
		return 0, false
	}
}

// Str returns the value of a string constant.
func (v Value) Str() (_ string, isString bool) {
	return v.s, v.kind == StringKind
}

// String returns the value as a Lua constant expression
// for a dialect with an integer subtype.
func (v Value) String() string {
	return v.Literal(true)
}

// Literal returns Lua source text that evaluates to v.
// If integers is false, integral floats are written without a fractional part,
// since the target runtime does not distinguish them.
func (v Value) Literal(integers bool) string {
	switch v.kind {
	case NilKind:
		return "nil"
	case BooleanKind:
		if v.bits != 0 {
			return "true"
		}
		return "false"
	case IntegerKind:
		i := int64(v.bits)
		if i == math.MinInt64 {
			return "(-9223372036854775807-1)"
		}
		if !integers && (i > 1<<53 || i < -(1<<53)) {
			return strconv.FormatFloat(float64(i), 'g', -1, 64)
		}
		return strconv.FormatInt(i, 10)
	case FloatKind:
		f := math.Float64frombits(v.bits)
		switch {
		case math.IsInf(f, 1):
			return "(1/0)"
		case math.IsInf(f, -1):
			return "(-1/0)"
		case math.IsNaN(f):
			return "(0/0)"
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if integers && !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s
	case StringKind:
		return lualex.Quote(v.s)
	default:
		return "nil"
	}
}

// Equal reports whether two values are equal according to [Lua equality].
//
// [Lua equality]: https://lua.org/manual/5.4/manual.html#3.4.4
func (v Value) Equal(v2 Value) bool {
	switch v.kind {
	case NilKind, BooleanKind:
		return v.kind == v2.kind && v.bits == v2.bits
	case IntegerKind, FloatKind:
		if v.kind == IntegerKind && v2.kind == IntegerKind {
			return v.bits == v2.bits
		}
		f1, _ := v.Float64()
		f2, ok := v2.Float64()
		return ok && f1 == f2
	case StringKind:
		return v2.kind == StringKind && v.s == v2.s
	default:
		return false
	}
}

// FloatToInteger converts a floating-point number to an integer
// if it has an exact integer representation.
func FloatToInteger(n float64) (_ int64, ok bool) {
	if math.Floor(n) != n {
		return 0, false
	}
	// math.MinInt64 always has an exact representation as a float,
	// but math.MaxInt64 does not.
	if !(math.MinInt64 <= n && n < -math.MinInt64) {
		return 0, false
	}
	return int64(n), true
}
