// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package luaast

import "oclare.dev/pkg/internal/luavalue"

// BinaryOperator is an infix operator.
type BinaryOperator int

// Binary operators.
const (
	AddOp    BinaryOperator = 1 + iota // +
	SubOp                              // -
	MulOp                              // *
	DivOp                              // /
	IDivOp                             // //
	ModOp                              // %
	PowOp                              // ^
	ConcatOp                           // ..
	EqOp                               // ==
	NeOp                               // ~=
	LtOp                               // <
	LeOp                               // <=
	GtOp                               // >
	GeOp                               // >=
	AndOp                              // and
	OrOp                               // or
	BAndOp                             // &
	BOrOp                              // |
	BXorOp                             // ~
	ShlOp                              // <<
	ShrOp                              // >>
)

// IsBitwise reports whether op is one of the integer bitwise operators.
func (op BinaryOperator) IsBitwise() bool {
	return BAndOp <= op && op <= ShrOp
}

// IsComparison reports whether op produces a boolean from two operands.
func (op BinaryOperator) IsComparison() bool {
	return EqOp <= op && op <= GeOp
}

// Arithmetic returns the constant-folding operator for op.
func (op BinaryOperator) Arithmetic() (_ luavalue.Operator, ok bool) {
	switch op {
	case AddOp:
		return luavalue.Add, true
	case SubOp:
		return luavalue.Subtract, true
	case MulOp:
		return luavalue.Multiply, true
	case DivOp:
		return luavalue.Divide, true
	case IDivOp:
		return luavalue.IntegerDivide, true
	case ModOp:
		return luavalue.Modulo, true
	case PowOp:
		return luavalue.Power, true
	case BAndOp:
		return luavalue.BitwiseAnd, true
	case BOrOp:
		return luavalue.BitwiseOr, true
	case BXorOp:
		return luavalue.BitwiseXOR, true
	case ShlOp:
		return luavalue.ShiftLeft, true
	case ShrOp:
		return luavalue.ShiftRight, true
	default:
		return 0, false
	}
}

// UnaryOperator is a prefix operator.
type UnaryOperator int

// Unary operators.
const (
	NegOp  UnaryOperator = 1 + iota // -
	NotOp                           // not
	LenOp                           // #
	BNotOp                          // ~
)
