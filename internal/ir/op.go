// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

//go:generate go tool stringer -type=Op -trimprefix=Op

package ir

import "strconv"

// Op is an IR operation.
// Operations act on an operand stack;
// the comments below give each one's operands and stack effect.
type Op uint8

// IR operations.
const (
	// OpLabel marks the jump target Label. It has no effect.
	OpLabel Op = iota

	// OpLoadNil pushes A nils.
	OpLoadNil
	OpLoadTrue
	OpLoadFalse
	// OpLoadConst pushes constant A.
	OpLoadConst
	// OpLoadInt pushes the signed 32-bit immediate A as a number.
	OpLoadInt

	// OpGetLocal pushes the value of local slot A.
	OpGetLocal
	// OpSetLocal pops a value into the existing cell of local slot A.
	OpSetLocal
	// OpInitLocal pops a value into a new cell for local slot A.
	OpInitLocal
	// OpGetUpval pushes upvalue A.
	OpGetUpval
	// OpSetUpval pops a value into upvalue A.
	OpSetUpval
	// OpGetGlobal pushes the global named by string constant A.
	OpGetGlobal
	// OpSetGlobal pops a value into the global named by string constant A.
	OpSetGlobal
	// OpGetIndex pops key and object and pushes object[key].
	OpGetIndex
	// OpSetIndex pops value, key, and object and assigns object[key] = value.
	OpSetIndex
	// OpSelf pops an object and pushes object[K[A]] followed by the object.
	OpSelf
	// OpNewTable pushes an empty table.
	OpNewTable
	// OpSetList pops a count n, n values, and a table,
	// and stores the values at integer keys A, A+1, ...
	OpSetList

	// Binary operators pop b, then a, and push a op b.

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpIDiv
	OpBAnd
	OpBOr
	OpBXor
	OpShl
	OpShr
	OpConcat
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// Unary operators replace the top of the stack.

	OpNeg
	OpNot
	OpLen
	OpBNot

	// OpJump jumps to Label.
	OpJump
	// OpJumpIfFalse pops a value and jumps to Label if it is false or nil.
	OpJumpIfFalse
	// OpJumpIfTrue pops a value and jumps to Label unless it is false or nil.
	OpJumpIfTrue
	// OpJumpIfNil pops a value and jumps to Label if it is nil.
	OpJumpIfNil

	// OpCall calls a function with A fixed arguments.
	// If Variadic is set, a count of additional arguments is on top of the stack.
	// The function lies beneath its arguments.
	// OpCall pushes the results followed by their count.
	OpCall
	// OpTailCall is like OpCall but returns the callee's results from the current function.
	OpTailCall
	// OpReturn returns A values, plus a counted tail if Variadic is set.
	OpReturn
	// OpVararg pushes the function's variable arguments followed by their count.
	OpVararg
	// OpAdjust pops a count n and n values, then pushes exactly A of them,
	// padding with nils.
	OpAdjust
	// OpClosure pushes a new closure over function constant A.
	OpClosure

	// OpDup pushes a copy of the top value.
	OpDup
	// OpPop discards A values.
	OpPop
	// OpRot3 moves the third value from the top to the top: [a b c] → [b c a].
	OpRot3
	// OpPick pushes a copy of the value A positions below the top.
	// OpPick 0 is equivalent to OpDup.
	OpPick

	// OpForLoop pops step, limit, and value
	// and jumps to Label if the numeric loop is done.
	OpForLoop
	// OpTForCall calls the iterator in local slot A
	// with the state in slot B and the control value in slot C.
	// The D results are stored in new cells at slots C+1 through C+D,
	// the first result replaces the control value,
	// and the first result is pushed.
	OpTForCall

	// OpCheck runs the integrity check of [CheckKind] A.
	OpCheck
	// OpTimingCheck runs the loop timing check.
	OpTimingCheck
	// OpHalt stops the machine.
	OpHalt

	numOps
)

// IsJump reports whether op transfers control to its Label.
func (op Op) IsJump() bool {
	switch op {
	case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpJumpIfNil, OpForLoop:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether control never continues to the next instruction.
func (op Op) IsTerminal() bool {
	switch op {
	case OpJump, OpReturn, OpTailCall, OpHalt:
		return true
	default:
		return false
	}
}

// IsBinary reports whether op is a binary operator.
func (op Op) IsBinary() bool {
	return OpAdd <= op && op <= OpGe
}

// IsUnary reports whether op is a unary operator.
func (op Op) IsUnary() bool {
	return OpNeg <= op && op <= OpBNot
}

// CheckKind identifies one of the integrity checks placed at program start.
type CheckKind uint8

// Integrity checks.
const (
	CheckDebug CheckKind = iota
	CheckEnvironment
	CheckHook
	CheckEmulator
	CheckSandbox

	numCheckKinds
)

// CheckKinds returns every [CheckKind] in declaration order.
func CheckKinds() []CheckKind {
	kinds := make([]CheckKind, numCheckKinds)
	for i := range kinds {
		kinds[i] = CheckKind(i)
	}
	return kinds
}

func (k CheckKind) String() string {
	switch k {
	case CheckDebug:
		return "debug"
	case CheckEnvironment:
		return "environment"
	case CheckHook:
		return "hook"
	case CheckEmulator:
		return "emulator"
	case CheckSandbox:
		return "sandbox"
	default:
		return "CheckKind(" + strconv.Itoa(int(k)) + ")"
	}
}
