// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package ir provides the stack-based intermediate representation
// that sits between the syntax tree and the bytecode compiler.
package ir

import (
	"fmt"
	"io"
	"strings"

	"oclare.dev/pkg/internal/luavalue"
)

// Instruction is a single IR operation with its operands.
// The meaning of A through D depends on Op.
type Instruction struct {
	Op Op
	A  int
	B  int
	C  int
	D  int
	// Label is the target of a jump or the identifier of an [OpLabel].
	Label int
	// Variadic marks a call or return whose last operand is a counted tail.
	Variadic bool
	// Line is the source line that produced the instruction.
	Line int
}

func (inst Instruction) String() string {
	sb := new(strings.Builder)
	sb.WriteString(inst.Op.String())
	switch inst.Op {
	case OpLabel:
		fmt.Fprintf(sb, " L%d", inst.Label)
	case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpJumpIfNil, OpForLoop:
		fmt.Fprintf(sb, " -> L%d", inst.Label)
	case OpTForCall:
		fmt.Fprintf(sb, " %d %d %d %d", inst.A, inst.B, inst.C, inst.D)
	case OpCall, OpTailCall, OpReturn:
		fmt.Fprintf(sb, " %d", inst.A)
		if inst.Variadic {
			sb.WriteString("+")
		}
	case OpCheck:
		fmt.Fprintf(sb, " %v", CheckKind(inst.A))
	case OpLoadNil, OpLoadConst, OpLoadInt, OpGetLocal, OpSetLocal, OpInitLocal,
		OpGetUpval, OpSetUpval, OpGetGlobal, OpSetGlobal, OpSelf, OpSetList,
		OpAdjust, OpClosure, OpPop, OpPick:
		fmt.Fprintf(sb, " %d", inst.A)
	}
	return sb.String()
}

// ConstantKind distinguishes value constants from nested functions.
type ConstantKind uint8

// Constant kinds.
const (
	ValueConstant ConstantKind = iota
	FunctionConstant
)

// Constant is an entry in a function's constant pool.
type Constant struct {
	Kind  ConstantKind
	Value luavalue.Value
	// Func is set for a [FunctionConstant].
	Func *Function
}

// UpvalueDesc describes how a closure captures one of its upvalues.
type UpvalueDesc struct {
	// FromParentLocal is true if the upvalue is the cell of a local slot
	// in the enclosing function.
	// Otherwise it is one of the enclosing function's own upvalues.
	FromParentLocal bool
	Index           int
	Name            string
}

// Function is the IR of one Lua function.
type Function struct {
	Name        string
	LineDefined int
	NumParams   int
	IsVararg    bool
	// NumLocals is the number of local slots the function needs,
	// parameters included.
	NumLocals int
	Code      []Instruction
	Constants []Constant
	Upvalues  []UpvalueDesc
}

// Children returns the nested functions in constant pool order.
func (fn *Function) Children() []*Function {
	var children []*Function
	for _, k := range fn.Constants {
		if k.Kind == FunctionConstant {
			children = append(children, k.Func)
		}
	}
	return children
}

// Walk calls f for fn and every function nested in it, depth first.
func (fn *Function) Walk(f func(*Function)) {
	f(fn)
	for _, child := range fn.Children() {
		child.Walk(f)
	}
}

// InstructionCount returns the number of non-label instructions
// in fn and its nested functions.
func (fn *Function) InstructionCount() int {
	n := 0
	fn.Walk(func(f *Function) {
		for _, inst := range f.Code {
			if inst.Op != OpLabel {
				n++
			}
		}
	})
	return n
}

// Dump writes a human-readable listing of fn and its nested functions.
func (fn *Function) Dump(w io.Writer) error {
	return fn.dump(w, "")
}

func (fn *Function) dump(w io.Writer, indent string) error {
	name := fn.Name
	if name == "" {
		name = "<anonymous>"
	}
	vararg := ""
	if fn.IsVararg {
		vararg = "+"
	}
	if _, err := fmt.Fprintf(w, "%sfunction %s (%d%s params, %d locals, %d upvalues, %d constants)\n",
		indent, name, fn.NumParams, vararg, fn.NumLocals, len(fn.Upvalues), len(fn.Constants)); err != nil {
		return err
	}
	for i, inst := range fn.Code {
		if _, err := fmt.Fprintf(w, "%s  %04d [%d] %v\n", indent, i, inst.Line, inst); err != nil {
			return err
		}
	}
	for i, k := range fn.Constants {
		if k.Kind == FunctionConstant {
			if err := k.Func.dump(w, indent+"  "); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s  K%d = %v\n", indent, i, k.Value); err != nil {
			return err
		}
	}
	return nil
}
