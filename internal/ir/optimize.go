// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package ir

import (
	"math"

	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/luavalue"
)

// maxCycle bounds the number of rounds [Optimize] runs per function.
const maxCycle = 16

// maxPop is the largest count a single [OpPop] carries after merging.
const maxPop = 255

// Optimize rewrites fn and its nested functions in place.
// It folds constant expressions, applies peephole rewrites,
// and removes unreachable code and unreferenced labels,
// repeating until nothing changes.
// Running Optimize on its own output makes no change.
func Optimize(fn *Function, d dialect.Dialect) {
	feat := d.Features()
	fn.Walk(func(f *Function) {
		o := &optimizer{fn: f, integers: feat.Integers}
		for range maxCycle {
			changed := o.fold()
			changed = o.peephole() || changed
			changed = o.eliminateDeadCode() || changed
			if !changed {
				break
			}
		}
		o.compactConstants()
	})
}

type optimizer struct {
	fn       *Function
	integers bool
}

// pushed returns the constant value an instruction pushes, if it is a single constant.
func (o *optimizer) pushed(inst Instruction) (luavalue.Value, bool) {
	switch inst.Op {
	case OpLoadNil:
		return luavalue.Value{}, inst.A == 1
	case OpLoadTrue:
		return luavalue.Bool(true), true
	case OpLoadFalse:
		return luavalue.Bool(false), true
	case OpLoadInt:
		if o.integers {
			return luavalue.Integer(int64(inst.A)), true
		}
		return luavalue.Float(float64(inst.A)), true
	case OpLoadConst:
		k := o.fn.Constants[inst.A]
		return k.Value, k.Kind == ValueConstant
	default:
		return luavalue.Value{}, false
	}
}

func (o *optimizer) push(v luavalue.Value, line int) Instruction {
	inst, ok := immediate(v, o.integers)
	if !ok {
		inst = Instruction{Op: OpLoadConst, A: o.constant(v)}
	}
	inst.Line = line
	return inst
}

func (o *optimizer) constant(v luavalue.Value) int {
	for i, k := range o.fn.Constants {
		if k.Kind == ValueConstant && k.Value == v {
			return i
		}
	}
	o.fn.Constants = append(o.fn.Constants, Constant{Kind: ValueConstant, Value: v})
	return len(o.fn.Constants) - 1
}

var arithmeticOps = map[Op]luavalue.Operator{
	OpAdd:  luavalue.Add,
	OpSub:  luavalue.Subtract,
	OpMul:  luavalue.Multiply,
	OpDiv:  luavalue.Divide,
	OpMod:  luavalue.Modulo,
	OpPow:  luavalue.Power,
	OpIDiv: luavalue.IntegerDivide,
	OpBAnd: luavalue.BitwiseAnd,
	OpBOr:  luavalue.BitwiseOr,
	OpBXor: luavalue.BitwiseXOR,
	OpShl:  luavalue.ShiftLeft,
	OpShr:  luavalue.ShiftRight,
	OpNeg:  luavalue.UnaryMinus,
	OpBNot: luavalue.BitwiseNot,
}

// fold replaces operators applied to constants with their results.
func (o *optimizer) fold() bool {
	changed := false
	out := make([]Instruction, 0, len(o.fn.Code))
	for _, inst := range o.fn.Code {
		n := len(out)
		switch {
		case inst.Op.IsBinary() && n >= 2:
			a, okA := o.pushed(out[n-2])
			b, okB := o.pushed(out[n-1])
			if !okA || !okB {
				break
			}
			if v, ok := o.foldBinary(inst.Op, a, b); ok {
				out = append(out[:n-2], o.push(v, inst.Line))
				changed = true
				continue
			}
		case inst.Op.IsUnary() && n >= 1:
			a, ok := o.pushed(out[n-1])
			if !ok {
				break
			}
			if v, ok := o.foldUnary(inst.Op, a); ok {
				out[n-1] = o.push(v, inst.Line)
				changed = true
				continue
			}
		}
		out = append(out, inst)
	}
	o.fn.Code = out
	return changed
}

func (o *optimizer) foldBinary(op Op, a, b luavalue.Value) (luavalue.Value, bool) {
	switch op {
	case OpConcat:
		s1, ok1 := a.Str()
		s2, ok2 := b.Str()
		if !ok1 || !ok2 {
			return luavalue.Value{}, false
		}
		return luavalue.String(s1 + s2), true
	case OpEq:
		return luavalue.Bool(a.Equal(b)), true
	case OpNe:
		return luavalue.Bool(!a.Equal(b)), true
	}
	arith, ok := arithmeticOps[op]
	if !ok {
		return luavalue.Value{}, false
	}
	return o.foldArithmetic(arith, a, b)
}

func (o *optimizer) foldUnary(op Op, a luavalue.Value) (luavalue.Value, bool) {
	switch op {
	case OpNot:
		return luavalue.Bool(!a.Truthy()), true
	case OpLen:
		s, ok := a.Str()
		if !ok {
			return luavalue.Value{}, false
		}
		if o.integers {
			return luavalue.Integer(int64(len(s))), true
		}
		return luavalue.Float(float64(len(s))), true
	}
	arith, ok := arithmeticOps[op]
	if !ok {
		return luavalue.Value{}, false
	}
	return o.foldArithmetic(arith, a, luavalue.Integer(0))
}

// foldArithmetic evaluates an arithmetic operator on constants.
// It declines when the runtime might disagree with the result:
// bitwise operators in dialects without native 64-bit integers,
// non-finite operands or results,
// division or modulo by integer zero,
// and integer operands producing a float.
func (o *optimizer) foldArithmetic(op luavalue.Operator, a, b luavalue.Value) (luavalue.Value, bool) {
	if op.IsIntegral() && !o.integers {
		return luavalue.Value{}, false
	}
	if !isFiniteNumber(a) || !isFiniteNumber(b) {
		return luavalue.Value{}, false
	}
	v, err := luavalue.Arithmetic(op, a, b)
	if err != nil {
		return luavalue.Value{}, false
	}
	if !isFiniteNumber(v) {
		return luavalue.Value{}, false
	}
	if a.IsInteger() && (op.IsUnary() || b.IsInteger()) && !v.IsInteger() {
		return luavalue.Value{}, false
	}
	return v, true
}

func isFiniteNumber(v luavalue.Value) bool {
	f, ok := v.Float64()
	return ok && !math.IsInf(f, 0) && !math.IsNaN(f)
}

func isConditionalJump(op Op) bool {
	return op == OpJumpIfFalse || op == OpJumpIfTrue || op == OpJumpIfNil
}

// jumpTaken reports whether a conditional jump is taken for v.
func jumpTaken(op Op, v luavalue.Value) bool {
	switch op {
	case OpJumpIfFalse:
		return !v.Truthy()
	case OpJumpIfTrue:
		return v.Truthy()
	default:
		return v.IsNil()
	}
}

// isPurePush reports whether inst only pushes one value with no side effects.
func isPurePush(inst Instruction) bool {
	switch inst.Op {
	case OpLoadTrue, OpLoadFalse, OpLoadConst, OpLoadInt, OpGetLocal, OpGetUpval, OpDup:
		return true
	case OpLoadNil:
		return inst.A == 1
	default:
		return false
	}
}

func (o *optimizer) peephole() bool {
	changed := false
	code := o.fn.Code
	out := make([]Instruction, 0, len(code))
	for i, inst := range code {
		n := len(out)
		var prev Instruction
		if n > 0 {
			prev = out[n-1]
		}
		switch {
		case inst.Op == OpGetLocal && n > 0 && prev.Op == OpSetLocal && prev.A == inst.A:
			out[n-1] = Instruction{Op: OpDup, Line: prev.Line}
			out = append(out, prev)
			changed = true
		case inst.Op == OpPop && inst.A == 0:
			changed = true
		case inst.Op == OpPop && n > 0 && prev.Op == OpPop && prev.A+inst.A <= maxPop:
			out[n-1].A += inst.A
			changed = true
		case inst.Op == OpPop && n > 0 && isPurePush(prev):
			out = out[:n-1]
			if inst.A > 1 {
				inst.A--
				out = append(out, inst)
			}
			changed = true
		case isConditionalJump(inst.Op) && inst.Op != OpJumpIfNil && n > 0 && prev.Op == OpNot:
			if inst.Op == OpJumpIfFalse {
				inst.Op = OpJumpIfTrue
			} else {
				inst.Op = OpJumpIfFalse
			}
			out[n-1] = inst
			changed = true
		case isConditionalJump(inst.Op) && n > 0 && o.isConstantPush(prev):
			v, _ := o.pushed(prev)
			if jumpTaken(inst.Op, v) {
				out[n-1] = Instruction{Op: OpJump, Label: inst.Label, Line: inst.Line}
			} else {
				out = out[:n-1]
			}
			changed = true
		case isConditionalJump(inst.Op) && n > 1 && prev.Op == OpDup && o.isConstantPush(out[n-2]):
			// The duplicate is consumed by the jump;
			// the original stays on the stack either way.
			v, _ := o.pushed(out[n-2])
			if jumpTaken(inst.Op, v) {
				out[n-1] = Instruction{Op: OpJump, Label: inst.Label, Line: inst.Line}
			} else {
				out = out[:n-1]
			}
			changed = true
		case inst.Op == OpJump && labelFollows(code[i+1:], inst.Label):
			changed = true
		default:
			out = append(out, inst)
		}
	}
	o.fn.Code = out
	return changed
}

func (o *optimizer) isConstantPush(inst Instruction) bool {
	_, ok := o.pushed(inst)
	return ok
}

// labelFollows reports whether the label is placed
// before any non-label instruction in code.
func labelFollows(code []Instruction, label int) bool {
	for _, inst := range code {
		if inst.Op != OpLabel {
			return false
		}
		if inst.Label == label {
			return true
		}
	}
	return false
}

// eliminateDeadCode removes instructions that follow an unconditional transfer
// up to the next referenced label, and removes labels that no jump references.
func (o *optimizer) eliminateDeadCode() bool {
	refs := make(map[int]bool)
	for _, inst := range o.fn.Code {
		if inst.Op.IsJump() {
			refs[inst.Label] = true
		}
	}
	changed := false
	dead := false
	out := o.fn.Code[:0]
	for _, inst := range o.fn.Code {
		if inst.Op == OpLabel {
			if !refs[inst.Label] {
				changed = true
				continue
			}
			dead = false
		}
		if dead {
			changed = true
			continue
		}
		out = append(out, inst)
		if inst.Op.IsTerminal() {
			dead = true
		}
	}
	o.fn.Code = out
	return changed
}

// compactConstants drops constants that no instruction references
// and renumbers the rest.
func (o *optimizer) compactConstants() {
	used := make([]bool, len(o.fn.Constants))
	for _, inst := range o.fn.Code {
		if usesConstant(inst.Op) {
			used[inst.A] = true
		}
	}
	remap := make([]int, len(o.fn.Constants))
	kept := o.fn.Constants[:0]
	for i, k := range o.fn.Constants {
		if !used[i] {
			remap[i] = -1
			continue
		}
		remap[i] = len(kept)
		kept = append(kept, k)
	}
	o.fn.Constants = kept
	for i := range o.fn.Code {
		if usesConstant(o.fn.Code[i].Op) {
			o.fn.Code[i].A = remap[o.fn.Code[i].A]
		}
	}
}

// usesConstant reports whether operand A of op is a constant index.
func usesConstant(op Op) bool {
	switch op {
	case OpLoadConst, OpGetGlobal, OpSetGlobal, OpSelf, OpClosure:
		return true
	default:
		return false
	}
}
