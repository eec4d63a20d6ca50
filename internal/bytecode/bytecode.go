// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package bytecode compiles IR into the byte encoding of a randomized ISA,
// and reverses that encoding for inspection.
package bytecode

import (
	"fmt"
	"strings"

	"oclare.dev/pkg/internal/ir"
	"oclare.dev/pkg/internal/luavalue"
	"oclare.dev/pkg/internal/vmarch"
)

// Unit is a compiled function.
type Unit struct {
	Name      string
	Params    int
	IsVararg  bool
	NumLocals int
	Upvalues  []ir.UpvalueDesc
	// Code is the encoded instruction stream.
	// After [SelfModify], parts of it are scrambled.
	Code      []byte
	Constants []Constant
	// Children are the units of nested functions in constant order.
	Children []*Unit
	// Used is the set of mnemonics that appear in Code.
	Used vmarch.MnemonicSet

	insts []Instruction
}

// Constant is an entry of a unit's constant pool.
type Constant struct {
	// Value is the constant's value if Func is nil.
	Value luavalue.Value
	// Func is the unit of a nested function.
	Func *Unit
}

// Instructions returns the decoded instruction stream of the unit.
// The caller must not modify the returned slice.
func (u *Unit) Instructions() []Instruction {
	return u.insts
}

// Walk calls f for u and every unit nested in it, depth first.
func (u *Unit) Walk(f func(*Unit)) {
	f(u)
	for _, child := range u.Children {
		child.Walk(f)
	}
}

// Instruction is a decoded VM instruction.
type Instruction struct {
	// Pos is the byte offset of the opcode.
	Pos      int
	Mnemonic vmarch.Mnemonic
	// Operand is the decoded operand.
	// Byte operands are the byte itself.
	// Word operands have the immediate key removed:
	// PUSH carries a two's complement int32, the others a constant index or list start.
	// Jump and SMBC operands are absolute byte offsets.
	Operand uint32
	// Args holds the four TFOR bytes (iterator, state, control, count)
	// or the SMBC mask and length.
	Args [4]byte
	// Line is the source line, if known.
	Line int

	// ref is 1 + the index of the instruction that a jump or SMBC targets,
	// or 0 when Operand is authoritative.
	ref int
}

// Size returns the number of bytes that encode the instruction.
func (inst Instruction) Size() int {
	return 1 + inst.Mnemonic.Operand().Size()
}

func (inst Instruction) String() string {
	sb := new(strings.Builder)
	sb.WriteString(inst.Mnemonic.String())
	switch inst.Mnemonic.Operand() {
	case vmarch.ByteOperand:
		switch inst.Mnemonic {
		case vmarch.Call, vmarch.TCall, vmarch.Ret:
			fmt.Fprintf(sb, " %d", inst.Operand&^vmarch.VariadicFlag)
			if inst.Operand&vmarch.VariadicFlag != 0 {
				sb.WriteString("+")
			}
		default:
			fmt.Fprintf(sb, " %d", inst.Operand)
		}
	case vmarch.WordOperand:
		switch inst.Mnemonic {
		case vmarch.Push:
			fmt.Fprintf(sb, " %d", int32(inst.Operand))
		case vmarch.SetList:
			fmt.Fprintf(sb, " %d", inst.Operand)
		default:
			fmt.Fprintf(sb, " K%d", inst.Operand)
		}
	case vmarch.JumpOperand:
		fmt.Fprintf(sb, " -> %04x", inst.Operand)
	case vmarch.TForOperand:
		fmt.Fprintf(sb, " %d %d %d %d", inst.Args[0], inst.Args[1], inst.Args[2], inst.Args[3])
	case vmarch.SMBCOperand:
		fmt.Fprintf(sb, " %04x ^%02x x%d", inst.Operand, inst.Args[0], inst.Args[1])
	}
	return sb.String()
}
