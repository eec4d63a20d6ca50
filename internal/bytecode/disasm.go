// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"fmt"
	"io"
	"slices"

	"oclare.dev/pkg/internal/vmarch"
)

// Disassemble decodes code under cfg.
// Regions guarded by SMBC instructions are restored before they are decoded,
// as the virtual machine would do.
func Disassemble(code []byte, cfg *vmarch.Config) ([]Instruction, error) {
	work := slices.Clone(code)
	order := cfg.ByteOrder()
	var insts []Instruction
	for pos := 0; pos < len(work); {
		op := work[pos]
		m, ok := cfg.Lookup(op)
		if !ok {
			if cfg.IsDecoy(op) {
				return insts, fmt.Errorf("disassemble: decoy opcode %#02x at %04x", op, pos)
			}
			return insts, fmt.Errorf("disassemble: invalid opcode %#02x at %04x", op, pos)
		}
		inst := Instruction{Pos: pos, Mnemonic: m}
		size := inst.Size()
		if pos+size > len(work) {
			return insts, fmt.Errorf("disassemble: %v at %04x truncated", m, pos)
		}
		operand := work[pos+1 : pos+size]
		switch m.Operand() {
		case vmarch.ByteOperand:
			inst.Operand = uint32(operand[0])
		case vmarch.WordOperand:
			inst.Operand = order.Uint32(operand) ^ cfg.ImmediateKey
		case vmarch.JumpOperand:
			w := order.Uint32(operand) ^ cfg.JumpKey
			if cfg.JumpRelative {
				w = uint32(int32(w) + int32(pos+size))
			}
			inst.Operand = w
		case vmarch.TForOperand:
			copy(inst.Args[:], operand)
		case vmarch.SMBCOperand:
			inst.Operand = order.Uint32(operand) ^ cfg.ImmediateKey
			inst.Args[0], inst.Args[1] = operand[4], operand[5]
			start, n := int(inst.Operand), int(inst.Args[1])
			if start < pos+size || start+n > len(work) {
				return insts, fmt.Errorf("disassemble: self-modify region %04x+%d at %04x out of range", start, n, pos)
			}
			for i := start; i < start+n; i++ {
				work[i] ^= inst.Args[0]
			}
		}
		insts = append(insts, inst)
		pos += size
	}
	return insts, nil
}

// Encode is the inverse of [Disassemble]:
// it writes insts in order under cfg, scrambling self-modifying regions.
// Jump and SMBC operands are taken as absolute offsets.
func Encode(insts []Instruction, cfg *vmarch.Config) ([]byte, error) {
	insts = slices.Clone(insts)
	for i := range insts {
		insts[i].ref = 0
	}
	code, err := encode(insts, cfg)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return code, nil
}

// Dump writes a listing of u and its children.
func Dump(w io.Writer, u *Unit, cfg *vmarch.Config) error {
	return dump(w, u, cfg, "")
}

func dump(w io.Writer, u *Unit, cfg *vmarch.Config, indent string) error {
	vararg := ""
	if u.IsVararg {
		vararg = "+"
	}
	if _, err := fmt.Fprintf(w, "%sfunction %s (%d%s params, %d locals, %d upvalues, %d bytes)\n",
		indent, u.Name, u.Params, vararg, u.NumLocals, len(u.Upvalues), len(u.Code)); err != nil {
		return err
	}
	for _, inst := range u.insts {
		if _, err := fmt.Fprintf(w, "%s  %04x  %02x  [%d] %v\n", indent, inst.Pos, cfg.Opcode(inst.Mnemonic), inst.Line, inst); err != nil {
			return err
		}
	}
	for i, up := range u.Upvalues {
		where := "upvalue"
		if up.FromParentLocal {
			where = "local"
		}
		if _, err := fmt.Fprintf(w, "%s  U%d = %s (%s %d)\n", indent, i, up.Name, where, up.Index); err != nil {
			return err
		}
	}
	for i, k := range u.Constants {
		if k.Func != nil {
			if _, err := fmt.Fprintf(w, "%s  K%d = function %s\n", indent, i, k.Func.Name); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s  K%d = %v\n", indent, i, k.Value); err != nil {
			return err
		}
	}
	for _, child := range u.Children {
		if err := dump(w, child, cfg, indent+"  "); err != nil {
			return err
		}
	}
	return nil
}
