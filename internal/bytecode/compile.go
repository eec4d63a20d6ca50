// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"fmt"
	"math"

	"oclare.dev/pkg/internal/ir"
	"oclare.dev/pkg/internal/vmarch"
)

const (
	maxByteOperand = math.MaxUint8
	maxCallCount   = vmarch.VariadicFlag - 1
)

// Compile encodes fn and its nested functions under cfg.
func Compile(fn *ir.Function, cfg *vmarch.Config) (*Unit, error) {
	u, err := compile(fn, cfg, true)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return u, nil
}

func compile(fn *ir.Function, cfg *vmarch.Config, main bool) (*Unit, error) {
	u := &Unit{
		Name:      fn.Name,
		Params:    fn.NumParams,
		IsVararg:  fn.IsVararg,
		NumLocals: fn.NumLocals,
		Upvalues:  fn.Upvalues,
	}
	if len(fn.Upvalues) > maxByteOperand+1 {
		return nil, fmt.Errorf("%s: %d upvalues exceeds limit of %d", fn.Name, len(fn.Upvalues), maxByteOperand+1)
	}
	for _, k := range fn.Constants {
		switch k.Kind {
		case ir.ValueConstant:
			u.Constants = append(u.Constants, Constant{Value: k.Value})
		case ir.FunctionConstant:
			child, err := compile(k.Func, cfg, false)
			if err != nil {
				return nil, err
			}
			u.Constants = append(u.Constants, Constant{Func: child})
			u.Children = append(u.Children, child)
		default:
			return nil, fmt.Errorf("%s: unhandled constant kind %d", fn.Name, k.Kind)
		}
	}

	c := &compiler{
		cfg:    cfg,
		unit:   u,
		labels: make(map[int]int),
	}
	if !main {
		c.emit(vmarch.Rekey, 0, fn.LineDefined)
	}
	for _, inst := range fn.Code {
		if err := c.instruction(inst); err != nil {
			return nil, fmt.Errorf("%s: line %d: %v: %w", fn.Name, inst.Line, inst, err)
		}
	}
	for _, p := range c.patches {
		idx, ok := c.labels[p.label]
		if !ok {
			return nil, fmt.Errorf("%s: jump to undefined label L%d", fn.Name, p.label)
		}
		u.insts[p.inst].ref = idx + 1
	}
	code, err := encode(u.insts, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name, err)
	}
	u.Code = code
	for _, inst := range u.insts {
		u.Used.Add(inst.Mnemonic)
	}
	return u, nil
}

type compiler struct {
	cfg     *vmarch.Config
	unit    *Unit
	labels  map[int]int
	patches []patch
}

// patch is a jump whose target label is resolved after the function is laid out.
type patch struct {
	inst  int
	label int
}

func (c *compiler) emit(m vmarch.Mnemonic, operand uint32, line int) *Instruction {
	c.unit.insts = append(c.unit.insts, Instruction{Mnemonic: m, Operand: operand, Line: line})
	return &c.unit.insts[len(c.unit.insts)-1]
}

func (c *compiler) jump(m vmarch.Mnemonic, label, line int) {
	c.patches = append(c.patches, patch{inst: len(c.unit.insts), label: label})
	c.emit(m, 0, line)
}

func (c *compiler) byteOperand(m vmarch.Mnemonic, n, line int) error {
	if n < 0 || n > maxByteOperand {
		return fmt.Errorf("operand %d of %v out of range", n, m)
	}
	c.emit(m, uint32(n), line)
	return nil
}

// count emits a call or return count with the variadic flag.
func (c *compiler) count(m vmarch.Mnemonic, n int, variadic bool, line int) error {
	if n < 0 || n > maxCallCount {
		return fmt.Errorf("%v count %d exceeds limit of %d", m, n, maxCallCount)
	}
	operand := uint32(n)
	if variadic {
		operand |= vmarch.VariadicFlag
	}
	c.emit(m, operand, line)
	return nil
}

// constant emits an instruction referencing constant index i,
// checking that the index is in range and the constant has the expected type.
func (c *compiler) constant(m vmarch.Mnemonic, i int, line int) error {
	if i < 0 || i >= len(c.unit.Constants) {
		return fmt.Errorf("constant index %d out of range [0, %d)", i, len(c.unit.Constants))
	}
	k := c.unit.Constants[i]
	switch m {
	case vmarch.Clos:
		if k.Func == nil {
			return fmt.Errorf("constant %d is not a function", i)
		}
	case vmarch.LdGlob, vmarch.StGlob, vmarch.Self:
		if k.Func != nil || !k.Value.IsString() {
			return fmt.Errorf("constant %d is not a string", i)
		}
	default:
		if k.Func != nil {
			return fmt.Errorf("constant %d is a function", i)
		}
	}
	c.emit(m, uint32(i), line)
	return nil
}

var binaryMnemonics = map[ir.Op]vmarch.Mnemonic{
	ir.OpAdd:    vmarch.Add,
	ir.OpSub:    vmarch.Sub,
	ir.OpMul:    vmarch.Mul,
	ir.OpDiv:    vmarch.Div,
	ir.OpMod:    vmarch.Mod,
	ir.OpPow:    vmarch.Pow,
	ir.OpIDiv:   vmarch.IDiv,
	ir.OpBAnd:   vmarch.BAnd,
	ir.OpBOr:    vmarch.BOr,
	ir.OpBXor:   vmarch.BXor,
	ir.OpShl:    vmarch.Shl,
	ir.OpShr:    vmarch.Shr,
	ir.OpConcat: vmarch.Concat,
	ir.OpEq:     vmarch.Eq,
	ir.OpNe:     vmarch.Neq,
	ir.OpLt:     vmarch.Lt,
	ir.OpLe:     vmarch.Le,
	ir.OpGt:     vmarch.Gt,
	ir.OpGe:     vmarch.Ge,
}

var checkMnemonics = map[ir.CheckKind]vmarch.Mnemonic{
	ir.CheckDebug:       vmarch.ChkDbg,
	ir.CheckEnvironment: vmarch.ChkEnv,
	ir.CheckHook:        vmarch.AntiHook,
	ir.CheckEmulator:    vmarch.ChkEmu,
	ir.CheckSandbox:     vmarch.ChkSbox,
}

func (c *compiler) instruction(inst ir.Instruction) error {
	line := inst.Line
	switch inst.Op {
	case ir.OpLabel:
		c.labels[inst.Label] = len(c.unit.insts)
	case ir.OpLoadNil:
		for range inst.A {
			c.emit(vmarch.LdNil, 0, line)
		}
	case ir.OpLoadTrue:
		c.emit(vmarch.LdTrue, 0, line)
	case ir.OpLoadFalse:
		c.emit(vmarch.LdFalse, 0, line)
	case ir.OpLoadConst:
		return c.constant(vmarch.LdK, inst.A, line)
	case ir.OpLoadInt:
		if inst.A < math.MinInt32 || inst.A > math.MaxInt32 {
			return fmt.Errorf("immediate %d does not fit in 32 bits", inst.A)
		}
		c.emit(vmarch.Push, uint32(int32(inst.A)), line)
	case ir.OpGetLocal:
		return c.byteOperand(vmarch.LdLoc, inst.A, line)
	case ir.OpSetLocal:
		return c.byteOperand(vmarch.StLoc, inst.A, line)
	case ir.OpInitLocal:
		return c.byteOperand(vmarch.InitLoc, inst.A, line)
	case ir.OpGetUpval:
		return c.byteOperand(vmarch.LdUp, inst.A, line)
	case ir.OpSetUpval:
		return c.byteOperand(vmarch.StUp, inst.A, line)
	case ir.OpGetGlobal:
		return c.constant(vmarch.LdGlob, inst.A, line)
	case ir.OpSetGlobal:
		return c.constant(vmarch.StGlob, inst.A, line)
	case ir.OpGetIndex:
		c.emit(vmarch.GetTbl, 0, line)
	case ir.OpSetIndex:
		c.emit(vmarch.SetTbl, 0, line)
	case ir.OpSelf:
		return c.constant(vmarch.Self, inst.A, line)
	case ir.OpNewTable:
		c.emit(vmarch.NewTbl, 0, line)
	case ir.OpSetList:
		if inst.A < 1 {
			return fmt.Errorf("list start %d out of range", inst.A)
		}
		c.emit(vmarch.SetList, uint32(inst.A), line)
	case ir.OpNeg:
		c.emit(vmarch.Unm, 0, line)
	case ir.OpNot:
		c.emit(vmarch.Not, 0, line)
	case ir.OpLen:
		c.emit(vmarch.Len, 0, line)
	case ir.OpBNot:
		c.emit(vmarch.BNot, 0, line)
	case ir.OpJump:
		c.jump(vmarch.Jmp, inst.Label, line)
	case ir.OpJumpIfFalse:
		c.jump(c.cfg.ConditionalJump(false), inst.Label, line)
	case ir.OpJumpIfTrue:
		c.jump(c.cfg.ConditionalJump(true), inst.Label, line)
	case ir.OpJumpIfNil:
		c.jump(vmarch.JNil, inst.Label, line)
	case ir.OpCall:
		return c.count(vmarch.Call, inst.A, inst.Variadic, line)
	case ir.OpTailCall:
		return c.count(vmarch.TCall, inst.A, inst.Variadic, line)
	case ir.OpReturn:
		return c.count(vmarch.Ret, inst.A, inst.Variadic, line)
	case ir.OpVararg:
		c.emit(vmarch.Varg, 0, line)
	case ir.OpAdjust:
		return c.byteOperand(vmarch.MRet, inst.A, line)
	case ir.OpClosure:
		return c.constant(vmarch.Clos, inst.A, line)
	case ir.OpDup:
		c.emit(vmarch.Dup, 0, line)
	case ir.OpPop:
		switch {
		case inst.A == 1:
			c.emit(vmarch.Pop, 0, line)
		case inst.A > 1:
			for n := inst.A; n > 0; n -= maxByteOperand {
				c.emit(vmarch.Drop, uint32(min(n, maxByteOperand)), line)
			}
		}
	case ir.OpRot3:
		c.emit(vmarch.Rot3, 0, line)
	case ir.OpPick:
		return c.byteOperand(vmarch.Pick, inst.A, line)
	case ir.OpForLoop:
		c.emit(vmarch.Loop, 0, line)
		c.jump(c.cfg.ConditionalJump(false), inst.Label, line)
	case ir.OpTForCall:
		for _, slot := range []int{inst.A, inst.B, inst.C, inst.D} {
			if slot < 0 || slot > maxByteOperand {
				return fmt.Errorf("generic for operand %d out of range", slot)
			}
		}
		c.emit(vmarch.TFor, 0, line).Args = [4]byte{byte(inst.A), byte(inst.B), byte(inst.C), byte(inst.D)}
	case ir.OpCheck:
		m, ok := checkMnemonics[ir.CheckKind(inst.A)]
		if !ok {
			return fmt.Errorf("unknown check kind %d", inst.A)
		}
		c.emit(m, 0, line)
	case ir.OpTimingCheck:
		c.emit(vmarch.ChkTim, 0, line)
	case ir.OpHalt:
		c.emit(vmarch.Halt, 0, line)
	default:
		if m, ok := binaryMnemonics[inst.Op]; ok {
			c.emit(m, 0, line)
			return nil
		}
		return fmt.Errorf("no encoding for %v", inst.Op)
	}
	return nil
}

// layout assigns byte offsets to insts and resolves their targets.
// It returns the total size.
func layout(insts []Instruction) (int, error) {
	pos := 0
	for i := range insts {
		insts[i].Pos = pos
		pos += insts[i].Size()
	}
	for i := range insts {
		ref := insts[i].ref
		if ref == 0 {
			continue
		}
		switch {
		case ref-1 < len(insts):
			insts[i].Operand = uint32(insts[ref-1].Pos)
		case ref-1 == len(insts):
			insts[i].Operand = uint32(pos)
		default:
			return 0, fmt.Errorf("instruction %d targets instruction %d of %d", i, ref-1, len(insts))
		}
	}
	return pos, nil
}

// encode lays out insts and writes their bytes,
// scrambling the regions guarded by SMBC instructions.
func encode(insts []Instruction, cfg *vmarch.Config) ([]byte, error) {
	size, err := layout(insts)
	if err != nil {
		return nil, err
	}
	order := cfg.ByteOrder()
	code := make([]byte, 0, size)
	for _, inst := range insts {
		code = append(code, cfg.Opcode(inst.Mnemonic))
		switch inst.Mnemonic.Operand() {
		case vmarch.ByteOperand:
			if inst.Operand > maxByteOperand {
				return nil, fmt.Errorf("operand %d of %v at %04x out of range", inst.Operand, inst.Mnemonic, inst.Pos)
			}
			code = append(code, byte(inst.Operand))
		case vmarch.WordOperand:
			code = order.AppendUint32(code, inst.Operand^cfg.ImmediateKey)
		case vmarch.JumpOperand:
			w := inst.Operand
			if cfg.JumpRelative {
				w = uint32(int32(inst.Operand) - int32(inst.Pos+inst.Size()))
			}
			code = order.AppendUint32(code, w^cfg.JumpKey)
		case vmarch.TForOperand:
			code = append(code, inst.Args[:]...)
		case vmarch.SMBCOperand:
			code = order.AppendUint32(code, inst.Operand^cfg.ImmediateKey)
			code = append(code, inst.Args[0], inst.Args[1])
		}
	}
	for _, inst := range insts {
		if inst.Mnemonic != vmarch.SMBC {
			continue
		}
		start, n := int(inst.Operand), int(inst.Args[1])
		if start+n > len(code) {
			return nil, fmt.Errorf("self-modify region %04x+%d past end of code", start, n)
		}
		for i := start; i < start+n; i++ {
			code[i] ^= inst.Args[0]
		}
	}
	return code, nil
}

// ValueCount returns the number of value constants in u and its children.
func (u *Unit) ValueCount() int {
	n := 0
	u.Walk(func(u *Unit) {
		for _, k := range u.Constants {
			if k.Func == nil {
				n++
			}
		}
	})
	return n
}

// InstructionCount returns the number of instructions in u and its children.
func (u *Unit) InstructionCount() int {
	n := 0
	u.Walk(func(u *Unit) { n += len(u.insts) })
	return n
}

// ByteCount returns the total code size of u and its children.
func (u *Unit) ByteCount() int {
	n := 0
	u.Walk(func(u *Unit) { n += len(u.Code) })
	return n
}

// UsedAll returns the mnemonics used by u or any of its children.
func (u *Unit) UsedAll() vmarch.MnemonicSet {
	var s vmarch.MnemonicSet
	u.Walk(func(u *Unit) { s.Union(u.Used) })
	return s
}
