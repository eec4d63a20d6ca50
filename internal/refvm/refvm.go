// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package refvm is a reference interpreter for compiled units.
// It decodes the randomized instruction stream directly,
// so that a build can be checked for behavior without a Lua runtime.
// Integrity checks are no-ops.
package refvm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	"oclare.dev/pkg/internal/bytecode"
	"oclare.dev/pkg/internal/luavalue"
	"oclare.dev/pkg/internal/vmarch"
)

// Execution errors.
var (
	ErrTrap          = errors.New("trap")
	ErrStepLimit     = errors.New("step limit exceeded")
	ErrStackOverflow = errors.New("stack overflow")
)

const (
	maxDepth            = 200
	cancelCheckInterval = 1024
)

// Error is a Lua error raised by the program.
type Error struct {
	Value Value
	msg   string
}

func (e *Error) Error() string {
	return e.msg
}

// Closure is a Lua function backed by a compiled unit.
type Closure struct {
	unit   *bytecode.Unit
	upvals []*cell
}

type cell struct {
	v Value
}

// unitState is the state shared by every closure of a unit.
type unitState struct {
	code   []byte
	healed map[uint32]bool
	consts []Value
}

// Machine executes units compiled under one configuration.
// A Machine is not safe for concurrent use.
type Machine struct {
	// Globals is the global environment.
	Globals *Table
	// Stdout receives the output of print.
	Stdout io.Writer
	// MaxSteps limits the number of instructions executed by a call to [Machine.Run].
	// Zero means no limit.
	MaxSteps int64

	cfg      *vmarch.Config
	order    vmarch.ByteOrder
	integers bool
	units    map[*bytecode.Unit]*unitState

	ctx   context.Context
	steps int64
	depth int
}

// New returns a machine for units compiled under cfg
// with the base library installed in its globals.
func New(cfg *vmarch.Config) *Machine {
	m := &Machine{
		Globals:  NewTable(),
		Stdout:   io.Discard,
		cfg:      cfg,
		order:    cfg.ByteOrder(),
		integers: cfg.Dialect.Features().Integers,
		units:    make(map[*bytecode.Unit]*unitState),
		ctx:      context.Background(),
	}
	m.openBase()
	return m
}

// Run executes u as a main chunk with the given arguments
// and returns its results.
func (m *Machine) Run(ctx context.Context, u *bytecode.Unit, args ...Value) ([]Value, error) {
	m.ctx = ctx
	m.steps = 0
	defer func() { m.ctx = context.Background() }()
	return m.Call(&Closure{unit: u}, args...)
}

// Call calls a function value.
func (m *Machine) Call(fn Value, args ...Value) ([]Value, error) {
	m.depth++
	defer func() { m.depth-- }()
	if m.depth > maxDepth {
		return nil, ErrStackOverflow
	}
	for {
		switch f := fn.(type) {
		case *Builtin:
			return f.Func(m, args)
		case *Closure:
			results, tail, err := m.exec(f, args)
			if err != nil || tail == nil {
				return results, err
			}
			fn, args = tail[0], tail[1:]
		default:
			return nil, m.errorf("attempt to call a %s value", TypeName(fn))
		}
	}
}

func (m *Machine) errorf(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Value: msg, msg: msg}
}

func (m *Machine) state(u *bytecode.Unit) *unitState {
	if st := m.units[u]; st != nil {
		return st
	}
	st := &unitState{
		code:   slices.Clone(u.Code),
		healed: make(map[uint32]bool),
		consts: make([]Value, len(u.Constants)),
	}
	for i, k := range u.Constants {
		if k.Func == nil {
			st.consts[i] = fromConstant(k.Value, m.integers)
		}
	}
	m.units[u] = st
	return st
}

// frame is the activation of a closure.
type frame struct {
	cl     *Closure
	st     *unitState
	pc     int
	stack  []Value
	locals map[int]*cell
	varg   []Value
}

func (f *frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) top() Value {
	return f.stack[len(f.stack)-1]
}

// popN pops n values and returns them in push order.
func (f *frame) popN(n int) []Value {
	vals := slices.Clone(f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return vals
}

// pushAll pushes vals followed by their count.
func (m *Machine) pushAll(f *frame, vals []Value) {
	f.stack = append(f.stack, vals...)
	f.push(m.number(int64(len(vals))))
}

// number returns n as the dialect represents integral numbers.
func (m *Machine) number(n int64) Value {
	if m.integers {
		return n
	}
	return float64(n)
}

func (m *Machine) count(v Value) (int, error) {
	k, ok := toConstant(v)
	if !ok {
		return 0, fmt.Errorf("count is a %s", TypeName(v))
	}
	n, ok := k.Int64()
	if !ok || n < 0 {
		return 0, fmt.Errorf("bad count %v", v)
	}
	return int(n), nil
}

func (f *frame) readByte() byte {
	b := f.st.code[f.pc]
	f.pc++
	return b
}

func (m *Machine) readWord(f *frame) uint32 {
	w := m.order.Uint32(f.st.code[f.pc:])
	f.pc += 4
	return w
}

// exec runs a closure until it returns.
// If it ends in a tail call, exec returns the callee followed by its arguments.
func (m *Machine) exec(cl *Closure, args []Value) ([]Value, []Value, error) {
	u := cl.unit
	f := &frame{
		cl:     cl,
		st:     m.state(u),
		locals: make(map[int]*cell),
	}
	for i := range u.Params {
		var v Value
		if i < len(args) {
			v = args[i]
		}
		f.locals[i] = &cell{v: v}
	}
	if u.IsVararg && len(args) > u.Params {
		f.varg = slices.Clone(args[u.Params:])
	}

	for {
		if f.pc >= len(f.st.code) {
			return nil, nil, nil
		}
		m.steps++
		if m.MaxSteps > 0 && m.steps > m.MaxSteps {
			return nil, nil, ErrStepLimit
		}
		if m.steps%cancelCheckInterval == 0 {
			if err := m.ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		pos := f.pc
		results, tail, done, err := m.step(f)
		if err != nil {
			var lerr *Error
			if errors.As(err, &lerr) || errors.Is(err, ErrStepLimit) || errors.Is(err, ErrStackOverflow) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, nil, err
			}
			return nil, nil, fmt.Errorf("%s:%04x: %w", u.Name, pos, err)
		}
		if done {
			return results, tail, nil
		}
	}
}

// step executes one instruction.
func (m *Machine) step(f *frame) (results, tail []Value, done bool, err error) {
	op := f.readByte()
	mn, ok := m.cfg.Lookup(op)
	if !ok {
		return nil, nil, false, fmt.Errorf("opcode %#02x: %w", op, ErrTrap)
	}
	if f.pc+mn.Operand().Size() > len(f.st.code) {
		return nil, nil, false, fmt.Errorf("%v truncated", mn)
	}

	switch mn {
	case vmarch.Add, vmarch.Sub, vmarch.Mul, vmarch.Div, vmarch.Mod, vmarch.Pow, vmarch.IDiv,
		vmarch.BAnd, vmarch.BOr, vmarch.BXor, vmarch.Shl, vmarch.Shr:
		b := f.pop()
		a := f.pop()
		r, err := m.arith(arithOps[mn], a, b)
		if err != nil {
			return nil, nil, false, err
		}
		f.push(r)
	case vmarch.Unm:
		r, err := m.arith(luavalue.UnaryMinus, f.pop(), nil)
		if err != nil {
			return nil, nil, false, err
		}
		f.push(r)
	case vmarch.BNot:
		r, err := m.arith(luavalue.BitwiseNot, f.pop(), nil)
		if err != nil {
			return nil, nil, false, err
		}
		f.push(r)
	case vmarch.Not:
		f.push(!truthy(f.pop()))
	case vmarch.Len:
		r, err := m.length(f.pop())
		if err != nil {
			return nil, nil, false, err
		}
		f.push(r)
	case vmarch.Concat:
		b := f.pop()
		a := f.pop()
		r, err := m.concat(a, b)
		if err != nil {
			return nil, nil, false, err
		}
		f.push(r)
	case vmarch.Eq:
		b := f.pop()
		f.push(rawEqual(f.pop(), b))
	case vmarch.Neq:
		b := f.pop()
		f.push(!rawEqual(f.pop(), b))
	case vmarch.Lt, vmarch.Le, vmarch.Gt, vmarch.Ge:
		b := f.pop()
		a := f.pop()
		r, err := m.compare(mn, a, b)
		if err != nil {
			return nil, nil, false, err
		}
		f.push(r)

	case vmarch.Push:
		f.push(m.number(int64(int32(m.readWord(f) ^ m.cfg.ImmediateKey))))
	case vmarch.Pop:
		f.pop()
	case vmarch.Dup:
		f.push(f.top())
	case vmarch.Swap:
		n := len(f.stack)
		f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]
	case vmarch.Rot3:
		n := len(f.stack)
		f.stack[n-3], f.stack[n-2], f.stack[n-1] = f.stack[n-2], f.stack[n-1], f.stack[n-3]
	case vmarch.Pick:
		n := int(f.readByte())
		f.push(f.stack[len(f.stack)-1-n])
	case vmarch.Drop:
		n := int(f.readByte())
		f.stack = f.stack[:len(f.stack)-n]

	case vmarch.Jmp:
		f.pc = m.jumpTarget(f)
	case vmarch.JT, vmarch.JF:
		d := m.jumpTarget(f)
		if truthy(f.pop()) == m.cfg.JumpsWhenTrue(mn) {
			f.pc = d
		}
	case vmarch.JNil:
		d := m.jumpTarget(f)
		if f.pop() == nil {
			f.pc = d
		}
	case vmarch.Loop:
		r, err := m.loopContinues(f.popN(3))
		if err != nil {
			return nil, nil, false, err
		}
		f.push(r)
	case vmarch.TFor:
		var a [4]byte
		copy(a[:], f.st.code[f.pc:f.pc+4])
		f.pc += 4
		iter, state, control := f.local(int(a[0])), f.local(int(a[1])), f.local(int(a[2]))
		r, err := m.Call(iter.v, state.v, control.v)
		if err != nil {
			return nil, nil, false, err
		}
		for i := 1; i <= int(a[3]); i++ {
			f.locals[int(a[2])+i] = &cell{v: index(r, i-1)}
		}
		control.v = index(r, 0)
		f.push(index(r, 0))

	case vmarch.LdLoc:
		f.push(f.local(int(f.readByte())).v)
	case vmarch.StLoc:
		f.local(int(f.readByte())).v = f.pop()
	case vmarch.InitLoc:
		f.locals[int(f.readByte())] = &cell{v: f.pop()}
	case vmarch.LdUp:
		i := int(f.readByte())
		if i >= len(f.cl.upvals) {
			return nil, nil, false, fmt.Errorf("upvalue %d out of range", i)
		}
		f.push(f.cl.upvals[i].v)
	case vmarch.StUp:
		i := int(f.readByte())
		if i >= len(f.cl.upvals) {
			return nil, nil, false, fmt.Errorf("upvalue %d out of range", i)
		}
		f.cl.upvals[i].v = f.pop()
	case vmarch.LdGlob:
		k, err := m.constant(f)
		if err != nil {
			return nil, nil, false, err
		}
		f.push(m.Globals.Get(k))
	case vmarch.StGlob:
		k, err := m.constant(f)
		if err != nil {
			return nil, nil, false, err
		}
		if err := m.Globals.Set(k, f.pop()); err != nil {
			return nil, nil, false, err
		}
	case vmarch.NewTbl:
		f.push(NewTable())
	case vmarch.GetTbl:
		k := f.pop()
		v, err := m.index(f.pop(), k)
		if err != nil {
			return nil, nil, false, err
		}
		f.push(v)
	case vmarch.SetTbl:
		vals := f.popN(3)
		t, ok := vals[0].(*Table)
		if !ok {
			return nil, nil, false, m.errorf("attempt to index a %s value", TypeName(vals[0]))
		}
		if err := t.Set(vals[1], vals[2]); err != nil {
			return nil, nil, false, m.errorf("%v", err)
		}
	case vmarch.SetList:
		start := int64(m.readWord(f) ^ m.cfg.ImmediateKey)
		n, err := m.count(f.pop())
		if err != nil {
			return nil, nil, false, err
		}
		vals := f.popN(n)
		t, ok := f.pop().(*Table)
		if !ok {
			return nil, nil, false, errors.New("list store into non-table")
		}
		for i, v := range vals {
			if err := t.Set(m.number(start+int64(i)), v); err != nil {
				return nil, nil, false, err
			}
		}
	case vmarch.Self:
		k, err := m.constant(f)
		if err != nil {
			return nil, nil, false, err
		}
		obj := f.pop()
		method, err := m.index(obj, k)
		if err != nil {
			return nil, nil, false, err
		}
		f.push(method)
		f.push(obj)

	case vmarch.Call:
		n, err := m.callCount(f)
		if err != nil {
			return nil, nil, false, err
		}
		args := f.popN(n)
		r, err := m.Call(f.pop(), args...)
		if err != nil {
			return nil, nil, false, err
		}
		m.pushAll(f, r)
	case vmarch.TCall:
		n, err := m.callCount(f)
		if err != nil {
			return nil, nil, false, err
		}
		return nil, f.popN(n + 1), true, nil
	case vmarch.Ret:
		n, err := m.callCount(f)
		if err != nil {
			return nil, nil, false, err
		}
		return f.popN(n), nil, true, nil
	case vmarch.MRet:
		want := int(f.readByte())
		n, err := m.count(f.pop())
		if err != nil {
			return nil, nil, false, err
		}
		vals := f.popN(n)
		for i := range want {
			f.push(index(vals, i))
		}
	case vmarch.Varg:
		m.pushAll(f, f.varg)
	case vmarch.Clos:
		i := int(m.readWord(f) ^ m.cfg.ImmediateKey)
		if i >= len(f.cl.unit.Constants) || f.cl.unit.Constants[i].Func == nil {
			return nil, nil, false, fmt.Errorf("constant %d is not a function", i)
		}
		child := f.cl.unit.Constants[i].Func
		cl := &Closure{unit: child, upvals: make([]*cell, len(child.Upvalues))}
		for j, desc := range child.Upvalues {
			if desc.FromParentLocal {
				cl.upvals[j] = f.local(desc.Index)
			} else {
				if desc.Index >= len(f.cl.upvals) {
					return nil, nil, false, fmt.Errorf("upvalue %d out of range", desc.Index)
				}
				cl.upvals[j] = f.cl.upvals[desc.Index]
			}
		}
		f.push(cl)

	case vmarch.LdK:
		k, err := m.constant(f)
		if err != nil {
			return nil, nil, false, err
		}
		f.push(k)
	case vmarch.LdNil:
		f.push(nil)
	case vmarch.LdTrue:
		f.push(true)
	case vmarch.LdFalse:
		f.push(false)
	case vmarch.Nop, vmarch.ChkDbg, vmarch.ChkTim, vmarch.ChkEnv, vmarch.AntiHook,
		vmarch.ChkEmu, vmarch.ChkSbox, vmarch.Rekey:
	case vmarch.Halt:
		return nil, nil, true, nil
	case vmarch.Trap:
		return nil, nil, false, ErrTrap
	case vmarch.SMBC:
		start := m.readWord(f) ^ m.cfg.ImmediateKey
		mask, n := f.readByte(), int(f.readByte())
		if !f.st.healed[start] {
			if int(start)+n > len(f.st.code) {
				return nil, nil, false, fmt.Errorf("self-modify region %04x+%d out of range", start, n)
			}
			f.st.healed[start] = true
			for i := int(start); i < int(start)+n; i++ {
				f.st.code[i] ^= mask
			}
		}
	default:
		return nil, nil, false, fmt.Errorf("unhandled %v", mn)
	}
	return nil, nil, false, nil
}

// local returns the cell of a local slot, creating it if needed.
func (f *frame) local(i int) *cell {
	c := f.locals[i]
	if c == nil {
		c = new(cell)
		f.locals[i] = c
	}
	return c
}

func index(vals []Value, i int) Value {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

func (m *Machine) jumpTarget(f *frame) int {
	w := m.readWord(f) ^ m.cfg.JumpKey
	if m.cfg.JumpRelative {
		return f.pc + int(int32(w))
	}
	return int(w)
}

func (m *Machine) constant(f *frame) (Value, error) {
	i := m.readWord(f) ^ m.cfg.ImmediateKey
	if int(i) >= len(f.st.consts) {
		return nil, fmt.Errorf("constant %d out of range", i)
	}
	return f.st.consts[i], nil
}

// callCount reads a CALL, TCALL, or RET operand,
// popping the counted tail's length when the variadic flag is set.
func (m *Machine) callCount(f *frame) (int, error) {
	o := f.readByte()
	n := int(o &^ vmarch.VariadicFlag)
	if o&vmarch.VariadicFlag != 0 {
		extra, err := m.count(f.pop())
		if err != nil {
			return 0, err
		}
		n += extra
	}
	return n, nil
}

var arithOps = map[vmarch.Mnemonic]luavalue.Operator{
	vmarch.Add:  luavalue.Add,
	vmarch.Sub:  luavalue.Subtract,
	vmarch.Mul:  luavalue.Multiply,
	vmarch.Div:  luavalue.Divide,
	vmarch.Mod:  luavalue.Modulo,
	vmarch.Pow:  luavalue.Power,
	vmarch.IDiv: luavalue.IntegerDivide,
	vmarch.BAnd: luavalue.BitwiseAnd,
	vmarch.BOr:  luavalue.BitwiseOr,
	vmarch.BXor: luavalue.BitwiseXOR,
	vmarch.Shl:  luavalue.ShiftLeft,
	vmarch.Shr:  luavalue.ShiftRight,
}

func (m *Machine) arith(op luavalue.Operator, a, b Value) (Value, error) {
	ka, ok := toConstant(a)
	if !ok {
		return nil, m.errorf("attempt to perform arithmetic on a %s value", TypeName(a))
	}
	var kb luavalue.Value
	if !op.IsUnary() {
		kb, ok = toConstant(b)
		if !ok {
			return nil, m.errorf("attempt to perform arithmetic on a %s value", TypeName(b))
		}
	}
	if !m.integers && op.IsIntegral() {
		// 32-bit library semantics: operands wrap, results are unsigned.
		ia, err := wrap32(ka)
		if err != nil {
			return nil, m.errorf("%v", err)
		}
		ib := int64(0)
		if !op.IsUnary() {
			if ib, err = wrap32(kb); err != nil {
				return nil, m.errorf("%v", err)
			}
		}
		r, err := luavalue.Arithmetic(op, luavalue.Integer(ia), luavalue.Integer(ib))
		if err != nil {
			return nil, m.errorf("%v", err)
		}
		i, _ := r.Int64()
		return float64(uint32(i)), nil
	}
	if !m.integers && op == luavalue.IntegerDivide {
		fa, _ := ka.Float64()
		fb, _ := kb.Float64()
		return math.Floor(fa / fb), nil
	}
	r, err := luavalue.Arithmetic(op, ka, kb)
	if err != nil {
		return nil, m.errorf("%v", err)
	}
	return fromConstant(r, m.integers), nil
}

func wrap32(k luavalue.Value) (int64, error) {
	f, ok := k.Float64()
	if !ok {
		return 0, luavalue.ErrNotNumber
	}
	f = math.Floor(f)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, luavalue.ErrNotInteger
	}
	return int64(uint32(int64(math.Mod(f, 1<<32)))), nil
}

func (m *Machine) length(v Value) (Value, error) {
	switch v := v.(type) {
	case string:
		return m.number(int64(len(v))), nil
	case *Table:
		return m.number(v.Len()), nil
	default:
		return nil, m.errorf("attempt to get length of a %s value", TypeName(v))
	}
}

func (m *Machine) concat(a, b Value) (Value, error) {
	sa, ok := m.concatOperand(a)
	if !ok {
		return nil, m.errorf("attempt to concatenate a %s value", TypeName(a))
	}
	sb, ok := m.concatOperand(b)
	if !ok {
		return nil, m.errorf("attempt to concatenate a %s value", TypeName(b))
	}
	return sa + sb, nil
}

func (m *Machine) concatOperand(v Value) (string, bool) {
	switch v.(type) {
	case string, int64, float64:
		return m.ToString(v), true
	default:
		return "", false
	}
}

func (m *Machine) compare(mn vmarch.Mnemonic, a, b Value) (bool, error) {
	if mn == vmarch.Gt || mn == vmarch.Ge {
		a, b = b, a
		if mn == vmarch.Gt {
			mn = vmarch.Lt
		} else {
			mn = vmarch.Le
		}
	}
	var c int
	switch {
	case isNumber(a) && isNumber(b):
		fa, fb := toFloat(a), toFloat(b)
		if math.IsNaN(fa) || math.IsNaN(fb) {
			return false, nil
		}
		ia, aok := a.(int64)
		ib, bok := b.(int64)
		switch {
		case aok && bok:
			c = cmpInt(ia, ib)
		case fa < fb:
			c = -1
		case fa > fb:
			c = 1
		}
	default:
		sa, aok := a.(string)
		sb, bok := b.(string)
		if !aok || !bok {
			return false, m.errorf("attempt to compare %s with %s", TypeName(a), TypeName(b))
		}
		c = strings.Compare(sa, sb)
	}
	if mn == vmarch.Lt {
		return c < 0, nil
	}
	return c <= 0, nil
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func isNumber(v Value) bool {
	switch v.(type) {
	case int64, float64:
		return true
	default:
		return false
	}
}

func toFloat(v Value) float64 {
	switch v := v.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return math.NaN()
	}
}

// loopContinues evaluates the numeric for test on value, limit, and step.
// A zero step continues.
func (m *Machine) loopContinues(vals []Value) (bool, error) {
	for _, v := range vals {
		if _, ok := toConstant(v); !ok {
			return false, m.errorf("'for' value must be a number")
		}
	}
	k := make([]float64, 3)
	for i, v := range vals {
		c, _ := toConstant(v)
		k[i], _ = c.Float64()
	}
	v, limit, step := k[0], k[1], k[2]
	switch {
	case step > 0:
		return v <= limit, nil
	case step < 0:
		return v >= limit, nil
	default:
		return true, nil
	}
}

func (m *Machine) index(obj, k Value) (Value, error) {
	switch o := obj.(type) {
	case *Table:
		return o.Get(k), nil
	case string:
		if lib, ok := m.Globals.Get("string").(*Table); ok {
			return lib.Get(k), nil
		}
		return nil, nil
	default:
		return nil, m.errorf("attempt to index a %s value", TypeName(obj))
	}
}
