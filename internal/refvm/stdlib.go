// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package refvm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"oclare.dev/pkg/internal/dialect"
)

func (m *Machine) register(t *Table, name string, fn func(m *Machine, args []Value) ([]Value, error)) {
	t.Set(name, &Builtin{Name: name, Func: fn})
}

// openBase installs the subset of the standard library that test programs use.
func (m *Machine) openBase() {
	g := m.Globals
	g.Set("_G", g)
	m.register(g, "print", basePrint)
	m.register(g, "type", baseType)
	m.register(g, "tostring", baseToString)
	m.register(g, "tonumber", baseToNumber)
	m.register(g, "select", baseSelect)
	m.register(g, "next", baseNext)
	m.register(g, "pairs", basePairs)
	m.register(g, "ipairs", baseIPairs)
	m.register(g, "error", baseError)
	m.register(g, "assert", baseAssert)
	m.register(g, "rawget", baseRawGet)
	m.register(g, "rawset", baseRawSet)

	table := NewTable()
	m.register(table, "concat", tableConcat)
	m.register(table, "insert", tableInsert)
	if m.cfg.Dialect.Features().TableUnpack {
		m.register(table, "unpack", tableUnpack)
	} else {
		m.register(g, "unpack", tableUnpack)
	}
	g.Set("table", table)

	mathLib := NewTable()
	m.register(mathLib, "floor", mathFloor)
	m.register(mathLib, "abs", mathAbs)
	m.register(mathLib, "max", mathMax)
	m.register(mathLib, "min", mathMin)
	mathLib.Set("huge", math.Inf(1))
	mathLib.Set("pi", math.Pi)
	if m.integers {
		mathLib.Set("maxinteger", int64(math.MaxInt64))
		mathLib.Set("mininteger", int64(math.MinInt64))
	}
	g.Set("math", mathLib)

	str := NewTable()
	m.register(str, "len", stringLen)
	m.register(str, "rep", stringRep)
	m.register(str, "upper", stringUpper)
	m.register(str, "sub", stringSub)
	g.Set("string", str)

	m.openBit()
}

// openBit installs the 32-bit library the dialect ships with:
// LuaJIT's "bit" module, whose results are signed,
// or the "bit32" table, whose results are unsigned.
func (m *Machine) openBit() {
	var name string
	var signed bool
	switch {
	case m.cfg.Dialect == dialect.LuaJIT:
		name, signed = "bit", true
	case m.cfg.Dialect.Features().BitLib == dialect.Bit32Library:
		name = "bit32"
	default:
		return
	}
	result := func(x uint32) []Value {
		if signed {
			return []Value{m.number(int64(int32(x)))}
		}
		return []Value{m.number(int64(x))}
	}

	lib := NewTable()
	fold := func(fname string, init uint32, op func(a, b uint32) uint32) {
		m.register(lib, fname, func(m *Machine, args []Value) ([]Value, error) {
			if signed && len(args) == 0 {
				return nil, m.errorf("bad argument #1 to '%s' (number expected, got no value)", fname)
			}
			acc := init
			for i := range args {
				x, err := m.checkBits(args, i, fname)
				if err != nil {
					return nil, err
				}
				acc = op(acc, x)
			}
			return result(acc), nil
		})
	}
	fold("band", ^uint32(0), func(a, b uint32) uint32 { return a & b })
	fold("bor", 0, func(a, b uint32) uint32 { return a | b })
	fold("bxor", 0, func(a, b uint32) uint32 { return a ^ b })
	m.register(lib, "bnot", func(m *Machine, args []Value) ([]Value, error) {
		x, err := m.checkBits(args, 0, "bnot")
		if err != nil {
			return nil, err
		}
		return result(^x), nil
	})

	shift := func(fname string, op func(x uint32, n int64) uint32) {
		m.register(lib, fname, func(m *Machine, args []Value) ([]Value, error) {
			x, err := m.checkBits(args, 0, fname)
			if err != nil {
				return nil, err
			}
			n, err := m.checkInt(args, 1, fname)
			if err != nil {
				return nil, err
			}
			if signed {
				// LuaJIT only looks at the low five bits of the count.
				n &= 31
			}
			return result(op(x, n)), nil
		})
	}
	shift("lshift", func(x uint32, n int64) uint32 { return shiftBits(x, n) })
	shift("rshift", func(x uint32, n int64) uint32 { return shiftBits(x, -n) })
	shift("arshift", func(x uint32, n int64) uint32 {
		if n < 0 {
			return shiftBits(x, -n)
		}
		return uint32(int32(x) >> min(n, 31))
	})

	if signed {
		m.register(lib, "tobit", func(m *Machine, args []Value) ([]Value, error) {
			x, err := m.checkBits(args, 0, "tobit")
			if err != nil {
				return nil, err
			}
			return result(x), nil
		})
	}
	m.Globals.Set(name, lib)
}

// shiftBits shifts x left by n bits, or right when n is negative.
func shiftBits(x uint32, n int64) uint32 {
	switch {
	case n <= -32 || n >= 32:
		return 0
	case n < 0:
		return x >> -n
	default:
		return x << n
	}
}

// checkBits returns argument i reduced modulo 2^32.
func (m *Machine) checkBits(args []Value, i int, fname string) (uint32, error) {
	f, v, err := m.checkNumber(args, i, fname)
	if err != nil {
		return 0, err
	}
	if n, ok := v.(int64); ok {
		return uint32(n), nil
	}
	f = math.Mod(math.Floor(f), 1<<32)
	if f < 0 {
		f += 1 << 32
	}
	return uint32(f), nil
}

func arg(args []Value, i int) Value {
	return index(args, i)
}

func (m *Machine) checkTable(args []Value, i int, fname string) (*Table, error) {
	t, ok := arg(args, i).(*Table)
	if !ok {
		return nil, m.errorf("bad argument #%d to '%s' (table expected, got %s)", i+1, fname, typeNameArg(args, i))
	}
	return t, nil
}

func (m *Machine) checkInt(args []Value, i int, fname string) (int64, error) {
	k, ok := toConstant(arg(args, i))
	if ok {
		if n, ok := k.Int64(); ok {
			return n, nil
		}
		if f, ok := k.Float64(); ok {
			return int64(math.Floor(f)), nil
		}
	}
	return 0, m.errorf("bad argument #%d to '%s' (number expected, got %s)", i+1, fname, typeNameArg(args, i))
}

func (m *Machine) checkString(args []Value, i int, fname string) (string, error) {
	switch v := arg(args, i).(type) {
	case string:
		return v, nil
	case int64, float64:
		return m.ToString(v), nil
	default:
		return "", m.errorf("bad argument #%d to '%s' (string expected, got %s)", i+1, fname, typeNameArg(args, i))
	}
}

func typeNameArg(args []Value, i int) string {
	if i >= len(args) {
		return "no value"
	}
	return TypeName(args[i])
}

func basePrint(m *Machine, args []Value) ([]Value, error) {
	parts := make([]string, len(args))
	for i, v := range args {
		parts[i] = m.ToString(v)
	}
	if _, err := fmt.Fprintln(m.Stdout, strings.Join(parts, "\t")); err != nil {
		return nil, err
	}
	return nil, nil
}

func baseType(m *Machine, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, m.errorf("bad argument #1 to 'type' (value expected)")
	}
	return []Value{TypeName(args[0])}, nil
}

func baseToString(m *Machine, args []Value) ([]Value, error) {
	return []Value{m.ToString(arg(args, 0))}, nil
}

func baseToNumber(m *Machine, args []Value) ([]Value, error) {
	v := arg(args, 0)
	if base := arg(args, 1); base != nil {
		b, err := m.checkInt(args, 1, "tonumber")
		if err != nil {
			return nil, err
		}
		s, ok := v.(string)
		if !ok {
			return nil, m.errorf("bad argument #1 to 'tonumber' (string expected, got %s)", TypeName(v))
		}
		n, err := strconv.ParseInt(strings.ToLower(strings.TrimSpace(s)), int(b), 64)
		if err != nil {
			return []Value{nil}, nil
		}
		return []Value{m.number(n)}, nil
	}
	switch v.(type) {
	case int64, float64:
		return []Value{v}, nil
	case string:
		k, ok := toConstant(v)
		if !ok {
			return []Value{nil}, nil
		}
		return []Value{fromConstant(k, m.integers)}, nil
	default:
		return []Value{nil}, nil
	}
}

func baseSelect(m *Machine, args []Value) ([]Value, error) {
	if s, ok := arg(args, 0).(string); ok && s == "#" {
		return []Value{m.number(int64(len(args) - 1))}, nil
	}
	n, err := m.checkInt(args, 0, "select")
	if err != nil {
		return nil, err
	}
	rest := args[1:]
	switch {
	case n < 0:
		n += int64(len(rest))
		if n < 0 {
			return nil, m.errorf("bad argument #1 to 'select' (index out of range)")
		}
		return rest[n:], nil
	case n == 0:
		return nil, m.errorf("bad argument #1 to 'select' (index out of range)")
	case n > int64(len(rest)):
		return nil, nil
	default:
		return rest[n-1:], nil
	}
}

func baseNext(m *Machine, args []Value) ([]Value, error) {
	t, err := m.checkTable(args, 0, "next")
	if err != nil {
		return nil, err
	}
	k, v := t.Next(arg(args, 1))
	if k == nil {
		return []Value{nil}, nil
	}
	return []Value{k, v}, nil
}

func basePairs(m *Machine, args []Value) ([]Value, error) {
	t, err := m.checkTable(args, 0, "pairs")
	if err != nil {
		return nil, err
	}
	return []Value{m.Globals.Get("next"), t, nil}, nil
}

var ipairsIterator = &Builtin{
	Name: "ipairs_iterator",
	Func: func(m *Machine, args []Value) ([]Value, error) {
		t, err := m.checkTable(args, 0, "ipairs")
		if err != nil {
			return nil, err
		}
		i, err := m.checkInt(args, 1, "ipairs")
		if err != nil {
			return nil, err
		}
		i++
		v := t.Get(i)
		if v == nil {
			return []Value{nil}, nil
		}
		return []Value{m.number(i), v}, nil
	},
}

func baseIPairs(m *Machine, args []Value) ([]Value, error) {
	t, err := m.checkTable(args, 0, "ipairs")
	if err != nil {
		return nil, err
	}
	return []Value{ipairsIterator, t, m.number(0)}, nil
}

func baseError(m *Machine, args []Value) ([]Value, error) {
	v := arg(args, 0)
	return nil, &Error{Value: v, msg: m.ToString(v)}
}

func baseAssert(m *Machine, args []Value) ([]Value, error) {
	if len(args) == 0 || !truthy(args[0]) {
		if len(args) > 1 {
			return baseError(m, args[1:])
		}
		return nil, m.errorf("assertion failed!")
	}
	return args, nil
}

func baseRawGet(m *Machine, args []Value) ([]Value, error) {
	t, err := m.checkTable(args, 0, "rawget")
	if err != nil {
		return nil, err
	}
	return []Value{t.Get(arg(args, 1))}, nil
}

func baseRawSet(m *Machine, args []Value) ([]Value, error) {
	t, err := m.checkTable(args, 0, "rawset")
	if err != nil {
		return nil, err
	}
	if err := t.Set(arg(args, 1), arg(args, 2)); err != nil {
		return nil, m.errorf("%v", err)
	}
	return []Value{t}, nil
}

func tableConcat(m *Machine, args []Value) ([]Value, error) {
	t, err := m.checkTable(args, 0, "concat")
	if err != nil {
		return nil, err
	}
	sep := ""
	if arg(args, 1) != nil {
		if sep, err = m.checkString(args, 1, "concat"); err != nil {
			return nil, err
		}
	}
	i, j := int64(1), t.Len()
	if arg(args, 2) != nil {
		if i, err = m.checkInt(args, 2, "concat"); err != nil {
			return nil, err
		}
	}
	if arg(args, 3) != nil {
		if j, err = m.checkInt(args, 3, "concat"); err != nil {
			return nil, err
		}
	}
	sb := new(strings.Builder)
	for k := i; k <= j; k++ {
		v := t.Get(k)
		s, ok := m.concatOperand(v)
		if !ok {
			return nil, m.errorf("invalid value (at index %d) in table for 'concat'", k)
		}
		sb.WriteString(s)
		if k < j {
			sb.WriteString(sep)
		}
	}
	return []Value{sb.String()}, nil
}

func tableInsert(m *Machine, args []Value) ([]Value, error) {
	t, err := m.checkTable(args, 0, "insert")
	if err != nil {
		return nil, err
	}
	n := t.Len()
	switch len(args) {
	case 2:
		return nil, t.Set(n+1, args[1])
	case 3:
		pos, err := m.checkInt(args, 1, "insert")
		if err != nil {
			return nil, err
		}
		if pos < 1 || pos > n+1 {
			return nil, m.errorf("bad argument #2 to 'insert' (position out of bounds)")
		}
		for i := n; i >= pos; i-- {
			t.Set(i+1, t.Get(i))
		}
		return nil, t.Set(pos, args[2])
	default:
		return nil, m.errorf("wrong number of arguments to 'insert'")
	}
}

func tableUnpack(m *Machine, args []Value) ([]Value, error) {
	t, err := m.checkTable(args, 0, "unpack")
	if err != nil {
		return nil, err
	}
	i, j := int64(1), t.Len()
	if arg(args, 1) != nil {
		if i, err = m.checkInt(args, 1, "unpack"); err != nil {
			return nil, err
		}
	}
	if arg(args, 2) != nil {
		if j, err = m.checkInt(args, 2, "unpack"); err != nil {
			return nil, err
		}
	}
	var vals []Value
	for k := i; k <= j; k++ {
		vals = append(vals, t.Get(k))
	}
	return vals, nil
}

func (m *Machine) checkNumber(args []Value, i int, fname string) (float64, Value, error) {
	v := arg(args, i)
	k, ok := toConstant(v)
	if !ok {
		return 0, nil, m.errorf("bad argument #%d to '%s' (number expected, got %s)", i+1, fname, typeNameArg(args, i))
	}
	f, _ := k.Float64()
	return f, fromConstant(k, m.integers), nil
}

func mathFloor(m *Machine, args []Value) ([]Value, error) {
	f, v, err := m.checkNumber(args, 0, "floor")
	if err != nil {
		return nil, err
	}
	if _, ok := v.(int64); ok {
		return []Value{v}, nil
	}
	f = math.Floor(f)
	if m.integers && f >= math.MinInt64 && f < math.MaxInt64 {
		return []Value{int64(f)}, nil
	}
	return []Value{f}, nil
}

func mathAbs(m *Machine, args []Value) ([]Value, error) {
	f, v, err := m.checkNumber(args, 0, "abs")
	if err != nil {
		return nil, err
	}
	if i, ok := v.(int64); ok {
		if i < 0 {
			i = -i
		}
		return []Value{i}, nil
	}
	return []Value{math.Abs(f)}, nil
}

func mathMax(m *Machine, args []Value) ([]Value, error) {
	return m.extreme(args, "max", func(a, b float64) bool { return a > b })
}

func mathMin(m *Machine, args []Value) ([]Value, error) {
	return m.extreme(args, "min", func(a, b float64) bool { return a < b })
}

func (m *Machine) extreme(args []Value, fname string, better func(a, b float64) bool) ([]Value, error) {
	best, bestValue, err := m.checkNumber(args, 0, fname)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(args); i++ {
		f, v, err := m.checkNumber(args, i, fname)
		if err != nil {
			return nil, err
		}
		if better(f, best) {
			best, bestValue = f, v
		}
	}
	return []Value{bestValue}, nil
}

func stringLen(m *Machine, args []Value) ([]Value, error) {
	s, err := m.checkString(args, 0, "len")
	if err != nil {
		return nil, err
	}
	return []Value{m.number(int64(len(s)))}, nil
}

func stringRep(m *Machine, args []Value) ([]Value, error) {
	s, err := m.checkString(args, 0, "rep")
	if err != nil {
		return nil, err
	}
	n, err := m.checkInt(args, 1, "rep")
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []Value{""}, nil
	}
	return []Value{strings.Repeat(s, int(n))}, nil
}

func stringUpper(m *Machine, args []Value) ([]Value, error) {
	s, err := m.checkString(args, 0, "upper")
	if err != nil {
		return nil, err
	}
	return []Value{strings.ToUpper(s)}, nil
}

func stringSub(m *Machine, args []Value) ([]Value, error) {
	s, err := m.checkString(args, 0, "sub")
	if err != nil {
		return nil, err
	}
	i, j := int64(1), int64(-1)
	if arg(args, 1) != nil {
		if i, err = m.checkInt(args, 1, "sub"); err != nil {
			return nil, err
		}
	}
	if arg(args, 2) != nil {
		if j, err = m.checkInt(args, 2, "sub"); err != nil {
			return nil, err
		}
	}
	n := int64(len(s))
	if i < 0 {
		i = max(n+i+1, 1)
	} else if i == 0 {
		i = 1
	}
	if j < 0 {
		j = n + j + 1
	} else if j > n {
		j = n
	}
	if i > j {
		return []Value{""}, nil
	}
	return []Value{s[i-1 : j]}, nil
}
