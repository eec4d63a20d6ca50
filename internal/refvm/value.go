// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package refvm

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"oclare.dev/pkg/internal/lualex"
	"oclare.dev/pkg/internal/luavalue"
)

// Value is a Lua value.
// It is one of nil, bool, int64, float64, string,
// [*Table], [*Closure], or [*Builtin].
type Value any

// Table is a Lua table.
// Iteration visits keys in insertion order.
type Table struct {
	m     map[Value]Value
	order []Value
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{m: make(map[Value]Value)}
}

// normKey converts floats with an integer value to integers,
// so that t[1] and t[1.0] are the same entry.
func normKey(k Value) Value {
	if f, ok := k.(float64); ok {
		if i, ok := luavalue.FloatToInteger(f); ok {
			return i
		}
	}
	return k
}

// Get returns t[k].
func (t *Table) Get(k Value) Value {
	return t.m[normKey(k)]
}

// Set assigns t[k] = v.
func (t *Table) Set(k, v Value) error {
	k = normKey(k)
	switch k := k.(type) {
	case nil:
		return fmt.Errorf("table index is nil")
	case float64:
		if math.IsNaN(k) {
			return fmt.Errorf("table index is NaN")
		}
	}
	if v == nil {
		delete(t.m, k)
		return nil
	}
	if _, exists := t.m[k]; !exists && !slices.Contains(t.order, k) {
		t.order = append(t.order, k)
	}
	t.m[k] = v
	return nil
}

// Len returns the border of the table's sequence.
func (t *Table) Len() int64 {
	var n int64
	for t.m[n+1] != nil {
		n++
	}
	return n
}

// Next returns the entry after k in iteration order,
// or nil if there is none.
func (t *Table) Next(k Value) (Value, Value) {
	i := 0
	if k != nil {
		k = normKey(k)
		i = -1
		for j, key := range t.order {
			if key == k {
				i = j + 1
				break
			}
		}
		if i < 0 {
			return nil, nil
		}
	}
	for ; i < len(t.order); i++ {
		key := t.order[i]
		if v, ok := t.m[key]; ok {
			return key, v
		}
	}
	return nil, nil
}

// Builtin is a function implemented in Go.
type Builtin struct {
	Name string
	Func func(m *Machine, args []Value) ([]Value, error)
}

func truthy(v Value) bool {
	return v != nil && v != false
}

// TypeName returns the name of v's Lua type.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "boolean"
	case int64, float64:
		return "number"
	case string:
		return "string"
	case *Table:
		return "table"
	case *Closure, *Builtin:
		return "function"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// toConstant converts a number or string to a constant for arithmetic.
// Strings are coerced to numbers.
func toConstant(v Value) (luavalue.Value, bool) {
	switch v := v.(type) {
	case int64:
		return luavalue.Integer(v), true
	case float64:
		return luavalue.Float(v), true
	case string:
		s := strings.TrimSpace(v)
		if lualex.IsIntegerNumeral(s) {
			if i, err := lualex.ParseInt(s); err == nil {
				return luavalue.Integer(i), true
			}
		}
		if f, err := lualex.ParseNumber(s); err == nil {
			return luavalue.Float(f), true
		}
	}
	return luavalue.Value{}, false
}

// fromConstant converts a constant to a value.
// Without integers, every number is a float.
func fromConstant(k luavalue.Value, integers bool) Value {
	switch k.Kind() {
	case luavalue.BooleanKind:
		return k.Truthy()
	case luavalue.IntegerKind:
		i, _ := k.Int64()
		if !integers {
			return float64(i)
		}
		return i
	case luavalue.FloatKind:
		f, _ := k.Float64()
		return f
	case luavalue.StringKind:
		s, _ := k.Str()
		return s
	default:
		return nil
	}
}

// ToString formats v the way Lua's tostring does.
func (m *Machine) ToString(v Value) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		switch {
		case math.IsInf(v, 1):
			return "inf"
		case math.IsInf(v, -1):
			return "-inf"
		case math.IsNaN(v):
			return "nan"
		}
		s := strconv.FormatFloat(v, 'g', 14, 64)
		if m.integers && !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s
	case string:
		return v
	case *Builtin:
		return "builtin: " + v.Name
	default:
		return fmt.Sprintf("%s: %p", TypeName(v), v)
	}
}

// rawEqual reports whether two values are equal without metamethods.
func rawEqual(a, b Value) bool {
	switch a := a.(type) {
	case int64:
		switch b := b.(type) {
		case int64:
			return a == b
		case float64:
			return float64(a) == b
		}
		return false
	case float64:
		switch b := b.(type) {
		case int64:
			return a == float64(b)
		case float64:
			return a == b
		}
		return false
	default:
		return a == b
	}
}
