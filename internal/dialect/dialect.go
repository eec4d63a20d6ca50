// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package dialect describes the Lua language variants
// that the protector accepts and emits.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect is an enumeration of supported Lua variants.
// The zero value is not a valid dialect.
type Dialect int

// Supported dialects.
const (
	Lua51 Dialect = 1 + iota
	Lua52
	Lua53
	Lua54
	LuaJIT
	Luau
)

// All returns every valid dialect in declaration order.
func All() []Dialect {
	return []Dialect{Lua51, Lua52, Lua53, Lua54, LuaJIT, Luau}
}

// IsValid reports whether d is one of the declared dialects.
func (d Dialect) IsValid() bool {
	return Lua51 <= d && d <= Luau
}

// String returns the canonical name of the dialect, like "lua54".
func (d Dialect) String() string {
	switch d {
	case Lua51:
		return "lua51"
	case Lua52:
		return "lua52"
	case Lua53:
		return "lua53"
	case Lua54:
		return "lua54"
	case LuaJIT:
		return "luajit"
	case Luau:
		return "luau"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

var aliases = map[string]Dialect{
	"5.1":    Lua51,
	"51":     Lua51,
	"lua51":  Lua51,
	"lua5.1": Lua51,
	"5.2":    Lua52,
	"52":     Lua52,
	"lua52":  Lua52,
	"lua5.2": Lua52,
	"5.3":    Lua53,
	"53":     Lua53,
	"lua53":  Lua53,
	"lua5.3": Lua53,
	"5.4":    Lua54,
	"54":     Lua54,
	"lua54":  Lua54,
	"lua5.4": Lua54,
	"luajit": LuaJIT,
	"jit":    LuaJIT,
	"luau":   Luau,
	"roblox": Luau,
}

// Parse converts a user-supplied dialect name to a [Dialect].
// Names are case-insensitive.
func Parse(s string) (Dialect, error) {
	d, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown lua dialect %q", s)
	}
	return d, nil
}

// MarshalText returns the canonical dialect name.
func (d Dialect) MarshalText() ([]byte, error) {
	if !d.IsValid() {
		return nil, fmt.Errorf("marshal dialect: invalid value %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText parses any accepted dialect name.
func (d *Dialect) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// BitLibrary is the flavor of 32-bit operations
// available to generated code at runtime.
type BitLibrary int

const (
	// NativeBits uses the language's own bitwise operators.
	NativeBits BitLibrary = 1 + iota
	// Bit32Library uses the bit32 table.
	Bit32Library
	// BitOpLibrary uses the LuaJIT-style "bit" module
	// (with a pure-Lua fallback when it is missing).
	BitOpLibrary
)

func (b BitLibrary) String() string {
	switch b {
	case NativeBits:
		return "native"
	case Bit32Library:
		return "bit32"
	case BitOpLibrary:
		return "bit"
	default:
		return fmt.Sprintf("BitLibrary(%d)", int(b))
	}
}

// Features is a row of the dialect feature matrix.
type Features struct {
	Goto            bool
	Bitwise         bool
	IntegerDivision bool
	CompoundAssign  bool
	Continue        bool
	IfExpression    bool
	TypeAnnotations bool
	// Attributes reports support for <const> and <close> local attributes.
	Attributes      bool
	BacktickStrings bool
	BinaryLiterals  bool
	DigitSeparators bool
	// Integers reports whether the runtime has a distinct integer subtype.
	Integers bool
	// TableUnpack reports whether unpack lives in the table library.
	TableUnpack bool
	// Load reports whether the runtime has a load function accepting strings.
	Load   bool
	BitLib BitLibrary
}

var matrix = map[Dialect]Features{
	Lua51: {
		BitLib: BitOpLibrary,
	},
	Lua52: {
		Goto:        true,
		TableUnpack: true,
		Load:        true,
		BitLib:      Bit32Library,
	},
	Lua53: {
		Goto:            true,
		Bitwise:         true,
		IntegerDivision: true,
		Integers:        true,
		TableUnpack:     true,
		Load:            true,
		BitLib:          NativeBits,
	},
	Lua54: {
		Goto:            true,
		Bitwise:         true,
		IntegerDivision: true,
		Attributes:      true,
		Integers:        true,
		TableUnpack:     true,
		Load:            true,
		BitLib:          NativeBits,
	},
	LuaJIT: {
		Goto:   true,
		Load:   true,
		BitLib: BitOpLibrary,
	},
	Luau: {
		Bitwise:         true,
		IntegerDivision: true,
		CompoundAssign:  true,
		Continue:        true,
		IfExpression:    true,
		TypeAnnotations: true,
		BacktickStrings: true,
		BinaryLiterals:  true,
		DigitSeparators: true,
		TableUnpack:     true,
		BitLib:          Bit32Library,
	},
}

// Features returns the feature matrix row for d.
// Features panics if d is not valid.
func (d Dialect) Features() Features {
	f, ok := matrix[d]
	if !ok {
		panic("invalid dialect")
	}
	return f
}
