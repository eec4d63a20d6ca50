// Copyright 2024 The zb Authors
// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package lualex

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"oclare.dev/pkg/internal/dialect"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name    string
		s       string
		dialect dialect.Dialect
		want    []Token
		bad     bool
	}{
		{
			name:    "Empty",
			s:       "",
			dialect: dialect.Lua54,
			want: []Token{
				{Kind: EOFToken, Position: Pos(1, 1)},
			},
		},
		{
			name:    "Identifier",
			s:       "  foo  ",
			dialect: dialect.Lua54,
			want: []Token{
				{Kind: IdentifierToken, Position: Pos(1, 3), Value: "foo"},
				{Kind: EOFToken, Position: Pos(1, 8)},
			},
		},
		{
			name:    "Numerals",
			s:       "3 0xff 3.0 314.16e-2 .5",
			dialect: dialect.Lua53,
			want: []Token{
				{Kind: NumeralToken, Position: Pos(1, 1), Value: "3"},
				{Kind: NumeralToken, Position: Pos(1, 3), Value: "0xff"},
				{Kind: NumeralToken, Position: Pos(1, 8), Value: "3.0"},
				{Kind: NumeralToken, Position: Pos(1, 12), Value: "314.16e-2"},
				{Kind: NumeralToken, Position: Pos(1, 22), Value: ".5"},
				{Kind: EOFToken, Position: Pos(1, 24)},
			},
		},
		{
			name:    "LuauNumerals",
			s:       "0b1010 1_000",
			dialect: dialect.Luau,
			want: []Token{
				{Kind: NumeralToken, Position: Pos(1, 1), Value: "0b1010"},
				{Kind: NumeralToken, Position: Pos(1, 8), Value: "1000"},
				{Kind: EOFToken, Position: Pos(1, 13)},
			},
		},
		{
			name:    "GotoKeyword",
			s:       "goto x",
			dialect: dialect.Lua52,
			want: []Token{
				{Kind: GotoToken, Position: Pos(1, 1)},
				{Kind: IdentifierToken, Position: Pos(1, 6), Value: "x"},
				{Kind: EOFToken, Position: Pos(1, 7)},
			},
		},
		{
			name:    "GotoIdentifier",
			s:       "goto x",
			dialect: dialect.Lua51,
			want: []Token{
				{Kind: IdentifierToken, Position: Pos(1, 1), Value: "goto"},
				{Kind: IdentifierToken, Position: Pos(1, 6), Value: "x"},
				{Kind: EOFToken, Position: Pos(1, 7)},
			},
		},
		{
			name:    "CompoundAssign",
			s:       "x += 1 y ..= z",
			dialect: dialect.Luau,
			want: []Token{
				{Kind: IdentifierToken, Position: Pos(1, 1), Value: "x"},
				{Kind: AddAssignToken, Position: Pos(1, 3)},
				{Kind: NumeralToken, Position: Pos(1, 6), Value: "1"},
				{Kind: IdentifierToken, Position: Pos(1, 8), Value: "y"},
				{Kind: ConcatAssignToken, Position: Pos(1, 10)},
				{Kind: IdentifierToken, Position: Pos(1, 14), Value: "z"},
				{Kind: EOFToken, Position: Pos(1, 15)},
			},
		},
		{
			name:    "NoCompoundAssign",
			s:       "x += 1",
			dialect: dialect.Lua54,
			want: []Token{
				{Kind: IdentifierToken, Position: Pos(1, 1), Value: "x"},
				{Kind: AddToken, Position: Pos(1, 3)},
				{Kind: AssignToken, Position: Pos(1, 4)},
				{Kind: NumeralToken, Position: Pos(1, 6), Value: "1"},
				{Kind: EOFToken, Position: Pos(1, 7)},
			},
		},
		{
			name:    "Shifts",
			s:       "a >> b << c // d",
			dialect: dialect.Lua54,
			want: []Token{
				{Kind: IdentifierToken, Position: Pos(1, 1), Value: "a"},
				{Kind: RShiftToken, Position: Pos(1, 3)},
				{Kind: IdentifierToken, Position: Pos(1, 6), Value: "b"},
				{Kind: LShiftToken, Position: Pos(1, 8)},
				{Kind: IdentifierToken, Position: Pos(1, 11), Value: "c"},
				{Kind: IntDivToken, Position: Pos(1, 13)},
				{Kind: IdentifierToken, Position: Pos(1, 16), Value: "d"},
				{Kind: EOFToken, Position: Pos(1, 17)},
			},
		},
		{
			name:    "Strings",
			s:       `"a\tb" 'c\x41\65\u{48}'`,
			dialect: dialect.Lua54,
			want: []Token{
				{Kind: StringToken, Position: Pos(1, 1), Value: "a\tb"},
				{Kind: StringToken, Position: Pos(1, 8), Value: "cAAH"},
				{Kind: EOFToken, Position: Pos(1, 24)},
			},
		},
		{
			name:    "LongString",
			s:       "[==[\nfoo]]bar]==]",
			dialect: dialect.Lua51,
			want: []Token{
				{Kind: StringToken, Position: Pos(1, 1), Value: "foo]]bar"},
				{Kind: EOFToken, Position: Pos(2, 13)},
			},
		},
		{
			name:    "Comments",
			s:       "-- line\n--[[ long\ncomment ]] x",
			dialect: dialect.Lua54,
			want: []Token{
				{Kind: IdentifierToken, Position: Pos(3, 12), Value: "x"},
				{Kind: EOFToken, Position: Pos(3, 13)},
			},
		},
		{
			name:    "Backtick",
			s:       "`a{b}c`",
			dialect: dialect.Luau,
			want: []Token{
				{Kind: InterpStringToken, Position: Pos(1, 1), Value: "a{b}c"},
				{Kind: EOFToken, Position: Pos(1, 8)},
			},
		},
		{
			name:    "Unknown",
			s:       "a @ b",
			dialect: dialect.Lua54,
			want: []Token{
				{Kind: IdentifierToken, Position: Pos(1, 1), Value: "a"},
				{Kind: UnknownToken, Position: Pos(1, 3), Value: "@"},
				{Kind: IdentifierToken, Position: Pos(1, 5), Value: "b"},
				{Kind: EOFToken, Position: Pos(1, 6)},
			},
		},
		{
			name:    "UnterminatedString",
			s:       `x = "abc`,
			dialect: dialect.Lua54,
			bad:     true,
		},
		{
			name:    "UnterminatedLongString",
			s:       "x = [[abc",
			dialect: dialect.Lua54,
			bad:     true,
		},
		{
			name:    "BadEscape",
			s:       `"\q"`,
			dialect: dialect.Lua54,
			bad:     true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Tokenize(test.s, test.dialect)
			if test.bad {
				var syntaxErr *SyntaxError
				if !errors.As(err, &syntaxErr) {
					t.Fatalf("Tokenize(%q) error = %v; want *SyntaxError", test.s, err)
				}
				if !syntaxErr.Position.IsValid() {
					t.Errorf("Tokenize(%q) error position is invalid", test.s)
				}
				return
			}
			if err != nil {
				t.Fatalf("Tokenize(%q): %v", test.s, err)
			}
			if diff := cmp.Diff(test.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Tokenize(%q) (-want +got):\n%s", test.s, diff)
			}
		})
	}
}

func TestUnquote(t *testing.T) {
	tests := []struct {
		s    string
		want string
		err  bool
	}{
		{s: `""`, want: ""},
		{s: `''`, want: ""},
		{s: `"abc"`, want: "abc"},
		{s: `'abc'`, want: "abc"},
		{s: `"\u{110000}"`, want: "\xf4\x90\x80\x80"},
		{s: `"\u{80000000}"`, err: true},
		{s: "[[\nabc]]", want: "abc"},
		{s: `"abc`, err: true},
	}

	for _, test := range tests {
		got, err := Unquote(test.s)
		if got != test.want || (err != nil) != test.err {
			errString := "<nil>"
			if test.err {
				errString = "<error>"
			}
			t.Errorf("Unquote(%q) = %q, %v; want %q, %s", test.s, got, err, test.want, errString)
		}
	}
}

func TestUnescapeInterpolated(t *testing.T) {
	got, err := UnescapeInterpolated(`a\n\{b\}`)
	if want := "a\n{b}"; got != want || err != nil {
		t.Errorf("UnescapeInterpolated(...) = %q, %v; want %q, <nil>", got, err, want)
	}
}

func FuzzQuote(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("Hello, 世界")
	f.Add("abc\nxyz")
	f.Add("abc\x00xyz")
	f.Add("\x00\x01\x023\x05\x009")
	f.Add("\x7f\x80")

	f.Fuzz(func(t *testing.T, s string) {
		luaString := Quote(s)
		got, err := Unquote(luaString)
		if got != s || err != nil {
			t.Errorf("Unquote(Quote(%q)) = %q, %v; want %q, <nil> (Quote(...) = %q)",
				s, got, err, s, luaString)
		}
	})
}
