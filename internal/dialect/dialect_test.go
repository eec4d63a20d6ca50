// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package dialect

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		s    string
		want Dialect
		err  bool
	}{
		{s: "5.1", want: Lua51},
		{s: "lua5.2", want: Lua52},
		{s: "LUA53", want: Lua53},
		{s: " 5.4 ", want: Lua54},
		{s: "jit", want: LuaJIT},
		{s: "Roblox", want: Luau},
		{s: "lua6", err: true},
		{s: "", err: true},
	}
	for _, test := range tests {
		got, err := Parse(test.s)
		if got != test.want || (err != nil) != test.err {
			t.Errorf("Parse(%q) = %v, %v; want %v, error=%t", test.s, got, err, test.want, test.err)
		}
	}
}

func TestTextRoundTrip(t *testing.T) {
	for _, d := range All() {
		text, err := d.MarshalText()
		if err != nil {
			t.Errorf("%v.MarshalText(): %v", d, err)
			continue
		}
		var got Dialect
		if err := got.UnmarshalText(text); err != nil {
			t.Errorf("UnmarshalText(%q): %v", text, err)
			continue
		}
		if got != d {
			t.Errorf("UnmarshalText(%q) = %v; want %v", text, got, d)
		}
	}
}

func TestFeatures(t *testing.T) {
	if Lua51.Features().Goto {
		t.Error("lua51 reports goto support")
	}
	if !Lua52.Features().Goto {
		t.Error("lua52 does not report goto support")
	}
	if f := Luau.Features(); !f.Continue || !f.CompoundAssign || f.Goto {
		t.Errorf("luau features = %+v", f)
	}
	for _, d := range All() {
		if f := d.Features(); f.Bitwise && f.BitLib == BitOpLibrary {
			t.Errorf("%v has native bitwise syntax but a bit module runtime", d)
		}
	}
}
