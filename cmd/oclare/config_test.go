// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/vmcrypto"
)

func TestDefaultGlobalConfig(t *testing.T) {
	got := defaultGlobalConfig()
	if err := got.validate(); err != nil {
		t.Error("defaultGlobalConfig().validate():", err)
	}
	if !got.guards() {
		t.Error("defaultGlobalConfig().guards() = false; want true")
	}
}

func TestGlobalConfigMergeFiles(t *testing.T) {
	dir := t.TempDir()
	var paths [3]string
	paths[0] = filepath.Join(dir, "config1.jwcc")
	if err := os.WriteFile(paths[0], []byte(`{"debug": true, "dialect": "5.4", "history": "/foo"}`+"\n"), 0o666); err != nil {
		t.Fatal(err)
	}
	paths[1] = filepath.Join(dir, "does-not-exist.jwcc")
	paths[2] = filepath.Join(dir, "config2.jwcc")
	const config2 = `{
		// Comments and trailing commas are permitted.
		"encryption": "secretbox",
		"guards": false,
		"history": "/bar",
		"unknown": 1,
	}`
	if err := os.WriteFile(paths[2], []byte(config2), 0o666); err != nil {
		t.Fatal(err)
	}

	g := defaultGlobalConfig()
	if err := g.mergeFiles(slices.Values(paths[:])); err != nil {
		t.Error("mergeFiles:", err)
	}
	want := &globalConfig{
		Debug:      true,
		Dialect:    dialect.Lua54,
		Encryption: vmcrypto.XSalsa20Poly1305,
		Guards:     new(bool),
		History:    "/bar",
		Jobs:       g.Jobs,
	}
	if diff := cmp.Diff(want, g); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
	if g.guards() {
		t.Error("g.guards() = true; want false")
	}
}

func TestGlobalConfigMergeFilesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jwcc")
	if err := os.WriteFile(path, []byte(`{"dialect": "lua9"}`), 0o666); err != nil {
		t.Fatal(err)
	}
	g := defaultGlobalConfig()
	if err := g.mergeFiles(slices.Values([]string{path})); err == nil {
		t.Error("mergeFiles did not return an error for an unknown dialect")
	}
}

func TestGlobalConfigMergeEnvironment(t *testing.T) {
	t.Setenv("OCLARE_DIALECT", "roblox")
	t.Setenv("OCLARE_HISTORY", "")

	g := defaultGlobalConfig()
	if err := g.mergeEnvironment(); err != nil {
		t.Fatal(err)
	}
	if g.Dialect != dialect.Luau {
		t.Errorf("g.Dialect = %v; want %v", g.Dialect, dialect.Luau)
	}
	if g.History != "" {
		t.Errorf("g.History = %q; want \"\"", g.History)
	}

	t.Setenv("OCLARE_DIALECT", "cobol")
	if err := defaultGlobalConfig().mergeEnvironment(); err == nil {
		t.Error("mergeEnvironment did not return an error for an unknown dialect")
	}
}

func TestFlags(t *testing.T) {
	var d dialectFlag
	if err := d.Set("LuaJIT"); err != nil {
		t.Fatal(err)
	}
	if got := d.Get(); got != dialect.LuaJIT {
		t.Errorf("dialect flag = %v; want %v", got, dialect.LuaJIT)
	}
	if err := d.Set("5.0"); err == nil {
		t.Error(`dialectFlag.Set("5.0") did not return an error`)
	}

	var m encryptionFlag
	if err := m.Set("xsalsa20poly1305"); err != nil {
		t.Fatal(err)
	}
	if got := m.Get(); got != vmcrypto.XSalsa20Poly1305 {
		t.Errorf("encryption flag = %v; want %v", got, vmcrypto.XSalsa20Poly1305)
	}
	if err := m.Set("rot13"); err == nil {
		t.Error(`encryptionFlag.Set("rot13") did not return an error`)
	}
}

func TestLayoutFlags(t *testing.T) {
	tests := []struct {
		args        []string
		wantDialect dialect.Dialect
		wantSeed    string
	}{
		{args: nil, wantDialect: dialect.Lua52},
		{args: []string{"--dialect=jit", "--seed=abc"}, wantDialect: dialect.LuaJIT, wantSeed: "abc"},
		{args: []string{"--dialect", "5.1"}, wantDialect: dialect.Lua51},
	}
	for _, test := range tests {
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		f := new(layoutFlags)
		f.register(fs)
		if err := fs.Parse(test.args); err != nil {
			t.Errorf("Parse(%q): %v", test.args, err)
			continue
		}
		if got := f.dialectOr(fs, dialect.Lua52); got != test.wantDialect {
			t.Errorf("Parse(%q); dialect = %v; want %v", test.args, got, test.wantDialect)
		}
		if f.seed != test.wantSeed {
			t.Errorf("Parse(%q); seed = %q; want %q", test.args, f.seed, test.wantSeed)
		}
	}
}
