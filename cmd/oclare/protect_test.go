// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"
	"oclare.dev/pkg/internal/buildlog"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/testcontext"
	"oclare.dev/pkg/internal/vmcrypto"
)

const testSource = "local t = {}\nfor i = 1, 3 do t[i] = i * i end\nprint(t[1] + t[2] + t[3])\nreturn t\n"

// brotliSource is "print(6*7)\n" as a single uncompressed brotli meta-block.
var brotliSource = []byte{
	0xa0, 0x00, 0x10,
	0x70, 0x72, 0x69, 0x6e, 0x74, 0x28, 0x36, 0x2a, 0x37, 0x29, 0x0a,
	0x03,
}

const programPrefix = "return (function(...)"

func newTestConfig(tb testing.TB) *globalConfig {
	tb.Helper()
	g := defaultGlobalConfig()
	g.History = filepath.Join(tb.TempDir(), "history.db")
	g.Jobs = 2
	return g
}

func newTestProtectOptions(g *globalConfig, files ...string) (*protectOptions, *bytes.Buffer, *bytes.Buffer) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	return &protectOptions{
		files:      files,
		dialect:    g.Dialect,
		encryption: g.Encryption,
		jobs:       g.Jobs,
		stdin:      io.NopCloser(strings.NewReader("")),
		stdout:     stdout,
		stderr:     stderr,
	}, stdout, stderr
}

func writeFile(tb testing.TB, path string, data []byte) {
	tb.Helper()
	if err := os.WriteFile(path, data, 0o666); err != nil {
		tb.Fatal(err)
	}
}

func readHistory(tb testing.TB, g *globalConfig) []*buildlog.Record {
	tb.Helper()
	ctx, cancel := testcontext.New(tb)
	defer cancel()
	db, err := g.openHistory()
	if err != nil {
		tb.Fatal(err)
	}
	defer db.Close()
	records, err := db.Recent(ctx, 100)
	if err != nil {
		tb.Fatal(err)
	}
	return records
}

func TestRunProtectSingle(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	g := newTestConfig(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "squares.lua")
	writeFile(t, src, []byte(testSource))

	opts, stdout, _ := newTestProtectOptions(g, src)
	opts.output = filepath.Join(dir, "out.lua")
	opts.seed = "single"
	opts.dialect = dialect.Lua54
	opts.encryption = vmcrypto.XSalsa20Poly1305
	if err := runProtect(ctx, g, opts); err != nil {
		t.Fatal(err)
	}
	if stdout.Len() > 0 {
		t.Errorf("stdout = %q; want empty", stdout)
	}
	got, err := os.ReadFile(opts.output)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(got, []byte(programPrefix)) {
		t.Errorf("output begins with %.40q; want %q", got, programPrefix)
	}

	records := readHistory(t, g)
	if len(records) != 1 {
		t.Fatalf("history has %d records; want 1", len(records))
	}
	r := records[0]
	if r.Name != "squares.lua" || r.Seed != "single" || r.Dialect != dialect.Lua54 || r.Encryption != vmcrypto.XSalsa20Poly1305 {
		t.Errorf("record = %+v; want squares.lua built with seed \"single\" for lua54 with xsalsa20-poly1305", r)
	}
	if r.Error != "" {
		t.Errorf("record error = %q; want \"\"", r.Error)
	}
	if r.OutputSize != len(got) || r.InputSize != len(testSource) {
		t.Errorf("record sizes = %d in, %d out; want %d in, %d out", r.InputSize, r.OutputSize, len(testSource), len(got))
	}

	db, err := g.openHistory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	full, err := db.Find(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Opcodes) == 0 {
		t.Error("record has no opcodes")
	}
}

func TestRunProtectBatch(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	g := newTestConfig(t)
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"a.lua", "b.lua", "c.lua"} {
		path := filepath.Join(dir, name)
		writeFile(t, path, []byte(testSource))
		files = append(files, path)
	}

	opts, _, stderr := newTestProtectOptions(g, files...)
	opts.jsonStats = true
	if err := runProtect(ctx, g, opts); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "b", "c"} {
		got, err := os.ReadFile(filepath.Join(dir, name+".protected.lua"))
		if err != nil {
			t.Error(err)
			continue
		}
		if !bytes.HasPrefix(got, []byte(programPrefix)) {
			t.Errorf("%s.protected.lua begins with %.40q; want %q", name, got, programPrefix)
		}
	}

	seen := make(map[string]bool)
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		var line struct {
			File         string `json:"file"`
			ClosureCount int    `json:"closureCount"`
			Dialect      string `json:"dialect"`
		}
		if err := jsonv2.Unmarshal(scanner.Bytes(), &line, jsonv2.RejectUnknownMembers(false)); err != nil {
			t.Errorf("stats line %q: %v", scanner.Bytes(), err)
			continue
		}
		seen[line.File] = true
		if line.Dialect != g.Dialect.String() {
			t.Errorf("%s: dialect = %q; want %q", line.File, line.Dialect, g.Dialect)
		}
	}
	want := map[string]bool{files[0]: true, files[1]: true, files[2]: true}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("files in stats (-want +got):\n%s", diff)
	}
	if got := len(readHistory(t, g)); got != 3 {
		t.Errorf("history has %d records; want 3", got)
	}
}

func TestRunProtectBatchOutputDir(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	g := newTestConfig(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.lua")
	b := filepath.Join(dir, "b.lua.br")
	writeFile(t, a, []byte(testSource))
	writeFile(t, b, brotliSource)

	opts, _, _ := newTestProtectOptions(g, a, b)
	opts.output = filepath.Join(dir, "out")
	if err := runProtect(ctx, g, opts); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.protected.lua", "b.protected.lua"} {
		if _, err := os.Stat(filepath.Join(opts.output, name)); err != nil {
			t.Error(err)
		}
	}
}

func TestRunProtectStdin(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	g := newTestConfig(t)
	g.History = ""

	opts, stdout, _ := newTestProtectOptions(g, "-")
	opts.stdin = io.NopCloser(strings.NewReader(testSource))
	if err := runProtect(ctx, g, opts); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(stdout.String(), programPrefix) {
		t.Errorf("stdout begins with %.40q; want %q", stdout, programPrefix)
	}

	opts, _, _ = newTestProtectOptions(g, "-", "other.lua")
	if err := runProtect(ctx, g, opts); err == nil {
		t.Error("runProtect with - and another file did not return an error")
	}
}

func TestRunProtectSyntaxError(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	g := newTestConfig(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.lua")
	writeFile(t, src, []byte("local = 1\n"))

	opts, stdout, _ := newTestProtectOptions(g, src)
	err := runProtect(ctx, g, opts)
	if err == nil {
		t.Fatal("runProtect did not return an error")
	}
	if !strings.Contains(err.Error(), "broken.lua") {
		t.Errorf("error = %q; want it to name broken.lua", err)
	}
	if stdout.Len() > 0 {
		t.Errorf("stdout = %q; want empty", stdout)
	}

	records := readHistory(t, g)
	if len(records) != 1 {
		t.Fatalf("history has %d records; want 1", len(records))
	}
	if got := records[0].Error; got != err.Error() {
		t.Errorf("record error = %q; want %q", got, err.Error())
	}
}

func TestReadSourceBrotli(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	path := filepath.Join(t.TempDir(), "six.lua.br")
	writeFile(t, path, brotliSource)
	got, err := readSource(ctx, nil, path)
	if err != nil {
		t.Fatal(err)
	}
	if want := "print(6*7)\n"; got != want {
		t.Errorf("readSource(%q) = %q; want %q", path, got, want)
	}
	if got, want := chunkName(path), "six.lua"; got != want {
		t.Errorf("chunkName(%q) = %q; want %q", path, got, want)
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		files  []string
		output string
		path   string
		want   string
	}{
		{files: []string{"a.lua"}, path: "a.lua", want: ""},
		{files: []string{"a.lua"}, output: "-", path: "a.lua", want: ""},
		{files: []string{"a.lua"}, output: "b.lua", path: "a.lua", want: "b.lua"},
		{files: []string{"x/a.lua", "b.lua.br"}, path: "x/a.lua", want: "x/a.protected.lua"},
		{files: []string{"x/a.lua", "b.lua.br"}, path: "b.lua.br", want: "b.protected.lua"},
		{files: []string{"x/a.lua", "b.lua.br"}, output: "out", path: "x/a.lua", want: filepath.Join("out", "a.protected.lua")},
	}
	for _, test := range tests {
		opts := &protectOptions{files: test.files, output: test.output}
		if got := outputPath(opts, test.path); got != test.want {
			t.Errorf("outputPath(files=%q, output=%q, %q) = %q; want %q", test.files, test.output, test.path, got, test.want)
		}
	}
}
