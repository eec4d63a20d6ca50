// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package oclare

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	lua "github.com/yuin/gopher-lua"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/lualex"
	"oclare.dev/pkg/internal/testcontext"
	"oclare.dev/pkg/internal/vmcrypto"
)

// runLua51 runs a protected program in a Lua 5.1 interpreter
// and returns what it printed and the string forms of its results.
// The interpreter only has the base, table, string, math, and coroutine
// libraries plus a "bit" table and an os.clock,
// so the environment checks do not depend on the machine running the test.
func runLua51(ctx context.Context, tb testing.TB, text string) (stdout string, results []string) {
	tb.Helper()
	l := lua.NewState(lua.Options{
		SkipOpenLibs:     true,
		CallStackSize:    4096,
		RegistrySize:     1024 * 20,
		RegistryMaxSize:  1024 * 1024,
		RegistryGrowStep: 32,
	})
	defer l.Close()
	l.SetContext(ctx)
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	} {
		l.Push(l.NewFunction(lib.open))
		l.Push(lua.LString(lib.name))
		l.Call(1, 0)
	}
	start := time.Now()
	l.SetGlobal("os", l.SetFuncs(l.NewTable(), map[string]lua.LGFunction{
		"clock": func(l *lua.LState) int {
			l.Push(lua.LNumber(time.Since(start).Seconds()))
			return 1
		},
	}))
	l.SetGlobal("bit", l.SetFuncs(l.NewTable(), bitLibrary))

	out := new(strings.Builder)
	l.SetGlobal("print", l.NewFunction(func(l *lua.LState) int {
		for i := 1; i <= l.GetTop(); i++ {
			if i > 1 {
				out.WriteString("\t")
			}
			out.WriteString(l.ToStringMeta(l.Get(i)).String())
		}
		out.WriteString("\n")
		return 0
	}))

	fn, err := l.LoadString(text)
	if err != nil {
		tb.Fatalf("load protected program: %v", err)
	}
	l.Push(fn)
	if err := l.PCall(0, lua.MultRet, nil); err != nil {
		tb.Fatalf("run protected program: %v\noutput so far:\n%s", err, out)
	}
	for i := 1; i <= l.GetTop(); i++ {
		results = append(results, l.ToStringMeta(l.Get(i)).String())
	}
	return out.String(), results
}

// bitLibrary mimics the LuaJIT BitOp module:
// arguments are truncated to 32 bits and results are signed.
var bitLibrary = map[string]lua.LGFunction{
	"band": bitFold(func(x, y uint32) uint32 { return x & y }),
	"bor":  bitFold(func(x, y uint32) uint32 { return x | y }),
	"bxor": bitFold(func(x, y uint32) uint32 { return x ^ y }),
	"bnot": func(l *lua.LState) int {
		l.Push(lua.LNumber(int32(^bitArg(l, 1))))
		return 1
	},
	"lshift": func(l *lua.LState) int {
		l.Push(lua.LNumber(int32(bitArg(l, 1) << (bitArg(l, 2) & 31))))
		return 1
	},
	"rshift": func(l *lua.LState) int {
		l.Push(lua.LNumber(int32(bitArg(l, 1) >> (bitArg(l, 2) & 31))))
		return 1
	},
}

func bitArg(l *lua.LState, i int) uint32 {
	f := math.Floor(float64(l.CheckNumber(i)))
	return uint32(int64(math.Mod(f, 1<<32)+(1<<32)) % (1 << 32))
}

func bitFold(op func(x, y uint32) uint32) lua.LGFunction {
	return func(l *lua.LState) int {
		acc := bitArg(l, 1)
		for i := 2; i <= l.GetTop(); i++ {
			acc = op(acc, bitArg(l, i))
		}
		l.Push(lua.LNumber(int32(acc)))
		return 1
	}
}

func TestProtectedProgramRuns(t *testing.T) {
	tests := []struct {
		name        string
		source      string
		wantStdout  string
		wantResults []string
	}{
		{
			name:        "Sample",
			source:      sampleSource,
			wantStdout:  "1 1 2 3 5 8 13 21 34 55\t5\n",
			wantResults: []string{"610"},
		},
		{
			name: "Varargs",
			source: `local function count(...) return select("#", ...), ... end
local n, a, b = count(4, nil, 6)
print(n, a, b)
local t = {count(1, 2)}
print(#t)`,
			wantStdout: "3\t4\tnil\n3\n",
		},
		{
			name: "Metatables",
			source: `local V = {}
V.__index = V
V.__add = function(a, b) return setmetatable({x = a.x + b.x}, V) end
function V:get() return self.x end
local v = setmetatable({x = 2}, V) + setmetatable({x = 5}, V)
print(v:get())`,
			wantStdout: "7\n",
		},
		{
			name: "ProtectedCall",
			source: `local ok, err = pcall(function() error({code = 42}) end)
print(ok, err.code)
local ok2, msg = pcall(error, "plain", 0)
print(ok2, msg)`,
			wantStdout: "false\t42\nfalse\tplain\n",
		},
		{
			name: "LargeTables",
			source: `local t = {}
for i = 1, 100 do t[i] = i end
local u = {1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16,17,18,19,20,21,22,23,24,25,26,27,28,29,30,
  31,32,33,34,35,36,37,38,39,40,41,42,43,44,45,46,47,48,49,50,51,52,53,54,55,56,57,58,59,60}
local s = 0
for _, v in ipairs(u) do s = s + v end
print(#t, #u, s)`,
			wantStdout: "100\t60\t1830\n",
		},
		{
			name: "Loops",
			source: `local s = ("abc"):upper() .. string.rep("x", 3)
local i = 0
repeat i = i + 1 until i >= 5
while i < 8 do i = i + 1 end
print(s, i, #s)`,
			wantStdout: "ABCxxx\t8\t6\n",
		},
		{
			name: "SharedUpvalue",
			source: `local function counter()
  local n = 0
  return function() n = n + 1 return n end, function() return n end
end
local inc, get = counter()
inc() inc() inc()
print(get())`,
			wantStdout: "3\n",
		},
		{
			name: "TailCall",
			source: `local function loop(n, acc)
  if n == 0 then return acc end
  return loop(n - 1, acc + n)
end
return loop(200, 0)`,
			wantResults: []string{"20100"},
		},
	}

	for _, test := range tests {
		for _, seed := range []string{"alpha", "bravo", "charlie", "delta"} {
			for _, guards := range []bool{true, false} {
				name := test.name + "/" + seed + "/noguards"
				if guards {
					name = test.name + "/" + seed + "/guards"
				}
				t.Run(name, func(t *testing.T) {
					ctx, cancel := testcontext.New(t)
					defer cancel()
					result, err := Protect(ctx, &Options{
						Source:        test.source,
						Name:          "exec.lua",
						Dialect:       dialect.Lua51,
						Encryption:    vmcrypto.ChaCha20,
						Seed:          seed,
						DisableGuards: !guards,
						Entropy:       zeroEntropy(),
					})
					if err != nil {
						t.Fatal(err)
					}
					stdout, results := runLua51(ctx, t, result.Text)
					if stdout != test.wantStdout {
						t.Errorf("output = %q; want %q", stdout, test.wantStdout)
					}
					if diff := cmp.Diff(test.wantResults, results); diff != "" {
						t.Errorf("results (-want +got):\n%s", diff)
					}
				})
			}
		}
	}
}

func TestProtectedProgramTampered(t *testing.T) {
	for _, seed := range []string{"alpha", "bravo", "charlie"} {
		t.Run(seed, func(t *testing.T) {
			ctx, cancel := testcontext.New(t)
			defer cancel()
			result, err := Protect(ctx, &Options{
				Source:     sampleSource,
				Dialect:    dialect.Lua51,
				Encryption: vmcrypto.ChaCha20,
				Seed:       seed,
				Entropy:    zeroEntropy(),
			})
			if err != nil {
				t.Fatal(err)
			}

			code := result.Output.Units[0].Code.Data
			quoted := lualex.Quote(string(code))
			if n := strings.Count(result.Text, quoted); n != 1 {
				t.Fatalf("main unit ciphertext appears %d times in program; want 1", n)
			}
			flipped := bytes.Clone(code)
			flipped[len(flipped)/2] ^= 0x01
			tampered := strings.Replace(result.Text, quoted, lualex.Quote(string(flipped)), 1)

			stdout, results := runLua51(ctx, t, tampered)
			if stdout != "" || len(results) > 0 {
				t.Errorf("tampered program printed %q and returned %q; want no output", stdout, results)
			}
		})
	}
}
