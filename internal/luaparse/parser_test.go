// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package luaparse

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/luaast"
	"oclare.dev/pkg/internal/lualex"
	"oclare.dev/pkg/internal/luavalue"
)

var astOptions = cmp.Options{
	cmpopts.IgnoreTypes(lualex.Position{}),
	cmp.Comparer(func(v1, v2 luavalue.Value) bool { return v1 == v2 }),
}

func ident(name string) *luaast.IdentifierExpr {
	return &luaast.IdentifierExpr{Name: name}
}

func lit(v luavalue.Value) *luaast.LiteralExpr {
	return &luaast.LiteralExpr{Value: v}
}

func binop(op luaast.BinaryOperator, l, r luaast.Expr) *luaast.BinaryOpExpr {
	return &luaast.BinaryOpExpr{Op: op, Left: l, Right: r}
}

func block(stmts ...luaast.Stmt) *luaast.Block {
	return &luaast.Block{Stmts: stmts}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		dialect dialect.Dialect
		source  string
		want    *luaast.Block
	}{
		{
			name:    "Empty",
			dialect: dialect.Lua54,
			source:  "",
			want:    block(),
		},
		{
			name:    "Local",
			dialect: dialect.Lua54,
			source:  "local a, b = 1, 2.5",
			want: block(&luaast.LocalStmt{
				Names: []string{"a", "b"},
				Exprs: []luaast.Expr{lit(luavalue.Integer(1)), lit(luavalue.Float(2.5))},
			}),
		},
		{
			name:    "FloatsWithoutIntegers",
			dialect: dialect.Lua51,
			source:  "local a = 1",
			want: block(&luaast.LocalStmt{
				Names: []string{"a"},
				Exprs: []luaast.Expr{lit(luavalue.Float(1))},
			}),
		},
		{
			name:    "Precedence",
			dialect: dialect.Lua53,
			source:  "x = 1 + 2 * 3 ^ 2 ^ 1",
			want: block(&luaast.AssignStmt{
				Targets: []luaast.Expr{ident("x")},
				Exprs: []luaast.Expr{
					binop(luaast.AddOp,
						lit(luavalue.Integer(1)),
						binop(luaast.MulOp,
							lit(luavalue.Integer(2)),
							binop(luaast.PowOp,
								lit(luavalue.Integer(3)),
								binop(luaast.PowOp, lit(luavalue.Integer(2)), lit(luavalue.Integer(1)))))),
				},
			}),
		},
		{
			name:    "ConcatRightAssociative",
			dialect: dialect.Lua51,
			source:  `x = "a" .. "b" .. "c"`,
			want: block(&luaast.AssignStmt{
				Targets: []luaast.Expr{ident("x")},
				Exprs: []luaast.Expr{
					binop(luaast.ConcatOp,
						lit(luavalue.String("a")),
						binop(luaast.ConcatOp, lit(luavalue.String("b")), lit(luavalue.String("c")))),
				},
			}),
		},
		{
			name:    "UnaryBindsTighterThanBinary",
			dialect: dialect.Lua54,
			source:  "x = not a == b",
			want: block(&luaast.AssignStmt{
				Targets: []luaast.Expr{ident("x")},
				Exprs: []luaast.Expr{
					binop(luaast.EqOp, &luaast.UnaryOpExpr{Op: luaast.NotOp, Operand: ident("a")}, ident("b")),
				},
			}),
		},
		{
			name:    "MethodCall",
			dialect: dialect.Lua52,
			source:  `obj:m "s"`,
			want: block(&luaast.CallStmt{
				Call: &luaast.MethodCallExpr{
					Receiver: ident("obj"),
					Method:   "m",
					Args:     []luaast.Expr{lit(luavalue.String("s"))},
				},
			}),
		},
		{
			name:    "FunctionDecl",
			dialect: dialect.Lua54,
			source:  "function a.b:c(x, ...) return ... end",
			want: block(&luaast.FunctionDeclStmt{
				Path:   []string{"a", "b"},
				Method: "c",
				Func: &luaast.FunctionExpr{
					Name:     "a.b:c",
					Params:   []string{"self", "x"},
					IsVararg: true,
					Body:     block(&luaast.ReturnStmt{Exprs: []luaast.Expr{&luaast.VarargExpr{}}}),
				},
			}),
		},
		{
			name:    "Table",
			dialect: dialect.Lua54,
			source:  "t = {1, x = 2; [3] = 4, f()}",
			want: block(&luaast.AssignStmt{
				Targets: []luaast.Expr{ident("t")},
				Exprs: []luaast.Expr{&luaast.TableExpr{Fields: []luaast.TableField{
					{Kind: luaast.PositionalField, Value: lit(luavalue.Integer(1))},
					{Kind: luaast.NamedField, Name: "x", Value: lit(luavalue.Integer(2))},
					{Kind: luaast.KeyedField, Key: lit(luavalue.Integer(3)), Value: lit(luavalue.Integer(4))},
					{Kind: luaast.PositionalField, Value: &luaast.CallExpr{Func: ident("f")}},
				}}},
			}),
		},
		{
			name:    "NumericFor",
			dialect: dialect.Lua54,
			source:  "for i = 1, 3 do s = s + i end",
			want: block(&luaast.NumericForStmt{
				Var:   "i",
				Start: lit(luavalue.Integer(1)),
				Limit: lit(luavalue.Integer(3)),
				Body: block(&luaast.AssignStmt{
					Targets: []luaast.Expr{ident("s")},
					Exprs:   []luaast.Expr{binop(luaast.AddOp, ident("s"), ident("i"))},
				}),
			}),
		},
		{
			name:    "GotoAndLabel",
			dialect: dialect.Lua52,
			source:  "goto done ::done::",
			want: block(
				&luaast.GotoStmt{Label: "done"},
				&luaast.LabelStmt{Name: "done"},
			),
		},
		{
			name:    "Attributes",
			dialect: dialect.Lua54,
			source:  "local x <const>, y = 1",
			want: block(&luaast.LocalStmt{
				Names:   []string{"x", "y"},
				Attribs: []luaast.Attrib{luaast.ConstAttrib, luaast.NoAttrib},
				Exprs:   []luaast.Expr{lit(luavalue.Integer(1))},
			}),
		},
		{
			name:    "LuauCompoundAndContinue",
			dialect: dialect.Luau,
			source:  "while true do x += 1 continue end",
			want: block(&luaast.WhileStmt{
				Cond: lit(luavalue.Bool(true)),
				Body: block(
					&luaast.CompoundAssignStmt{Op: luaast.AddOp, Target: ident("x"), Value: lit(luavalue.Float(1))},
					&luaast.ContinueStmt{},
				),
			}),
		},
		{
			name:    "LuauContinueAsIdentifier",
			dialect: dialect.Luau,
			source:  "continue = 1",
			want: block(&luaast.AssignStmt{
				Targets: []luaast.Expr{ident("continue")},
				Exprs:   []luaast.Expr{lit(luavalue.Float(1))},
			}),
		},
		{
			name:    "LuauTypes",
			dialect: dialect.Luau,
			source: "export type Pair<T> = {first: T, second: T?}\n" +
				"local function f<T>(a: number, b: Pair<T>, ...: string): (number, string)\n" +
				"  return a :: any\n" +
				"end",
			want: block(&luaast.LocalFunctionStmt{
				Name: "f",
				Func: &luaast.FunctionExpr{
					Name:     "f",
					Params:   []string{"a", "b"},
					IsVararg: true,
					Body:     block(&luaast.ReturnStmt{Exprs: []luaast.Expr{ident("a")}}),
				},
			}),
		},
		{
			name:    "LuauIfExpression",
			dialect: dialect.Luau,
			source:  "x = if a then 1 elseif b then 2 else 3",
			want: block(&luaast.AssignStmt{
				Targets: []luaast.Expr{ident("x")},
				Exprs: []luaast.Expr{&luaast.IfExpr{
					Clauses: []luaast.IfExprClause{
						{Cond: ident("a"), Value: lit(luavalue.Float(1))},
						{Cond: ident("b"), Value: lit(luavalue.Float(2))},
					},
					Else: lit(luavalue.Float(3)),
				}},
			}),
		},
		{
			name:    "LuauBacktickString",
			dialect: dialect.Luau,
			source:  "x = `a{n + 1}\\{b`",
			want: block(&luaast.AssignStmt{
				Targets: []luaast.Expr{ident("x")},
				Exprs: []luaast.Expr{
					binop(luaast.ConcatOp,
						lit(luavalue.String("a")),
						binop(luaast.ConcatOp,
							&luaast.CallExpr{
								Func: ident("tostring"),
								Args: []luaast.Expr{binop(luaast.AddOp, ident("n"), lit(luavalue.Float(1)))},
							},
							lit(luavalue.String("{b")))),
				},
			}),
		},
		{
			name:    "ParenTruncation",
			dialect: dialect.Lua54,
			source:  "return (f())",
			want: block(&luaast.ReturnStmt{Exprs: []luaast.Expr{
				&luaast.ParenExpr{Inner: &luaast.CallExpr{Func: ident("f")}},
			}}),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseString("test.lua", test.source, test.dialect)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.want, got, astOptions); diff != "" {
				t.Errorf("ParseString(%q) (-want +got):\n%s", test.source, diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		dialect dialect.Dialect
		source  string
		want    string
	}{
		{"GotoLua51", dialect.Lua51, "goto done", "goto not supported in lua51"},
		{"LabelLuau", dialect.Luau, "::done::", "labels not supported"},
		{"BitwiseLua52", dialect.Lua52, "x = a & b", "bitwise operators not supported"},
		{"BitNotLuaJIT", dialect.LuaJIT, "x = ~a", "bitwise operators not supported"},
		{"IntegerDivisionLua51", dialect.Lua51, "x = a // b", "integer division not supported"},
		{"ContinueLua53", dialect.Lua53, "while true do continue end", "continue not supported"},
		{"IfExpressionLua54", dialect.Lua54, "x = if a then b else c", "if-expressions not supported"},
		{"TypeDeclarationLua54", dialect.Lua54, "type X = number", "type declarations not supported"},
		{"AttributesLua53", dialect.Lua53, "local x <const> = 1", "local attributes not supported"},
		{"ConstAssign", dialect.Lua54, "local x <const> = 1\nx = 2", "attempt to assign to const variable 'x'"},
		{"ConstFunction", dialect.Lua54, "local f <const> = 1\nfunction f() end", "attempt to assign to const variable 'f'"},
		{"UnknownAttribute", dialect.Lua54, "local x <nope> = 1", "unknown attribute 'nope'"},
		{"VarargOutside", dialect.Lua54, "function f() return ... end", "cannot use '...' outside a vararg function"},
		{"UnclosedFunction", dialect.Lua54, "function f()\n", "'end' expected (to close 'function' at line 1)"},
		{"NotACall", dialect.Lua54, "x", "syntax error"},
		{"UnknownCharacter", dialect.Lua54, "x = @", "unexpected symbol near '@'"},
		{"ReturnNotLast", dialect.Lua54, "return 1 x = 2", "'<eof>' expected"},
		{"UnfinishedString", dialect.Lua54, "x = 'abc", "unfinished string"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseString("test.lua", test.source, test.dialect)
			if err == nil {
				t.Fatalf("ParseString(%q) did not return an error", test.source)
			}
			var se *lualex.SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("ParseString(%q) error = %v (%T); want *lualex.SyntaxError", test.source, err, err)
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("ParseString(%q) error = %q; want to contain %q", test.source, err, test.want)
			}
			if !strings.HasPrefix(err.Error(), "test.lua:") {
				t.Errorf("ParseString(%q) error = %q; want to start with chunk name", test.source, err)
			}
		})
	}
}

func TestParseDepthLimit(t *testing.T) {
	source := "x = " + strings.Repeat("(", depthLimit+10) + "1" + strings.Repeat(")", depthLimit+10)
	_, err := ParseString("deep.lua", source, dialect.Lua54)
	if err == nil || !strings.Contains(err.Error(), "too many syntax levels") {
		t.Errorf("ParseString(deep) error = %v; want too many syntax levels", err)
	}
}
