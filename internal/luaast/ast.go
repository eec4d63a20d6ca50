// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

//go:generate go tool stringer -type=BinaryOperator,UnaryOperator -linecomment -output=operator_string.go

// Package luaast defines the syntax tree produced by the parser.
//
// [Stmt] and [Expr] are closed: only the types in this package implement them.
// Consumers switch over the concrete types and treat any other type as a bug.
package luaast

import (
	"oclare.dev/pkg/internal/lualex"
	"oclare.dev/pkg/internal/luavalue"
)

// Node is the common interface of statements and expressions.
type Node interface {
	Pos() lualex.Position
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Block is a sequence of statements that forms a scope.
type Block struct {
	Position lualex.Position
	Stmts    []Stmt
}

// Pos returns the position of the first token of the block.
func (b *Block) Pos() lualex.Position { return b.Position }

// Attrib is a local variable attribute.
type Attrib int8

// Local variable attributes.
const (
	NoAttrib Attrib = iota
	ConstAttrib
	CloseAttrib
)

// LocalStmt is `local names [= exprs]`.
type LocalStmt struct {
	Position lualex.Position
	Names    []string
	// Attribs is either nil or parallel to Names.
	Attribs []Attrib
	Exprs   []Expr
}

// AssignStmt is `targets = exprs`.
// Each target is an [*IdentifierExpr], [*MemberAccessExpr], or [*IndexAccessExpr].
type AssignStmt struct {
	Position lualex.Position
	Targets  []Expr
	Exprs    []Expr
}

// CompoundAssignStmt is `target op= value`.
type CompoundAssignStmt struct {
	Position lualex.Position
	Op       BinaryOperator
	Target   Expr
	Value    Expr
}

// CallStmt is a function call evaluated for its side effects.
// Call is a [*CallExpr] or a [*MethodCallExpr].
type CallStmt struct {
	Position lualex.Position
	Call     Expr
}

// DoStmt is `do ... end`.
type DoStmt struct {
	Position lualex.Position
	Body     *Block
}

// IfClause is one condition and body of an [*IfStmt].
type IfClause struct {
	Cond Expr
	Body *Block
}

// IfStmt is `if ... then ... elseif ... else ... end`.
type IfStmt struct {
	Position lualex.Position
	Clauses  []IfClause
	// Else is nil if there is no else branch.
	Else *Block
}

// WhileStmt is `while cond do body end`.
type WhileStmt struct {
	Position lualex.Position
	Cond     Expr
	Body     *Block
}

// RepeatStmt is `repeat body until cond`.
// The condition is evaluated in the scope of the body.
type RepeatStmt struct {
	Position lualex.Position
	Body     *Block
	Cond     Expr
}

// NumericForStmt is `for v = start, limit[, step] do body end`.
type NumericForStmt struct {
	Position lualex.Position
	Var      string
	Start    Expr
	Limit    Expr
	// Step is nil when omitted.
	Step Expr
	Body *Block
}

// GenericForStmt is `for names in exprs do body end`.
type GenericForStmt struct {
	Position lualex.Position
	Names    []string
	Exprs    []Expr
	Body     *Block
}

// FunctionDeclStmt is `function a.b.c[:m](...) ... end`.
type FunctionDeclStmt struct {
	Position lualex.Position
	// Path is the dotted name. Path[0] is a variable name.
	Path []string
	// Method is the name after the colon or the empty string.
	Method string
	Func   *FunctionExpr
}

// LocalFunctionStmt is `local function name(...) ... end`.
// The name is in scope inside the function body.
type LocalFunctionStmt struct {
	Position lualex.Position
	Name     string
	Func     *FunctionExpr
}

// ReturnStmt is `return exprs`.
type ReturnStmt struct {
	Position lualex.Position
	Exprs    []Expr
}

// BreakStmt is `break`.
type BreakStmt struct {
	Position lualex.Position
}

// ContinueStmt is `continue`.
type ContinueStmt struct {
	Position lualex.Position
}

// GotoStmt is `goto label`.
type GotoStmt struct {
	Position lualex.Position
	Label    string
}

// LabelStmt is `::name::`.
type LabelStmt struct {
	Position lualex.Position
	Name     string
}

func (s *LocalStmt) Pos() lualex.Position          { return s.Position }
func (s *AssignStmt) Pos() lualex.Position         { return s.Position }
func (s *CompoundAssignStmt) Pos() lualex.Position { return s.Position }
func (s *CallStmt) Pos() lualex.Position           { return s.Position }
func (s *DoStmt) Pos() lualex.Position             { return s.Position }
func (s *IfStmt) Pos() lualex.Position             { return s.Position }
func (s *WhileStmt) Pos() lualex.Position          { return s.Position }
func (s *RepeatStmt) Pos() lualex.Position         { return s.Position }
func (s *NumericForStmt) Pos() lualex.Position     { return s.Position }
func (s *GenericForStmt) Pos() lualex.Position     { return s.Position }
func (s *FunctionDeclStmt) Pos() lualex.Position   { return s.Position }
func (s *LocalFunctionStmt) Pos() lualex.Position  { return s.Position }
func (s *ReturnStmt) Pos() lualex.Position         { return s.Position }
func (s *BreakStmt) Pos() lualex.Position          { return s.Position }
func (s *ContinueStmt) Pos() lualex.Position       { return s.Position }
func (s *GotoStmt) Pos() lualex.Position           { return s.Position }
func (s *LabelStmt) Pos() lualex.Position          { return s.Position }

func (*LocalStmt) stmtNode()          {}
func (*AssignStmt) stmtNode()         {}
func (*CompoundAssignStmt) stmtNode() {}
func (*CallStmt) stmtNode()           {}
func (*DoStmt) stmtNode()             {}
func (*IfStmt) stmtNode()             {}
func (*WhileStmt) stmtNode()          {}
func (*RepeatStmt) stmtNode()         {}
func (*NumericForStmt) stmtNode()     {}
func (*GenericForStmt) stmtNode()     {}
func (*FunctionDeclStmt) stmtNode()   {}
func (*LocalFunctionStmt) stmtNode()  {}
func (*ReturnStmt) stmtNode()         {}
func (*BreakStmt) stmtNode()          {}
func (*ContinueStmt) stmtNode()       {}
func (*GotoStmt) stmtNode()           {}
func (*LabelStmt) stmtNode()          {}

// LiteralExpr is nil, a boolean, a number, or a string.
type LiteralExpr struct {
	Position lualex.Position
	Value    luavalue.Value
}

// IdentifierExpr is a variable reference.
type IdentifierExpr struct {
	Position lualex.Position
	Name     string
}

// VarargExpr is `...`.
type VarargExpr struct {
	Position lualex.Position
}

// BinaryOpExpr is `left op right`.
type BinaryOpExpr struct {
	Position lualex.Position
	Op       BinaryOperator
	Left     Expr
	Right    Expr
}

// UnaryOpExpr is `op operand`.
type UnaryOpExpr struct {
	Position lualex.Position
	Op       UnaryOperator
	Operand  Expr
}

// CallExpr is `fn(args)`.
type CallExpr struct {
	Position lualex.Position
	Func     Expr
	Args     []Expr
}

// MethodCallExpr is `receiver:method(args)`.
type MethodCallExpr struct {
	Position lualex.Position
	Receiver Expr
	Method   string
	Args     []Expr
}

// MemberAccessExpr is `object.name`.
type MemberAccessExpr struct {
	Position lualex.Position
	Object   Expr
	Name     string
}

// IndexAccessExpr is `object[key]`.
type IndexAccessExpr struct {
	Position lualex.Position
	Object   Expr
	Key      Expr
}

// FieldKind is the form of a [TableField].
type FieldKind int8

// Table field forms.
const (
	// PositionalField is `value`.
	PositionalField FieldKind = iota
	// NamedField is `name = value`.
	NamedField
	// KeyedField is `[key] = value`.
	KeyedField
)

// TableField is a single entry of a table constructor.
type TableField struct {
	Kind FieldKind
	// Name is set for a [NamedField].
	Name string
	// Key is set for a [KeyedField].
	Key   Expr
	Value Expr
}

// TableExpr is a table constructor.
type TableExpr struct {
	Position lualex.Position
	Fields   []TableField
}

// FunctionExpr is a function body.
type FunctionExpr struct {
	Position lualex.Position
	// Name is a display name used in diagnostics. It may be empty.
	Name     string
	Params   []string
	IsVararg bool
	Body     *Block
}

// IfExprClause is one condition of an [*IfExpr].
type IfExprClause struct {
	Cond  Expr
	Value Expr
}

// IfExpr is `if c then a elseif d then b else e`.
type IfExpr struct {
	Position lualex.Position
	Clauses  []IfExprClause
	Else     Expr
}

// ParenExpr is a parenthesized expression.
// It truncates a multi-valued expression to one value.
type ParenExpr struct {
	Position lualex.Position
	Inner    Expr
}

func (e *LiteralExpr) Pos() lualex.Position      { return e.Position }
func (e *IdentifierExpr) Pos() lualex.Position   { return e.Position }
func (e *VarargExpr) Pos() lualex.Position       { return e.Position }
func (e *BinaryOpExpr) Pos() lualex.Position     { return e.Position }
func (e *UnaryOpExpr) Pos() lualex.Position      { return e.Position }
func (e *CallExpr) Pos() lualex.Position         { return e.Position }
func (e *MethodCallExpr) Pos() lualex.Position   { return e.Position }
func (e *MemberAccessExpr) Pos() lualex.Position { return e.Position }
func (e *IndexAccessExpr) Pos() lualex.Position  { return e.Position }
func (e *TableExpr) Pos() lualex.Position        { return e.Position }
func (e *FunctionExpr) Pos() lualex.Position     { return e.Position }
func (e *IfExpr) Pos() lualex.Position           { return e.Position }
func (e *ParenExpr) Pos() lualex.Position        { return e.Position }

func (*LiteralExpr) exprNode()      {}
func (*IdentifierExpr) exprNode()   {}
func (*VarargExpr) exprNode()       {}
func (*BinaryOpExpr) exprNode()     {}
func (*UnaryOpExpr) exprNode()      {}
func (*CallExpr) exprNode()         {}
func (*MethodCallExpr) exprNode()   {}
func (*MemberAccessExpr) exprNode() {}
func (*IndexAccessExpr) exprNode()  {}
func (*TableExpr) exprNode()        {}
func (*FunctionExpr) exprNode()     {}
func (*IfExpr) exprNode()           {}
func (*ParenExpr) exprNode()        {}

// IsMultiValue reports whether e can produce a variable number of values:
// a call or a vararg expression that is not parenthesized.
func IsMultiValue(e Expr) bool {
	switch e.(type) {
	case *CallExpr, *MethodCallExpr, *VarargExpr:
		return true
	default:
		return false
	}
}

// IsAssignable reports whether e may appear on the left side of an assignment.
func IsAssignable(e Expr) bool {
	switch e.(type) {
	case *IdentifierExpr, *MemberAccessExpr, *IndexAccessExpr:
		return true
	default:
		return false
	}
}
