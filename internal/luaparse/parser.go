// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package luaparse builds a [luaast.Block] from Lua tokens.
package luaparse

import (
	"errors"
	"fmt"
	"strconv"

	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/luaast"
	"oclare.dev/pkg/internal/lualex"
	"oclare.dev/pkg/internal/luavalue"
)

// depthLimit is the maximum recursion depth for syntax constructs.
const depthLimit = 200

// ParseString tokenizes and parses a Lua source text.
func ParseString(name, source string, d dialect.Dialect) (*luaast.Block, error) {
	if !d.IsValid() {
		return nil, fmt.Errorf("parse %s: invalid dialect %v", name, d)
	}
	tokens, err := lualex.Tokenize(source, d)
	if err != nil {
		var se *lualex.SyntaxError
		if errors.As(err, &se) && se.Source == "" {
			se.Source = name
		}
		return nil, err
	}
	return Parse(name, tokens, d)
}

// Parse converts a token stream into a syntax tree.
// Syntax errors, including constructs that the dialect does not support,
// are returned as [*lualex.SyntaxError].
func Parse(name string, tokens []lualex.Token, d dialect.Dialect) (*luaast.Block, error) {
	if !d.IsValid() {
		return nil, fmt.Errorf("parse %s: invalid dialect %v", name, d)
	}
	if n := len(tokens); n == 0 || tokens[n-1].Kind != lualex.EOFToken {
		var eofPos lualex.Position
		if n > 0 {
			eofPos = tokens[n-1].Position
		}
		tokens = append(tokens[:n:n], lualex.Token{Kind: lualex.EOFToken, Position: eofPos})
	}
	p := &parser{
		name:    name,
		tokens:  tokens,
		dialect: d,
		feat:    d.Features(),
		// The main chunk is always vararg.
		varargs: []bool{true},
	}
	p.openScope()
	b, err := p.block()
	if err != nil {
		return nil, err
	}
	if p.curr().Kind != lualex.EOFToken {
		return nil, p.errorf(p.curr(), "'<eof>' expected")
	}
	return b, nil
}

// parser is the in-progress state of a [Parse] call.
type parser struct {
	name    string
	tokens  []lualex.Token
	pos     int
	dialect dialect.Dialect
	feat    dialect.Features
	depth   int

	// scopes maps the names visible in each open block to their attributes.
	scopes []map[string]luaast.Attrib
	// varargs records whether each enclosing function is vararg.
	varargs []bool
}

func (p *parser) curr() lualex.Token {
	return p.tokens[p.pos]
}

func (p *parser) peek() lualex.Token {
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
}

// accept advances past the current token if it is of the given kind.
func (p *parser) accept(k lualex.TokenKind) bool {
	if p.curr().Kind != k {
		return false
	}
	p.advance()
	return true
}

// expect consumes a token of the given kind or returns an error.
func (p *parser) expect(k lualex.TokenKind) error {
	if !p.accept(k) {
		return p.errorf(p.curr(), "'%v' expected", k)
	}
	return nil
}

// checkMatch consumes the token that closes a construct opened by open.
func (p *parser) checkMatch(open lualex.Token, close lualex.TokenKind) error {
	if p.accept(close) {
		return nil
	}
	if p.curr().Position.Line == open.Position.Line {
		return p.errorf(p.curr(), "'%v' expected", close)
	}
	return p.errorf(p.curr(), "'%v' expected (to close '%v' at line %d)", close, open.Kind, open.Position.Line)
}

// identifier consumes a name.
func (p *parser) identifier() (string, error) {
	tok := p.curr()
	if tok.Kind != lualex.IdentifierToken {
		return "", p.errorf(tok, "<name> expected")
	}
	p.advance()
	return tok.Value, nil
}

func (p *parser) errorf(tok lualex.Token, format string, args ...any) error {
	near := "<eof>"
	if tok.Kind != lualex.EOFToken && tok.Kind != lualex.ErrorToken {
		near = "'" + tok.String() + "'"
	}
	return &lualex.SyntaxError{
		Source:   p.name,
		Position: tok.Position,
		Msg:      fmt.Sprintf(format, args...),
		Near:     near,
	}
}

func (p *parser) unsupported(tok lualex.Token, what string) error {
	return p.errorf(tok, "%s not supported in %v", what, p.dialect)
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > depthLimit {
		return p.errorf(p.curr(), "chunk has too many syntax levels")
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

func (p *parser) openScope() {
	p.scopes = append(p.scopes, make(map[string]luaast.Attrib))
}

func (p *parser) closeScope() {
	p.scopes = p.scopes[:len(p.scopes)-1]
}

func (p *parser) declare(name string, attrib luaast.Attrib) {
	p.scopes[len(p.scopes)-1][name] = attrib
}

// attribOf returns the attribute of the innermost visible local with the given name.
// Globals have no attribute.
func (p *parser) attribOf(name string) luaast.Attrib {
	for i := len(p.scopes) - 1; i >= 0; i-- {
		if a, ok := p.scopes[i][name]; ok {
			return a
		}
	}
	return luaast.NoAttrib
}

// isBlockFollow reports whether the current token terminates a block.
func (p *parser) isBlockFollow() bool {
	switch p.curr().Kind {
	case lualex.ElseToken, lualex.ElseifToken, lualex.EndToken, lualex.UntilToken, lualex.EOFToken:
		return true
	default:
		return false
	}
}

// block parses a statement list in the current scope.
func (p *parser) block() (*luaast.Block, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	b := &luaast.Block{Position: p.curr().Position}
	for !p.isBlockFollow() {
		if p.curr().Kind == lualex.ReturnToken {
			s, err := p.returnStatement()
			if err != nil {
				return nil, err
			}
			b.Stmts = append(b.Stmts, s)
			break
		}
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		if s != nil {
			b.Stmts = append(b.Stmts, s)
		}
	}
	return b, nil
}

// scopedBlock parses a statement list in a new scope.
func (p *parser) scopedBlock() (*luaast.Block, error) {
	p.openScope()
	defer p.closeScope()
	return p.block()
}

func (p *parser) statement() (luaast.Stmt, error) {
	tok := p.curr()
	switch tok.Kind {
	case lualex.SemiToken:
		p.advance()
		return nil, nil
	case lualex.IfToken:
		return p.ifStatement()
	case lualex.WhileToken:
		return p.whileStatement()
	case lualex.DoToken:
		p.advance()
		body, err := p.scopedBlock()
		if err != nil {
			return nil, err
		}
		if err := p.checkMatch(tok, lualex.EndToken); err != nil {
			return nil, err
		}
		return &luaast.DoStmt{Position: tok.Position, Body: body}, nil
	case lualex.ForToken:
		return p.forStatement()
	case lualex.RepeatToken:
		return p.repeatStatement()
	case lualex.FunctionToken:
		return p.functionStatement()
	case lualex.LocalToken:
		p.advance()
		if fn := p.curr(); fn.Kind == lualex.FunctionToken {
			p.advance()
			return p.localFunction(tok, fn)
		}
		return p.localStatement(tok)
	case lualex.LabelToken:
		if !p.feat.Goto {
			return nil, p.unsupported(tok, "labels")
		}
		p.advance()
		name, err := p.identifier()
		if err != nil {
			return nil, err
		}
		if err := p.expect(lualex.LabelToken); err != nil {
			return nil, err
		}
		return &luaast.LabelStmt{Position: tok.Position, Name: name}, nil
	case lualex.BreakToken:
		p.advance()
		return &luaast.BreakStmt{Position: tok.Position}, nil
	case lualex.GotoToken:
		p.advance()
		name, err := p.identifier()
		if err != nil {
			return nil, err
		}
		return &luaast.GotoStmt{Position: tok.Position, Label: name}, nil
	case lualex.IdentifierToken:
		next := p.peek()
		switch tok.Value {
		case "continue":
			if !p.isContextualKeyword() {
				break
			}
			if !p.feat.Continue {
				return nil, p.unsupported(tok, "continue")
			}
			p.advance()
			return &luaast.ContinueStmt{Position: tok.Position}, nil
		case "goto":
			if !p.feat.Goto && next.Kind == lualex.IdentifierToken {
				return nil, p.unsupported(tok, "goto")
			}
		case "type":
			if next.Kind == lualex.IdentifierToken {
				if !p.feat.TypeAnnotations {
					return nil, p.unsupported(tok, "type declarations")
				}
				p.advance()
				return nil, p.typeDeclaration()
			}
		case "export":
			if next.Kind == lualex.IdentifierToken && next.Value == "type" {
				if !p.feat.TypeAnnotations {
					return nil, p.unsupported(tok, "type declarations")
				}
				p.advance()
				p.advance()
				return nil, p.typeDeclaration()
			}
		}
	}
	return p.expressionStatement()
}

// isContextualKeyword reports whether the current identifier
// stands alone as a statement keyword
// rather than starting an expression.
func (p *parser) isContextualKeyword() bool {
	next := p.peek().Kind
	switch next {
	case lualex.LParenToken, lualex.DotToken, lualex.LBracketToken, lualex.ColonToken,
		lualex.AssignToken, lualex.CommaToken, lualex.StringToken, lualex.LBraceToken,
		lualex.InterpStringToken:
		return false
	}
	return !next.IsCompoundAssign()
}

func (p *parser) expressionStatement() (luaast.Stmt, error) {
	start := p.curr()
	e, err := p.suffixedExpression()
	if err != nil {
		return nil, err
	}
	switch k := p.curr().Kind; {
	case k == lualex.AssignToken || k == lualex.CommaToken:
		return p.assignment(start, e)
	case k.IsCompoundAssign():
		return p.compoundAssignment(start, e)
	}
	switch e.(type) {
	case *luaast.CallExpr, *luaast.MethodCallExpr:
		return &luaast.CallStmt{Position: start.Position, Call: e}, nil
	default:
		return nil, p.errorf(p.curr(), "syntax error")
	}
}

func (p *parser) assignment(start lualex.Token, first luaast.Expr) (luaast.Stmt, error) {
	targets := []luaast.Expr{first}
	for p.accept(lualex.CommaToken) {
		e, err := p.suffixedExpression()
		if err != nil {
			return nil, err
		}
		targets = append(targets, e)
	}
	for _, t := range targets {
		if err := p.checkAssignable(t); err != nil {
			return nil, err
		}
	}
	if err := p.expect(lualex.AssignToken); err != nil {
		return nil, err
	}
	exprs, err := p.expressionList()
	if err != nil {
		return nil, err
	}
	return &luaast.AssignStmt{Position: start.Position, Targets: targets, Exprs: exprs}, nil
}

var compoundOperators = map[lualex.TokenKind]luaast.BinaryOperator{
	lualex.AddAssignToken:    luaast.AddOp,
	lualex.SubAssignToken:    luaast.SubOp,
	lualex.MulAssignToken:    luaast.MulOp,
	lualex.DivAssignToken:    luaast.DivOp,
	lualex.IntDivAssignToken: luaast.IDivOp,
	lualex.ModAssignToken:    luaast.ModOp,
	lualex.PowAssignToken:    luaast.PowOp,
	lualex.ConcatAssignToken: luaast.ConcatOp,
}

func (p *parser) compoundAssignment(start lualex.Token, target luaast.Expr) (luaast.Stmt, error) {
	opTok := p.curr()
	if !p.feat.CompoundAssign {
		return nil, p.unsupported(opTok, "compound assignment")
	}
	if err := p.checkAssignable(target); err != nil {
		return nil, err
	}
	p.advance()
	value, err := p.expression()
	if err != nil {
		return nil, err
	}
	return &luaast.CompoundAssignStmt{
		Position: start.Position,
		Op:       compoundOperators[opTok.Kind],
		Target:   target,
		Value:    value,
	}, nil
}

func (p *parser) checkAssignable(e luaast.Expr) error {
	if !luaast.IsAssignable(e) {
		return p.errorf(p.curr(), "syntax error")
	}
	if id, ok := e.(*luaast.IdentifierExpr); ok && p.attribOf(id.Name) != luaast.NoAttrib {
		return &lualex.SyntaxError{
			Source:   p.name,
			Position: id.Position,
			Msg:      fmt.Sprintf("attempt to assign to const variable '%s'", id.Name),
		}
	}
	return nil
}

func (p *parser) ifStatement() (luaast.Stmt, error) {
	start := p.curr()
	s := &luaast.IfStmt{Position: start.Position}
	for {
		// Current token is "if" or "elseif".
		p.advance()
		cond, err := p.expression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(lualex.ThenToken); err != nil {
			return nil, err
		}
		body, err := p.scopedBlock()
		if err != nil {
			return nil, err
		}
		s.Clauses = append(s.Clauses, luaast.IfClause{Cond: cond, Body: body})
		if p.curr().Kind != lualex.ElseifToken {
			break
		}
	}
	if p.accept(lualex.ElseToken) {
		var err error
		s.Else, err = p.scopedBlock()
		if err != nil {
			return nil, err
		}
	}
	if err := p.checkMatch(start, lualex.EndToken); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *parser) whileStatement() (luaast.Stmt, error) {
	start := p.curr()
	p.advance()
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(lualex.DoToken); err != nil {
		return nil, err
	}
	body, err := p.scopedBlock()
	if err != nil {
		return nil, err
	}
	if err := p.checkMatch(start, lualex.EndToken); err != nil {
		return nil, err
	}
	return &luaast.WhileStmt{Position: start.Position, Cond: cond, Body: body}, nil
}

func (p *parser) repeatStatement() (luaast.Stmt, error) {
	start := p.curr()
	p.advance()
	p.openScope()
	defer p.closeScope()
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if err := p.checkMatch(start, lualex.UntilToken); err != nil {
		return nil, err
	}
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	return &luaast.RepeatStmt{Position: start.Position, Body: body, Cond: cond}, nil
}

func (p *parser) forStatement() (luaast.Stmt, error) {
	start := p.curr()
	p.advance()
	first, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if err := p.skipAnnotation(); err != nil {
		return nil, err
	}
	switch p.curr().Kind {
	case lualex.AssignToken:
		p.advance()
		s := &luaast.NumericForStmt{Position: start.Position, Var: first}
		if s.Start, err = p.expression(); err != nil {
			return nil, err
		}
		if err := p.expect(lualex.CommaToken); err != nil {
			return nil, err
		}
		if s.Limit, err = p.expression(); err != nil {
			return nil, err
		}
		if p.accept(lualex.CommaToken) {
			if s.Step, err = p.expression(); err != nil {
				return nil, err
			}
		}
		s.Body, err = p.forBody(start, []string{first})
		if err != nil {
			return nil, err
		}
		return s, nil
	case lualex.CommaToken, lualex.InToken:
		s := &luaast.GenericForStmt{Position: start.Position, Names: []string{first}}
		for p.accept(lualex.CommaToken) {
			name, err := p.identifier()
			if err != nil {
				return nil, err
			}
			if err := p.skipAnnotation(); err != nil {
				return nil, err
			}
			s.Names = append(s.Names, name)
		}
		if err := p.expect(lualex.InToken); err != nil {
			return nil, err
		}
		if s.Exprs, err = p.expressionList(); err != nil {
			return nil, err
		}
		s.Body, err = p.forBody(start, s.Names)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, p.errorf(p.curr(), "'=' or 'in' expected")
	}
}

func (p *parser) forBody(start lualex.Token, names []string) (*luaast.Block, error) {
	if err := p.expect(lualex.DoToken); err != nil {
		return nil, err
	}
	p.openScope()
	for _, name := range names {
		p.declare(name, luaast.NoAttrib)
	}
	body, err := p.block()
	p.closeScope()
	if err != nil {
		return nil, err
	}
	if err := p.checkMatch(start, lualex.EndToken); err != nil {
		return nil, err
	}
	return body, nil
}

func (p *parser) functionStatement() (luaast.Stmt, error) {
	start := p.curr()
	p.advance()
	nameTok := p.curr()
	first, err := p.identifier()
	if err != nil {
		return nil, err
	}
	s := &luaast.FunctionDeclStmt{Position: start.Position, Path: []string{first}}
	for p.accept(lualex.DotToken) {
		name, err := p.identifier()
		if err != nil {
			return nil, err
		}
		s.Path = append(s.Path, name)
	}
	displayName := joinPath(s.Path)
	if p.accept(lualex.ColonToken) {
		if s.Method, err = p.identifier(); err != nil {
			return nil, err
		}
		displayName += ":" + s.Method
	}
	if len(s.Path) == 1 && s.Method == "" {
		if err := p.checkAssignable(&luaast.IdentifierExpr{Position: nameTok.Position, Name: first}); err != nil {
			return nil, err
		}
	}
	s.Func, err = p.functionBody(start, s.Method != "", displayName)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func joinPath(path []string) string {
	n := path[0]
	for _, part := range path[1:] {
		n += "." + part
	}
	return n
}

func (p *parser) localFunction(start, fn lualex.Token) (luaast.Stmt, error) {
	name, err := p.identifier()
	if err != nil {
		return nil, err
	}
	p.declare(name, luaast.NoAttrib)
	f, err := p.functionBody(fn, false, name)
	if err != nil {
		return nil, err
	}
	return &luaast.LocalFunctionStmt{Position: start.Position, Name: name, Func: f}, nil
}

func (p *parser) localStatement(start lualex.Token) (luaast.Stmt, error) {
	s := &luaast.LocalStmt{Position: start.Position}
	attribs := make([]luaast.Attrib, 0, 1)
	hasAttrib := false
	closeCount := 0
	for {
		name, err := p.identifier()
		if err != nil {
			return nil, err
		}
		attrib := luaast.NoAttrib
		if tok := p.curr(); tok.Kind == lualex.LessToken {
			if !p.feat.Attributes {
				return nil, p.unsupported(tok, "local attributes")
			}
			p.advance()
			attribTok := p.curr()
			a, err := p.identifier()
			if err != nil {
				return nil, err
			}
			switch a {
			case "const":
				attrib = luaast.ConstAttrib
			case "close":
				attrib = luaast.CloseAttrib
				closeCount++
				if closeCount > 1 {
					return nil, p.errorf(attribTok, "multiple to-be-closed variables in local list")
				}
			default:
				return nil, p.errorf(attribTok, "unknown attribute '%s'", a)
			}
			if err := p.expect(lualex.GreaterToken); err != nil {
				return nil, err
			}
			hasAttrib = true
		}
		if err := p.skipAnnotation(); err != nil {
			return nil, err
		}
		s.Names = append(s.Names, name)
		attribs = append(attribs, attrib)
		if !p.accept(lualex.CommaToken) {
			break
		}
	}
	if hasAttrib {
		s.Attribs = attribs
	}
	if p.accept(lualex.AssignToken) {
		var err error
		if s.Exprs, err = p.expressionList(); err != nil {
			return nil, err
		}
	}
	for i, name := range s.Names {
		p.declare(name, attribs[i])
	}
	return s, nil
}

func (p *parser) returnStatement() (luaast.Stmt, error) {
	start := p.curr()
	p.advance()
	s := &luaast.ReturnStmt{Position: start.Position}
	if !p.isBlockFollow() && p.curr().Kind != lualex.SemiToken {
		var err error
		if s.Exprs, err = p.expressionList(); err != nil {
			return nil, err
		}
	}
	p.accept(lualex.SemiToken)
	if !p.isBlockFollow() {
		return nil, p.errorf(p.curr(), "'<eof>' expected")
	}
	return s, nil
}

// functionBody parses the parameter list and body of a function.
// The current token is the opening parenthesis
// or, in dialects with type annotations, a generic parameter list.
func (p *parser) functionBody(start lualex.Token, isMethod bool, name string) (*luaast.FunctionExpr, error) {
	f := &luaast.FunctionExpr{Position: start.Position, Name: name}
	if p.feat.TypeAnnotations && p.curr().Kind == lualex.LessToken {
		if err := p.skipGenericParams(); err != nil {
			return nil, err
		}
	}
	open := p.curr()
	if err := p.expect(lualex.LParenToken); err != nil {
		return nil, err
	}
	if isMethod {
		f.Params = append(f.Params, "self")
	}
	if p.curr().Kind != lualex.RParenToken {
		for {
			if p.accept(lualex.VarargToken) {
				f.IsVararg = true
				if err := p.skipAnnotation(); err != nil {
					return nil, err
				}
				break
			}
			name, err := p.identifier()
			if err != nil {
				return nil, err
			}
			if err := p.skipAnnotation(); err != nil {
				return nil, err
			}
			f.Params = append(f.Params, name)
			if !p.accept(lualex.CommaToken) {
				break
			}
		}
	}
	if err := p.checkMatch(open, lualex.RParenToken); err != nil {
		return nil, err
	}
	if err := p.skipAnnotation(); err != nil {
		return nil, err
	}

	p.openScope()
	for _, param := range f.Params {
		p.declare(param, luaast.NoAttrib)
	}
	p.varargs = append(p.varargs, f.IsVararg)
	body, err := p.block()
	p.varargs = p.varargs[:len(p.varargs)-1]
	p.closeScope()
	if err != nil {
		return nil, err
	}
	if err := p.checkMatch(start, lualex.EndToken); err != nil {
		return nil, err
	}
	f.Body = body
	return f, nil
}

func (p *parser) expressionList() ([]luaast.Expr, error) {
	var list []luaast.Expr
	for {
		e, err := p.expression()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if !p.accept(lualex.CommaToken) {
			return list, nil
		}
	}
}

func (p *parser) expression() (luaast.Expr, error) {
	e, _, err := p.subExpression(0)
	return e, err
}

// operatorPrecedence is the left and right binding power of each [luaast.BinaryOperator].
var operatorPrecedence = [...]struct {
	left  uint8
	right uint8
}{
	luaast.OrOp:     {1, 1},
	luaast.AndOp:    {2, 2},
	luaast.EqOp:     {3, 3},
	luaast.NeOp:     {3, 3},
	luaast.LtOp:     {3, 3},
	luaast.LeOp:     {3, 3},
	luaast.GtOp:     {3, 3},
	luaast.GeOp:     {3, 3},
	luaast.BOrOp:    {4, 4},
	luaast.BXorOp:   {5, 5},
	luaast.BAndOp:   {6, 6},
	luaast.ShlOp:    {7, 7},
	luaast.ShrOp:    {7, 7},
	luaast.ConcatOp: {9, 8}, // right associative
	luaast.AddOp:    {10, 10},
	luaast.SubOp:    {10, 10},
	luaast.MulOp:    {11, 11},
	luaast.DivOp:    {11, 11},
	luaast.IDivOp:   {11, 11},
	luaast.ModOp:    {11, 11},
	luaast.PowOp:    {14, 13}, // right associative
}

const unaryPrecedence = 12

var binaryOperators = map[lualex.TokenKind]luaast.BinaryOperator{
	lualex.AddToken:          luaast.AddOp,
	lualex.SubToken:          luaast.SubOp,
	lualex.MulToken:          luaast.MulOp,
	lualex.DivToken:          luaast.DivOp,
	lualex.IntDivToken:       luaast.IDivOp,
	lualex.ModToken:          luaast.ModOp,
	lualex.PowToken:          luaast.PowOp,
	lualex.ConcatToken:       luaast.ConcatOp,
	lualex.EqualToken:        luaast.EqOp,
	lualex.NotEqualToken:     luaast.NeOp,
	lualex.LessToken:         luaast.LtOp,
	lualex.LessEqualToken:    luaast.LeOp,
	lualex.GreaterToken:      luaast.GtOp,
	lualex.GreaterEqualToken: luaast.GeOp,
	lualex.AndToken:          luaast.AndOp,
	lualex.OrToken:           luaast.OrOp,
	lualex.BitAndToken:       luaast.BAndOp,
	lualex.BitOrToken:        luaast.BOrOp,
	lualex.BitXorToken:       luaast.BXorOp,
	lualex.LShiftToken:       luaast.ShlOp,
	lualex.RShiftToken:       luaast.ShrOp,
}

var unaryOperators = map[lualex.TokenKind]luaast.UnaryOperator{
	lualex.SubToken:    luaast.NegOp,
	lualex.NotToken:    luaast.NotOp,
	lualex.LenToken:    luaast.LenOp,
	lualex.BitXorToken: luaast.BNotOp,
}

// binaryOperator returns the operator for the current token, if any,
// or an error if the dialect lacks it.
func (p *parser) binaryOperator() (luaast.BinaryOperator, error) {
	tok := p.curr()
	op, ok := binaryOperators[tok.Kind]
	if !ok {
		return 0, nil
	}
	switch {
	case op.IsBitwise() && !p.feat.Bitwise:
		return 0, p.unsupported(tok, "bitwise operators")
	case op == luaast.IDivOp && !p.feat.IntegerDivision:
		return 0, p.unsupported(tok, "integer division")
	}
	return op, nil
}

// subExpression parses expressions joined by binary operators
// where the binary operator's precedence is higher than the given limit.
// If the returned operator is not zero,
// then it is the first operator encountered that is lower than or equal to the given limit.
func (p *parser) subExpression(limit int) (luaast.Expr, luaast.BinaryOperator, error) {
	if err := p.enter(); err != nil {
		return nil, 0, err
	}
	defer p.leave()

	var e luaast.Expr
	if tok := p.curr(); unaryOperators[tok.Kind] != 0 {
		uop := unaryOperators[tok.Kind]
		if uop == luaast.BNotOp && !p.feat.Bitwise {
			return nil, 0, p.unsupported(tok, "bitwise operators")
		}
		p.advance()
		operand, _, err := p.subExpression(unaryPrecedence)
		if err != nil {
			return nil, 0, err
		}
		e = &luaast.UnaryOpExpr{Position: tok.Position, Op: uop, Operand: operand}
	} else {
		var err error
		e, err = p.simpleExpression()
		if err != nil {
			return nil, 0, err
		}
	}

	op, err := p.binaryOperator()
	if err != nil {
		return nil, 0, err
	}
	for op != 0 && int(operatorPrecedence[op].left) > limit {
		opTok := p.curr()
		p.advance()
		rhs, nextOp, err := p.subExpression(int(operatorPrecedence[op].right))
		if err != nil {
			return nil, 0, err
		}
		e = &luaast.BinaryOpExpr{Position: opTok.Position, Op: op, Left: e, Right: rhs}
		op = nextOp
	}
	return e, op, nil
}

func (p *parser) simpleExpression() (luaast.Expr, error) {
	tok := p.curr()
	var e luaast.Expr
	switch tok.Kind {
	case lualex.NumeralToken:
		v, err := p.numeral(tok)
		if err != nil {
			return nil, err
		}
		p.advance()
		e = &luaast.LiteralExpr{Position: tok.Position, Value: v}
	case lualex.StringToken:
		p.advance()
		e = &luaast.LiteralExpr{Position: tok.Position, Value: luavalue.String(tok.Value)}
	case lualex.InterpStringToken:
		p.advance()
		var err error
		if e, err = p.interpolation(tok); err != nil {
			return nil, err
		}
	case lualex.NilToken:
		p.advance()
		e = &luaast.LiteralExpr{Position: tok.Position}
	case lualex.TrueToken:
		p.advance()
		e = &luaast.LiteralExpr{Position: tok.Position, Value: luavalue.Bool(true)}
	case lualex.FalseToken:
		p.advance()
		e = &luaast.LiteralExpr{Position: tok.Position, Value: luavalue.Bool(false)}
	case lualex.VarargToken:
		if !p.varargs[len(p.varargs)-1] {
			return nil, p.errorf(tok, "cannot use '...' outside a vararg function")
		}
		p.advance()
		e = &luaast.VarargExpr{Position: tok.Position}
	case lualex.LBraceToken:
		var err error
		if e, err = p.tableConstructor(); err != nil {
			return nil, err
		}
	case lualex.FunctionToken:
		p.advance()
		var err error
		if e, err = p.functionBody(tok, false, ""); err != nil {
			return nil, err
		}
	case lualex.IfToken:
		if !p.feat.IfExpression {
			return nil, p.unsupported(tok, "if-expressions")
		}
		var err error
		if e, err = p.ifExpression(); err != nil {
			return nil, err
		}
	default:
		var err error
		if e, err = p.suffixedExpression(); err != nil {
			return nil, err
		}
	}

	if p.feat.TypeAnnotations && p.curr().Kind == lualex.LabelToken {
		p.advance()
		if err := p.skipType(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// numeral converts a numeral token to a constant.
// Dialects without an integer subtype represent all numbers as floats.
func (p *parser) numeral(tok lualex.Token) (luavalue.Value, error) {
	if p.feat.Integers && lualex.IsIntegerNumeral(tok.Value) {
		i, err := lualex.ParseInt(tok.Value)
		if err == nil {
			return luavalue.Integer(i), nil
		}
		if !errors.Is(err, strconv.ErrRange) {
			return luavalue.Value{}, p.errorf(tok, "malformed number")
		}
	}
	f, err := lualex.ParseNumber(tok.Value)
	if err != nil {
		return luavalue.Value{}, p.errorf(tok, "malformed number")
	}
	return luavalue.Float(f), nil
}

func (p *parser) ifExpression() (luaast.Expr, error) {
	start := p.curr()
	e := &luaast.IfExpr{Position: start.Position}
	for {
		// Current token is "if" or "elseif".
		p.advance()
		cond, err := p.expression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(lualex.ThenToken); err != nil {
			return nil, err
		}
		value, err := p.expression()
		if err != nil {
			return nil, err
		}
		e.Clauses = append(e.Clauses, luaast.IfExprClause{Cond: cond, Value: value})
		if p.curr().Kind != lualex.ElseifToken {
			break
		}
	}
	if err := p.expect(lualex.ElseToken); err != nil {
		return nil, err
	}
	var err error
	if e.Else, err = p.expression(); err != nil {
		return nil, err
	}
	return e, nil
}

// primaryExpression parses a name or a parenthesized expression.
func (p *parser) primaryExpression() (luaast.Expr, error) {
	tok := p.curr()
	switch tok.Kind {
	case lualex.IdentifierToken:
		p.advance()
		return &luaast.IdentifierExpr{Position: tok.Position, Name: tok.Value}, nil
	case lualex.LParenToken:
		p.advance()
		inner, err := p.expression()
		if err != nil {
			return nil, err
		}
		if err := p.checkMatch(tok, lualex.RParenToken); err != nil {
			return nil, err
		}
		return &luaast.ParenExpr{Position: tok.Position, Inner: inner}, nil
	default:
		return nil, p.errorf(tok, "unexpected symbol")
	}
}

// suffixedExpression parses a primary expression
// followed by any number of field selectors, indexes, and calls.
func (p *parser) suffixedExpression() (luaast.Expr, error) {
	e, err := p.primaryExpression()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.curr()
		switch tok.Kind {
		case lualex.DotToken:
			p.advance()
			name, err := p.identifier()
			if err != nil {
				return nil, err
			}
			e = &luaast.MemberAccessExpr{Position: tok.Position, Object: e, Name: name}
		case lualex.LBracketToken:
			p.advance()
			key, err := p.expression()
			if err != nil {
				return nil, err
			}
			if err := p.expect(lualex.RBracketToken); err != nil {
				return nil, err
			}
			e = &luaast.IndexAccessExpr{Position: tok.Position, Object: e, Key: key}
		case lualex.ColonToken:
			p.advance()
			method, err := p.identifier()
			if err != nil {
				return nil, err
			}
			args, err := p.callArguments()
			if err != nil {
				return nil, err
			}
			e = &luaast.MethodCallExpr{Position: tok.Position, Receiver: e, Method: method, Args: args}
		case lualex.LParenToken, lualex.StringToken, lualex.LBraceToken, lualex.InterpStringToken:
			args, err := p.callArguments()
			if err != nil {
				return nil, err
			}
			e = &luaast.CallExpr{Position: tok.Position, Func: e, Args: args}
		default:
			return e, nil
		}
	}
}

func (p *parser) callArguments() ([]luaast.Expr, error) {
	tok := p.curr()
	switch tok.Kind {
	case lualex.StringToken:
		p.advance()
		return []luaast.Expr{&luaast.LiteralExpr{Position: tok.Position, Value: luavalue.String(tok.Value)}}, nil
	case lualex.InterpStringToken:
		p.advance()
		e, err := p.interpolation(tok)
		if err != nil {
			return nil, err
		}
		return []luaast.Expr{e}, nil
	case lualex.LBraceToken:
		e, err := p.tableConstructor()
		if err != nil {
			return nil, err
		}
		return []luaast.Expr{e}, nil
	case lualex.LParenToken:
		p.advance()
		var args []luaast.Expr
		if p.curr().Kind != lualex.RParenToken {
			var err error
			if args, err = p.expressionList(); err != nil {
				return nil, err
			}
		}
		if err := p.checkMatch(tok, lualex.RParenToken); err != nil {
			return nil, err
		}
		return args, nil
	default:
		return nil, p.errorf(tok, "function arguments expected")
	}
}

func (p *parser) tableConstructor() (luaast.Expr, error) {
	start := p.curr()
	if err := p.expect(lualex.LBraceToken); err != nil {
		return nil, err
	}
	t := &luaast.TableExpr{Position: start.Position}
	for p.curr().Kind != lualex.RBraceToken {
		var field luaast.TableField
		switch tok := p.curr(); {
		case tok.Kind == lualex.IdentifierToken && p.peek().Kind == lualex.AssignToken:
			p.advance()
			p.advance()
			field.Kind = luaast.NamedField
			field.Name = tok.Value
		case tok.Kind == lualex.LBracketToken:
			p.advance()
			key, err := p.expression()
			if err != nil {
				return nil, err
			}
			if err := p.expect(lualex.RBracketToken); err != nil {
				return nil, err
			}
			if err := p.expect(lualex.AssignToken); err != nil {
				return nil, err
			}
			field.Kind = luaast.KeyedField
			field.Key = key
		default:
			field.Kind = luaast.PositionalField
		}
		var err error
		if field.Value, err = p.expression(); err != nil {
			return nil, err
		}
		t.Fields = append(t.Fields, field)
		if !p.accept(lualex.CommaToken) && !p.accept(lualex.SemiToken) {
			break
		}
	}
	if err := p.checkMatch(start, lualex.RBraceToken); err != nil {
		return nil, err
	}
	return t, nil
}
