// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package luaparse

import (
	"errors"
	"strings"

	"oclare.dev/pkg/internal/luaast"
	"oclare.dev/pkg/internal/lualex"
	"oclare.dev/pkg/internal/luavalue"
)

// interpolation rewrites a backtick string into a concatenation
// of its literal segments and tostring calls on its embedded expressions.
func (p *parser) interpolation(tok lualex.Token) (luaast.Expr, error) {
	var parts []luaast.Expr
	raw := tok.Value
	lit := new(strings.Builder)
	flush := func() error {
		if lit.Len() == 0 {
			return nil
		}
		s, err := lualex.UnescapeInterpolated(lit.String())
		if err != nil {
			return p.errorf(tok, "invalid escape sequence in interpolated string")
		}
		parts = append(parts, &luaast.LiteralExpr{Position: tok.Position, Value: luavalue.String(s)})
		lit.Reset()
		return nil
	}

	for i := 0; i < len(raw); i++ {
		switch c := raw[i]; c {
		case '\\':
			lit.WriteByte(c)
			if i+1 < len(raw) {
				i++
				lit.WriteByte(raw[i])
			}
		case '{':
			if err := flush(); err != nil {
				return nil, err
			}
			end := matchingBrace(raw, i)
			if end < 0 {
				return nil, p.errorf(tok, "unfinished interpolation")
			}
			e, err := p.embeddedExpression(tok, raw[i+1:end])
			if err != nil {
				return nil, err
			}
			parts = append(parts, &luaast.CallExpr{
				Position: tok.Position,
				Func:     &luaast.IdentifierExpr{Position: tok.Position, Name: "tostring"},
				Args:     []luaast.Expr{e},
			})
			i = end
		case '}':
			return nil, p.errorf(tok, "unexpected '}' in interpolated string")
		default:
			lit.WriteByte(c)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	switch len(parts) {
	case 0:
		return &luaast.LiteralExpr{Position: tok.Position, Value: luavalue.String("")}, nil
	case 1:
		return parts[0], nil
	}
	e := parts[len(parts)-1]
	for i := len(parts) - 2; i >= 0; i-- {
		e = &luaast.BinaryOpExpr{Position: tok.Position, Op: luaast.ConcatOp, Left: parts[i], Right: e}
	}
	return e, nil
}

// matchingBrace returns the index of the '}' that closes the '{' at s[start],
// or -1 if there is none.
func matchingBrace(s string, start int) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// embeddedExpression parses the text of one `{expr}` segment.
// Positions inside the segment are reported at the enclosing string.
func (p *parser) embeddedExpression(tok lualex.Token, text string) (luaast.Expr, error) {
	if strings.TrimSpace(text) == "" {
		return nil, p.errorf(tok, "empty interpolation")
	}
	tokens, err := lualex.Tokenize(text, p.dialect)
	if err != nil {
		var se *lualex.SyntaxError
		if errors.As(err, &se) {
			se.Source = p.name
			se.Position = tok.Position
		}
		return nil, err
	}
	for i := range tokens {
		tokens[i].Position = tok.Position
	}
	sub := &parser{
		name:    p.name,
		tokens:  tokens,
		dialect: p.dialect,
		feat:    p.feat,
		depth:   p.depth,
		scopes:  p.scopes,
		varargs: p.varargs,
	}
	e, err := sub.expression()
	if err != nil {
		return nil, err
	}
	if sub.curr().Kind != lualex.EOFToken {
		return nil, sub.errorf(sub.curr(), "'}' expected in interpolated string")
	}
	return e, nil
}
