// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package luaparse

import "oclare.dev/pkg/internal/lualex"

// Type annotations are recognized only well enough to be skipped.

// skipAnnotation skips a `: Type` suffix if the dialect has type annotations.
func (p *parser) skipAnnotation() error {
	if !p.feat.TypeAnnotations || p.curr().Kind != lualex.ColonToken {
		return nil
	}
	p.advance()
	return p.skipType()
}

// typeDeclaration skips the remainder of `type Name<T> = Type`
// after the "type" keyword.
func (p *parser) typeDeclaration() error {
	if _, err := p.identifier(); err != nil {
		return err
	}
	if p.curr().Kind == lualex.LessToken {
		if err := p.skipGenericParams(); err != nil {
			return err
		}
	}
	if err := p.expect(lualex.AssignToken); err != nil {
		return err
	}
	return p.skipType()
}

// skipType skips a type expression, including unions, intersections, and optionals.
func (p *parser) skipType() error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	for {
		if err := p.skipSimpleType(); err != nil {
			return err
		}
		for p.accept(lualex.QuestionToken) {
		}
		if !p.accept(lualex.BitOrToken) && !p.accept(lualex.BitAndToken) {
			return nil
		}
	}
}

func (p *parser) skipSimpleType() error {
	tok := p.curr()
	switch tok.Kind {
	case lualex.NilToken, lualex.TrueToken, lualex.FalseToken, lualex.StringToken:
		p.advance()
		return nil
	case lualex.VarargToken:
		p.advance()
		return p.skipSimpleType()
	case lualex.LBraceToken:
		return p.skipBalanced(lualex.LBraceToken, lualex.RBraceToken)
	case lualex.LessToken:
		// Generic function type.
		if err := p.skipGenericParams(); err != nil {
			return err
		}
		return p.skipSimpleType()
	case lualex.LParenToken:
		if err := p.skipBalanced(lualex.LParenToken, lualex.RParenToken); err != nil {
			return err
		}
		if p.accept(lualex.ArrowToken) {
			return p.skipType()
		}
		return nil
	case lualex.FunctionToken:
		p.advance()
		return p.skipSimpleType()
	case lualex.IdentifierToken:
		p.advance()
		if tok.Value == "typeof" && p.curr().Kind == lualex.LParenToken {
			return p.skipBalanced(lualex.LParenToken, lualex.RParenToken)
		}
		for p.accept(lualex.DotToken) {
			if _, err := p.identifier(); err != nil {
				return err
			}
		}
		if p.curr().Kind == lualex.LessToken {
			return p.skipGenericParams()
		}
		return nil
	default:
		return p.errorf(tok, "type expected")
	}
}

// skipGenericParams skips a `<...>` list.
// A `>>` token closes two levels.
func (p *parser) skipGenericParams() error {
	open := p.curr()
	p.advance()
	depth := 1
	for depth > 0 {
		switch p.curr().Kind {
		case lualex.LessToken:
			depth++
		case lualex.GreaterToken:
			depth--
		case lualex.RShiftToken:
			if depth < 2 {
				return p.errorf(p.curr(), "'>' expected")
			}
			depth -= 2
		case lualex.GreaterEqualToken:
			// `local x: T<U>= v` lexes the closing bracket together with the assignment.
			return p.errorf(p.curr(), "'>' expected (separate '>' from '=')")
		case lualex.EOFToken:
			return p.errorf(p.curr(), "'>' expected (to close '<' at line %d)", open.Position.Line)
		}
		p.advance()
	}
	return nil
}

// skipBalanced skips tokens from an opening bracket through its matching close.
func (p *parser) skipBalanced(open, close lualex.TokenKind) error {
	start := p.curr()
	if err := p.expect(open); err != nil {
		return err
	}
	depth := 1
	for {
		switch p.curr().Kind {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				p.advance()
				return nil
			}
		case lualex.EOFToken:
			return p.checkMatch(start, close)
		}
		p.advance()
	}
}
