// Copyright 2022 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cond evaluates the restricted boolean expression grammar used by
// a recipe conditional group's "condition" field.
//
// Design note "Dynamic condition expression" (see the specification this
// package implements) calls for a narrow, explicitly-documented grammar
// rather than a general-purpose evaluator: boolean literals, string
// equality, logical connectives, and identifier lookup against the
// variable map. This package is a small hand-written recursive-descent
// parser over exactly that subset, in the same spirit as the teacher's
// ${{ }} substitution scanner in pkg/config/substitution.go — free-form
// text is tokenized by hand rather than reached for a general expression
// engine.
//
// Grammar:
//
//	expr    := or
//	or      := and ("||" and)*
//	and     := unary ("&&" unary)*
//	unary   := "!" unary | cmp
//	cmp     := operand (("==" | "!=") operand)?
//	operand := ident | string | "true" | "false" | "(" expr ")"
//
// Free identifiers resolve against the variable map passed to Eval;
// built-in names (FULL_INSTALL, INSTALL_ROOT) are deliberately excluded
// from that map by the caller, per the variable-environment ordering.
package cond

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/isode/depeche/pkg/depeche/derrors"
)

type node interface {
	truthy(vars map[string]string) (string, bool, error)
}

type identNode struct{ name string }

func (n identNode) truthy(vars map[string]string) (string, bool, error) {
	v, ok := vars[n.name]
	if !ok {
		return "", false, fmt.Errorf("unknown variable %q in condition", n.name)
	}
	return v, v != "", nil
}

type literalNode struct{ value string }

func (n literalNode) truthy(map[string]string) (string, bool, error) {
	return n.value, n.value != "" && n.value != "false", nil
}

type notNode struct{ operand node }

func (n notNode) truthy(vars map[string]string) (string, bool, error) {
	_, truthy, err := n.operand.truthy(vars)
	if err != nil {
		return "", false, err
	}
	return strconv.FormatBool(!truthy), !truthy, nil
}

type binNode struct {
	op          string // "==", "!=", "&&", "||"
	left, right node
}

func (n binNode) truthy(vars map[string]string) (string, bool, error) {
	switch n.op {
	case "&&":
		_, lt, err := n.left.truthy(vars)
		if err != nil || !lt {
			return strconv.FormatBool(false), false, err
		}
		_, rt, err := n.right.truthy(vars)
		return strconv.FormatBool(rt), rt, err
	case "||":
		_, lt, err := n.left.truthy(vars)
		if err != nil {
			return "", false, err
		}
		if lt {
			return strconv.FormatBool(true), true, nil
		}
		_, rt, err := n.right.truthy(vars)
		return strconv.FormatBool(rt), rt, err
	case "==", "!=":
		lv, _, err := n.left.truthy(vars)
		if err != nil {
			return "", false, err
		}
		rv, _, err := n.right.truthy(vars)
		if err != nil {
			return "", false, err
		}
		eq := lv == rv
		if n.op == "!=" {
			eq = !eq
		}
		return strconv.FormatBool(eq), eq, nil
	default:
		return "", false, fmt.Errorf("unsupported operator %q", n.op)
	}
}

// parser is a small recursive-descent parser over a single expression
// string, tokenized with text/scanner.
type parser struct {
	sc   scanner.Scanner
	tok  rune
	text string
}

func newParser(expr string) *parser {
	p := &parser{}
	p.sc.Init(strings.NewReader(expr))
	p.sc.Mode = scanner.ScanIdents | scanner.ScanStrings
	p.sc.Error = func(*scanner.Scanner, string) {} // surfaced via Scan() return instead
	p.advance()
	return p
}

func (p *parser) advance() {
	p.tok = p.sc.Scan()
	p.text = p.sc.TokenText()
}

func (p *parser) parseExpr() (node, error) { return p.parseOr() }

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok == '|' && p.sc.Peek() == '|' {
		p.advance() // first '|'
		p.advance() // second '|'
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok == '&' && p.sc.Peek() == '&' {
		p.advance()
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.tok == '!' {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch {
	case p.tok == '=' && p.sc.Peek() == '=':
		p.advance()
		p.advance()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return binNode{op: "==", left: left, right: right}, nil
	case p.tok == '!' && p.sc.Peek() == '=':
		p.advance()
		p.advance()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return binNode{op: "!=", left: left, right: right}, nil
	default:
		return left, nil
	}
}

func (p *parser) parseOperand() (node, error) {
	switch {
	case p.tok == scanner.String:
		v, err := strconv.Unquote(p.text)
		if err != nil {
			return nil, fmt.Errorf("invalid string literal %s: %w", p.text, err)
		}
		p.advance()
		return literalNode{value: v}, nil
	case p.tok == '(':
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.tok != ')' {
			return nil, fmt.Errorf("expected ')', got %q", p.text)
		}
		p.advance()
		return inner, nil
	case p.tok == scanner.Ident:
		switch p.text {
		case "true":
			p.advance()
			return literalNode{value: "true"}, nil
		case "false":
			p.advance()
			return literalNode{value: "false"}, nil
		default:
			name := p.text
			p.advance()
			return identNode{name: name}, nil
		}
	default:
		return nil, fmt.Errorf("unexpected token %q", p.text)
	}
}

// Eval parses and evaluates expr against vars, returning its truthiness.
// Identifiers not present in vars are a hard error, matching the
// specification's fail-fast treatment of unresolved names elsewhere in the
// variable environment. Anything outside the documented grammar is
// rejected with derrors.ManifestParse.
func Eval(expr string, vars map[string]string) (bool, error) {
	p := newParser(expr)
	n, err := p.parseExpr()
	if err != nil {
		return false, derrors.New(derrors.ManifestParse, "parse condition", expr, err)
	}
	if p.tok != scanner.EOF {
		return false, derrors.New(derrors.ManifestParse, "parse condition", expr, fmt.Errorf("unexpected trailing token %q", p.text))
	}

	_, truthy, err := n.truthy(vars)
	if err != nil {
		return false, derrors.New(derrors.ManifestParse, "evaluate condition", expr, err)
	}
	return truthy, nil
}
