// Package expr implements the restricted boolean-expression evaluator used
// by condition nodes.
//
// The grammar is deliberately small: comparison operators (==, !=, <, <=,
// >, >=), boolean operators (&&, ||, !), parentheses, literals (numbers,
// quoted strings, true/false) and dotted-path variable lookup
// ("nodes.fetch.output.count"). There are no function calls, no indexing,
// and no attribute access beyond declared paths, so expressions can never
// execute arbitrary code.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Evaluate parses the expression and evaluates it against the given
// context map. The result must be a boolean; anything else is an error.
func Evaluate(expression string, context map[string]any) (bool, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return false, fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	p := &parser{tokens: tokens, context: context}
	result, err := p.parseOr()
	if err != nil {
		return false, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	if p.current().typ != tokenEOF {
		return false, fmt.Errorf("invalid expression %q: unexpected trailing input", expression)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean, got %T", expression, result)
	}
	return b, nil
}

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIdentifier
	tokenNumber
	tokenString
	tokenBool
	tokenDot
	tokenLParen
	tokenRParen
	tokenEQ
	tokenNE
	tokenLT
	tokenLE
	tokenGT
	tokenGE
	tokenAnd
	tokenOr
	tokenNot
)

type token struct {
	typ   tokenType
	value string
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// tokenize converts an expression string into tokens.
func tokenize(expression string) ([]token, error) {
	var tokens []token
	i := 0

	for i < len(expression) {
		c := expression[i]

		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			i++
			continue
		}

		switch c {
		case '.':
			tokens = append(tokens, token{typ: tokenDot, value: "."})
			i++
			continue
		case '(':
			tokens = append(tokens, token{typ: tokenLParen, value: "("})
			i++
			continue
		case ')':
			tokens = append(tokens, token{typ: tokenRParen, value: ")"})
			i++
			continue
		}

		if i+1 < len(expression) {
			switch expression[i : i+2] {
			case "==":
				tokens = append(tokens, token{typ: tokenEQ, value: "=="})
				i += 2
				continue
			case "!=":
				tokens = append(tokens, token{typ: tokenNE, value: "!="})
				i += 2
				continue
			case "<=":
				tokens = append(tokens, token{typ: tokenLE, value: "<="})
				i += 2
				continue
			case ">=":
				tokens = append(tokens, token{typ: tokenGE, value: ">="})
				i += 2
				continue
			case "&&":
				tokens = append(tokens, token{typ: tokenAnd, value: "&&"})
				i += 2
				continue
			case "||":
				tokens = append(tokens, token{typ: tokenOr, value: "||"})
				i += 2
				continue
			}
		}

		switch c {
		case '<':
			tokens = append(tokens, token{typ: tokenLT, value: "<"})
			i++
			continue
		case '>':
			tokens = append(tokens, token{typ: tokenGT, value: ">"})
			i++
			continue
		case '!':
			tokens = append(tokens, token{typ: tokenNot, value: "!"})
			i++
			continue
		}

		if c == '"' || c == '\'' {
			quote := c
			i++
			var sb strings.Builder
			for i < len(expression) && expression[i] != quote {
				if expression[i] == '\\' && i+1 < len(expression) {
					sb.WriteByte(expression[i+1])
					i += 2
					continue
				}
				sb.WriteByte(expression[i])
				i++
			}
			if i >= len(expression) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{typ: tokenString, value: sb.String()})
			i++
			continue
		}

		if isDigit(c) {
			start := i
			for i < len(expression) && (isDigit(expression[i]) || expression[i] == '.') {
				i++
			}
			tokens = append(tokens, token{typ: tokenNumber, value: expression[start:i]})
			continue
		}

		if isLetter(c) {
			start := i
			for i < len(expression) && (isLetter(expression[i]) || isDigit(expression[i])) {
				i++
			}
			value := expression[start:i]
			if value == "true" || value == "false" {
				tokens = append(tokens, token{typ: tokenBool, value: value})
			} else {
				tokens = append(tokens, token{typ: tokenIdentifier, value: value})
			}
			continue
		}

		return nil, fmt.Errorf("unexpected character at position %d: %c", i, c)
	}

	return append(tokens, token{typ: tokenEOF}), nil
}

// parser is a recursive descent parser that evaluates as it parses.
type parser struct {
	tokens  []token
	pos     int
	context map[string]any
}

func (p *parser) current() token {
	if p.pos >= len(p.tokens) {
		return token{typ: tokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() {
	if p.pos < len(p.tokens) {
		p.pos++
	}
}

func (p *parser) expect(typ tokenType) error {
	if p.current().typ != typ {
		return fmt.Errorf("unexpected token %q", p.current().value)
	}
	p.advance()
	return nil
}

// parseOr handles ||, the lowest precedence level.
func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current().typ == tokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("|| requires boolean operands")
		}
		left = lb || rb
	}
	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for p.current().typ == tokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("&& requires boolean operands")
		}
		left = lb && rb
	}
	return left, nil
}

func (p *parser) parseNot() (any, error) {
	if p.current().typ == tokenNot {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		b, ok := operand.(bool)
		if !ok {
			return nil, fmt.Errorf("! requires a boolean operand")
		}
		return !b, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	op := p.current().typ
	switch op {
	case tokenEQ, tokenNE, tokenLT, tokenLE, tokenGT, tokenGE:
		p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return compare(left, right, op)
	}
	return left, nil
}

func (p *parser) parsePrimary() (any, error) {
	tok := p.current()

	switch tok.typ {
	case tokenBool:
		p.advance()
		return tok.value == "true", nil

	case tokenNumber:
		p.advance()
		return strconv.ParseFloat(tok.value, 64)

	case tokenString:
		p.advance()
		return tok.value, nil

	case tokenLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		return inner, nil

	case tokenIdentifier:
		return p.parsePath()

	default:
		return nil, fmt.Errorf("unexpected token %q", tok.value)
	}
}

// parsePath resolves a dotted identifier path against the context map.
func (p *parser) parsePath() (any, error) {
	path := []string{p.current().value}
	p.advance()

	for p.current().typ == tokenDot {
		p.advance()
		if p.current().typ != tokenIdentifier {
			return nil, fmt.Errorf("expected identifier after '.'")
		}
		path = append(path, p.current().value)
		p.advance()
	}

	var current any = p.context
	for i, segment := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot resolve %q: %q is not a map", strings.Join(path, "."), strings.Join(path[:i], "."))
		}
		current, ok = m[segment]
		if !ok {
			return nil, fmt.Errorf("unknown reference %q", strings.Join(path[:i+1], "."))
		}
	}
	return normalize(current), nil
}

// normalize widens numeric values to float64 so comparisons behave the
// same regardless of how the context value was produced.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

func compare(left, right any, op tokenType) (bool, error) {
	switch op {
	case tokenEQ:
		return equals(left, right), nil
	case tokenNE:
		return !equals(left, right), nil
	}

	ln, lok := toNumber(left)
	rn, rok := toNumber(right)
	if lok && rok {
		switch op {
		case tokenLT:
			return ln < rn, nil
		case tokenLE:
			return ln <= rn, nil
		case tokenGT:
			return ln > rn, nil
		case tokenGE:
			return ln >= rn, nil
		}
	}

	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case tokenLT:
			return ls < rs, nil
		case tokenLE:
			return ls <= rs, nil
		case tokenGT:
			return ls > rs, nil
		case tokenGE:
			return ls >= rs, nil
		}
	}

	return false, fmt.Errorf("cannot compare %T and %T", left, right)
}

func equals(left, right any) bool {
	if left == nil && right == nil {
		return true
	}
	if left == nil || right == nil {
		return false
	}
	if ln, ok := toNumber(left); ok {
		if rn, ok := toNumber(right); ok {
			return ln == rn
		}
		return false
	}
	switch l := left.(type) {
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case string:
		r, ok := right.(string)
		return ok && l == r
	default:
		return false
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
