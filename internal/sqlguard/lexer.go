package sqlguard

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenQuotedIdent
	tokenString
	tokenNumber
	tokenParam
	tokenSymbol
)

// token carries the raw source text so the validator can re-render a
// normalized statement after inspection.
type token struct {
	kind tokenKind
	text string
}

// name returns the identifier for catalog comparison. Unquoted identifiers
// fold to lower case the way Postgres does; quoted identifiers keep their
// content verbatim minus the surrounding quotes.
func (t token) name() string {
	switch t.kind {
	case tokenIdent:
		return strings.ToLower(t.text)
	case tokenQuotedIdent:
		inner := t.text[1 : len(t.text)-1]
		return strings.ReplaceAll(inner, `""`, `"`)
	default:
		return t.text
	}
}

func (t token) upper() string {
	if t.kind != tokenIdent {
		return ""
	}
	return strings.ToUpper(t.text)
}

func (t token) isSymbol(s string) bool {
	return t.kind == tokenSymbol && t.text == s
}

func (t token) isKeyword(kw string) bool {
	return t.kind == tokenIdent && strings.EqualFold(t.text, kw)
}

// twoCharSymbols and threeCharSymbols cover the Postgres operators a
// generated read query can plausibly contain.
var threeCharSymbols = []string{"->>", "#>>"}

var twoCharSymbols = []string{"::", "<=", ">=", "<>", "!=", "||", "->", "#>", "@>", "<@", "?|", "?&", "~*", "!~"}

const singleCharSymbols = "(),.;*+-/<>=%^&|?[]:@#~!"

func isDigitByte(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigitByte(c) || c == '$'
}

// lex splits a statement into tokens. Comments are stripped here; a comment
// that hides a statement separator is reported as an error because the
// stripped form would no longer match what a human reviewing the raw SQL
// would read.
func lex(input string) ([]token, error) {
	var tokens []token
	i, n := 0, len(input)
	for i < n {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < n && input[i+1] == '-':
			end := strings.IndexByte(input[i:], '\n')
			var comment string
			if end < 0 {
				comment, i = input[i:], n
			} else {
				comment, i = input[i:i+end], i+end+1
			}
			if strings.Contains(comment, ";") {
				return nil, fmt.Errorf("comment hides a statement separator")
			}
		case c == '/' && i+1 < n && input[i+1] == '*':
			j, depth := i+2, 1
			for j < n && depth > 0 {
				if j+1 < n && input[j] == '/' && input[j+1] == '*' {
					depth, j = depth+1, j+2
					continue
				}
				if j+1 <= n-1 && input[j] == '*' && input[j+1] == '/' {
					depth, j = depth-1, j+2
					continue
				}
				j++
			}
			if depth > 0 {
				return nil, fmt.Errorf("unterminated block comment")
			}
			if strings.Contains(input[i:j], ";") {
				return nil, fmt.Errorf("comment hides a statement separator")
			}
			i = j
		case c == '\'':
			j := i + 1
			for {
				if j >= n {
					return nil, fmt.Errorf("unterminated string literal")
				}
				if input[j] == '\'' {
					if j+1 < n && input[j+1] == '\'' {
						j += 2
						continue
					}
					j++
					break
				}
				j++
			}
			tokens = append(tokens, token{tokenString, input[i:j]})
			i = j
		case c == '"':
			j := i + 1
			for {
				if j >= n {
					return nil, fmt.Errorf("unterminated quoted identifier")
				}
				if input[j] == '"' {
					if j+1 < n && input[j+1] == '"' {
						j += 2
						continue
					}
					j++
					break
				}
				j++
			}
			if j-i <= 2 {
				return nil, fmt.Errorf("empty quoted identifier")
			}
			tokens = append(tokens, token{tokenQuotedIdent, input[i:j]})
			i = j
		case c == '$':
			if i+1 < n && isDigitByte(input[i+1]) {
				j := i + 1
				for j < n && isDigitByte(input[j]) {
					j++
				}
				tokens = append(tokens, token{tokenParam, input[i:j]})
				i = j
				break
			}
			j := i + 1
			for j < n && (isIdentPart(input[j]) && input[j] != '$') {
				j++
			}
			if j >= n || input[j] != '$' {
				return nil, fmt.Errorf("unexpected character %q", c)
			}
			tag := input[i : j+1]
			rel := strings.Index(input[j+1:], tag)
			if rel < 0 {
				return nil, fmt.Errorf("unterminated dollar-quoted string")
			}
			end := j + 1 + rel + len(tag)
			tokens = append(tokens, token{tokenString, input[i:end]})
			i = end
		case isDigitByte(c) || (c == '.' && i+1 < n && isDigitByte(input[i+1])):
			j := i
			for j < n && (isDigitByte(input[j]) || input[j] == '.') {
				j++
			}
			if j < n && (input[j] == 'e' || input[j] == 'E') {
				k := j + 1
				if k < n && (input[k] == '+' || input[k] == '-') {
					k++
				}
				for k < n && isDigitByte(input[k]) {
					k++
				}
				j = k
			}
			tokens = append(tokens, token{tokenNumber, input[i:j]})
			i = j
		case isIdentStart(c):
			j := i
			for j < n && isIdentPart(input[j]) {
				j++
			}
			tokens = append(tokens, token{tokenIdent, input[i:j]})
			i = j
		default:
			if sym := matchSymbol(input[i:]); sym != "" {
				tokens = append(tokens, token{tokenSymbol, sym})
				i += len(sym)
				break
			}
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return tokens, nil
}

func matchSymbol(rest string) string {
	for _, s := range threeCharSymbols {
		if strings.HasPrefix(rest, s) {
			return s
		}
	}
	for _, s := range twoCharSymbols {
		if strings.HasPrefix(rest, s) {
			return s
		}
	}
	if strings.IndexByte(singleCharSymbols, rest[0]) >= 0 {
		return rest[:1]
	}
	return ""
}

// skipParens returns the index just past the parenthesis group opening at
// openIdx. The lexer guarantees openIdx points at "(".
func skipParens(tokens []token, openIdx int) int {
	depth := 0
	for i := openIdx; i < len(tokens); i++ {
		switch {
		case tokens[i].isSymbol("("):
			depth++
		case tokens[i].isSymbol(")"):
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(tokens)
}
