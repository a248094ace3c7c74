package query

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokTerm
	tokPhrase
	tokAnd
	tokOr
	tokNot
	tokPlus
	tokMinus
	tokLParen
	tokRParen
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of query"
	case tokTerm:
		return "term"
	case tokPhrase:
		return "phrase"
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokNot:
		return "NOT"
	case tokPlus:
		return "+"
	case tokMinus:
		return "-"
	case tokLParen:
		return "("
	case tokRParen:
		return ")"
	}
	return "?"
}

type token struct {
	kind tokenKind
	text string
	pos  int // byte offset in the query
}

// SyntaxError describes malformed query text.
type SyntaxError struct {
	Pos   int
	Token string
	Msg   string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("%s at position %d", e.Msg, e.Pos)
	}
	return fmt.Sprintf("%s at position %d near %q", e.Msg, e.Pos, e.Token)
}

func syntaxErr(pos int, tok, msg string) error {
	se := &SyntaxError{Pos: pos, Token: tok, Msg: msg}
	return bserrors.New(bserrors.ErrCodeQuerySyntax, se.Error(), se).
		WithDetail("position", fmt.Sprint(pos)).
		WithSuggestion(`Balance quotes and parentheses, and give AND/OR/NOT an operand on each side`)
}

// lex splits a query into tokens. A '+' or '-' is an operator only at the
// start of a word; inside a word ("e-mail") it is part of the term.
func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i += size
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i += size
		case r == '+':
			toks = append(toks, token{tokPlus, "+", i})
			i += size
		case r == '-':
			toks = append(toks, token{tokMinus, "-", i})
			i += size
		case r == '"':
			start := i
			end := -1
			for j := i + 1; j < len(input); j++ {
				if input[j] == '"' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, syntaxErr(start, input[start:], "unterminated phrase")
			}
			toks = append(toks, token{tokPhrase, input[start+1 : end], start})
			i = end + 1
		default:
			start := i
			for i < len(input) {
				r, size := utf8.DecodeRuneInString(input[i:])
				if unicode.IsSpace(r) || r == '(' || r == ')' || r == '"' {
					break
				}
				i += size
			}
			word := input[start:i]
			switch word {
			case "AND", "&&":
				toks = append(toks, token{tokAnd, word, start})
			case "OR", "||":
				toks = append(toks, token{tokOr, word, start})
			case "NOT":
				toks = append(toks, token{tokNot, word, start})
			default:
				toks = append(toks, token{tokTerm, word, start})
			}
		}
	}
	toks = append(toks, token{tokEOF, "", len(input)})
	return toks, nil
}
