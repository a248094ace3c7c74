// Package query parses free-text search queries into a boolean plan.
//
// Grammar:
//
//	query   = [ expr ] EOF
//	expr    = conj { [ "OR" ] conj }        juxtaposition means OR
//	conj    = unary { "AND" unary }
//	unary   = ( "NOT" | "-" ) unary | "+" unary | primary
//	primary = TERM | PHRASE | "(" expr ")"
//
// Operators are recognized only in upper case; a lowercase "and" is an
// ordinary term and is removed by the analyzer like any stop word.
package query

import (
	"strconv"
	"strings"
)

// Occur is how a clause participates in a boolean node.
type Occur int

const (
	// Should clauses are optional; at least one must match when no Must clause exists.
	Should Occur = iota
	// Must clauses are required.
	Must
	// MustNot clauses exclude matches.
	MustNot
)

// String returns the operator prefix of the occurrence.
func (o Occur) String() string {
	switch o {
	case Must:
		return "+"
	case MustNot:
		return "-"
	default:
		return ""
	}
}

// Node is a parsed or analyzed query node.
type Node interface {
	String() string
}

// Term is a single word. Before analysis Text is the raw word; afterwards it
// is one analyzed term.
type Term struct {
	Text string
}

// String implements Node.
func (t *Term) String() string { return t.Text }

// Phrase is an ordered run of terms. Positions are relative to the first
// term, so words removed by the analyzer leave gaps.
type Phrase struct {
	Terms     []string
	Positions []int
}

// String implements Node.
func (p *Phrase) String() string {
	return strconv.Quote(strings.Join(p.Terms, " "))
}

// Clause is one child of a Bool node.
type Clause struct {
	Occur Occur
	Node  Node
}

// Bool combines clauses.
type Bool struct {
	Clauses []Clause
}

// String implements Node.
func (b *Bool) String() string {
	parts := make([]string, len(b.Clauses))
	for i, c := range b.Clauses {
		parts[i] = c.Occur.String() + c.Node.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// rawPhrase is the parser's phrase before analysis.
type rawPhrase struct {
	Text string
}

func (p *rawPhrase) String() string { return strconv.Quote(p.Text) }

// Must returns the required children.
func (b *Bool) Must() []Node { return b.with(Must) }

// Should returns the optional children.
func (b *Bool) Should() []Node { return b.with(Should) }

// MustNot returns the excluded children.
func (b *Bool) MustNot() []Node { return b.with(MustNot) }

func (b *Bool) with(o Occur) []Node {
	var out []Node
	for _, c := range b.Clauses {
		if c.Occur == o {
			out = append(out, c.Node)
		}
	}
	return out
}
