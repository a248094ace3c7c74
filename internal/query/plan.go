package query

import (
	"github.com/Aman-CERP/bibsearch/internal/analysis"
)

// Plan is an analyzed query ready for a store backend.
type Plan struct {
	// Raw is the query text as given.
	Raw string
	// Root is nil when nothing searchable remains.
	Root Node

	terms []string
}

// Empty reports whether the plan can match nothing.
func (p *Plan) Empty() bool { return p == nil || p.Root == nil }

// Terms returns the distinct positive terms in query order.
func (p *Plan) Terms() []string {
	if p == nil {
		return nil
	}
	return p.terms
}

// String renders the analyzed plan.
func (p *Plan) String() string {
	if p.Empty() {
		return "<empty>"
	}
	return p.Root.String()
}

// Compile parses text and analyzes every term with a.
//
// Terms that analyze to nothing (stop words, punctuation) are dropped, a
// term that analyzes to several tokens becomes a phrase, and a subtree
// with no positive clause left matches nothing and is dropped from its
// parent.
func Compile(text string, a *analysis.Analyzer) (*Plan, error) {
	parsed, err := Parse(text)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Raw: text}
	plan.Root = analyze(parsed, a)
	if plan.Root != nil {
		seen := make(map[string]struct{})
		collectTerms(plan.Root, seen, &plan.terms)
	}
	return plan, nil
}

func analyze(n Node, a *analysis.Analyzer) Node {
	switch n := n.(type) {
	case *Term:
		return phraseOrTerm(a.Tokens(n.Text))
	case *rawPhrase:
		return phraseOrTerm(a.Tokens(n.Text))
	case *Bool:
		return analyzeBool(n, a)
	}
	return nil
}

func analyzeBool(b *Bool, a *analysis.Analyzer) Node {
	out := &Bool{}
	positive := false
	for _, c := range b.Clauses {
		child := analyze(c.Node, a)
		if child == nil {
			continue
		}
		if c.Occur != MustNot {
			positive = true
		}
		out.Clauses = append(out.Clauses, Clause{Occur: c.Occur, Node: child})
	}
	if !positive {
		return nil
	}
	if len(out.Clauses) == 1 && out.Clauses[0].Occur != MustNot {
		return out.Clauses[0].Node
	}
	return out
}

func phraseOrTerm(tokens []analysis.Token) Node {
	switch len(tokens) {
	case 0:
		return nil
	case 1:
		return &Term{Text: tokens[0].Term}
	}
	ph := &Phrase{
		Terms:     make([]string, len(tokens)),
		Positions: make([]int, len(tokens)),
	}
	base := tokens[0].Position
	for i, t := range tokens {
		ph.Terms[i] = t.Term
		ph.Positions[i] = t.Position - base
	}
	return ph
}

func collectTerms(n Node, seen map[string]struct{}, out *[]string) {
	add := func(t string) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		*out = append(*out, t)
	}
	switch n := n.(type) {
	case *Term:
		add(n.Text)
	case *Phrase:
		for _, t := range n.Terms {
			add(t)
		}
	case *Bool:
		for _, c := range n.Clauses {
			if c.Occur != MustNot {
				collectTerms(c.Node, seen, out)
			}
		}
	}
}
