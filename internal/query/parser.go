package query

// Parse parses query text into an unanalyzed node tree. An empty or
// all-whitespace query parses to an empty Bool.
func Parse(input string) (Node, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	if p.peek().kind == tokEOF {
		return &Bool{}, nil
	}

	node, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		if t.kind == tokRParen {
			return nil, syntaxErr(t.pos, t.text, "unbalanced parenthesis")
		}
		return nil, syntaxErr(t.pos, t.text, "unexpected "+t.kind.String())
	}
	return node, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// startsOperand reports whether t can begin a unary expression.
func startsOperand(t token) bool {
	switch t.kind {
	case tokTerm, tokPhrase, tokLParen, tokNot, tokPlus, tokMinus:
		return true
	}
	return false
}

func (p *parser) expr() (Node, error) {
	var clauses []Clause

	first, err := p.conj()
	if err != nil {
		return nil, err
	}
	clauses = append(clauses, first)

	for {
		t := p.peek()
		switch {
		case t.kind == tokOr:
			p.next()
			if !startsOperand(p.peek()) {
				return nil, syntaxErr(t.pos, t.text, "OR needs a right-hand operand")
			}
		case startsOperand(t):
			// juxtaposition
		default:
			return collapse(clauses), nil
		}

		c, err := p.conj()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
}

func (p *parser) conj() (Clause, error) {
	first, err := p.unary()
	if err != nil {
		return Clause{}, err
	}
	if p.peek().kind != tokAnd {
		return first, nil
	}

	clauses := []Clause{asRequired(first)}
	for p.peek().kind == tokAnd {
		op := p.next()
		if !startsOperand(p.peek()) {
			return Clause{}, syntaxErr(op.pos, op.text, "AND needs a right-hand operand")
		}
		c, err := p.unary()
		if err != nil {
			return Clause{}, err
		}
		clauses = append(clauses, asRequired(c))
	}
	return Clause{Occur: Should, Node: &Bool{Clauses: clauses}}, nil
}

// asRequired turns a plain operand of AND into a Must clause; NOT operands
// stay MustNot.
func asRequired(c Clause) Clause {
	if c.Occur == Should {
		c.Occur = Must
	}
	return c
}

func (p *parser) unary() (Clause, error) {
	t := p.peek()
	switch t.kind {
	case tokNot, tokMinus:
		p.next()
		if !startsOperand(p.peek()) {
			return Clause{}, syntaxErr(t.pos, t.text, t.kind.String()+" needs an operand")
		}
		c, err := p.unary()
		if err != nil {
			return Clause{}, err
		}
		return Clause{Occur: MustNot, Node: c.Node}, nil
	case tokPlus:
		p.next()
		if !startsOperand(p.peek()) {
			return Clause{}, syntaxErr(t.pos, t.text, "+ needs an operand")
		}
		c, err := p.unary()
		if err != nil {
			return Clause{}, err
		}
		if c.Occur == MustNot {
			return c, nil
		}
		return Clause{Occur: Must, Node: c.Node}, nil
	}

	n, err := p.primary()
	if err != nil {
		return Clause{}, err
	}
	return Clause{Occur: Should, Node: n}, nil
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokTerm:
		return &Term{Text: t.text}, nil
	case tokPhrase:
		return &rawPhrase{Text: t.text}, nil
	case tokLParen:
		if p.peek().kind == tokRParen {
			return nil, syntaxErr(t.pos, "()", "empty group")
		}
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokRParen {
			return nil, syntaxErr(t.pos, t.text, "unbalanced parenthesis")
		}
		return n, nil
	case tokRParen:
		return nil, syntaxErr(t.pos, t.text, "unbalanced parenthesis")
	case tokEOF:
		return nil, syntaxErr(t.pos, "", "unexpected end of query")
	default:
		return nil, syntaxErr(t.pos, t.text, t.kind.String()+" needs a left-hand operand")
	}
}

// collapse returns the single node of a one-clause Should group.
func collapse(clauses []Clause) Node {
	if len(clauses) == 1 && clauses[0].Occur == Should {
		return clauses[0].Node
	}
	return &Bool{Clauses: clauses}
}
