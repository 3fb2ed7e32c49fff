package dsl

// parser is a recursive-descent parser over the lexer's token stream.
// It implements the grammar:
//
//	expr        := "" | comparison | combined
//	combined    := "(" comparison (" AND " comparison)* ")"
//	             | "(" comparison (" OR " comparison)* ")"
//	comparison  := equals | not_equals | any_selected | all_selected | none_selected
//	equals      := equals(answer('VAR'), 'VALUE')
//	not_equals  := not(equals(answer('VAR'), 'VALUE'))
//	any_selected  := anySelected('VAR', ['v', ...])
//	all_selected  := allSelected('VAR', ['v', ...])
//	none_selected := not(anySelected('VAR', ['v', ...]))
//
// A combined expression uses exactly one combinator; mixing AND and OR is
// a compile error.
type parser struct {
	lex *lexer
	cur token
}

// Parse compiles DSL source text into an Expression. All syntax errors
// are reported here with a COMPILE_ERROR code; a successfully parsed
// expression can always be evaluated.
func Parse(src string) (*Expression, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}

	// Empty or whitespace-only source is the always-true expression.
	if p.cur.Kind == tokEOF {
		return &Expression{}, nil
	}

	var expr *Expression
	var err error
	if p.cur.Kind == tokLParen {
		expr, err = p.parseCombined()
	} else {
		var cmp Comparison
		cmp, err = p.parseComparison()
		if err == nil {
			expr = &Expression{Comparisons: []Comparison{cmp}}
		}
	}
	if err != nil {
		return nil, err
	}

	if p.cur.Kind != tokEOF {
		return nil, compileErrorf(p.cur.Pos, "unexpected %s after expression", p.cur.Kind)
	}
	return expr, nil
}

func (p *parser) parseCombined() (*Expression, error) {
	if err := p.expect(tokLParen); err != nil {
		return nil, err
	}

	expr := &Expression{}
	cmp, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	expr.Comparisons = append(expr.Comparisons, cmp)

	for p.cur.Kind == tokAnd || p.cur.Kind == tokOr {
		comb := CombAnd
		if p.cur.Kind == tokOr {
			comb = CombOr
		}
		if expr.Comb == CombNone {
			expr.Comb = comb
		} else if expr.Comb != comb {
			return nil, compileErrorf(p.cur.Pos, "cannot mix AND and OR in one expression")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		cmp, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		expr.Comparisons = append(expr.Comparisons, cmp)
	}

	if err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return expr, nil
}

func (p *parser) parseComparison() (Comparison, error) {
	if p.cur.Kind != tokIdent {
		return Comparison{}, compileErrorf(p.cur.Pos, "expected comparison, got %s", p.cur.Kind)
	}

	name := p.cur.Text
	pos := p.cur.Pos
	if err := p.advance(); err != nil {
		return Comparison{}, err
	}

	switch name {
	case "equals":
		return p.parseEquals(false)
	case "anySelected":
		return p.parseSelected(CmpAnySelected, false)
	case "allSelected":
		return p.parseSelected(CmpAllSelected, false)
	case "not":
		return p.parseNegation()
	}
	return Comparison{}, compileErrorf(pos, "unknown function %q", name)
}

// parseNegation handles not(equals(...)) and not(anySelected(...)).
// Negating allSelected is not part of the grammar.
func (p *parser) parseNegation() (Comparison, error) {
	if err := p.expect(tokLParen); err != nil {
		return Comparison{}, err
	}
	if p.cur.Kind != tokIdent {
		return Comparison{}, compileErrorf(p.cur.Pos, "expected equals or anySelected inside not(), got %s", p.cur.Kind)
	}

	name := p.cur.Text
	pos := p.cur.Pos
	if err := p.advance(); err != nil {
		return Comparison{}, err
	}

	var cmp Comparison
	var err error
	switch name {
	case "equals":
		cmp, err = p.parseEquals(true)
	case "anySelected":
		cmp, err = p.parseSelected(CmpAnySelected, true)
	default:
		return Comparison{}, compileErrorf(pos, "cannot negate %q; only equals and anySelected may appear inside not()", name)
	}
	if err != nil {
		return Comparison{}, err
	}

	if err := p.expect(tokRParen); err != nil {
		return Comparison{}, err
	}
	return cmp, nil
}

// parseEquals parses (answer('VAR'), 'VALUE') after the equals keyword.
func (p *parser) parseEquals(negated bool) (Comparison, error) {
	if err := p.expect(tokLParen); err != nil {
		return Comparison{}, err
	}
	if p.cur.Kind != tokIdent || p.cur.Text != "answer" {
		return Comparison{}, compileErrorf(p.cur.Pos, "equals() requires an answer('VAR') reference")
	}
	if err := p.advance(); err != nil {
		return Comparison{}, err
	}
	if err := p.expect(tokLParen); err != nil {
		return Comparison{}, err
	}
	variable, err := p.parseString()
	if err != nil {
		return Comparison{}, err
	}
	if err := p.expect(tokRParen); err != nil {
		return Comparison{}, err
	}
	if err := p.expect(tokComma); err != nil {
		return Comparison{}, err
	}
	value, err := p.parseString()
	if err != nil {
		return Comparison{}, err
	}
	if err := p.expect(tokRParen); err != nil {
		return Comparison{}, err
	}
	return Comparison{Kind: CmpEquals, Negated: negated, Variable: variable, Value: value}, nil
}

// parseSelected parses ('VAR', ['v', ...]) after anySelected/allSelected.
func (p *parser) parseSelected(kind CompareKind, negated bool) (Comparison, error) {
	if err := p.expect(tokLParen); err != nil {
		return Comparison{}, err
	}
	variable, err := p.parseString()
	if err != nil {
		return Comparison{}, err
	}
	if err := p.expect(tokComma); err != nil {
		return Comparison{}, err
	}
	if err := p.expect(tokLBracket); err != nil {
		return Comparison{}, err
	}

	var values []string
	if p.cur.Kind != tokRBracket {
		for {
			v, err := p.parseString()
			if err != nil {
				return Comparison{}, err
			}
			values = append(values, v)
			if p.cur.Kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return Comparison{}, err
			}
		}
	}

	if err := p.expect(tokRBracket); err != nil {
		return Comparison{}, err
	}
	if err := p.expect(tokRParen); err != nil {
		return Comparison{}, err
	}
	return Comparison{Kind: kind, Negated: negated, Variable: variable, Values: values}, nil
}

func (p *parser) parseString() (string, error) {
	if p.cur.Kind != tokString {
		return "", compileErrorf(p.cur.Pos, "expected string literal, got %s", p.cur.Kind)
	}
	text := p.cur.Text
	if err := p.advance(); err != nil {
		return "", err
	}
	return text, nil
}

func (p *parser) expect(kind tokenKind) error {
	if p.cur.Kind != kind {
		return compileErrorf(p.cur.Pos, "expected %s, got %s", kind, p.cur.Kind)
	}
	return p.advance()
}

func (p *parser) advance() error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}
