// Package dsl compiles and evaluates the condition language used by
// survey branching and visibility rules. Source text is compiled once
// into an AST; evaluation against an answer set never fails.
package dsl

import "strings"

// Combinator joins the comparisons of a combined expression. An
// expression carries at most one combinator, applied uniformly; AND and
// OR are never mixed.
type Combinator string

const (
	CombNone Combinator = ""
	CombAnd  Combinator = "AND"
	CombOr   Combinator = "OR"
)

// CompareKind discriminates the comparison forms of the grammar.
type CompareKind int

const (
	CmpEquals CompareKind = iota
	CmpAnySelected
	CmpAllSelected
)

// Comparison is a single predicate over one question's answer. Negated
// covers the not(equals(...)) and not(anySelected(...)) forms.
type Comparison struct {
	Kind     CompareKind
	Negated  bool
	Variable string
	Value    string   // CmpEquals
	Values   []string // CmpAnySelected, CmpAllSelected
}

// Expression is a compiled condition: zero or more comparisons under a
// single combinator. Zero comparisons means always true.
type Expression struct {
	Comb        Combinator
	Comparisons []Comparison
}

// String renders the canonical source form. Parsing the result yields an
// equal expression; redundant parentheses around a single comparison are
// dropped.
func (e *Expression) String() string {
	switch len(e.Comparisons) {
	case 0:
		return ""
	case 1:
		return e.Comparisons[0].String()
	}

	parts := make([]string, len(e.Comparisons))
	for i, c := range e.Comparisons {
		parts[i] = c.String()
	}
	sep := " " + string(e.Comb) + " "
	return "(" + strings.Join(parts, sep) + ")"
}

// String renders the canonical source form of one comparison.
func (c *Comparison) String() string {
	var sb strings.Builder
	if c.Negated {
		sb.WriteString("not(")
	}
	switch c.Kind {
	case CmpEquals:
		sb.WriteString("equals(answer(")
		sb.WriteString(quote(c.Variable))
		sb.WriteString("), ")
		sb.WriteString(quote(c.Value))
		sb.WriteString(")")
	case CmpAnySelected, CmpAllSelected:
		if c.Kind == CmpAnySelected {
			sb.WriteString("anySelected(")
		} else {
			sb.WriteString("allSelected(")
		}
		sb.WriteString(quote(c.Variable))
		sb.WriteString(", [")
		for i, v := range c.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(quote(v))
		}
		sb.WriteString("])")
	}
	if c.Negated {
		sb.WriteString(")")
	}
	return sb.String()
}

// quote wraps s in single quotes, escaping backslashes and quotes.
func quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '\'':
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('\'')
	return sb.String()
}
