// Package filterexpr parses a small filter expression language into filter
// predicate trees.
//
// It is client-surface sugar: adapters that receive predicates as text
// (admin tooling, tests, annotation comments) can turn
//
//	status = 'open' AND priority IN (1, 2)
//
// into the same filter.Node tree an ORM integration would build
// programmatically. The language covers exactly the node kinds the extractor
// understands: =, !=, <, <=, >, >=, IN, AND, OR, NOT, parentheses, and
// string/number/boolean/null literals.
package filterexpr

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/shopspring/decimal"

	"github.com/surgecache/surgecache/filter"
)

type expression struct {
	Terms []*andExpr `parser:"@@ ( 'OR' @@ )*"`
}

type andExpr struct {
	Terms []*unary `parser:"@@ ( 'AND' @@ )*"`
}

type unary struct {
	Not   *unary      `parser:"  'NOT' @@"`
	Group *expression `parser:"| '(' @@ ')'"`
	Pred  *predicate  `parser:"| @@"`
}

type predicate struct {
	Field string   `parser:"@Ident"`
	In    *inTail  `parser:"( 'IN' '(' @@ ')'"`
	Cmp   *cmpTail `parser:"| @@ )"`
}

type inTail struct {
	Values []*literal `parser:"( @@ ( ',' @@ )* )?"`
}

type cmpTail struct {
	Op    string   `parser:"@Op"`
	Value *literal `parser:"@@"`
}

type literal struct {
	Str   *string `parser:"  @String"`
	Num   *string `parser:"| @Number"`
	True  bool    `parser:"| @'TRUE'"`
	False bool    `parser:"| @'FALSE'"`
	Null  bool    `parser:"| @'NULL'"`
}

var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "String", Pattern: `'(?:[^']|'')*'`},
	{Name: "Number", Pattern: `-?[0-9]+(\.[0-9]+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Op", Pattern: `<=|>=|!=|=|<|>`},
	{Name: "Punct", Pattern: `[(),]`},
})

var exprParser = participle.MustBuild[expression](
	participle.Lexer(exprLexer),
	participle.Elide("Whitespace"),
	participle.CaseInsensitive("Ident"),
	participle.UseLookahead(2),
)

// Parse turns an expression into a predicate tree. An empty or blank input
// yields a nil node (no predicate).
func Parse(input string) (filter.Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	ast, err := exprParser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("filterexpr: %w", err)
	}
	return convertExpression(ast)
}

func convertExpression(e *expression) (filter.Node, error) {
	nodes := make([]filter.Node, 0, len(e.Terms))
	for _, term := range e.Terms {
		n, err := convertAnd(term)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return filter.Or{Children: nodes}, nil
}

func convertAnd(e *andExpr) (filter.Node, error) {
	nodes := make([]filter.Node, 0, len(e.Terms))
	for _, term := range e.Terms {
		n, err := convertUnary(term)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return filter.And{Children: nodes}, nil
}

func convertUnary(u *unary) (filter.Node, error) {
	switch {
	case u.Not != nil:
		child, err := convertUnary(u.Not)
		if err != nil {
			return nil, err
		}
		return filter.Not{Child: child}, nil
	case u.Group != nil:
		return convertExpression(u.Group)
	case u.Pred != nil:
		return convertPredicate(u.Pred)
	default:
		return nil, fmt.Errorf("filterexpr: empty term")
	}
}

func convertPredicate(p *predicate) (filter.Node, error) {
	if p.In != nil {
		values := make([]filter.Value, 0, len(p.In.Values))
		for _, lit := range p.In.Values {
			v, err := convertLiteral(lit)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return filter.In{Field: p.Field, Values: values}, nil
	}

	v, err := convertLiteral(p.Cmp.Value)
	if err != nil {
		return nil, err
	}
	if p.Cmp.Op == "=" {
		return filter.Eq{Field: p.Field, Value: v}, nil
	}
	return filter.Cmp{Field: p.Field, Op: filter.CmpOp(p.Cmp.Op), Value: v}, nil
}

func convertLiteral(lit *literal) (filter.Value, error) {
	switch {
	case lit.Str != nil:
		return filter.String(unquote(*lit.Str)), nil
	case lit.Num != nil:
		d, err := decimal.NewFromString(*lit.Num)
		if err != nil {
			return filter.Value{}, fmt.Errorf("filterexpr: number %q: %w", *lit.Num, err)
		}
		return filter.Decimal(d), nil
	case lit.True:
		return filter.Bool(true), nil
	case lit.False:
		return filter.Bool(false), nil
	case lit.Null:
		return filter.Null, nil
	default:
		return filter.Value{}, fmt.Errorf("filterexpr: empty literal")
	}
}

// unquote strips the surrounding single quotes and collapses the ” escape.
func unquote(s string) string {
	s = s[1 : len(s)-1]
	return strings.ReplaceAll(s, "''", "'")
}
