// Package selexpr parses textual selection expressions such as
// "2:10:2, ..., -1" into per-dimension terms.
package selexpr

import (
	"fmt"
	"strconv"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// nolint:gochecknoglobals
var (
	selLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Ellipsis", Pattern: `\.\.\.`},
		{Name: "Int", Pattern: `[-+]?[0-9]+`},
		{Name: "Colon", Pattern: `:`},
		{Name: "Comma", Pattern: `,`},
		{Name: "Whitespace", Pattern: `\s+`},
	})

	parser = participle.MustBuild[expr](
		participle.Lexer(selLexer),
		participle.Elide("Whitespace"),
	)
)

type expr struct {
	Terms []*term `parser:"@@ ( Comma @@ )*"`
}

type term struct {
	Ellipsis bool    `parser:"  @Ellipsis"`
	Start    *string `parser:"| @Int?"`
	Sliced   bool    `parser:"  ( @Colon"`
	Stop     *string `parser:"    @Int?"`
	Stepped  bool    `parser:"    ( @Colon"`
	Step     *string `parser:"      @Int? )? )?"`
}

// Kind distinguishes the three forms a term can take.
type Kind int

const (
	KindIndex Kind = iota
	KindSlice
	KindEllipsis
)

// Term is one comma-separated component of an expression. Index is set for
// KindIndex; Start, Stop and Step are set for KindSlice when present.
type Term struct {
	Kind  Kind
	Index int
	Start *int
	Stop  *int
	Step  *int
}

// Parse parses an expression into its terms.
func Parse(s string) ([]Term, error) {
	ast, err := parser.ParseString("", s)
	if err != nil {
		return nil, fmt.Errorf("parsing selection %q: %w", s, err)
	}
	terms := make([]Term, 0, len(ast.Terms))
	for i, t := range ast.Terms {
		if t == nil {
			return nil, fmt.Errorf("parsing selection %q: empty term %d", s, i)
		}
		term, err := t.convert()
		if err != nil {
			return nil, fmt.Errorf("parsing selection %q: term %d: %w", s, i, err)
		}
		terms = append(terms, term)
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("parsing selection %q: empty expression", s)
	}
	return terms, nil
}

func (t *term) convert() (Term, error) {
	switch {
	case t.Ellipsis:
		return Term{Kind: KindEllipsis}, nil
	case !t.Sliced:
		if t.Start == nil {
			return Term{}, fmt.Errorf("empty term")
		}
		n, err := atoi(t.Start)
		if err != nil {
			return Term{}, err
		}
		return Term{Kind: KindIndex, Index: *n}, nil
	}

	out := Term{Kind: KindSlice}
	var err error
	if out.Start, err = atoi(t.Start); err != nil {
		return Term{}, err
	}
	if out.Stop, err = atoi(t.Stop); err != nil {
		return Term{}, err
	}
	if out.Step, err = atoi(t.Step); err != nil {
		return Term{}, err
	}
	return out, nil
}

func atoi(s *string) (*int, error) {
	if s == nil {
		return nil, nil
	}
	n, err := strconv.Atoi(*s)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", *s)
	}
	return &n, nil
}

func (t Term) String() string {
	switch t.Kind {
	case KindEllipsis:
		return "..."
	case KindIndex:
		return strconv.Itoa(t.Index)
	}
	s := opt(t.Start) + ":" + opt(t.Stop)
	if t.Step != nil {
		s += ":" + opt(t.Step)
	}
	return s
}

func opt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}
