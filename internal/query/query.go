// Package query binds query templates to parameter combinations.
//
// The template text is opaque: it is never rewritten or interpolated. The
// only thing read from it is the number of positional placeholders, and
// values travel to the store as typed parameters alongside the text.
package query

import (
	"fmt"

	"github.com/jerrypnz/kass/internal/combo"
)

// Template is a parameterized statement with a known placeholder count.
type Template struct {
	Text         string
	Placeholders int
	Dialect      Dialect
}

// NewTemplate counts the placeholders in text for the given dialect.
func NewTemplate(text string, d Dialect) (Template, error) {
	n, err := CountPlaceholders(text, d)
	if err != nil {
		return Template{}, fmt.Errorf("count placeholders: %w", err)
	}
	return Template{Text: text, Placeholders: n, Dialect: d}, nil
}

// ArityError reports a mismatch between a template's placeholders and the
// number of values supplied for them.
type ArityError struct {
	Placeholders int
	Values       int
	// Source names what supplied the values ("param-specs", "combination").
	Source string
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("template has %d placeholder(s) but %d %s given", e.Placeholders, e.Values, e.Source)
}

// CheckArity verifies that specCount param-specs were supplied for t.
func CheckArity(t Template, specCount int) error {
	if t.Placeholders != specCount {
		return &ArityError{Placeholders: t.Placeholders, Values: specCount, Source: "param-specs"}
	}
	return nil
}

// BoundQuery is a template paired with the values for one combination.
type BoundQuery struct {
	// Index is the position of the combination in enumeration order.
	Index    int64
	Template Template
	Params   []any
}

// Bind pairs t with c positionally: element i fills placeholder i.
// It fails with an *ArityError if the lengths differ.
func Bind(t Template, index int64, c combo.Combination) (BoundQuery, error) {
	if len(c) != t.Placeholders {
		return BoundQuery{}, &ArityError{Placeholders: t.Placeholders, Values: len(c), Source: "combination values"}
	}
	params := make([]any, len(c))
	copy(params, c)
	return BoundQuery{Index: index, Template: t, Params: params}, nil
}
