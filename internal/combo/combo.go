// Package combo enumerates the Cartesian product of parameter sequences.
//
// Combinations come out in nested-loop order: the first sequence varies
// slowest, the last varies fastest, matching the order of the arguments on
// the command line. The product is never materialized; each call to Next
// computes one tuple from a set of cursors.
package combo

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"

	"github.com/jerrypnz/kass/internal/params"
)

// ErrTooManyCombinations is returned when the product does not fit in an int64.
var ErrTooManyCombinations = errors.New("too many combinations")

// Combination is one value per placeholder, positionally aligned with the
// param-specs.
type Combination []any

func (c Combination) String() string {
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = fmt.Sprint(v)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Generator produces the ordered product of a fixed list of sequences.
// It is safe to enumerate more than once; each Iterator is independent.
type Generator struct {
	seqs  []params.Sequence
	total int64
}

// New creates a Generator over seqs. The sequences are not copied and must
// not be modified afterwards.
//
// With no sequences the product holds exactly one empty Combination. If
// any sequence is empty the product is empty.
func New(seqs []params.Sequence) (*Generator, error) {
	total := int64(1)
	for _, s := range seqs {
		n := int64(len(s))
		if n == 0 {
			total = 0
			break
		}
		if total > math.MaxInt64/n {
			return nil, fmt.Errorf("%w: product exceeds %d", ErrTooManyCombinations, int64(math.MaxInt64))
		}
		total *= n
	}
	return &Generator{seqs: seqs, total: total}, nil
}

// Len returns the number of combinations.
func (g *Generator) Len() int64 {
	return g.total
}

// Iter starts a fresh enumeration.
func (g *Generator) Iter() *Iterator {
	return &Iterator{g: g, cursor: make([]int, len(g.seqs))}
}

// All yields every combination with its index, in order.
func (g *Generator) All() iter.Seq2[int64, Combination] {
	return func(yield func(int64, Combination) bool) {
		it := g.Iter()
		for {
			i, c, ok := it.Next()
			if !ok || !yield(i, c) {
				return
			}
		}
	}
}

// Iterator walks a Generator with one cursor per sequence, like an odometer.
// An Iterator is not safe for concurrent use.
type Iterator struct {
	g      *Generator
	cursor []int
	index  int64
}

// Next returns the next combination and its index, or ok=false once the
// product is exhausted. Every returned Combination is a new slice.
func (it *Iterator) Next() (index int64, c Combination, ok bool) {
	if it.index >= it.g.total {
		return 0, nil, false
	}

	c = make(Combination, len(it.cursor))
	for k, pos := range it.cursor {
		c[k] = it.g.seqs[k][pos]
	}
	index = it.index
	it.index++

	// Advance the rightmost cursor, carrying to the left.
	for k := len(it.cursor) - 1; k >= 0; k-- {
		it.cursor[k]++
		if it.cursor[k] < len(it.g.seqs[k]) {
			break
		}
		it.cursor[k] = 0
	}
	return index, c, true
}
