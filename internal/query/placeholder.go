package query

import (
	"errors"
	"fmt"
	"strings"
)

// Dialect describes how a store marks positional placeholders.
type Dialect int

const (
	// DialectQuestion uses "?" (CQL, SQLite).
	DialectQuestion Dialect = iota + 1
	// DialectDollar uses "$1", "$2", ... (PostgreSQL).
	DialectDollar
	// DialectEither accepts "?" or "$n" but not both in one statement (DuckDB).
	DialectEither
)

func (d Dialect) String() string {
	switch d {
	case DialectQuestion:
		return "question"
	case DialectDollar:
		return "dollar"
	case DialectEither:
		return "either"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// MaxDollarIndex is the highest "$n" marker accepted, the PostgreSQL
// limit on bind parameters.
const MaxDollarIndex = 65535

var (
	// ErrMixedPlaceholders is returned when a statement uses both "?" and "$n".
	ErrMixedPlaceholders = errors.New("statement mixes ? and $n placeholders")

	// ErrNamedPlaceholders is returned for named bind markers such as
	// ":day", which cannot be filled positionally.
	ErrNamedPlaceholders = errors.New("named bind markers are not supported, use positional placeholders")
)

// markers is what scan found in a statement.
type markers struct {
	questions int
	maxDollar int
	// named is the first named marker, e.g. ":day".
	named string
	// oversized is the first "$n" marker above MaxDollarIndex.
	oversized string
}

// CountPlaceholders returns how many positional parameters text expects.
//
// Quoted strings, quoted identifiers, dollar-quoted bodies and comments are
// skipped. For "$n" placeholders the count is the highest n, since the
// same $n may appear more than once.
func CountPlaceholders(text string, d Dialect) (int, error) {
	m := scan(text)

	if m.named != "" {
		return 0, fmt.Errorf("%w: %s", ErrNamedPlaceholders, m.named)
	}
	if m.oversized != "" && d != DialectQuestion {
		return 0, fmt.Errorf("placeholder %s exceeds $%d", m.oversized, MaxDollarIndex)
	}

	switch d {
	case DialectQuestion:
		return m.questions, nil
	case DialectDollar:
		return m.maxDollar, nil
	default:
		if m.questions > 0 && m.maxDollar > 0 {
			return 0, ErrMixedPlaceholders
		}
		return m.questions + m.maxDollar, nil
	}
}

// scan walks the statement once and collects the markers found outside
// quoted text and comments.
func scan(text string) markers {
	var m markers
	n := len(text)
	for i := 0; i < n; i++ {
		switch c := text[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(text, i, c)
		case c == '-' && i+1 < n && text[i+1] == '-':
			for i < n && text[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && text[i+1] == '*':
			end := indexFrom(text, "*/", i+2)
			if end < 0 {
				return m
			}
			i = end + 1
		case c == '?':
			m.questions++
		case c == ':':
			if j := namedMarkerEnd(text, i); j > 0 {
				if m.named == "" {
					m.named = text[i:j]
				}
				i = j - 1
			}
		case c == '$':
			j := i + 1
			num := 0
			for j < n && text[j] >= '0' && text[j] <= '9' {
				if num <= MaxDollarIndex {
					num = num*10 + int(text[j]-'0')
				}
				j++
			}
			if j > i+1 {
				if num > MaxDollarIndex {
					if m.oversized == "" {
						m.oversized = text[i:j]
					}
				} else if num > m.maxDollar {
					m.maxDollar = num
				}
				i = j - 1
				continue
			}
			// $tag$ ... $tag$ dollar quoting, including $$.
			if tagEnd := dollarTagEnd(text, i); tagEnd > 0 {
				tag := text[i : tagEnd+1]
				end := indexFrom(text, tag, tagEnd+1)
				if end < 0 {
					return m
				}
				i = end + len(tag) - 1
			}
		}
	}
	return m
}

// namedMarkerEnd returns the end of a ":name" marker starting at i, or -1.
// Casts ("a::int") and slices ("l[1:n]") are not markers.
func namedMarkerEnd(text string, i int) int {
	if i > 0 {
		if p := text[i-1]; p == ':' || p == ']' || p == ')' || isIdentByte(p) {
			return -1
		}
	}
	j := i + 1
	if j >= len(text) || !isIdentStart(text[j]) {
		return -1
	}
	for j < len(text) && isIdentByte(text[j]) {
		j++
	}
	return j
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// skipQuoted returns the index of the quote closing the literal opened at
// start. A doubled quote is an escaped quote. Unterminated literals run to
// the end of the text.
func skipQuoted(text string, start int, quote byte) int {
	for i := start + 1; i < len(text); i++ {
		if text[i] != quote {
			continue
		}
		if i+1 < len(text) && text[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(text)
}

// dollarTagEnd returns the index of the '$' closing a dollar-quote tag that
// starts at i, or -1.
func dollarTagEnd(text string, i int) int {
	for j := i + 1; j < len(text); j++ {
		c := text[j]
		switch {
		case c == '$':
			return j
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || (j > i+1 && c >= '0' && c <= '9'):
		default:
			return -1
		}
	}
	return -1
}

func indexFrom(s, sub string, from int) int {
	if from > len(s) {
		return -1
	}
	if i := strings.Index(s[from:], sub); i >= 0 {
		return from + i
	}
	return -1
}
