package params

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04:05"
)

var (
	intRangeRe = regexp.MustCompile(
		`^(-?\d+)\.\.(-?\d+)(?:/(\d+)(?:/([a-z]+))?)?$`)
	dateRangeRe = regexp.MustCompile(
		`^(\d{4}-\d{2}-\d{2})\.\.(\d{4}-\d{2}-\d{2})(?:/(\d+)([a-zA-Z]+)(?:/(.+))?)?$`)
	dateTimeRangeRe = regexp.MustCompile(
		`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})\.\.(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})(?:/(\d+)([a-zA-Z]+)(?:/(.+))?)?$`)
)

var (
	dateUnits     = map[string]Unit{"d": UnitDay, "w": UnitWeek, "m": UnitMonth}
	dateTimeUnits = map[string]Unit{
		"d": UnitDay, "w": UnitWeek, "m": UnitMonth,
		"H": UnitHour, "M": UnitMinute, "S": UnitSecond,
	}
	defaultStep = Step{N: 1, Unit: UnitDay}
)

// ParseError reports a param-spec token that cannot be expanded.
type ParseError struct {
	// Arg is the 1-based position of the token among the param-specs,
	// zero when the token was parsed on its own.
	Arg    int
	Token  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("invalid param-spec %q: %s", e.Token, e.Reason)
	if e.Arg > 0 {
		msg = fmt.Sprintf("param-spec #%d: %s", e.Arg, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse turns one raw token into a Spec.
//
// Range grammars are tried first. A token that contains ".." and no comma
// but matches none of them is rejected rather than silently taken as a
// one-element list. Anything else is a List; the empty token is the
// empty List.
func Parse(token string) (Spec, error) {
	if m := intRangeRe.FindStringSubmatch(token); m != nil {
		return parseIntRange(token, m)
	}
	if m := dateRangeRe.FindStringSubmatch(token); m != nil {
		return parseDateRange(token, m, false)
	}
	if m := dateTimeRangeRe.FindStringSubmatch(token); m != nil {
		return parseDateRange(token, m, true)
	}
	if strings.Contains(token, "..") && !strings.Contains(token, ",") {
		return nil, &ParseError{Token: token, Reason: "not a valid range (want start..end/step)"}
	}
	return parseList(token), nil
}

// ParseAll parses every token in order. The first failure aborts with a
// ParseError carrying the token position.
func ParseAll(tokens []string) ([]Spec, error) {
	specs := make([]Spec, 0, len(tokens))
	for i, token := range tokens {
		spec, err := Parse(token)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Arg = i + 1
			}
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func parseList(token string) List {
	if token == "" {
		return List{token: token, Items: []string{}}
	}
	return List{token: token, Items: strings.Split(token, ",")}
}

func parseIntRange(token string, m []string) (Spec, error) {
	from, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil, &ParseError{Token: token, Reason: "invalid range start", Err: err}
	}
	to, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, &ParseError{Token: token, Reason: "invalid range end", Err: err}
	}

	step := int64(1)
	if m[3] != "" {
		step, err = strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return nil, &ParseError{Token: token, Reason: "invalid step", Err: err}
		}
		if step <= 0 {
			return nil, &ParseError{Token: token, Reason: "step must be positive"}
		}
	}

	typ := IntTypeInt
	if m[4] != "" {
		typ = IntType(m[4])
		switch typ {
		case IntTypeTiny, IntTypeSmall, IntTypeInt, IntTypeBig:
		default:
			return nil, &ParseError{Token: token, Reason: fmt.Sprintf("unknown integer type %q", m[4])}
		}
	}

	lo, hi := typ.bounds()
	if from < lo || from > hi || to < lo || to > hi {
		return nil, &ParseError{Token: token, Reason: fmt.Sprintf("bounds do not fit in %s", typ)}
	}

	r := IntRange{token: token, From: from, To: to, Step: step, Type: typ}
	if r.Len() > MaxSequenceLen {
		return nil, &ParseError{Token: token, Reason: fmt.Sprintf("range expands to more than %d values", MaxSequenceLen)}
	}
	return r, nil
}

func parseDateRange(token string, m []string, withTime bool) (Spec, error) {
	layout, units := dateLayout, dateUnits
	if withTime {
		layout, units = dateTimeLayout, dateTimeUnits
	}

	start, err := time.ParseInLocation(layout, m[1], time.UTC)
	if err != nil {
		return nil, &ParseError{Token: token, Reason: "invalid range start", Err: err}
	}
	end, err := time.ParseInLocation(layout, m[2], time.UTC)
	if err != nil {
		return nil, &ParseError{Token: token, Reason: "invalid range end", Err: err}
	}

	step := defaultStep
	if m[3] != "" {
		n, err := strconv.Atoi(m[3])
		if err != nil {
			return nil, &ParseError{Token: token, Reason: "invalid step", Err: err}
		}
		if n <= 0 {
			return nil, &ParseError{Token: token, Reason: "step must be positive"}
		}
		unit, ok := units[m[4]]
		if !ok {
			return nil, &ParseError{Token: token, Reason: fmt.Sprintf("unknown step unit %q", m[4])}
		}
		if n > maxN(unit) {
			return nil, &ParseError{Token: token, Reason: fmt.Sprintf("step too large (at most %d%c)", maxN(unit), unit)}
		}
		step = Step{N: n, Unit: unit}
	}

	r := DateRange{
		token:    token,
		Start:    start,
		End:      end,
		Step:     step,
		WithTime: withTime,
		Pattern:  m[5],
	}
	if r.Pattern != "" {
		f, err := strftime.New(r.Pattern)
		if err != nil {
			return nil, &ParseError{Token: token, Reason: "invalid output format", Err: err}
		}
		r.formatter = f
	}
	if r.count(MaxSequenceLen) > MaxSequenceLen {
		return nil, &ParseError{Token: token, Reason: fmt.Sprintf("range expands to more than %d values", MaxSequenceLen)}
	}
	return r, nil
}
