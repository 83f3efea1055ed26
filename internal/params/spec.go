package params

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

// Kind tags the variant of a Spec.
type Kind int

const (
	// KindList is a comma-separated list of literals.
	KindList Kind = iota + 1
	// KindDateRange is a date or date-time range.
	KindDateRange
	// KindIntRange is an integer range.
	KindIntRange
)

var kindNames = []string{"", "list", "date-range", "int-range"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// MaxSequenceLen caps how many values a single range may expand to.
const MaxSequenceLen = 1_000_000

// Sequence is the ordered list of values a Spec expands to.
// Elements are strings or fixed-width integers.
type Sequence []any

// Spec is one parsed expansion rule. It is immutable once parsed.
// The concrete types are List, DateRange and IntRange.
type Spec interface {
	Kind() Kind
	// Sequence expands the rule into its ordered values.
	Sequence() Sequence
	// String returns the token the Spec was parsed from.
	String() string
}

// List holds literal values in the order they were given.
type List struct {
	token string
	Items []string
}

func (l List) Kind() Kind     { return KindList }
func (l List) String() string { return l.token }

func (l List) Sequence() Sequence {
	seq := make(Sequence, len(l.Items))
	for i, item := range l.Items {
		seq[i] = item
	}
	return seq
}

// Unit is the unit of a range step.
type Unit byte

const (
	UnitSecond Unit = 'S'
	UnitMinute Unit = 'M'
	UnitHour   Unit = 'H'
	UnitDay    Unit = 'd'
	UnitWeek   Unit = 'w'
	UnitMonth  Unit = 'm'
)

// Step is a range increment, e.g. 2 weeks.
type Step struct {
	N    int
	Unit Unit
}

func (s Step) String() string {
	return fmt.Sprintf("%d%c", s.N, s.Unit)
}

// unitDurations holds the fixed length of the sub-day units.
var unitDurations = map[Unit]time.Duration{
	UnitHour:   time.Hour,
	UnitMinute: time.Minute,
	UnitSecond: time.Second,
}

// maxCalendarSteps caps calendar steps at about 10000 years.
var maxCalendarSteps = map[Unit]int{
	UnitDay:   3_652_425,
	UnitWeek:  521_775,
	UnitMonth: 120_000,
}

// maxN returns the largest N a step of unit u may have.
func maxN(u Unit) int {
	if d, ok := unitDurations[u]; ok {
		return int(math.MaxInt64 / int64(d))
	}
	return maxCalendarSteps[u]
}

// next returns the i-th value after start, given the previous value prev.
// Calendar steps are counted from start so that a day clamped in a short
// month does not drift; fixed steps are added to prev so the offset from
// start never has to fit in a Duration.
func (s Step) next(start, prev time.Time, i int) time.Time {
	switch s.Unit {
	case UnitMonth:
		return addMonths(start, s.N*i)
	case UnitWeek:
		return start.AddDate(0, 0, 7*s.N*i)
	case UnitDay:
		return start.AddDate(0, 0, s.N*i)
	default:
		return prev.Add(time.Duration(s.N) * unitDurations[s.Unit])
	}
}

// addMonths adds n calendar months, clamping the day to the last day of
// the target month (Jan 31 + 1 month = Feb 28/29).
func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// DateRange is an inclusive range of dates or date-times.
type DateRange struct {
	token    string
	Start    time.Time
	End      time.Time
	Step     Step
	WithTime bool
	// Pattern is the strftime output pattern, empty for the input layout.
	Pattern string

	formatter *strftime.Strftime
}

func (r DateRange) Kind() Kind     { return KindDateRange }
func (r DateRange) String() string { return r.token }

// Layout is the Go time layout of the range endpoints.
func (r DateRange) Layout() string {
	if r.WithTime {
		return dateTimeLayout
	}
	return dateLayout
}

func (r DateRange) format(t time.Time) string {
	if r.formatter != nil {
		return r.formatter.FormatString(t)
	}
	return t.Format(r.Layout())
}

func (r DateRange) Sequence() Sequence {
	seq := Sequence{}
	r.walk(func(t time.Time) bool {
		seq = append(seq, r.format(t))
		return true
	})
	return seq
}

// walk calls fn for every value of the range in order until fn returns
// false. It stops if a step fails to move forward.
func (r DateRange) walk(fn func(time.Time) bool) {
	for i, t := 1, r.Start; !t.After(r.End); i++ {
		if !fn(t) {
			return
		}
		next := r.Step.next(r.Start, t, i)
		if !next.After(t) {
			return
		}
		t = next
	}
}

// count returns the number of values the range expands to, stopping early
// once limit is exceeded.
func (r DateRange) count(limit int) int {
	n := 0
	r.walk(func(time.Time) bool {
		n++
		return n <= limit
	})
	return n
}

// IntType selects the width integers are bound with.
type IntType string

const (
	IntTypeTiny  IntType = "tinyint"
	IntTypeSmall IntType = "smallint"
	IntTypeInt   IntType = "int"
	IntTypeBig   IntType = "bigint"
)

func (t IntType) bounds() (int64, int64) {
	switch t {
	case IntTypeTiny:
		return -1 << 7, 1<<7 - 1
	case IntTypeSmall:
		return -1 << 15, 1<<15 - 1
	case IntTypeBig:
		return -1 << 63, 1<<63 - 1
	default:
		return -1 << 31, 1<<31 - 1
	}
}

func (t IntType) convert(v int64) any {
	switch t {
	case IntTypeTiny:
		return int8(v)
	case IntTypeSmall:
		return int16(v)
	case IntTypeBig:
		return v
	default:
		return int32(v)
	}
}

// IntRange is an inclusive range of integers.
type IntRange struct {
	token string
	From  int64
	To    int64
	Step  int64
	Type  IntType
}

func (r IntRange) Kind() Kind     { return KindIntRange }
func (r IntRange) String() string { return r.token }

// Len returns the number of values in the range, saturating at
// math.MaxUint64 when the full int64 range is covered with step 1.
func (r IntRange) Len() uint64 {
	if r.To < r.From {
		return 0
	}
	steps := (uint64(r.To) - uint64(r.From)) / uint64(r.Step)
	if steps == math.MaxUint64 {
		return steps
	}
	return steps + 1
}

func (r IntRange) Sequence() Sequence {
	n := r.Len()
	seq := make(Sequence, 0, n)
	v := r.From
	for i := uint64(0); i < n; i++ {
		seq = append(seq, r.Type.convert(v))
		v += r.Step
	}
	return seq
}

// Sequences expands every spec, preserving argument order.
func Sequences(specs []Spec) []Sequence {
	seqs := make([]Sequence, len(specs))
	for i, s := range specs {
		seqs[i] = s.Sequence()
	}
	return seqs
}

// Describe renders specs for log output.
func Describe(specs []Spec) string {
	parts := make([]string, len(specs))
	for i, s := range specs {
		parts[i] = fmt.Sprintf("%s(%s)", s.Kind(), s)
	}
	return strings.Join(parts, " ")
}
