// Package params parses the expansion rules given on the command line for
// each query placeholder.
//
// A token is either a List of literal values or a Range:
//
//	nz,us,au,cn                       List, values used verbatim
//	2019-12-01..2019-12-31/1d         date range, inclusive, daily
//	2019-09-01..2019-12-01/1m/%Y%m%d  monthly, custom output format
//	2019-12-01T00:00:00..2019-12-01T06:00:00/30M
//	1..100/10/smallint                integer range bound as int16
//
// Every Spec expands to a Sequence. Lists expand to strings; date ranges
// expand to strings formatted like the input (or the given strftime
// pattern); integer ranges expand to typed integers so the store sees a
// native integer parameter.
//
// The end of a range is inclusive. A range whose end is before its start
// expands to an empty Sequence, which makes the whole run empty.
package params
