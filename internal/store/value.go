package store

import (
	"encoding"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is how time.Time values are rendered: RFC 3339 in UTC
// with millisecond precision, e.g. 2019-08-21T10:32:10.471Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ToJSON maps a value returned by a store driver to one encoding/json can
// emit without loss of meaning. Values it cannot represent produce a
// *SerializationError.
func ToJSON(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x, nil
	case float32:
		if err := checkFloat(v, float64(x)); err != nil {
			return nil, err
		}
		return x, nil
	case float64:
		if err := checkFloat(v, x); err != nil {
			return nil, err
		}
		return x, nil
	case time.Time:
		return x.UTC().Format(TimestampLayout), nil
	case time.Duration:
		return x.String(), nil
	case net.IP:
		if x == nil {
			return nil, nil
		}
		return x.String(), nil
	case uuid.UUID:
		return x.String(), nil
	case []byte:
		if x == nil {
			return nil, nil
		}
		return "0x" + hex.EncodeToString(x), nil
	case *big.Int:
		if x == nil {
			return nil, nil
		}
		return json.Number(x.String()), nil
	case *big.Float:
		if x == nil {
			return nil, nil
		}
		if x.IsInf() {
			return nil, &SerializationError{Value: v, Reason: "infinite value"}
		}
		return json.Number(x.Text('g', -1)), nil
	case json.Number:
		return x, nil
	case json.RawMessage:
		return x, nil
	case []any:
		if x == nil {
			return nil, nil
		}
		return toJSONSlice(reflect.ValueOf(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			je, err := ToJSON(e)
			if err != nil {
				return nil, err
			}
			out[k] = je
		}
		return out, nil
	}

	return toJSONReflect(v)
}

// toJSONReflect handles named and composite types the type switch cannot
// enumerate: pointers, collections, byte arrays and types exposing their own
// encoding.
func toJSONReflect(v any) (any, error) {
	rv := reflect.ValueOf(v)

	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
	}

	// Self-describing types go first so a pointer to one keeps its methods.
	switch x := v.(type) {
	case json.Marshaler:
		return x, nil
	case encoding.TextMarshaler:
		b, err := x.MarshalText()
		if err != nil {
			return nil, &SerializationError{Value: v, Reason: err.Error()}
		}
		return string(b), nil
	case fmt.Stringer:
		return x.String(), nil
	}

	switch rv.Kind() {
	case reflect.Pointer:
		return ToJSON(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return ToJSON(rv.Float())
	case reflect.Array:
		if rv.Len() == 16 && rv.Type().Elem().Kind() == reflect.Uint8 {
			var u uuid.UUID
			for i := range u {
				u[i] = byte(rv.Index(i).Uint())
			}
			return u.String(), nil
		}
		return toJSONSlice(rv)
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return "0x" + hex.EncodeToString(rv.Bytes()), nil
		}
		return toJSONSlice(rv)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		return toJSONMap(rv)
	}

	return nil, &SerializationError{Value: v, Reason: "unsupported type"}
}

func toJSONSlice(rv reflect.Value) (any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		e, err := ToJSON(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// toJSONMap renders a map as an object. Non-string keys are mapped like
// values and then printed, so a map keyed by int or uuid keeps readable keys.
func toJSONMap(rv reflect.Value) (any, error) {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		var key string
		if k := iter.Key(); k.Kind() == reflect.String {
			key = k.String()
		} else {
			jk, err := ToJSON(k.Interface())
			if err != nil {
				return nil, err
			}
			key = fmt.Sprint(jk)
		}
		jv, err := ToJSON(iter.Value().Interface())
		if err != nil {
			return nil, err
		}
		out[key] = jv
	}
	return out, nil
}

func checkFloat(v any, f float64) error {
	switch {
	case math.IsNaN(f):
		return &SerializationError{Value: v, Reason: "NaN has no JSON representation"}
	case math.IsInf(f, 0):
		return &SerializationError{Value: v, Reason: "infinity has no JSON representation"}
	}
	return nil
}

// RowToJSON maps every value of one row, tagging a failure with the name of
// the column that produced it.
func RowToJSON(columns []string, row []any) ([]any, error) {
	out := make([]any, len(row))
	for i, v := range row {
		jv, err := ToJSON(v)
		if err != nil {
			var se *SerializationError
			if errors.As(err, &se) && se.Column == "" && i < len(columns) {
				se.Column = columns[i]
			}
			return nil, err
		}
		out[i] = jv
	}
	return out, nil
}
