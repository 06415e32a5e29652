package connector

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"time"
	"unicode/utf8"
)

// Coerce converts a driver value into one of the wire-safe scalars an
// ExecutionResult may hold: string, int64, float64, bool, nil, or an
// RFC 3339 timestamp string.
func Coerce(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, int64:
		return x
	case float64:
		return finite(x)
	case []byte:
		if utf8.Valid(x) {
			return string(x)
		}
		return base64.StdEncoding.EncodeToString(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.Format(time.RFC3339Nano)
	case float32:
		return finite(float64(x))
	case *big.Int:
		return x.String()
	case *big.Float:
		return x.Text('f', -1)
	case *big.Rat:
		return x.FloatString(10)
	case fmt.Stringer:
		// decimal types, UUIDs, intervals
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return fmt.Sprintf("%d", u)
		}
		return int64(u)
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return Coerce(rv.Elem().Interface())
	}
	return fmt.Sprintf("%v", v)
}

// finite keeps NaN and infinities, which JSON cannot carry, as strings.
func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Sprintf("%v", f)
	}
	return f
}
