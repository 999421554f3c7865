package feeders

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

var durationType = reflect.TypeOf(time.Duration(0))

// convertString converts a raw string value to the target field type.
// Durations use time.ParseDuration syntax ("30s", "2h30m"), pointer
// targets are allocated, and []string targets split on commas. All other
// scalar kinds delegate to golobby/cast.
func convertString(value string, targetType reflect.Type) (interface{}, error) {
	if targetType == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("cannot parse '%s' as duration: %w", value, err)
		}
		return d, nil
	}

	switch targetType.Kind() {
	case reflect.Ptr:
		inner, err := convertString(value, targetType.Elem())
		if err != nil {
			return nil, err
		}
		p := reflect.New(targetType.Elem())
		p.Elem().Set(reflect.ValueOf(inner))
		return p.Interface(), nil
	case reflect.Slice:
		if targetType.Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, part := range parts {
				out = append(out, strings.TrimSpace(part))
			}
			return out, nil
		}
	case reflect.Invalid, reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16,
		reflect.Int32, reflect.Int64, reflect.Uint, reflect.Uint8, reflect.Uint16,
		reflect.Uint32, reflect.Uint64, reflect.Uintptr, reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128, reflect.Array, reflect.Chan, reflect.Func,
		reflect.Interface, reflect.Map, reflect.String, reflect.Struct, reflect.UnsafePointer:
	}

	converted, err := cast.FromType(value, targetType)
	if err != nil {
		return nil, fmt.Errorf("cannot convert value to type %v: %w", targetType, err)
	}
	return converted, nil
}
