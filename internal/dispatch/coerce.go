package dispatch

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var errNotBool = errors.New(`expected "true" or "false"`)

// coerce converts arg to the declared parameter type want. Numeric and bool
// parameters are parsed from the argument's textual form, string parameters
// take the textual form, and every other type is passed through when it is
// assignable or convertible.
func coerce(arg any, want reflect.Type) (any, error) {
	out := reflect.New(want).Elem()

	switch want.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(text(arg), 10, want.Bits())
		if err != nil {
			return nil, err
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := strconv.ParseUint(text(arg), 10, want.Bits())
		if err != nil {
			return nil, err
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text(arg), want.Bits())
		if err != nil {
			return nil, err
		}
		out.SetFloat(f)
	case reflect.Bool:
		s := text(arg)
		switch {
		case strings.EqualFold(s, "true"):
			out.SetBool(true)
		case strings.EqualFold(s, "false"):
			out.SetBool(false)
		default:
			return nil, errNotBool
		}
	case reflect.String:
		out.SetString(text(arg))
	default:
		return passThrough(arg, want)
	}
	return out.Interface(), nil
}

func passThrough(arg any, want reflect.Type) (any, error) {
	if arg == nil {
		return reflect.Zero(want).Interface(), nil
	}
	v := reflect.ValueOf(arg)
	switch {
	case v.Type().AssignableTo(want):
		return arg, nil
	case v.Type().ConvertibleTo(want):
		return v.Convert(want).Interface(), nil
	default:
		return nil, fmt.Errorf("%s is not convertible", v.Type())
	}
}

func text(arg any) string {
	if arg == nil {
		return ""
	}
	if s, ok := arg.(string); ok {
		return s
	}
	return fmt.Sprint(arg)
}
