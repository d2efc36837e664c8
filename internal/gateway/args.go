package gateway

import (
	"encoding/json"
	"math"
)

// Args is a decoded argument bag, as produced by encoding/json for a JSON
// object. Accessors report ill-typed values as InvalidArguments.
//
// Argsはデコード済みの引数バッグです。アクセサは型の合わない値を
// InvalidArgumentsとして報告します。
type Args map[string]any

func invalidArg(name string) *Error {
	return newError(KindInvalidArguments, "missing or invalid %s parameter", name)
}

// RequiredString returns a non-empty string argument.
func (a Args) RequiredString(name string) (string, *Error) {
	s, ok := a[name].(string)
	if !ok || s == "" {
		return "", invalidArg(name)
	}
	return s, nil
}

// String returns a string argument, or def when absent.
// An empty string is a valid value.
func (a Args) String(name, def string) (string, *Error) {
	v, present := a[name]
	if !present || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArg(name)
	}
	return s, nil
}

// Bool returns a boolean argument, or def when absent.
func (a Args) Bool(name string, def bool) (bool, *Error) {
	v, present := a[name]
	if !present || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalidArg(name)
	}
	return b, nil
}

// Int returns an integral numeric argument, or def when absent.
func (a Args) Int(name string, def int64) (int64, *Error) {
	v, present := a[name]
	if !present || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, invalidArg(name)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, invalidArg(name)
		}
		return i, nil
	default:
		return 0, invalidArg(name)
	}
}

// StringSlice returns a string array argument; absent means empty.
func (a Args) StringSlice(name string) ([]string, *Error) {
	v, present := a[name]
	if !present || v == nil {
		return nil, nil
	}
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, invalidArg(name)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, invalidArg(name)
	}
}
