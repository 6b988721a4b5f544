package httpclient

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// toQueryString serializes params in sorted key order. Slices expand to
// key[]=v pairs, maps to key[sub]=v pairs, and nil values are dropped.
func toQueryString(params Params, encode ParameterEncoder) string {
	parts := make([]string, 0, len(params))
	for _, key := range sortedKeys(params) {
		parts = appendQueryPair(parts, key, "", params[key], encode)
	}
	return strings.Join(parts, "&")
}

func appendQueryPair(parts []string, key, suffix string, value any, encode ParameterEncoder) []string {
	if value == nil {
		return parts
	}

	switch v := value.(type) {
	case string:
		return append(parts, encode(key+suffix)+"="+encode(v))
	case fmt.Stringer:
		return append(parts, encode(key+suffix)+"="+encode(v.String()))
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return parts
		}
		return appendQueryPair(parts, key, suffix, rv.Elem().Interface(), encode)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return append(parts, encode(key+suffix)+"="+encode(string(rv.Bytes())))
		}
		for i := range rv.Len() {
			parts = appendQueryPair(parts, key, suffix+"[]", rv.Index(i).Interface(), encode)
		}
		return parts
	case reflect.Map:
		subKeys := make([]string, 0, rv.Len())
		values := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			subKeys = append(subKeys, k)
			values[k] = iter.Value().Interface()
		}
		slices.Sort(subKeys)
		for _, k := range subKeys {
			parts = appendQueryPair(parts, key, suffix+"["+k+"]", values[k], encode)
		}
		return parts
	default:
		return append(parts, encode(key+suffix)+"="+encode(fmt.Sprint(value)))
	}
}

// stringify renders a parameter value for path interpolation.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []string:
		return strings.Join(v, ",")
	case []byte:
		return string(v)
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]string, 0, rv.Len())
		for i := range rv.Len() {
			items = append(items, stringify(rv.Index(i).Interface()))
		}
		return strings.Join(items, ",")
	}
	return fmt.Sprint(value)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
