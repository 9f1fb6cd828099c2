// Package attrs reads values back out of slog-style argument lists, where
// an entry is either a key string followed by its value or a slog.Attr.
package attrs

import (
	"fmt"
	"log/slog"
)

// Lookup returns the string form of key's value in args. String values,
// slog string values and fmt.Stringer values (addresses, hashes) count;
// anything else reports false.
func Lookup(args []any, key string) (string, bool) {
	for i := 0; i < len(args); i++ {
		switch k := args[i].(type) {
		case slog.Attr:
			if k.Key == key {
				return stringValue(k.Value.Resolve())
			}
		case string:
			if i+1 >= len(args) {
				return "", false
			}
			i++
			if k == key {
				return stringValue(slog.AnyValue(args[i]).Resolve())
			}
		}
	}
	return "", false
}

// ExtractString is Lookup without the found flag; it returns "" when key is
// missing or not string-like.
func ExtractString(args []any, key string) string {
	v, _ := Lookup(args, key)
	return v
}

func stringValue(v slog.Value) (string, bool) {
	switch v.Kind() {
	case slog.KindString:
		return v.String(), true
	case slog.KindAny:
		if s, ok := v.Any().(fmt.Stringer); ok {
			return s.String(), true
		}
	}
	return "", false
}
