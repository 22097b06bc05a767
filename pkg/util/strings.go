package util

import (
	"cmp"
	"fmt"
	"slices"

	"k8s.io/apimachinery/pkg/util/json"
)

// functional map: (a -> b) -> [a] -> [b]
func Map[T, U any](f func(T) U, s []T) []U {
	result := make([]U, len(s))
	for i, v := range s {
		result[i] = f(v)
	}
	return result
}

// SortedKeys returns the keys of a map in ascending order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Stringify renders a value as a single line of JSON, falling back to Go syntax for values JSON
// cannot encode.
func Stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}
