package multidict

import (
	"fmt"
	"strings"

	"github.com/l7mp/livesync/pkg/equality"
)

// KeyValue is a key with its value.
type KeyValue[K, V any] struct {
	Key   K
	Value V
}

type entry[V any] struct {
	value V
	mult  uint64
}

// MultiDictionary maps each live key to one current value and a multiplicity of at least 1.
// A key with multiplicity 0 is absent. A MultiDictionary is not safe for concurrent use: it has
// a single owner that mutates it through Add, Remove and Apply.
type MultiDictionary[K, V any] struct {
	valueEq equality.Strategy[V]
	entries *hashTable[K, entry[V]]
	// version is bumped on every mutation so that stale merges can be detected.
	version uint64
}

// New creates an empty MultiDictionary using the given key and value equality.
func New[K, V any](keyEq equality.Strategy[K], valueEq equality.Strategy[V]) *MultiDictionary[K, V] {
	return &MultiDictionary[K, V]{
		valueEq: valueEq,
		entries: newHashTable[K, entry[V]](keyEq),
	}
}

// FromPairs builds a MultiDictionary by adding each pair in turn. Duplicate keys are expected to
// carry the same value, in which case the result does not depend on the order of pairs.
func FromPairs[K, V any](pairs []KeyValue[K, V], keyEq equality.Strategy[K], valueEq equality.Strategy[V]) *MultiDictionary[K, V] {
	m := New(keyEq, valueEq)
	for _, p := range pairs {
		m.Add(p.Key, p.Value)
	}
	return m
}

// Add increments the multiplicity of key. An absent key becomes present with multiplicity 1 and
// the given value. For a present key the stored value is kept as is.
func (m *MultiDictionary[K, V]) Add(key K, value V) {
	m.version++
	if s, ok := m.entries.get(key); ok {
		s.val.mult++
		return
	}
	m.entries.put(key, entry[V]{value: value, mult: 1})
}

// Remove decrements the multiplicity of key. When the multiplicity drops to zero the entry is
// deleted and Remove returns the value it held together with true. Removing an absent key
// returns ErrUnderflow.
func (m *MultiDictionary[K, V]) Remove(key K) (V, bool, error) {
	var zero V
	s, ok := m.entries.get(key)
	if !ok {
		return zero, false, newKeyError(key, ErrUnderflow, "remove on absent key")
	}

	m.version++
	if s.val.mult > 1 {
		s.val.mult--
		return zero, false, nil
	}

	m.entries.delete(key)
	return s.val.value, true, nil
}

// Multiplicity returns the multiplicity of key, or 0 if absent.
func (m *MultiDictionary[K, V]) Multiplicity(key K) uint64 {
	if s, ok := m.entries.get(key); ok {
		return s.val.mult
	}
	return 0
}

// Get returns the current value of key. The second return is false if the key is absent.
func (m *MultiDictionary[K, V]) Get(key K) (V, bool) {
	if s, ok := m.entries.get(key); ok {
		return s.val.value, true
	}
	var zero V
	return zero, false
}

// Contains reports whether key is present with a value equal to value.
func (m *MultiDictionary[K, V]) Contains(key K, value V) bool {
	s, ok := m.entries.get(key)
	return ok && m.valueEq.Equal(s.val.value, value)
}

// Len returns the number of live keys.
func (m *MultiDictionary[K, V]) Len() int { return m.entries.len() }

// Range calls f for each live key, in no particular order, until f returns false. The
// dictionary must not be mutated from f.
func (m *MultiDictionary[K, V]) Range(f func(key K, value V, mult uint64) bool) {
	m.entries.each(func(s *slot[K, entry[V]]) bool {
		return f(s.key, s.val.value, s.val.mult)
	})
}

// Equal reports whether two dictionaries hold the same keys, each with an equal value and the
// same multiplicity. Key and value equality of m are used.
func (m *MultiDictionary[K, V]) Equal(other *MultiDictionary[K, V]) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.Len() != other.Len() {
		return false
	}

	equal := true
	m.entries.each(func(s *slot[K, entry[V]]) bool {
		o, ok := other.entries.get(s.key)
		if !ok || o.val.mult != s.val.mult || !m.valueEq.Equal(o.val.value, s.val.value) {
			equal = false
		}
		return equal
	})

	return equal
}

// String returns a representation of the dictionary for debugging.
func (m *MultiDictionary[K, V]) String() string {
	if m.Len() == 0 {
		return "{}"
	}

	parts := make([]string, 0, m.Len())
	m.Range(func(key K, value V, mult uint64) bool {
		parts = append(parts, fmt.Sprintf("%v: %v×%d", key, value, mult))
		return true
	})

	return "{" + strings.Join(parts, ", ") + "}"
}
