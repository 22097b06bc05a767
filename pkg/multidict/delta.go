package multidict

import (
	"fmt"
	"strings"

	"github.com/l7mp/livesync/pkg/equality"
)

// Delta is a batch of pending signed changes: for each (key, value) pair the net number of Add
// calls minus Remove calls. Pairs whose net count is zero are not stored, so two deltas built
// from any permutation of the same calls are Equal.
type Delta[K, V any] struct {
	valueEq equality.Strategy[V]
	keys    *hashTable[K, *hashTable[V, int64]]
	size    int
}

// NewDelta creates an empty delta using the given key and value equality.
func NewDelta[K, V any](keyEq equality.Strategy[K], valueEq equality.Strategy[V]) *Delta[K, V] {
	return &Delta[K, V]{
		valueEq: valueEq,
		keys:    newHashTable[K, *hashTable[V, int64]](keyEq),
	}
}

// Add contributes +1 to the net count of (key, value).
func (d *Delta[K, V]) Add(key K, value V) { d.add(key, value, 1) }

// Remove contributes -1 to the net count of (key, value).
func (d *Delta[K, V]) Remove(key K, value V) { d.add(key, value, -1) }

func (d *Delta[K, V]) add(key K, value V, n int64) {
	if n == 0 {
		return
	}

	ks, ok := d.keys.get(key)
	if !ok {
		ks = d.keys.put(key, newHashTable[V, int64](d.valueEq))
	}
	values := ks.val

	vs, ok := values.get(value)
	if !ok {
		values.put(value, n)
		d.size++
		return
	}

	vs.val += n
	if vs.val != 0 {
		return
	}

	values.delete(value)
	d.size--
	if values.len() == 0 {
		d.keys.delete(key)
	}
}

// Count returns the net count of (key, value).
func (d *Delta[K, V]) Count(key K, value V) int64 {
	ks, ok := d.keys.get(key)
	if !ok {
		return 0
	}
	if vs, ok := ks.val.get(value); ok {
		return vs.val
	}
	return 0
}

// Len returns the number of (key, value) pairs with a non-zero net count.
func (d *Delta[K, V]) Len() int { return d.size }

// IsZero reports whether the delta holds no change.
func (d *Delta[K, V]) IsZero() bool { return d.size == 0 }

// Range calls f for every (key, value) pair with a non-zero net count until f returns false.
func (d *Delta[K, V]) Range(f func(key K, value V, count int64) bool) {
	d.keys.each(func(ks *slot[K, *hashTable[V, int64]]) bool {
		cont := true
		ks.val.each(func(vs *slot[V, int64]) bool {
			cont = f(ks.key, vs.key, vs.val)
			return cont
		})
		return cont
	})
}

// Merge adds the net counts of other to d.
func (d *Delta[K, V]) Merge(other *Delta[K, V]) {
	if other == nil {
		return
	}

	type change struct {
		key   K
		value V
		count int64
	}
	// collect first: other may be d itself
	changes := make([]change, 0, other.Len())
	other.Range(func(key K, value V, count int64) bool {
		changes = append(changes, change{key, value, count})
		return true
	})
	for _, c := range changes {
		d.add(c.key, c.value, c.count)
	}
}

// Equal reports whether two deltas hold identical net counts.
func (d *Delta[K, V]) Equal(other *Delta[K, V]) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.Len() != other.Len() {
		return false
	}

	equal := true
	d.Range(func(key K, value V, count int64) bool {
		equal = other.Count(key, value) == count
		return equal
	})

	return equal
}

// WillRemove reports, without mutating anything, the (key, value) pairs of m whose
// multiplicity would drop to zero if the delta were applied to m now. Keys on which the merge
// would fail are skipped; Apply reports those.
func (d *Delta[K, V]) WillRemove(m *MultiDictionary[K, V]) []KeyValue[K, V] {
	var ret []KeyValue[K, V]
	d.keys.each(func(ks *slot[K, *hashTable[V, int64]]) bool {
		st, err := m.resolve(ks.key, ks.val)
		if err == nil && st.hadOld && st.mult == 0 {
			ret = append(ret, KeyValue[K, V]{Key: ks.key, Value: st.old})
		}
		return true
	})
	return ret
}

// String returns a representation of the delta for debugging.
func (d *Delta[K, V]) String() string {
	if d.IsZero() {
		return "∅"
	}

	parts := make([]string, 0, d.Len())
	d.Range(func(key K, value V, count int64) bool {
		parts = append(parts, fmt.Sprintf("%v: %v×%+d", key, value, count))
		return true
	})

	return "{" + strings.Join(parts, ", ") + "}"
}
