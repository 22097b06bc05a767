package multidict

import "github.com/l7mp/livesync/pkg/equality"

type slot[K, V any] struct {
	key K
	val V
}

// hashTable is a map whose key equality is given by a strategy instead of Go's ==. Colliding
// keys share a bucket and are told apart with the strategy's Equal.
type hashTable[K, V any] struct {
	eq      equality.Strategy[K]
	buckets map[uint64][]*slot[K, V]
	size    int
}

func newHashTable[K, V any](eq equality.Strategy[K]) *hashTable[K, V] {
	return &hashTable[K, V]{eq: eq, buckets: make(map[uint64][]*slot[K, V])}
}

func (t *hashTable[K, V]) get(key K) (*slot[K, V], bool) {
	for _, s := range t.buckets[t.eq.Hash(key)] {
		if t.eq.Equal(s.key, key) {
			return s, true
		}
	}
	return nil, false
}

// put inserts or overwrites the value stored for key and returns its slot.
func (t *hashTable[K, V]) put(key K, val V) *slot[K, V] {
	h := t.eq.Hash(key)
	for _, s := range t.buckets[h] {
		if t.eq.Equal(s.key, key) {
			s.val = val
			return s
		}
	}
	s := &slot[K, V]{key: key, val: val}
	t.buckets[h] = append(t.buckets[h], s)
	t.size++
	return s
}

func (t *hashTable[K, V]) delete(key K) bool {
	h := t.eq.Hash(key)
	bucket := t.buckets[h]
	for i, s := range bucket {
		if !t.eq.Equal(s.key, key) {
			continue
		}
		if len(bucket) == 1 {
			delete(t.buckets, h)
		} else {
			bucket[i] = bucket[len(bucket)-1]
			bucket[len(bucket)-1] = nil
			t.buckets[h] = bucket[:len(bucket)-1]
		}
		t.size--
		return true
	}
	return false
}

func (t *hashTable[K, V]) len() int { return t.size }

// each calls f on every slot until f returns false. f must not insert or delete.
func (t *hashTable[K, V]) each(f func(s *slot[K, V]) bool) {
	for _, bucket := range t.buckets {
		for _, s := range bucket {
			if !f(s) {
				return
			}
		}
	}
}
