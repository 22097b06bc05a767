package multidict

import "fmt"

// Update reports that the value tracked for a key changed. It is emitted whenever the live value
// after a merge differs from the one before, which callers treat as an update whether or not the
// two values are otherwise similar.
type Update[K, V any] struct {
	Key K
	Old V
	New V
}

// Changes classifies the net effect of a merge per key.
type Changes[K, V any] struct {
	Inserted []KeyValue[K, V]
	Updated  []Update[K, V]
	Removed  []KeyValue[K, V]
}

// IsEmpty reports whether the merge produced no event.
func (c *Changes[K, V]) IsEmpty() bool {
	return len(c.Inserted) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Len returns the number of events.
func (c *Changes[K, V]) Len() int {
	return len(c.Inserted) + len(c.Updated) + len(c.Removed)
}

// step is the resolved state of one key after a merge. mult == 0 means the entry is deleted.
type step[K, V any] struct {
	key    K
	old    V
	hadOld bool
	next   V
	mult   uint64
}

// Merge is a prepared, not yet committed merge of a delta into a dictionary.
type Merge[K, V any] struct {
	dict      *MultiDictionary[K, V]
	version   uint64
	steps     []step[K, V]
	changes   *Changes[K, V]
	committed bool
}

// Changes returns the events the merge produces on commit.
func (mg *Merge[K, V]) Changes() *Changes[K, V] { return mg.changes }

// Stale reports whether Commit would fail with ErrStaleMerge.
func (mg *Merge[K, V]) Stale() bool {
	return mg.committed || mg.dict.version != mg.version
}

// Commit writes the merge into its dictionary. It fails with ErrStaleMerge if the dictionary
// was mutated since Prepare or the merge was already committed, leaving the dictionary as is.
func (mg *Merge[K, V]) Commit() (*Changes[K, V], error) {
	if mg.committed {
		return nil, fmt.Errorf("%w: merge already committed", ErrStaleMerge)
	}
	if mg.dict.version != mg.version {
		return nil, fmt.Errorf("%w: dictionary mutated since prepare", ErrStaleMerge)
	}

	entries := mg.dict.entries
	for _, st := range mg.steps {
		if st.mult == 0 {
			entries.delete(st.key)
			continue
		}
		entries.put(st.key, entry[V]{value: st.next, mult: st.mult})
	}

	mg.dict.version++
	mg.committed = true
	return mg.changes, nil
}

// Prepare merges delta into the dictionary without mutating it. All keys are resolved first, so
// an invariant violation on any key fails the whole merge: ErrUnderflow if a (key, value) count
// would go negative, ErrAmbiguousValue if more than one value would stay live under a key.
func (m *MultiDictionary[K, V]) Prepare(delta *Delta[K, V]) (*Merge[K, V], error) {
	mg := &Merge[K, V]{dict: m, version: m.version, changes: &Changes[K, V]{}}
	if delta == nil {
		return mg, nil
	}

	mg.steps = make([]step[K, V], 0, delta.keys.len())
	var err error
	delta.keys.each(func(ks *slot[K, *hashTable[V, int64]]) bool {
		var st step[K, V]
		st, err = m.resolve(ks.key, ks.val)
		if err != nil {
			return false
		}

		switch {
		case !st.hadOld && st.mult == 0:
			// net zero on an absent key
			return true
		case st.hadOld && st.mult == 0:
			mg.changes.Removed = append(mg.changes.Removed, KeyValue[K, V]{Key: st.key, Value: st.old})
		case !st.hadOld:
			mg.changes.Inserted = append(mg.changes.Inserted, KeyValue[K, V]{Key: st.key, Value: st.next})
		case !m.valueEq.Equal(st.old, st.next):
			mg.changes.Updated = append(mg.changes.Updated, Update[K, V]{Key: st.key, Old: st.old, New: st.next})
		}

		mg.steps = append(mg.steps, st)
		return true
	})
	if err != nil {
		return nil, err
	}

	return mg, nil
}

// Apply merges delta into the dictionary atomically and returns the classified changes. On error
// the dictionary is left untouched.
func (m *MultiDictionary[K, V]) Apply(delta *Delta[K, V]) (*Changes[K, V], error) {
	mg, err := m.Prepare(delta)
	if err != nil {
		return nil, err
	}
	return mg.Commit()
}

type valueCount[V any] struct {
	value V
	count int64
}

// resolve folds the delta's counts for key with the dictionary's current entry.
func (m *MultiDictionary[K, V]) resolve(key K, values *hashTable[V, int64]) (step[K, V], error) {
	st := step[K, V]{key: key}

	counts := make([]valueCount[V], 0, values.len()+1)
	values.each(func(vs *slot[V, int64]) bool {
		counts = append(counts, valueCount[V]{value: vs.key, count: vs.val})
		return true
	})

	if cur, ok := m.entries.get(key); ok {
		st.hadOld, st.old = true, cur.val.value
		found := false
		for i := range counts {
			if m.valueEq.Equal(counts[i].value, cur.val.value) {
				// keep the stored instance
				counts[i].value = cur.val.value
				counts[i].count += int64(cur.val.mult)
				found = true
				break
			}
		}
		if !found {
			counts = append(counts, valueCount[V]{value: cur.val.value, count: int64(cur.val.mult)})
		}
	}

	for _, c := range counts {
		if c.count < 0 {
			return st, newKeyError(key, ErrUnderflow, "value %v would reach count %d", c.value, c.count)
		}
	}

	live := -1
	for i, c := range counts {
		if c.count == 0 {
			continue
		}
		if live >= 0 {
			return st, newKeyError(key, ErrAmbiguousValue, "values %v and %v both live",
				counts[live].value, c.value)
		}
		live = i
	}

	if live >= 0 {
		st.next, st.mult = counts[live].value, uint64(counts[live].count)
	}

	return st, nil
}
