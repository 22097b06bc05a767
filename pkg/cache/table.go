package cache

import (
	"bytes"
	"slices"
	"sync"

	"github.com/l7mp/livesync/pkg/equality"
	"github.com/l7mp/livesync/pkg/multidict"
	"github.com/l7mp/livesync/pkg/object"
)

// CallbackID identifies a registered row callback.
type CallbackID uint64

type rowCallback struct {
	id CallbackID
	fn func(object.Row)
}

type updateCallback struct {
	id CallbackID
	fn func(oldRow, newRow object.Row)
}

// TableCache is the local mirror of the subscribed rows of one table. Rows are keyed by the
// table's primary key, or by their content when the table has none, and reference-counted by
// the number of subscribed queries that match them.
type TableCache struct {
	mu    *sync.RWMutex
	ids   func() CallbackID
	table object.Table
	rows  *multidict.MultiDictionary[[]byte, object.Row]

	onInsert       []rowCallback
	onDelete       []rowCallback
	onBeforeDelete []rowCallback
	onUpdate       []updateCallback
}

func newTableCache(mu *sync.RWMutex, ids func() CallbackID, table object.Table) *TableCache {
	return &TableCache{
		mu:    mu,
		ids:   ids,
		table: table,
		rows:  multidict.New(equality.Bytes(), equality.Rows()),
	}
}

// Table returns the schema of the table.
func (t *TableCache) Table() object.Table { return t.table }

// Count returns the number of rows resident in the table.
func (t *TableCache) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows.Len()
}

// List returns a copy of all resident rows ordered by key.
func (t *TableCache) List() []object.Row {
	return t.Filter(func(object.Row) bool { return true })
}

// Filter returns a copy of the resident rows matching pred, ordered by key. pred must not
// call back into the cache.
func (t *TableCache) Filter(pred func(object.Row) bool) []object.Row {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type keyed struct {
		key []byte
		row object.Row
	}
	rows := []keyed{}
	t.rows.Range(func(key []byte, row object.Row, _ uint64) bool {
		if pred(row) {
			rows = append(rows, keyed{key, row})
		}
		return true
	})
	slices.SortFunc(rows, func(a, b keyed) int { return bytes.Compare(a.key, b.key) })

	ret := make([]object.Row, len(rows))
	for i := range rows {
		ret[i] = object.DeepCopy(rows[i].row)
	}
	return ret
}

// FindFunc returns the first row in key order matching pred.
func (t *TableCache) FindFunc(pred func(object.Row) bool) (object.Row, bool) {
	rows := t.Filter(pred)
	if len(rows) == 0 {
		return nil, false
	}
	return rows[0], true
}

// Get returns a copy of the row stored under key.
func (t *TableCache) Get(key []byte) (object.Row, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows.Get(key)
	if !ok {
		return nil, false
	}
	return object.DeepCopy(row), true
}

// Find returns the row whose primary-key column holds pk. It always misses for tables without
// a primary key.
func (t *TableCache) Find(pk any) (object.Row, bool) {
	if !t.table.HasPrimaryKey() {
		return nil, false
	}
	key, err := t.table.KeyOf(pk)
	if err != nil {
		return nil, false
	}
	return t.Get(key)
}

// Multiplicity returns the number of subscribed queries currently matching the row under key.
func (t *TableCache) Multiplicity(key []byte) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows.Multiplicity(key)
}

// OnInsert registers a callback run after a row becomes resident.
func (t *TableCache) OnInsert(fn func(row object.Row)) CallbackID {
	id := t.ids()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onInsert = append(t.onInsert, rowCallback{id, fn})
	return id
}

// OnDelete registers a callback run after a row stopped being resident.
func (t *TableCache) OnDelete(fn func(row object.Row)) CallbackID {
	id := t.ids()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDelete = append(t.onDelete, rowCallback{id, fn})
	return id
}

// OnBeforeDelete registers a callback run before a row is removed, while it can still be read
// from the cache.
func (t *TableCache) OnBeforeDelete(fn func(row object.Row)) CallbackID {
	id := t.ids()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onBeforeDelete = append(t.onBeforeDelete, rowCallback{id, fn})
	return id
}

// OnUpdate registers a callback run after the row under a primary key changed.
func (t *TableCache) OnUpdate(fn func(oldRow, newRow object.Row)) CallbackID {
	id := t.ids()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUpdate = append(t.onUpdate, updateCallback{id, fn})
	return id
}

// RemoveCallback unregisters a callback. It reports whether the callback was found.
func (t *TableCache) RemoveCallback(id CallbackID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	found := false
	drop := func(cbs []rowCallback) []rowCallback {
		return slices.DeleteFunc(cbs, func(cb rowCallback) bool {
			if cb.id == id {
				found = true
				return true
			}
			return false
		})
	}
	t.onInsert = drop(t.onInsert)
	t.onDelete = drop(t.onDelete)
	t.onBeforeDelete = drop(t.onBeforeDelete)
	t.onUpdate = slices.DeleteFunc(t.onUpdate, func(cb updateCallback) bool {
		if cb.id == id {
			found = true
			return true
		}
		return false
	})

	return found
}

// delta folds a set of updates against this table into one delta.
func (t *TableCache) delta(updates []TableUpdate) (*multidict.Delta[[]byte, object.Row], error) {
	d := multidict.NewDelta(equality.Bytes(), equality.Rows())
	for _, u := range updates {
		for _, row := range u.Inserts {
			key, err := t.table.Key(row)
			if err != nil {
				return nil, err
			}
			d.Add(key, object.DeepCopy(row))
		}
		for _, row := range u.Deletes {
			key, err := t.table.Key(row)
			if err != nil {
				return nil, err
			}
			d.Remove(key, row)
		}
	}
	return d, nil
}
