// Package cache implements the client-side mirror of the subscribed subset of a database. Each
// transaction's per-query row changes are merged into reference-counted table caches, and the
// net effect is reported as insert, update and delete events and row callbacks.
package cache

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/l7mp/livesync/pkg/multidict"
	"github.com/l7mp/livesync/pkg/object"
	"github.com/l7mp/livesync/pkg/util"
)

var (
	// ErrUnknownTable is returned for updates against a table that was never registered.
	ErrUnknownTable = errors.New("unknown table")
	// ErrTableConflict is returned when a table is registered twice with different schemas.
	ErrTableConflict = errors.New("conflicting table schema")
)

// Options configures a ClientCache.
type Options struct {
	Logger logr.Logger
}

// ClientCache holds one TableCache per table. Updates are applied with Apply, which is
// serialized; readers may run concurrently from other goroutines. Callbacks must not call Apply.
type ClientCache struct {
	applyMu sync.Mutex
	mu      sync.RWMutex
	tables  map[string]*TableCache
	nextID  atomic.Uint64
	log     logr.Logger
}

// New creates an empty client cache.
func New(opts Options) *ClientCache {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return &ClientCache{
		tables: make(map[string]*TableCache),
		log:    logger.WithName("cache"),
	}
}

func (c *ClientCache) newCallbackID() CallbackID { return CallbackID(c.nextID.Add(1)) }

// RegisterTable creates the cache for a table. Registering the same table twice is a no-op.
func (c *ClientCache) RegisterTable(table object.Table) (*TableCache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tables[table.Name]; ok {
		if t.table != table {
			return nil, fmt.Errorf("%w: table %q registered with primary key %q, got %q",
				ErrTableConflict, table.Name, t.table.PrimaryKey, table.PrimaryKey)
		}
		c.log.V(8).Info("refusing to register table: cache already exists", "table", table.Name)
		return t, nil
	}

	c.log.V(1).Info("registering table", "table", table.Name, "primary-key", table.PrimaryKey)
	t := newTableCache(&c.mu, c.newCallbackID, table)
	c.tables[table.Name] = t

	return t, nil
}

// Table returns the cache of a registered table.
func (c *ClientCache) Table(name string) (*TableCache, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	return t, ok
}

// Tables returns the names of the registered tables in order.
func (c *ClientCache) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return util.SortedKeys(c.tables)
}

type tableMerge struct {
	table    *TableCache
	merge    *multidict.Merge[[]byte, object.Row]
	removing []multidict.KeyValue[[]byte, object.Row]
}

// prepare groups updates by table and prepares one merge per table, without mutating anything.
func (c *ClientCache) prepare(updates []TableUpdate) ([]tableMerge, error) {
	byTable := map[string][]TableUpdate{}
	for _, u := range updates {
		if u.IsEmpty() {
			continue
		}
		byTable[u.Table] = append(byTable[u.Table], u)
	}

	names := util.SortedKeys(byTable)

	merges := make([]tableMerge, 0, len(names))
	for _, name := range names {
		t, ok := c.tables[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
		}

		d, err := t.delta(byTable[name])
		if err != nil {
			return nil, err
		}

		mg, err := t.rows.Prepare(d)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", name, err)
		}

		var removing []multidict.KeyValue[[]byte, object.Row]
		if len(t.onBeforeDelete) > 0 {
			removing = d.WillRemove(t.rows)
		}

		merges = append(merges, tableMerge{table: t, merge: mg, removing: removing})
	}

	return merges, nil
}

// PendingUpdate is a validated update that has not been written to the cache yet.
type PendingUpdate struct {
	cache  *ClientCache
	merges []tableMerge
}

// Prepare validates a transaction's updates against every table without mutating the cache.
func (c *ClientCache) Prepare(updates []TableUpdate) (*PendingUpdate, error) {
	c.mu.RLock()
	merges, err := c.prepare(updates)
	c.mu.RUnlock()
	if err != nil {
		c.log.Error(err, "rejecting update")
		return nil, err
	}

	return &PendingUpdate{cache: c, merges: merges}, nil
}

// Commit writes a prepared update. Events are returned per table (in name order) as deletes,
// inserts and updates, each ordered by row key. Before-delete callbacks run before the rows are
// removed, all other callbacks after every table has been written. If the cache was updated
// since Prepare, Commit fails with multidict.ErrStaleMerge and writes nothing.
func (p *PendingUpdate) Commit() ([]Event, error) {
	c := p.cache
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	if err := p.stale(); err != nil {
		return nil, err
	}

	for _, tm := range p.merges {
		for _, kv := range tm.removing {
			for _, cb := range c.snapshotRowCallbacks(&tm.table.onBeforeDelete) {
				cb.fn(object.DeepCopy(kv.Value))
			}
		}
	}

	c.mu.Lock()
	events := []Event{}
	for _, tm := range p.merges {
		changes, err := tm.merge.Commit()
		if err != nil {
			// cannot happen: commits are serialized and staleness was checked
			c.mu.Unlock()
			return nil, fmt.Errorf("table %q: %w", tm.table.table.Name, err)
		}
		events = append(events, toEvents(tm.table.table.Name, changes)...)
	}
	c.mu.Unlock()

	c.log.V(4).Info("update applied", "tables", len(p.merges), "events", len(events))

	c.dispatch(events)

	return events, nil
}

func (p *PendingUpdate) stale() error {
	p.cache.mu.RLock()
	defer p.cache.mu.RUnlock()
	for _, tm := range p.merges {
		if tm.merge.Stale() {
			return fmt.Errorf("table %q: %w", tm.table.table.Name, multidict.ErrStaleMerge)
		}
	}
	return nil
}

// Apply merges a transaction's updates into the cache: all tables are validated before any is
// written, and on error the cache is unchanged. See PendingUpdate.Commit for the event order.
func (c *ClientCache) Apply(updates []TableUpdate) ([]Event, error) {
	p, err := c.Prepare(updates)
	if err != nil {
		return nil, err
	}
	return p.Commit()
}

func (c *ClientCache) snapshotRowCallbacks(cbs *[]rowCallback) []rowCallback {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(*cbs)
}

func (c *ClientCache) dispatch(events []Event) {
	for _, e := range events {
		t, ok := c.Table(e.Table)
		if !ok {
			continue
		}

		c.mu.RLock()
		var rowCbs []rowCallback
		var updateCbs []updateCallback
		switch e.Type {
		case Inserted:
			rowCbs = slices.Clone(t.onInsert)
		case Deleted:
			rowCbs = slices.Clone(t.onDelete)
		case Updated:
			updateCbs = slices.Clone(t.onUpdate)
		}
		c.mu.RUnlock()

		for _, cb := range rowCbs {
			if e.Type == Inserted {
				cb.fn(e.New)
			} else {
				cb.fn(e.Old)
			}
		}
		for _, cb := range updateCbs {
			cb.fn(e.Old, e.New)
		}
	}
}

func toEvents(table string, changes *multidict.Changes[[]byte, object.Row]) []Event {
	byKey := func(a, b Event) int { return bytes.Compare(a.Key, b.Key) }

	deleted := make([]Event, 0, len(changes.Removed))
	for _, kv := range changes.Removed {
		deleted = append(deleted, Event{Type: Deleted, Table: table, Key: kv.Key, Old: object.DeepCopy(kv.Value)})
	}
	slices.SortFunc(deleted, byKey)

	inserted := make([]Event, 0, len(changes.Inserted))
	for _, kv := range changes.Inserted {
		inserted = append(inserted, Event{Type: Inserted, Table: table, Key: kv.Key, New: object.DeepCopy(kv.Value)})
	}
	slices.SortFunc(inserted, byKey)

	updated := make([]Event, 0, len(changes.Updated))
	for _, u := range changes.Updated {
		updated = append(updated, Event{Type: Updated, Table: table, Key: u.Key,
			Old: object.DeepCopy(u.Old), New: object.DeepCopy(u.New)})
	}
	slices.SortFunc(updated, byKey)

	return append(append(deleted, inserted...), updated...)
}
