// Package subscription maintains the committed state of a set of tables and, for every
// connected client, the rows its subscribed queries currently match. Each committed
// transaction is turned into at most one atomic update message per client.
package subscription

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/l7mp/livesync/pkg/cache"
	"github.com/l7mp/livesync/pkg/equality"
	"github.com/l7mp/livesync/pkg/multidict"
	"github.com/l7mp/livesync/pkg/object"
	"github.com/l7mp/livesync/pkg/util"
)

var (
	ErrUnknownClient = errors.New("unknown connection")
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownQuery  = errors.New("unknown query")
	ErrInvalidQuery  = errors.New("invalid query")
	ErrQueryConflict = errors.New("query id already subscribed with a different definition")
	ErrDuplicateRow  = errors.New("duplicate row")
)

// Options configures a Manager.
type Options struct {
	Logger logr.Logger
	// Registerer, if set, receives the manager's metrics.
	Registerer prometheus.Registerer
}

type subscribedQuery struct {
	*compiledQuery
	refs int
}

type client struct {
	id       ConnectionID
	identity object.Identity
	cache    *cache.ClientCache
	queries  map[string]*subscribedQuery
}

// updatesFor evaluates the client's queries on a table write. A row matched by several queries,
// or by a query subscribed several times, appears once per match.
func (c *client) updatesFor(w cache.TableUpdate) []cache.TableUpdate {
	var ret []cache.TableUpdate
	for _, id := range c.queryIDs() {
		q := c.queries[id]
		if q.Table != w.Table {
			continue
		}
		u := cache.TableUpdate{Table: w.Table, Inserts: q.filter(w.Inserts), Deletes: q.filter(w.Deletes)}
		if u.IsEmpty() {
			continue
		}
		for i := 0; i < q.refs; i++ {
			ret = append(ret, u)
		}
	}
	return ret
}

func (c *client) queryIDs() []string { return util.SortedKeys(c.queries) }

// Manager tracks the committed database state and the subscriptions of connected clients. All
// operations are serialized.
type Manager struct {
	mu      sync.Mutex
	tables  map[string]object.Table
	db      map[string]*multidict.MultiDictionary[[]byte, object.Row]
	clients map[ConnectionID]*client
	order   []ConnectionID
	offset  uint64
	metrics *metrics
	logger  logr.Logger
	log     logr.Logger
}

// NewManager creates a manager over the given tables, all initially empty.
func NewManager(tables []object.Table, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	metrics, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	m := &Manager{
		tables:  make(map[string]object.Table, len(tables)),
		db:      make(map[string]*multidict.MultiDictionary[[]byte, object.Row], len(tables)),
		clients: make(map[ConnectionID]*client),
		metrics: metrics,
		logger:  logger,
		log:     logger.WithName("subscription"),
	}

	for _, t := range tables {
		if _, ok := m.tables[t.Name]; ok {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
		m.tables[t.Name] = t
		m.db[t.Name] = multidict.New(equality.Bytes(), equality.Rows())
	}

	return m, nil
}

// Offset returns the number of transactions processed so far.
func (m *Manager) Offset() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// Rows returns the committed rows of a table ordered by key.
func (m *Manager) Rows(table string) ([]object.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	type keyed struct {
		key []byte
		row object.Row
	}
	rows := []keyed{}
	m.db[t.Name].Range(func(key []byte, row object.Row, _ uint64) bool {
		rows = append(rows, keyed{key, row})
		return true
	})
	slices.SortFunc(rows, func(a, b keyed) int { return bytes.Compare(a.key, b.key) })

	ret := make([]object.Row, len(rows))
	for i := range rows {
		ret[i] = object.DeepCopy(rows[i].row)
	}
	return ret, nil
}

func (m *Manager) snapshot(table string) []object.Row {
	var rows []object.Row
	m.db[table].Range(func(_ []byte, row object.Row, _ uint64) bool {
		rows = append(rows, row)
		return true
	})
	return rows
}

// Connect registers a new client connection.
func (m *Manager) Connect(identity object.Identity) ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New()
	c := &client{
		id:       id,
		identity: identity,
		cache:    cache.New(cache.Options{Logger: m.logger.WithValues("connection", id.String())}),
		queries:  make(map[string]*subscribedQuery),
	}
	for _, t := range m.tables {
		// cannot fail on a fresh cache
		_, _ = c.cache.RegisterTable(t)
	}

	m.clients[id] = c
	m.order = append(m.order, id)
	m.metrics.clients.Inc()
	m.log.V(2).Info("client connected", "connection", id.String(), "identity", identity.String())

	return id
}

// Disconnect drops a client connection and all its subscriptions.
func (m *Manager) Disconnect(id ConnectionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}

	delete(m.clients, id)
	for i, cid := range m.order {
		if cid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.metrics.clients.Dec()
	m.log.V(2).Info("client disconnected", "connection", id.String())

	return nil
}

// Cache returns the rows currently visible to a client.
func (m *Manager) Cache(id ConnectionID) (*cache.ClientCache, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, false
	}
	return c.cache, true
}

// Subscribe adds queries to a client's subscriptions and returns the initial rows they match,
// taken from one consistent snapshot of the committed state. Subscribing an already subscribed
// query id again adds another reference to it.
func (m *Manager) Subscribe(id ConnectionID, queries ...Query) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}

	added := make([]*compiledQuery, 0, len(queries))
	updates := []cache.TableUpdate{}
	seen := map[string]Query{}
	for _, q := range queries {
		if prev, ok := seen[q.ID]; ok && prev != q {
			return nil, fmt.Errorf("%w: %q", ErrQueryConflict, q.ID)
		}
		seen[q.ID] = q

		cq, err := m.compile(c, q)
		if err != nil {
			return nil, err
		}
		added = append(added, cq)
		updates = append(updates, cache.TableUpdate{Table: cq.Table, Inserts: cq.filter(m.snapshot(cq.Table))})
	}

	events, err := c.cache.Apply(updates)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	for _, cq := range added {
		if sq, ok := c.queries[cq.ID]; ok {
			sq.refs++
			continue
		}
		c.queries[cq.ID] = &subscribedQuery{compiledQuery: cq, refs: 1}
	}

	ids := util.Map(func(cq *compiledQuery) string { return cq.ID }, added)
	m.metrics.observeEvents(events)
	m.log.V(2).Info("subscription applied", "connection", id.String(), "queries", ids, "rows", len(events))

	return &Message{Type: SubscribeApplied, Connection: id, Offset: m.offset, QueryIDs: ids, Events: events}, nil
}

func (m *Manager) compile(c *client, q Query) (*compiledQuery, error) {
	if _, ok := m.tables[q.Table]; !ok {
		return nil, fmt.Errorf("%w: query %q: table %q", ErrUnknownTable, q.ID, q.Table)
	}
	if sq, ok := c.queries[q.ID]; ok && sq.Query != q {
		return nil, fmt.Errorf("%w: %q", ErrQueryConflict, q.ID)
	}
	return compile(q)
}

// Unsubscribe drops one reference to a subscribed query. Rows no longer matched by any of the
// client's queries are reported as deletes.
func (m *Manager) Unsubscribe(id ConnectionID, queryID string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	sq, ok := c.queries[queryID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQuery, queryID)
	}

	update := cache.TableUpdate{Table: sq.Table, Deletes: sq.filter(m.snapshot(sq.Table))}
	events, err := c.cache.Apply([]cache.TableUpdate{update})
	if err != nil {
		return nil, fmt.Errorf("unsubscribe: %w", err)
	}

	sq.refs--
	if sq.refs == 0 {
		delete(c.queries, queryID)
	}

	m.metrics.observeEvents(events)
	m.log.V(2).Info("unsubscribe applied", "connection", id.String(), "query", queryID, "rows", len(events))

	return &Message{Type: UnsubscribeApplied, Connection: id, Offset: m.offset, QueryIDs: []string{queryID}, Events: events}, nil
}

// Commit processes a transaction. The writes of a committed transaction are merged into the
// committed state and into every client's view; each client whose view changed receives one
// message, in connection order, and the caller always receives one. A transaction that did not
// commit changes nothing and is only reported to its caller. Any inconsistency in the writes
// (deleting an absent row, two rows under one primary key, inserting a duplicate row) aborts
// the commit with nothing changed.
func (m *Manager) Commit(tx Transaction) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !tx.Status.IsCommitted() {
		m.offset++
		m.metrics.observeTransaction(tx.Status)
		m.log.V(2).Info("transaction not committed", "reducer", tx.Reducer, "status", tx.Status.String())
		if _, ok := m.clients[tx.Caller]; !ok {
			return nil, nil
		}
		return []Message{m.message(tx, tx.Caller, []cache.Event{})}, nil
	}

	dbMerges, err := m.prepareDB(tx.Writes)
	if err != nil {
		return nil, err
	}

	pending := make([]*cache.PendingUpdate, len(m.order))
	for i, id := range m.order {
		c := m.clients[id]
		var updates []cache.TableUpdate
		for _, w := range tx.Writes {
			updates = append(updates, c.updatesFor(w)...)
		}
		p, err := c.cache.Prepare(updates)
		if err != nil {
			return nil, fmt.Errorf("connection %s: %w", id, err)
		}
		pending[i] = p
	}

	for _, mg := range dbMerges {
		if _, err := mg.Commit(); err != nil {
			return nil, err
		}
	}

	m.offset++
	m.metrics.observeTransaction(tx.Status)

	msgs := []Message{}
	for i, id := range m.order {
		events, err := pending[i].Commit()
		if err != nil {
			// only reachable if a client cache was mutated behind the manager's back
			m.log.Error(err, "client view out of sync", "connection", id.String())
			continue
		}
		if len(events) == 0 && id != tx.Caller {
			continue
		}
		m.metrics.observeEvents(events)
		msgs = append(msgs, m.message(tx, id, events))
	}

	m.log.V(2).Info("transaction committed", "reducer", tx.Reducer, "offset", m.offset, "messages", len(msgs))

	return msgs, nil
}

func (m *Manager) message(tx Transaction, id ConnectionID, events []cache.Event) Message {
	status := tx.Status
	msg := Message{
		Type:       TransactionUpdate,
		Connection: id,
		Offset:     m.offset,
		Reducer:    tx.Reducer,
		Status:     &status,
		Events:     events,
	}
	if tx.Caller != uuid.Nil {
		caller := tx.Caller
		msg.Caller = &caller
	}
	return msg
}

// prepareDB validates a transaction's writes against the committed state.
func (m *Manager) prepareDB(writes []cache.TableUpdate) ([]*multidict.Merge[[]byte, object.Row], error) {
	deltas := map[string]*multidict.Delta[[]byte, object.Row]{}
	for _, w := range writes {
		t, ok := m.tables[w.Table]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTable, w.Table)
		}
		d, ok := deltas[w.Table]
		if !ok {
			d = multidict.NewDelta(equality.Bytes(), equality.Rows())
			deltas[w.Table] = d
		}
		for _, row := range w.Deletes {
			key, err := t.Key(row)
			if err != nil {
				return nil, err
			}
			d.Remove(key, row)
		}
		for _, row := range w.Inserts {
			key, err := t.Key(row)
			if err != nil {
				return nil, err
			}
			d.Add(key, object.DeepCopy(row))
		}
	}

	names := util.SortedKeys(deltas)

	merges := make([]*multidict.Merge[[]byte, object.Row], 0, len(names))
	for _, name := range names {
		dict, d := m.db[name], deltas[name]

		// tables are sets: a row is stored at most once
		var dup error
		d.Range(func(key []byte, row object.Row, count int64) bool {
			if count > 0 && (count > 1 || dict.Contains(key, row)) {
				dup = fmt.Errorf("%w: table %q: %s", ErrDuplicateRow, name, object.String(row))
				return false
			}
			return true
		})
		if dup != nil {
			return nil, dup
		}

		mg, err := dict.Prepare(d)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", name, err)
		}
		merges = append(merges, mg)
	}

	return merges, nil
}
