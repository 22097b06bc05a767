package testutils

import (
	"time"

	. "github.com/onsi/gomega"

	"github.com/l7mp/livesync/pkg/cache"
	"github.com/l7mp/livesync/pkg/object"
)

// Watch registers insert, update and delete callbacks on a table cache that forward every
// change as an event into the returned channel.
func Watch(t *cache.TableCache) chan cache.Event {
	ch := make(chan cache.Event, 64)
	name := t.Table().Name
	t.OnInsert(func(row object.Row) { ch <- cache.Event{Type: cache.Inserted, Table: name, New: row} })
	t.OnUpdate(func(oldRow, newRow object.Row) {
		ch <- cache.Event{Type: cache.Updated, Table: name, Old: oldRow, New: newRow}
	})
	t.OnDelete(func(row object.Row) { ch <- cache.Event{Type: cache.Deleted, Table: name, Old: row} })
	return ch
}

// TryWatch attempts to receive an event from a channel within the specified timeout.
// Returns the event and true if successful, or an empty event and false if timeout occurs.
func TryWatch(watcher chan cache.Event, timeout time.Duration) (cache.Event, bool) {
	select {
	case event := <-watcher:
		return event, true
	case <-time.After(timeout):
		return cache.Event{}, false
	}
}

// MatchEvent validates that an event matches the expected values. A nil row is not checked.
func MatchEvent(event cache.Event, eventType cache.EventType, oldRow, newRow object.Row) {
	Expect(event.Type).To(Equal(eventType))
	if oldRow != nil {
		Expect(object.DeepEqual(event.Old, oldRow)).To(BeTrue(), "old row %s", object.String(event.Old))
	}
	if newRow != nil {
		Expect(object.DeepEqual(event.New, newRow)).To(BeTrue(), "new row %s", object.String(event.New))
	}
}
