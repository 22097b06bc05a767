package cache

import (
	"fmt"

	"github.com/l7mp/livesync/pkg/object"
)

// EventType is the kind of change a row went through in the cache.
type EventType string

const (
	Inserted EventType = "insert"
	Updated  EventType = "update"
	Deleted  EventType = "delete"
)

// Event registers a change on a row of a table. Old is nil for insertions, New is nil for
// deletions.
type Event struct {
	Type  EventType  `json:"type"`
	Table string     `json:"table"`
	Key   []byte     `json:"-"`
	Old   object.Row `json:"old,omitempty"`
	New   object.Row `json:"new,omitempty"`
}

func (e Event) String() string {
	switch e.Type {
	case Inserted:
		return fmt.Sprintf("%s %s: %s", e.Type, e.Table, object.String(e.New))
	case Deleted:
		return fmt.Sprintf("%s %s: %s", e.Type, e.Table, object.String(e.Old))
	default:
		return fmt.Sprintf("%s %s: %s -> %s", e.Type, e.Table, object.String(e.Old), object.String(e.New))
	}
}

// TableUpdate is a batch of row-level additions and removals against one table, as produced by
// evaluating one subscribed query over one transaction. A row matched by several queries is
// added once per query.
type TableUpdate struct {
	Table   string       `json:"table"`
	Inserts []object.Row `json:"inserts,omitempty"`
	Deletes []object.Row `json:"deletes,omitempty"`
}

// IsEmpty reports whether the update carries no row.
func (u TableUpdate) IsEmpty() bool { return len(u.Inserts) == 0 && len(u.Deletes) == 0 }
