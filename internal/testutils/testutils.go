package testutils

import (
	"github.com/l7mp/livesync/pkg/cache"
	"github.com/l7mp/livesync/pkg/object"
)

var (
	// UserTable is a table with a primary key used for testing.
	UserTable = object.Table{Name: "user", PrimaryKey: "id"}

	// ChatTable is a table without a primary key used for testing.
	ChatTable = object.Table{Name: "chat"}

	Tables = []object.Table{UserTable, ChatTable}
)

// User returns a row of the user table.
func User(id, age int64, name string) object.Row {
	return object.MustRow("id", id, "age", age, "name", name)
}

// Chat returns a row of the chat table.
func Chat(from, msg string) object.Row {
	return object.MustRow("from", from, "msg", msg)
}

// Insert returns an update inserting rows into a table.
func Insert(table string, rows ...object.Row) cache.TableUpdate {
	return cache.TableUpdate{Table: table, Inserts: rows}
}

// Delete returns an update deleting rows from a table.
func Delete(table string, rows ...object.Row) cache.TableUpdate {
	return cache.TableUpdate{Table: table, Deletes: rows}
}

// Replace returns an update swapping a row of a table for another.
func Replace(table string, old, new object.Row) cache.TableUpdate {
	return cache.TableUpdate{Table: table, Inserts: []object.Row{new}, Deletes: []object.Row{old}}
}

// EventTypes returns the type of each event, in order.
func EventTypes(events []cache.Event) []cache.EventType {
	ret := make([]cache.EventType, len(events))
	for i, e := range events {
		ret[i] = e.Type
	}
	return ret
}
