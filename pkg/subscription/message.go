package subscription

import (
	"github.com/google/uuid"

	"github.com/l7mp/livesync/pkg/cache"
	"github.com/l7mp/livesync/pkg/object"
)

// ConnectionID identifies one client connection.
type ConnectionID = uuid.UUID

// MessageType is the kind of an outbound message.
type MessageType string

const (
	SubscribeApplied   MessageType = "subscribe_applied"
	UnsubscribeApplied MessageType = "unsubscribe_applied"
	TransactionUpdate  MessageType = "transaction_update"
)

// Message is one atomic update delivered to a client.
type Message struct {
	Type       MessageType    `json:"type"`
	Connection ConnectionID   `json:"connection"`
	Offset     uint64         `json:"offset"`
	QueryIDs   []string       `json:"queryIds,omitempty"`
	Reducer    string         `json:"reducer,omitempty"`
	Caller     *ConnectionID  `json:"caller,omitempty"`
	Status     *object.Status `json:"status,omitempty"`
	Events     []cache.Event  `json:"events"`
}

// Transaction is the outcome of one reducer call: the row writes it committed, per table. Writes
// of transactions that did not commit are ignored.
type Transaction struct {
	Reducer string              `json:"reducer,omitempty"`
	Caller  ConnectionID        `json:"caller"`
	Status  object.Status       `json:"status"`
	Writes  []cache.TableUpdate `json:"writes,omitempty"`
}
