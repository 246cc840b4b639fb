package domain

import "time"

// EventType names a notification emitted after a committed state change.
type EventType string

const (
	EventPoolCreated  EventType = "pool_created"
	EventMemberJoined EventType = "member_joined"
	EventVaultUpdated EventType = "vault_updated"
	EventPoolClosed   EventType = "pool_closed"
)

// Event is a best-effort observational signal. It never carries the pool code.
type Event struct {
	Type       EventType `json:"type"`
	PoolID     string    `json:"pool_id"`
	Creator    string    `json:"creator,omitempty"`
	Member     string    `json:"member,omitempty"`
	MaxMembers uint32    `json:"max_members,omitempty"`
	Price      int64     `json:"price,omitempty"`
	Privacy    Privacy   `json:"privacy,omitempty"`
	Amount     int64     `json:"amount"`
	At         time.Time `json:"at"`
}
