// internal/events/types.go
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType represents the type of event.
type EventType string

const (
	// Purchase lifecycle
	PurchaseReserved    EventType = "purchase.reserved"
	PurchaseBuilt       EventType = "purchase.built"
	PurchaseFailed      EventType = "purchase.failed"
	PurchaseCompensated EventType = "purchase.compensated"

	// Oracle
	PriceUpdated       EventType = "price.updated"
	PriceRefreshFailed EventType = "price.refresh_failed"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// NewBaseEvent stamps an event of the given type with the current time.
func NewBaseEvent(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// PurchaseEvent describes a step of a single purchase. Reason is set for
// failures and compensations; Duration is set once a payload was built.
type PurchaseEvent struct {
	BaseEvent
	PurchaseID  string
	Buyer       string
	Currency    string
	TokenAmount uint64
	TotalCost   decimal.Decimal
	Reason      string
	Duration    time.Duration
}

// PriceUpdatedEvent is emitted after every successful oracle refresh.
type PriceUpdatedEvent struct {
	BaseEvent
	NativeUSD decimal.Decimal
	StableUSD decimal.Decimal
}

// PriceRefreshFailedEvent is emitted when a refresh leaves the previous
// snapshot in place.
type PriceRefreshFailedEvent struct {
	BaseEvent
	Source string
	Reason string
}
