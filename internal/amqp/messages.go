package amqp

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"fintrack/internal/core"
)

// Ledger operations carried by LedgerEvent.Op.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// Entities carried by LedgerEvent.Entity.
const (
	EntityTransaction = "transaction"
	EntityCategory    = "category"
	EntityUser        = "user"
)

// TransactionSnapshot is the state of a transaction after the change, or
// before it for deletions.
type TransactionSnapshot struct {
	Date        string     `json:"date"`
	Kind        core.Kind  `json:"type"`
	Amount      core.Money `json:"amount"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
}

type CategorySnapshot struct {
	Name  string    `json:"name"`
	Kind  core.Kind `json:"type"`
	Color string    `json:"color"`
}

// LedgerEvent describes one committed change. Consumers use ID to drop
// redeliveries.
type LedgerEvent struct {
	ID          string               `json:"id"`
	Op          string               `json:"op"`
	Entity      string               `json:"entity"`
	EntityID    int64                `json:"entity_id"`
	UserID      int64                `json:"user_id"`
	OccurredAt  time.Time            `json:"occurred_at"`
	Transaction *TransactionSnapshot `json:"transaction,omitempty"`
	Category    *CategorySnapshot    `json:"category,omitempty"`
	// Cleared is the number of transactions a category deletion detached.
	Cleared int `json:"cleared,omitempty"`
}

func newEvent(op, entity string, entityID, userID int64) *LedgerEvent {
	return &LedgerEvent{
		ID:         uuid.NewString(),
		Op:         op,
		Entity:     entity,
		EntityID:   entityID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
}

func NewTransactionEvent(op string, t core.Transaction) *LedgerEvent {
	ev := newEvent(op, EntityTransaction, t.ID, t.UserID)
	ev.Transaction = &TransactionSnapshot{
		Date:        t.Date.Format(core.DateLayout),
		Kind:        t.Kind,
		Amount:      t.Amount,
		Description: t.Description,
		Category:    t.CategoryName,
	}
	return ev
}

func NewCategoryEvent(op string, c core.Category, cleared int) *LedgerEvent {
	ev := newEvent(op, EntityCategory, c.ID, c.UserID)
	ev.Category = &CategorySnapshot{Name: c.Name, Kind: c.Kind, Color: c.Color}
	ev.Cleared = cleared
	return ev
}

func NewUserDeletedEvent(userID int64) *LedgerEvent {
	return newEvent(OpDeleted, EntityUser, userID, userID)
}

// RoutingKey is "<entity>.<op>", used as the message type header.
func (e *LedgerEvent) RoutingKey() string {
	return e.Entity + "." + e.Op
}

// Validate checks the fields every consumer relies on.
func (e *LedgerEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event without id")
	}
	switch e.Op {
	case OpCreated, OpUpdated, OpDeleted:
	default:
		return fmt.Errorf("event %s: unknown op %q", e.ID, e.Op)
	}
	switch e.Entity {
	case EntityTransaction:
		if e.Transaction == nil {
			return fmt.Errorf("event %s: transaction snapshot missing", e.ID)
		}
	case EntityCategory:
		if e.Category == nil {
			return fmt.Errorf("event %s: category snapshot missing", e.ID)
		}
	case EntityUser:
	default:
		return fmt.Errorf("event %s: unknown entity %q", e.ID, e.Entity)
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes and validates a message body.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
