package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeTicketPartAttached   = "TICKET_PART_ATTACHED"
	EventTypeTicketPartUpdated    = "TICKET_PART_UPDATED"
	EventTypeTicketPartDetached   = "TICKET_PART_DETACHED"
	EventTypeTicketRepairAttached = "TICKET_REPAIR_ATTACHED"
	EventTypeTicketRepairUpdated  = "TICKET_REPAIR_UPDATED"
	EventTypeTicketRepairDetached = "TICKET_REPAIR_DETACHED"
	EventTypePartStockChanged     = "PART_STOCK_CHANGED"
	EventTypeTicketStatusChanged  = "TICKET_STATUS_CHANGED"
)

// Line item kinds
const (
	LineItemKindPart   = "part"
	LineItemKindRepair = "repair"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// LineItemChangedEvent published after a line item is attached, updated or detached
type LineItemChangedEvent struct {
	BaseEvent
	TicketID    string          `json:"ticket_id"`
	LineItemID  string          `json:"line_item_id"`
	Kind        string          `json:"kind"`
	ReferenceID string          `json:"reference_id"`
	Quantity    int             `json:"quantity,omitempty"`
	PriceAtUse  decimal.Decimal `json:"price_at_use"`
	Totals      TicketTotals    `json:"totals"`
}

// PartStockChangedEvent published after the ledger moved stock of a part
type PartStockChangedEvent struct {
	BaseEvent
	PartID          string `json:"part_id"`
	Delta           int    `json:"delta"`
	Quantity        int    `json:"quantity"`
	MinimumQuantity int    `json:"minimum_quantity"`
	Version         int64  `json:"version"`
	Reason          string `json:"reason"`
}

// TicketStatusChangedEvent published after a status transition
type TicketStatusChangedEvent struct {
	BaseEvent
	TicketID string       `json:"ticket_id"`
	From     TicketStatus `json:"from"`
	To       TicketStatus `json:"to"`
	ActorID  string       `json:"actor_id"`
	Role     Role         `json:"role"`
}
