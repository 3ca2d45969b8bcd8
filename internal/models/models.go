package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Part represents a stocked spare part
type Part struct {
	ID              string          `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	Model           string          `db:"model" json:"model"`
	Branch          string          `db:"branch" json:"branch"`
	Price           decimal.Decimal `db:"price" json:"price"`
	Quantity        int             `db:"quantity" json:"quantity"`
	MinimumQuantity int             `db:"minimum_quantity" json:"minimum_quantity"`
	Version         int64           `db:"version" json:"version"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// StockLevel is the locked view of a part's stock used by the ledger
type StockLevel struct {
	PartID          string `db:"id" json:"part_id"`
	Quantity        int    `db:"quantity" json:"quantity"`
	MinimumQuantity int    `db:"minimum_quantity" json:"minimum_quantity"`
	Version         int64  `db:"version" json:"version"`
}

// IsLow reports whether stock reached the reorder threshold
func (s StockLevel) IsLow() bool {
	return s.Quantity <= s.MinimumQuantity
}

// Repair is a fixed-price catalog entry
type Repair struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Ticket represents a repair ticket with denormalized totals
type Ticket struct {
	ID               string          `db:"id" json:"id"`
	TicketNumber     string          `db:"ticket_number" json:"ticket_number"`
	DeviceCode       string          `db:"device_code" json:"device_code"`
	Status           TicketStatus    `db:"status" json:"status"`
	Urgent           bool            `db:"urgent" json:"urgent"`
	Branch           string          `db:"branch" json:"branch"`
	Notes            *string         `db:"notes" json:"notes,omitempty"`
	AssignedTechID   *string         `db:"assigned_tech_id" json:"assigned_tech_id,omitempty"`
	CustomerID       string          `db:"customer_id" json:"customer_id"`
	DeviceID         string          `db:"device_id" json:"device_id"`
	TotalPartsCost   decimal.Decimal `db:"total_parts_cost" json:"total_parts_cost"`
	TotalRepairsCost decimal.Decimal `db:"total_repairs_cost" json:"total_repairs_cost"`
	TotalPrice       decimal.Decimal `db:"total_price" json:"total_price"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// TicketTotals groups the cached cost fields of a ticket
type TicketTotals struct {
	PartsCost   decimal.Decimal `json:"total_parts_cost"`
	RepairsCost decimal.Decimal `json:"total_repairs_cost"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// TicketPart is a part consumed by a ticket, priced at attach time
type TicketPart struct {
	ID         string          `db:"id" json:"id"`
	TicketID   string          `db:"ticket_id" json:"ticket_id"`
	PartID     string          `db:"part_id" json:"part_id"`
	Quantity   int             `db:"quantity" json:"quantity"`
	PriceAtUse decimal.Decimal `db:"price_at_use" json:"price_at_use"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// LineTotal is priceAtUse times quantity
func (tp TicketPart) LineTotal() decimal.Decimal {
	return tp.PriceAtUse.Mul(decimal.NewFromInt(int64(tp.Quantity)))
}

// TicketRepair is a repair performed on a ticket, priced at attach time
type TicketRepair struct {
	ID         string          `db:"id" json:"id"`
	TicketID   string          `db:"ticket_id" json:"ticket_id"`
	RepairID   string          `db:"repair_id" json:"repair_id"`
	PriceAtUse decimal.Decimal `db:"price_at_use" json:"price_at_use"`
	Notes      *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// TicketDetails is a ticket together with its line items
type TicketDetails struct {
	Ticket  *Ticket        `json:"ticket"`
	Parts   []TicketPart   `json:"parts"`
	Repairs []TicketRepair `json:"repairs"`
}

// TicketFilter narrows ticket listings. Page is 1-based; the service
// derives Offset from Page and the clamped Limit.
type TicketFilter struct {
	Status TicketStatus
	Branch string
	Page   int
	Limit  int
	Offset int
}

// Actor is the authenticated caller
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
