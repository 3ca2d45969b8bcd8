package store

import (
	"context"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const ticketPartColumns = `id, ticket_id, part_id, quantity, price_at_use, created_at, updated_at`

const ticketRepairColumns = `id, ticket_id, repair_id, price_at_use, notes, created_at, updated_at`

// CreateTicketPart inserts a part line item
func (s *queries) CreateTicketPart(ctx context.Context, item *models.TicketPart) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	return sqlx.GetContext(ctx, s.q, item, `
		INSERT INTO ticket_parts (id, ticket_id, part_id, quantity, price_at_use)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		item.ID, item.TicketID, item.PartID, item.Quantity, item.PriceAtUse)
}

// GetTicketPart retrieves a part line item by ID
func (s *queries) GetTicketPart(ctx context.Context, id string) (*models.TicketPart, error) {
	return s.getTicketPart(ctx, "SELECT "+ticketPartColumns+" FROM ticket_parts WHERE id = $1", id)
}

// LockTicketPart retrieves a part line item and holds its row lock
func (s *queries) LockTicketPart(ctx context.Context, id string) (*models.TicketPart, error) {
	return s.getTicketPart(ctx, "SELECT "+ticketPartColumns+" FROM ticket_parts WHERE id = $1 FOR UPDATE", id)
}

func (s *queries) getTicketPart(ctx context.Context, query, id string) (*models.TicketPart, error) {
	var item models.TicketPart
	if err := sqlx.GetContext(ctx, s.q, &item, query, id); err != nil {
		return nil, notFound(err, apperr.EntityTicketPart, id)
	}
	return &item, nil
}

// UpdateTicketPart writes quantity and price snapshot of a part line item
func (s *queries) UpdateTicketPart(ctx context.Context, item *models.TicketPart) error {
	err := sqlx.GetContext(ctx, s.q, &item.UpdatedAt, `
		UPDATE ticket_parts SET quantity = $1, price_at_use = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at`,
		item.Quantity, item.PriceAtUse, item.ID)
	return notFound(err, apperr.EntityTicketPart, item.ID)
}

// DeleteTicketPart removes a part line item and returns the deleted row
func (s *queries) DeleteTicketPart(ctx context.Context, id string) (*models.TicketPart, error) {
	return s.getTicketPart(ctx, "DELETE FROM ticket_parts WHERE id = $1 RETURNING "+ticketPartColumns, id)
}

// ListTicketParts retrieves all part line items of a ticket
func (s *queries) ListTicketParts(ctx context.Context, ticketID string) ([]models.TicketPart, error) {
	items := []models.TicketPart{}
	err := sqlx.SelectContext(ctx, s.q, &items,
		"SELECT "+ticketPartColumns+" FROM ticket_parts WHERE ticket_id = $1 ORDER BY created_at, id", ticketID)
	return items, err
}

// ListAllTicketParts pages through part line items of every ticket, newest first
func (s *queries) ListAllTicketParts(ctx context.Context, limit, offset int) ([]models.TicketPart, error) {
	items := []models.TicketPart{}
	err := sqlx.SelectContext(ctx, s.q, &items,
		"SELECT "+ticketPartColumns+" FROM ticket_parts ORDER BY created_at DESC, id LIMIT $1 OFFSET $2",
		limit, offset)
	return items, err
}

// DeleteTicketPartsOf removes every part line item of a ticket and returns
// the deleted rows
func (s *queries) DeleteTicketPartsOf(ctx context.Context, ticketID string) ([]models.TicketPart, error) {
	items := []models.TicketPart{}
	err := sqlx.SelectContext(ctx, s.q, &items,
		"DELETE FROM ticket_parts WHERE ticket_id = $1 RETURNING "+ticketPartColumns, ticketID)
	return items, err
}

// CreateTicketRepair inserts a repair line item
func (s *queries) CreateTicketRepair(ctx context.Context, item *models.TicketRepair) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	return sqlx.GetContext(ctx, s.q, item, `
		INSERT INTO ticket_repairs (id, ticket_id, repair_id, price_at_use, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		item.ID, item.TicketID, item.RepairID, item.PriceAtUse, item.Notes)
}

// GetTicketRepair retrieves a repair line item by ID
func (s *queries) GetTicketRepair(ctx context.Context, id string) (*models.TicketRepair, error) {
	return s.getTicketRepair(ctx, "SELECT "+ticketRepairColumns+" FROM ticket_repairs WHERE id = $1", id)
}

// LockTicketRepair retrieves a repair line item and holds its row lock
func (s *queries) LockTicketRepair(ctx context.Context, id string) (*models.TicketRepair, error) {
	return s.getTicketRepair(ctx, "SELECT "+ticketRepairColumns+" FROM ticket_repairs WHERE id = $1 FOR UPDATE", id)
}

func (s *queries) getTicketRepair(ctx context.Context, query, id string) (*models.TicketRepair, error) {
	var item models.TicketRepair
	if err := sqlx.GetContext(ctx, s.q, &item, query, id); err != nil {
		return nil, notFound(err, apperr.EntityTicketRepair, id)
	}
	return &item, nil
}

// UpdateTicketRepair writes price snapshot and notes of a repair line item
func (s *queries) UpdateTicketRepair(ctx context.Context, item *models.TicketRepair) error {
	err := sqlx.GetContext(ctx, s.q, &item.UpdatedAt, `
		UPDATE ticket_repairs SET price_at_use = $1, notes = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at`,
		item.PriceAtUse, item.Notes, item.ID)
	return notFound(err, apperr.EntityTicketRepair, item.ID)
}

// DeleteTicketRepair removes a repair line item and returns the deleted row
func (s *queries) DeleteTicketRepair(ctx context.Context, id string) (*models.TicketRepair, error) {
	return s.getTicketRepair(ctx, "DELETE FROM ticket_repairs WHERE id = $1 RETURNING "+ticketRepairColumns, id)
}

// ListTicketRepairs retrieves all repair line items of a ticket
func (s *queries) ListTicketRepairs(ctx context.Context, ticketID string) ([]models.TicketRepair, error) {
	items := []models.TicketRepair{}
	err := sqlx.SelectContext(ctx, s.q, &items,
		"SELECT "+ticketRepairColumns+" FROM ticket_repairs WHERE ticket_id = $1 ORDER BY created_at, id", ticketID)
	return items, err
}
