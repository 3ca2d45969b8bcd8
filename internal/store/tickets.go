package store

import (
	"context"
	"fmt"
	"strings"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const ticketColumns = `id, ticket_number, device_code, status, urgent, branch, notes, assigned_tech_id,
	customer_id, device_id, total_parts_cost, total_repairs_cost, total_price, created_at, updated_at`

// CreateTicket creates a new ticket
func (s *queries) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.New().String()
	}

	query := `
		INSERT INTO tickets (id, ticket_number, device_code, status, urgent, branch, notes,
			assigned_tech_id, customer_id, device_id, total_parts_cost, total_repairs_cost, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	err := sqlx.GetContext(ctx, s.q, ticket, query,
		ticket.ID, ticket.TicketNumber, ticket.DeviceCode, ticket.Status, ticket.Urgent, ticket.Branch,
		ticket.Notes, ticket.AssignedTechID, ticket.CustomerID, ticket.DeviceID,
		ticket.TotalPartsCost, ticket.TotalRepairsCost, ticket.TotalPrice)
	if pqCode(err) == pqUniqueViolation {
		return fmt.Errorf("%w: %v", apperr.ErrDuplicate, err)
	}
	return err
}

// GetTicket retrieves a ticket by ID
func (s *queries) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	return s.getTicket(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE id = $1", id)
}

// LockTicket retrieves a ticket and holds its row lock until the transaction
// ends, serializing line-item writers of the same ticket.
func (s *queries) LockTicket(ctx context.Context, id string) (*models.Ticket, error) {
	return s.getTicket(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE id = $1 FOR UPDATE", id)
}

func (s *queries) getTicket(ctx context.Context, query, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := sqlx.GetContext(ctx, s.q, &ticket, query, id); err != nil {
		return nil, notFound(err, apperr.EntityTicket, id)
	}
	return &ticket, nil
}

// ListTickets retrieves tickets, newest first
func (s *queries) ListTickets(ctx context.Context, filter models.TicketFilter) ([]models.Ticket, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Branch != "" {
		args = append(args, filter.Branch)
		where = append(where, fmt.Sprintf("branch = $%d", len(args)))
	}

	query := "SELECT " + ticketColumns + " FROM tickets"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	tickets := []models.Ticket{}
	err := sqlx.SelectContext(ctx, s.q, &tickets, query, args...)
	return tickets, err
}

// UpdateTicketTotals persists the recomputed cost fields
func (s *queries) UpdateTicketTotals(ctx context.Context, id string, totals models.TicketTotals) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE tickets
		SET total_parts_cost = $1, total_repairs_cost = $2, total_price = $3, updated_at = NOW()
		WHERE id = $4`,
		totals.PartsCost, totals.RepairsCost, totals.TotalPrice, id)
	if err != nil {
		return err
	}
	return requireAffected(res, apperr.EntityTicket, id)
}

// UpdateTicketStatus updates ticket status
func (s *queries) UpdateTicketStatus(ctx context.Context, id string, status models.TicketStatus) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE tickets SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	if err != nil {
		return err
	}
	return requireAffected(res, apperr.EntityTicket, id)
}

// AssignTechnician sets or clears the assigned technician
func (s *queries) AssignTechnician(ctx context.Context, id string, techID *string) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE tickets SET assigned_tech_id = $1, updated_at = NOW() WHERE id = $2", techID, id)
	if err != nil {
		return err
	}
	return requireAffected(res, apperr.EntityTicket, id)
}

// DeleteTicket removes a ticket; its repair line items go with it through
// the cascade. Part line items must be released through the ledger first.
func (s *queries) DeleteTicket(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM tickets WHERE id = $1", id)
	if err != nil {
		return err
	}
	return requireAffected(res, apperr.EntityTicket, id)
}
