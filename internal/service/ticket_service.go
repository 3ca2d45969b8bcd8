package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/ledger"
	"repair-shop-service/internal/models"
	"repair-shop-service/internal/store"
	"repair-shop-service/internal/util"

	"go.uber.org/zap"
)

const (
	deviceCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	deviceCodeLength  = 11
	createAttempts    = 5
	defaultPageLimit  = 20
	maxPageLimit      = 100
)

// TicketService handles ticket lifecycle
type TicketService struct {
	uow          store.UnitOfWork
	publisher    EventPublisher
	ticketPrefix string
	devicePrefix string
	logger       *zap.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewTicketService creates a new ticket service
func NewTicketService(uow store.UnitOfWork, publisher EventPublisher, ticketPrefix, devicePrefix string) *TicketService {
	return &TicketService{
		uow:          uow,
		publisher:    publisher,
		ticketPrefix: ticketPrefix,
		devicePrefix: devicePrefix,
		logger:       util.GetLogger(),
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateTicketRequest represents a request to open a ticket
type CreateTicketRequest struct {
	CustomerID     string              `json:"customer_id" binding:"required"`
	DeviceID       string              `json:"device_id" binding:"required"`
	Branch         string              `json:"branch"`
	Urgent         bool                `json:"urgent"`
	Notes          *string             `json:"notes"`
	AssignedTechID *string             `json:"assigned_tech_id"`
	Status         models.TicketStatus `json:"status"`
}

// newTicketNumber returns PREFIX-YYYY-NNNN
func (s *TicketService) newTicketNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s-%d-%04d", s.ticketPrefix, time.Now().Year(), s.rnd.Intn(10000))
}

// newDeviceCode returns PREFIX- followed by 11 random alphanumerics
func (s *TicketService) newDeviceCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	b.WriteString(s.devicePrefix)
	b.WriteByte('-')
	for i := 0; i < deviceCodeLength; i++ {
		b.WriteByte(deviceCodeCharset[s.rnd.Intn(len(deviceCodeCharset))])
	}
	return b.String()
}

// CreateTicket opens a ticket with zero totals. Ticket numbers are random,
// so a collision with an existing number is retried with a fresh one.
func (s *TicketService) CreateTicket(ctx context.Context, req *CreateTicketRequest) (_ *models.Ticket, err error) {
	ctx, span := util.StartSpan(ctx, "TicketService.CreateTicket")
	defer func() { util.EndSpan(span, err) }()

	switch {
	case req.CustomerID == "":
		return nil, apperr.Invalid("customer_id", "is required")
	case req.DeviceID == "":
		return nil, apperr.Invalid("device_id", "is required")
	}

	status := req.Status
	if status == "" {
		status = models.TicketStatusReceived
	}
	if !status.Valid() {
		return nil, apperr.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}

	for attempt := 1; attempt <= createAttempts; attempt++ {
		ticket := &models.Ticket{
			TicketNumber:   s.newTicketNumber(),
			DeviceCode:     s.newDeviceCode(),
			Status:         status,
			Urgent:         req.Urgent,
			Branch:         req.Branch,
			Notes:          req.Notes,
			AssignedTechID: req.AssignedTechID,
			CustomerID:     req.CustomerID,
			DeviceID:       req.DeviceID,
		}

		err = s.uow.CreateTicket(ctx, ticket)
		if err == nil {
			util.TicketsCreatedTotal.Inc()
			s.logger.Info("Ticket created",
				zap.String("ticket_id", ticket.ID),
				zap.String("ticket_number", ticket.TicketNumber))
			return ticket, nil
		}
		if !errors.Is(err, apperr.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create ticket: %w", err)
		}
		s.logger.Warn("Ticket number collision, regenerating", zap.Int("attempt", attempt))
	}

	return nil, fmt.Errorf("failed to create ticket after %d attempts: %w", createAttempts, err)
}

// GetTicket returns a ticket together with its line items
func (s *TicketService) GetTicket(ctx context.Context, id string) (*models.TicketDetails, error) {
	ctx, span := util.StartSpan(ctx, "TicketService.GetTicket")
	defer span.End()

	var details *models.TicketDetails
	err := s.uow.WithinTx(ctx, "get ticket", func(tx store.Repository) error {
		ticket, err := tx.GetTicket(ctx, id)
		if err != nil {
			return err
		}
		parts, err := tx.ListTicketParts(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to list ticket parts: %w", err)
		}
		repairs, err := tx.ListTicketRepairs(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to list ticket repairs: %w", err)
		}
		details = &models.TicketDetails{Ticket: ticket, Parts: parts, Repairs: repairs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// pageWindow clamps limit to [1, 100] and turns a 1-based page into the
// offset of that page under the clamped limit
func pageWindow(page, limit int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if page < 1 {
		page = 1
	}
	return limit, (page - 1) * limit
}

// ListTickets lists tickets newest first, one page at a time
func (s *TicketService) ListTickets(ctx context.Context, filter models.TicketFilter) ([]models.Ticket, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Invalid("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	filter.Limit, filter.Offset = pageWindow(filter.Page, filter.Limit)
	return s.uow.ListTickets(ctx, filter)
}

// UpdateStatus moves a ticket into status if the actor's role may set it.
// Setting the current status again changes nothing and publishes nothing.
func (s *TicketService) UpdateStatus(ctx context.Context, actor models.Actor, id string, status models.TicketStatus) (_ *models.Ticket, err error) {
	ctx, span := util.StartSpan(ctx, "TicketService.UpdateStatus")
	defer func() { util.EndSpan(span, err) }()

	if !status.Valid() {
		return nil, apperr.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	if !models.CanSetStatus(actor.Role, status) {
		return nil, &apperr.AuthorizationError{Role: actor.Role, Status: status}
	}

	var (
		ticket *models.Ticket
		box    outbox
	)
	err = s.uow.WithinTx(ctx, "update status", func(tx store.Repository) error {
		box.reset()

		current, err := tx.LockTicket(ctx, id)
		if err != nil {
			return err
		}
		ticket = current
		if current.Status == status {
			return nil
		}

		if err := tx.UpdateTicketStatus(ctx, id, status); err != nil {
			return fmt.Errorf("failed to update ticket status: %w", err)
		}

		box.statuses = append(box.statuses, &models.TicketStatusChangedEvent{
			BaseEvent: newBaseEvent(models.EventTypeTicketStatusChanged),
			TicketID:  id,
			From:      current.Status,
			To:        status,
			ActorID:   actor.ID,
			Role:      actor.Role,
		})
		ticket.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(box.statuses) > 0 {
		util.TicketStatusChangesTotal.WithLabelValues(string(status)).Inc()
		s.logger.Info("Ticket status changed",
			zap.String("ticket_id", id),
			zap.String("status", string(status)),
			zap.String("actor_id", actor.ID))
	}
	box.flush(ctx, s.publisher, s.logger)
	return ticket, nil
}

// AssignTechnician sets or clears the technician of a ticket
func (s *TicketService) AssignTechnician(ctx context.Context, id string, techID *string) (*models.Ticket, error) {
	if techID != nil && *techID == "" {
		techID = nil
	}

	var ticket *models.Ticket
	err := s.uow.WithinTx(ctx, "assign technician", func(tx store.Repository) error {
		current, err := tx.LockTicket(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.AssignTechnician(ctx, id, techID); err != nil {
			return fmt.Errorf("failed to assign technician: %w", err)
		}
		current.AssignedTechID = techID
		ticket = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// DeleteTicket removes a ticket with its line items and returns every part
// it held to stock in the same transaction.
func (s *TicketService) DeleteTicket(ctx context.Context, id string) (_ *models.Ticket, err error) {
	ctx, span := util.StartSpan(ctx, "TicketService.DeleteTicket")
	defer func() { util.EndSpan(span, err) }()

	var (
		deleted *models.Ticket
		box     outbox
	)
	err = s.uow.WithinTx(ctx, "delete ticket", func(tx store.Repository) error {
		box.reset()

		// Line items before the ticket row, the order detach uses.
		removed, err := tx.DeleteTicketPartsOf(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to delete ticket parts: %w", err)
		}
		ticket, err := tx.LockTicket(ctx, id)
		if err != nil {
			return err
		}
		// Parts attached while we waited for the ticket lock.
		late, err := tx.DeleteTicketPartsOf(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to delete ticket parts: %w", err)
		}
		removed = append(removed, late...)

		held := map[string]int{}
		for _, item := range removed {
			held[item.PartID] += item.Quantity
		}
		partIDs := make([]string, 0, len(held))
		for partID := range held {
			partIDs = append(partIDs, partID)
		}
		sort.Strings(partIDs)

		l := ledger.New(tx)
		for _, partID := range partIDs {
			mv, err := l.Release(ctx, partID, held[partID])
			if err != nil {
				return err
			}
			box.addStock(mv, StockReasonTicketDeleted)
		}

		if err := tx.DeleteTicket(ctx, id); err != nil {
			return fmt.Errorf("failed to delete ticket: %w", err)
		}
		deleted = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}

	box.flush(ctx, s.publisher, s.logger)
	s.logger.Info("Ticket deleted",
		zap.String("ticket_id", id),
		zap.Int("parts_released", len(box.stock)))
	return deleted, nil
}
