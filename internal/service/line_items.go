package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/ledger"
	"repair-shop-service/internal/models"
	"repair-shop-service/internal/pricing"
	"repair-shop-service/internal/store"
	"repair-shop-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxQuantity bounds every quantity the INTEGER stock columns accept
const MaxQuantity = 1000000

// IdempotencyStore remembers which line item a client request created
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) error
}

// LineItemManager attaches, updates and detaches ticket parts and repairs.
// Each operation is one unit of work: the line item, the part stock and the
// ticket totals change together or not at all.
type LineItemManager struct {
	uow            store.UnitOfWork
	publisher      EventPublisher
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// NewLineItemManager creates a new line item manager. publisher and
// idempotency may be nil.
func NewLineItemManager(
	uow store.UnitOfWork,
	publisher EventPublisher,
	idempotency IdempotencyStore,
	idempotencyTTL time.Duration,
) *LineItemManager {
	return &LineItemManager{
		uow:            uow,
		publisher:      publisher,
		idempotency:    idempotency,
		idempotencyTTL: idempotencyTTL,
		logger:         util.GetLogger(),
	}
}

// AttachPartRequest represents a request to attach a part to a ticket
type AttachPartRequest struct {
	TicketID       string           `json:"ticket_id" binding:"required"`
	PartID         string           `json:"part_id" binding:"required"`
	Quantity       int              `json:"quantity" binding:"required,min=1,max=1000000"`
	PriceAtUse     *decimal.Decimal `json:"price_at_use"`
	IdempotencyKey string           `json:"-"`
}

// UpdatePartRequest represents a partial update of a ticket part
type UpdatePartRequest struct {
	Quantity   *int             `json:"quantity" binding:"omitempty,min=1,max=1000000"`
	PriceAtUse *decimal.Decimal `json:"price_at_use"`
}

// AttachRepairRequest represents a request to attach a repair to a ticket
type AttachRepairRequest struct {
	TicketID       string           `json:"ticket_id" binding:"required"`
	RepairID       string           `json:"repair_id" binding:"required"`
	PriceAtUse     *decimal.Decimal `json:"price_at_use"`
	Notes          *string          `json:"notes"`
	IdempotencyKey string           `json:"-"`
}

// UpdateRepairRequest represents a partial update of a ticket repair
type UpdateRepairRequest struct {
	PriceAtUse *decimal.Decimal `json:"price_at_use"`
	Notes      *string          `json:"notes"`
}

// validateMoney accepts non-negative amounts with at most two decimals,
// which is what the NUMERIC(12,2) columns store without rounding.
func validateMoney(field string, amount decimal.Decimal) error {
	switch {
	case amount.IsNegative():
		return apperr.Invalid(field, "must not be negative")
	case !amount.Equal(amount.Round(2)):
		return apperr.Invalid(field, "must have at most two decimal places")
	}
	return nil
}

func validateQuantity(field string, qty, min int) error {
	switch {
	case qty < min:
		return apperr.Invalid(field, fmt.Sprintf("must be at least %d", min))
	case qty > MaxQuantity:
		return apperr.Invalid(field, fmt.Sprintf("must be at most %d", MaxQuantity))
	}
	return nil
}

func validatePrice(price *decimal.Decimal) error {
	if price == nil {
		return nil
	}
	return validateMoney("price_at_use", *price)
}

func (r *AttachPartRequest) validate() error {
	switch {
	case r.TicketID == "":
		return apperr.Invalid("ticket_id", "is required")
	case r.PartID == "":
		return apperr.Invalid("part_id", "is required")
	}
	if err := validateQuantity("quantity", r.Quantity, 1); err != nil {
		return err
	}
	return validatePrice(r.PriceAtUse)
}

func (r *AttachPartRequest) fingerprint() string {
	return requestFingerprint(r.TicketID, r.PartID, strconv.Itoa(r.Quantity), priceKey(r.PriceAtUse))
}

func (r *UpdatePartRequest) validate() error {
	if r.Quantity != nil {
		if err := validateQuantity("quantity", *r.Quantity, 1); err != nil {
			return err
		}
	}
	return validatePrice(r.PriceAtUse)
}

func (r *AttachRepairRequest) validate() error {
	switch {
	case r.TicketID == "":
		return apperr.Invalid("ticket_id", "is required")
	case r.RepairID == "":
		return apperr.Invalid("repair_id", "is required")
	}
	return validatePrice(r.PriceAtUse)
}

func (r *AttachRepairRequest) fingerprint() string {
	notes := ""
	if r.Notes != nil {
		notes = *r.Notes
	}
	return requestFingerprint(r.TicketID, r.RepairID, priceKey(r.PriceAtUse), notes)
}

func priceKey(price *decimal.Decimal) string {
	if price == nil {
		return "catalog"
	}
	return price.StringFixed(2)
}

// requestFingerprint identifies the body an idempotency key was first used with
func requestFingerprint(fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// recomputeTotals re-derives the ticket totals from every line item visible
// in tx and stores them on the locked ticket row.
func recomputeTotals(ctx context.Context, tx store.Repository, ticketID string) (models.TicketTotals, error) {
	parts, err := tx.ListTicketParts(ctx, ticketID)
	if err != nil {
		return models.TicketTotals{}, fmt.Errorf("failed to list ticket parts: %w", err)
	}
	repairs, err := tx.ListTicketRepairs(ctx, ticketID)
	if err != nil {
		return models.TicketTotals{}, fmt.Errorf("failed to list ticket repairs: %w", err)
	}

	totals := pricing.Compute(parts, repairs)
	if err := tx.UpdateTicketTotals(ctx, ticketID, totals); err != nil {
		return models.TicketTotals{}, fmt.Errorf("failed to update ticket totals: %w", err)
	}
	return totals, nil
}

func lineItemEvent(eventType, kind, ticketID, itemID, refID string, qty int, price decimal.Decimal, totals models.TicketTotals) *models.LineItemChangedEvent {
	return &models.LineItemChangedEvent{
		BaseEvent:   newBaseEvent(eventType),
		TicketID:    ticketID,
		LineItemID:  itemID,
		Kind:        kind,
		ReferenceID: refID,
		Quantity:    qty,
		PriceAtUse:  price,
		Totals:      totals,
	}
}

func (m *LineItemManager) succeeded(ctx context.Context, kind, op string, box *outbox) {
	util.LineItemOperationsTotal.WithLabelValues(kind, op).Inc()
	box.flush(ctx, m.publisher, m.logger)
}

func (m *LineItemManager) failed(kind, op string, err error) {
	reason := failureReason(err)
	util.LineItemOperationsFailed.WithLabelValues(kind, op, reason).Inc()
	if reason == "error" {
		m.logger.Error("Line item operation failed",
			zap.String("kind", kind),
			zap.String("op", op),
			zap.Error(err))
	}
}

func idempotencyKey(kind, key string) string {
	return "ticket-" + kind + ":" + key
}

// replayed returns the id of the line item an earlier request with the same
// key created. The stored record is "<fingerprint>:<id>"; a key reused with
// a different request is rejected. Lookup failures only cost the
// deduplication.
func (m *LineItemManager) replayed(ctx context.Context, kind, key, fingerprint string) (string, error) {
	if m.idempotency == nil || key == "" {
		return "", nil
	}
	record, ok, err := m.idempotency.GetIdempotencyKey(ctx, idempotencyKey(kind, key))
	if err != nil {
		m.logger.Warn("Idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return "", nil
	}
	if !ok {
		return "", nil
	}
	stored, id, found := strings.Cut(record, ":")
	if !found || stored != fingerprint {
		return "", apperr.Invalid("idempotency_key", "was already used for a different request")
	}
	return id, nil
}

func (m *LineItemManager) remember(ctx context.Context, kind, key, fingerprint, id string) {
	if m.idempotency == nil || key == "" {
		return
	}
	record := fingerprint + ":" + id
	if err := m.idempotency.SetIdempotencyKey(ctx, idempotencyKey(kind, key), record, m.idempotencyTTL); err != nil {
		m.logger.Warn("Failed to store idempotency key", zap.String("key", key), zap.Error(err))
	}
}

// AttachPart reserves stock for a part and adds it to a ticket. The price
// defaults to the part's catalog price when none is given.
func (m *LineItemManager) AttachPart(ctx context.Context, req *AttachPartRequest) (_ *models.TicketPart, err error) {
	ctx, span := util.StartSpan(ctx, "LineItemManager.AttachPart")
	defer func() { util.EndSpan(span, err) }()

	if err = req.validate(); err != nil {
		m.failed(models.LineItemKindPart, "attach", err)
		return nil, err
	}

	fingerprint := req.fingerprint()
	id, err := m.replayed(ctx, models.LineItemKindPart, req.IdempotencyKey, fingerprint)
	if err != nil {
		m.failed(models.LineItemKindPart, "attach", err)
		return nil, err
	}
	if id != "" {
		existing, getErr := m.uow.GetTicketPart(ctx, id)
		if getErr == nil {
			m.logger.Info("Duplicate attach request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("ticket_part_id", id))
			return existing, nil
		}
		if !apperr.IsNotFound(getErr) {
			return nil, getErr
		}
	}

	var (
		item *models.TicketPart
		box  outbox
	)
	err = m.uow.WithinTx(ctx, "attach part", func(tx store.Repository) error {
		box.reset()

		ticket, err := tx.LockTicket(ctx, req.TicketID)
		if err != nil {
			return err
		}

		part, err := tx.GetPart(ctx, req.PartID)
		if err != nil {
			return err
		}

		price := part.Price
		if req.PriceAtUse != nil {
			price = *req.PriceAtUse
		}

		mv, err := ledger.New(tx).Reserve(ctx, part.ID, req.Quantity)
		if err != nil {
			return err
		}

		item = &models.TicketPart{
			TicketID:   ticket.ID,
			PartID:     part.ID,
			Quantity:   req.Quantity,
			PriceAtUse: price,
		}
		if err := tx.CreateTicketPart(ctx, item); err != nil {
			return fmt.Errorf("failed to create ticket part: %w", err)
		}

		totals, err := recomputeTotals(ctx, tx, ticket.ID)
		if err != nil {
			return err
		}

		box.addStock(mv, StockReasonAttach)
		box.addLineItem(lineItemEvent(models.EventTypeTicketPartAttached, models.LineItemKindPart,
			ticket.ID, item.ID, part.ID, item.Quantity, item.PriceAtUse, totals))
		return nil
	})
	if err != nil {
		m.failed(models.LineItemKindPart, "attach", err)
		return nil, err
	}

	m.remember(ctx, models.LineItemKindPart, req.IdempotencyKey, fingerprint, item.ID)
	m.succeeded(ctx, models.LineItemKindPart, "attach", &box)
	m.logger.Info("Part attached to ticket",
		zap.String("ticket_id", item.TicketID),
		zap.String("part_id", item.PartID),
		zap.Int("quantity", item.Quantity))

	return item, nil
}

// UpdatePart changes the quantity and/or price of a ticket part, moving
// stock by the quantity difference.
func (m *LineItemManager) UpdatePart(ctx context.Context, id string, req *UpdatePartRequest) (_ *models.TicketPart, err error) {
	ctx, span := util.StartSpan(ctx, "LineItemManager.UpdatePart")
	defer func() { util.EndSpan(span, err) }()

	if err = req.validate(); err != nil {
		m.failed(models.LineItemKindPart, "update", err)
		return nil, err
	}

	var (
		item *models.TicketPart
		box  outbox
	)
	err = m.uow.WithinTx(ctx, "update part", func(tx store.Repository) error {
		box.reset()

		current, err := tx.LockTicketPart(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.LockTicket(ctx, current.TicketID); err != nil {
			return err
		}

		if req.Quantity != nil {
			mv, err := ledger.New(tx).AdjustReservation(ctx, current.PartID, current.Quantity, *req.Quantity)
			if err != nil {
				return err
			}
			box.addStock(mv, StockReasonUpdate)
			current.Quantity = *req.Quantity
		}
		if req.PriceAtUse != nil {
			current.PriceAtUse = *req.PriceAtUse
		}

		if err := tx.UpdateTicketPart(ctx, current); err != nil {
			return fmt.Errorf("failed to update ticket part: %w", err)
		}

		totals, err := recomputeTotals(ctx, tx, current.TicketID)
		if err != nil {
			return err
		}

		item = current
		box.addLineItem(lineItemEvent(models.EventTypeTicketPartUpdated, models.LineItemKindPart,
			item.TicketID, item.ID, item.PartID, item.Quantity, item.PriceAtUse, totals))
		return nil
	})
	if err != nil {
		m.failed(models.LineItemKindPart, "update", err)
		return nil, err
	}

	m.succeeded(ctx, models.LineItemKindPart, "update", &box)
	return item, nil
}

// DetachPart removes a ticket part, returns its quantity to stock and
// returns the deleted line item
func (m *LineItemManager) DetachPart(ctx context.Context, id string) (_ *models.TicketPart, err error) {
	ctx, span := util.StartSpan(ctx, "LineItemManager.DetachPart")
	defer func() { util.EndSpan(span, err) }()

	var (
		deleted *models.TicketPart
		box     outbox
	)
	err = m.uow.WithinTx(ctx, "detach part", func(tx store.Repository) error {
		box.reset()

		item, err := tx.DeleteTicketPart(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.LockTicket(ctx, item.TicketID); err != nil {
			return err
		}

		mv, err := ledger.New(tx).Release(ctx, item.PartID, item.Quantity)
		if err != nil {
			return err
		}

		totals, err := recomputeTotals(ctx, tx, item.TicketID)
		if err != nil {
			return err
		}

		deleted = item
		box.addStock(mv, StockReasonDetach)
		box.addLineItem(lineItemEvent(models.EventTypeTicketPartDetached, models.LineItemKindPart,
			item.TicketID, item.ID, item.PartID, item.Quantity, item.PriceAtUse, totals))
		return nil
	})
	if err != nil {
		m.failed(models.LineItemKindPart, "detach", err)
		return nil, err
	}

	m.succeeded(ctx, models.LineItemKindPart, "detach", &box)
	return deleted, nil
}

// AttachRepair adds a repair to a ticket. The price defaults to the
// repair's catalog price when none is given.
func (m *LineItemManager) AttachRepair(ctx context.Context, req *AttachRepairRequest) (_ *models.TicketRepair, err error) {
	ctx, span := util.StartSpan(ctx, "LineItemManager.AttachRepair")
	defer func() { util.EndSpan(span, err) }()

	if err = req.validate(); err != nil {
		m.failed(models.LineItemKindRepair, "attach", err)
		return nil, err
	}

	fingerprint := req.fingerprint()
	id, err := m.replayed(ctx, models.LineItemKindRepair, req.IdempotencyKey, fingerprint)
	if err != nil {
		m.failed(models.LineItemKindRepair, "attach", err)
		return nil, err
	}
	if id != "" {
		existing, getErr := m.uow.GetTicketRepair(ctx, id)
		if getErr == nil {
			return existing, nil
		}
		if !apperr.IsNotFound(getErr) {
			return nil, getErr
		}
	}

	var (
		item *models.TicketRepair
		box  outbox
	)
	err = m.uow.WithinTx(ctx, "attach repair", func(tx store.Repository) error {
		box.reset()

		ticket, err := tx.LockTicket(ctx, req.TicketID)
		if err != nil {
			return err
		}

		repair, err := tx.GetRepair(ctx, req.RepairID)
		if err != nil {
			return err
		}

		price := repair.Price
		if req.PriceAtUse != nil {
			price = *req.PriceAtUse
		}

		item = &models.TicketRepair{
			TicketID:   ticket.ID,
			RepairID:   repair.ID,
			PriceAtUse: price,
			Notes:      req.Notes,
		}
		if err := tx.CreateTicketRepair(ctx, item); err != nil {
			return fmt.Errorf("failed to create ticket repair: %w", err)
		}

		totals, err := recomputeTotals(ctx, tx, ticket.ID)
		if err != nil {
			return err
		}

		box.addLineItem(lineItemEvent(models.EventTypeTicketRepairAttached, models.LineItemKindRepair,
			ticket.ID, item.ID, repair.ID, 0, item.PriceAtUse, totals))
		return nil
	})
	if err != nil {
		m.failed(models.LineItemKindRepair, "attach", err)
		return nil, err
	}

	m.remember(ctx, models.LineItemKindRepair, req.IdempotencyKey, fingerprint, item.ID)
	m.succeeded(ctx, models.LineItemKindRepair, "attach", &box)
	m.logger.Info("Repair attached to ticket",
		zap.String("ticket_id", item.TicketID),
		zap.String("repair_id", item.RepairID))

	return item, nil
}

// UpdateRepair changes the price and/or notes of a ticket repair
func (m *LineItemManager) UpdateRepair(ctx context.Context, id string, req *UpdateRepairRequest) (_ *models.TicketRepair, err error) {
	ctx, span := util.StartSpan(ctx, "LineItemManager.UpdateRepair")
	defer func() { util.EndSpan(span, err) }()

	if err = validatePrice(req.PriceAtUse); err != nil {
		m.failed(models.LineItemKindRepair, "update", err)
		return nil, err
	}

	var (
		item *models.TicketRepair
		box  outbox
	)
	err = m.uow.WithinTx(ctx, "update repair", func(tx store.Repository) error {
		box.reset()

		current, err := tx.LockTicketRepair(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.LockTicket(ctx, current.TicketID); err != nil {
			return err
		}

		if req.PriceAtUse != nil {
			current.PriceAtUse = *req.PriceAtUse
		}
		if req.Notes != nil {
			current.Notes = req.Notes
		}

		if err := tx.UpdateTicketRepair(ctx, current); err != nil {
			return fmt.Errorf("failed to update ticket repair: %w", err)
		}

		totals, err := recomputeTotals(ctx, tx, current.TicketID)
		if err != nil {
			return err
		}

		item = current
		box.addLineItem(lineItemEvent(models.EventTypeTicketRepairUpdated, models.LineItemKindRepair,
			item.TicketID, item.ID, item.RepairID, 0, item.PriceAtUse, totals))
		return nil
	})
	if err != nil {
		m.failed(models.LineItemKindRepair, "update", err)
		return nil, err
	}

	m.succeeded(ctx, models.LineItemKindRepair, "update", &box)
	return item, nil
}

// DetachRepair removes a repair from a ticket and returns the deleted line item
func (m *LineItemManager) DetachRepair(ctx context.Context, id string) (_ *models.TicketRepair, err error) {
	ctx, span := util.StartSpan(ctx, "LineItemManager.DetachRepair")
	defer func() { util.EndSpan(span, err) }()

	var (
		deleted *models.TicketRepair
		box     outbox
	)
	err = m.uow.WithinTx(ctx, "detach repair", func(tx store.Repository) error {
		box.reset()

		item, err := tx.DeleteTicketRepair(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.LockTicket(ctx, item.TicketID); err != nil {
			return err
		}

		totals, err := recomputeTotals(ctx, tx, item.TicketID)
		if err != nil {
			return err
		}

		deleted = item
		box.addLineItem(lineItemEvent(models.EventTypeTicketRepairDetached, models.LineItemKindRepair,
			item.TicketID, item.ID, item.RepairID, 0, item.PriceAtUse, totals))
		return nil
	})
	if err != nil {
		m.failed(models.LineItemKindRepair, "detach", err)
		return nil, err
	}

	m.succeeded(ctx, models.LineItemKindRepair, "detach", &box)
	return deleted, nil
}

// GetTicketPart retrieves a ticket part by ID
func (m *LineItemManager) GetTicketPart(ctx context.Context, id string) (*models.TicketPart, error) {
	return m.uow.GetTicketPart(ctx, id)
}

// GetTicketRepair retrieves a ticket repair by ID
func (m *LineItemManager) GetTicketRepair(ctx context.Context, id string) (*models.TicketRepair, error) {
	return m.uow.GetTicketRepair(ctx, id)
}

// ListTicketParts lists the parts of an existing ticket
func (m *LineItemManager) ListTicketParts(ctx context.Context, ticketID string) ([]models.TicketPart, error) {
	if _, err := m.uow.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return m.uow.ListTicketParts(ctx, ticketID)
}

// ListAllTicketParts pages through the part line items of every ticket
func (m *LineItemManager) ListAllTicketParts(ctx context.Context, page, limit int) ([]models.TicketPart, error) {
	limit, offset := pageWindow(page, limit)
	return m.uow.ListAllTicketParts(ctx, limit, offset)
}

// ListTicketRepairs lists the repairs of an existing ticket
func (m *LineItemManager) ListTicketRepairs(ctx context.Context, ticketID string) ([]models.TicketRepair, error) {
	if _, err := m.uow.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return m.uow.ListTicketRepairs(ctx, ticketID)
}
