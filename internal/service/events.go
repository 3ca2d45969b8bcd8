package service

import (
	"context"
	"errors"
	"time"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/ledger"
	"repair-shop-service/internal/models"
	"repair-shop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher publishes domain events after a commit
type EventPublisher interface {
	PublishLineItemChanged(ctx context.Context, event *models.LineItemChangedEvent) error
	PublishStockChanged(ctx context.Context, event *models.PartStockChangedEvent) error
	PublishTicketStatusChanged(ctx context.Context, event *models.TicketStatusChangedEvent) error
}

// Stock movement reasons carried on PartStockChanged events
const (
	StockReasonAttach        = "ticket_part_attached"
	StockReasonUpdate        = "ticket_part_updated"
	StockReasonDetach        = "ticket_part_detached"
	StockReasonTicketDeleted = "ticket_deleted"
	StockReasonCreated       = "part_created"
	StockReasonReset         = "admin_reset"
)

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func stockChangedEvent(mv *ledger.Movement, reason string) *models.PartStockChangedEvent {
	return &models.PartStockChangedEvent{
		BaseEvent:       newBaseEvent(models.EventTypePartStockChanged),
		PartID:          mv.PartID,
		Delta:           mv.Delta,
		Quantity:        mv.Stock.Quantity,
		MinimumQuantity: mv.Stock.MinimumQuantity,
		Version:         mv.Stock.Version,
		Reason:          reason,
	}
}

// outbox collects the events of one unit of work. It is reset at the start
// of every attempt so a retried transaction does not publish twice.
type outbox struct {
	lineItems []*models.LineItemChangedEvent
	stock     []*models.PartStockChangedEvent
	statuses  []*models.TicketStatusChangedEvent
}

func (o *outbox) reset() {
	*o = outbox{}
}

func (o *outbox) addStock(mv *ledger.Movement, reason string) {
	if mv != nil {
		o.stock = append(o.stock, stockChangedEvent(mv, reason))
	}
}

func (o *outbox) addLineItem(event *models.LineItemChangedEvent) {
	o.lineItems = append(o.lineItems, event)
}

// flush publishes collected events. Publishing happens after commit, so a
// failure is logged and counted but never undoes the operation.
func (o *outbox) flush(ctx context.Context, publisher EventPublisher, logger *zap.Logger) {
	if publisher == nil {
		return
	}
	for _, e := range o.stock {
		if err := publisher.PublishStockChanged(ctx, e); err != nil {
			publishFailed(logger, e.EventType, e.EventID, err)
		}
	}
	for _, e := range o.lineItems {
		if err := publisher.PublishLineItemChanged(ctx, e); err != nil {
			publishFailed(logger, e.EventType, e.EventID, err)
		}
	}
	for _, e := range o.statuses {
		if err := publisher.PublishTicketStatusChanged(ctx, e); err != nil {
			publishFailed(logger, e.EventType, e.EventID, err)
		}
	}
}

func publishFailed(logger *zap.Logger, eventType, eventID string, err error) {
	util.EventsPublishFailed.WithLabelValues(eventType).Inc()
	logger.Error("Failed to publish event",
		zap.String("event_type", eventType),
		zap.String("event_id", eventID),
		zap.Error(err))
}

// failureReason labels an error for metrics
func failureReason(err error) string {
	var (
		stockErr    *apperr.InsufficientStockError
		notFoundErr *apperr.NotFoundError
		conflictErr *apperr.ConcurrencyConflictError
		validErr    *apperr.ValidationError
		authErr     *apperr.AuthorizationError
	)
	switch {
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.As(err, &notFoundErr):
		return "not_found"
	case errors.As(err, &conflictErr):
		return "conflict"
	case errors.As(err, &validErr):
		return "invalid"
	case errors.As(err, &authErr):
		return "forbidden"
	default:
		return "error"
	}
}
