package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"repair-shop-service/internal/models"
	"repair-shop-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishLineItemChanged publishes a line item event keyed by ticket
func (ep *EventPublisher) PublishLineItemChanged(ctx context.Context, event *models.LineItemChangedEvent) error {
	key := fmt.Sprintf("ticket-%s", event.TicketID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishStockChanged publishes a stock movement keyed by part
func (ep *EventPublisher) PublishStockChanged(ctx context.Context, event *models.PartStockChangedEvent) error {
	key := fmt.Sprintf("part-%s", event.PartID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishTicketStatusChanged publishes a status transition keyed by ticket
func (ep *EventPublisher) PublishTicketStatusChanged(ctx context.Context, event *models.TicketStatusChangedEvent) error {
	key := fmt.Sprintf("ticket-%s", event.TicketID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onStockChanged func(context.Context, *models.PartStockChangedEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnStockChanged registers a handler for PartStockChanged events
func (eh *EventHandler) OnStockChanged(handler func(context.Context, *models.PartStockChangedEvent) error) {
	eh.onStockChanged = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypePartStockChanged:
		if eh.onStockChanged != nil {
			var event models.PartStockChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PartStockChanged event: %w", err)
			}
			return eh.onStockChanged(ctx, &event)
		}

	default:
		eh.logger.Debug("Skipping event",
			zap.String("event_type", baseEvent.EventType),
			zap.String("event_id", baseEvent.EventID))
	}

	return nil
}
