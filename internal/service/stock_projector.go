package service

import (
	"context"
	"fmt"

	"repair-shop-service/internal/models"
	"repair-shop-service/internal/store"
	"repair-shop-service/internal/util"

	"go.uber.org/zap"
)

// StockProjector keeps the stock cache in step with committed stock
// movements and raises low-stock alerts.
type StockProjector struct {
	uow            store.UnitOfWork
	cache          StockCache
	lowStockAlerts bool
	logger         *zap.Logger
}

// NewStockProjector creates a new stock projector
func NewStockProjector(uow store.UnitOfWork, cache StockCache, lowStockAlerts bool) *StockProjector {
	return &StockProjector{
		uow:            uow,
		cache:          cache,
		lowStockAlerts: lowStockAlerts,
		logger:         util.GetLogger(),
	}
}

// HandleStockChanged projects one PartStockChanged event. Events are applied
// at most once; the cache itself drops versions older than what it holds.
func (p *StockProjector) HandleStockChanged(ctx context.Context, event *models.PartStockChangedEvent) error {
	ctx, span := util.StartSpan(ctx, "StockProjector.HandleStockChanged")
	defer span.End()

	processed, err := p.uow.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		p.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	level := models.StockLevel{
		PartID:          event.PartID,
		Quantity:        event.Quantity,
		MinimumQuantity: event.MinimumQuantity,
		Version:         event.Version,
	}

	written, err := p.cache.SetStock(ctx, level)
	if err != nil {
		return fmt.Errorf("failed to mirror stock of part %s: %w", event.PartID, err)
	}
	if !written {
		p.logger.Debug("Stale stock event skipped",
			zap.String("part_id", event.PartID),
			zap.Int64("version", event.Version))
	}

	if p.lowStockAlerts && event.Delta < 0 && level.IsLow() {
		util.LowStockAlertsTotal.Inc()
		p.logger.Warn("Part stock is low",
			zap.String("part_id", event.PartID),
			zap.Int("quantity", level.Quantity),
			zap.Int("minimum_quantity", level.MinimumQuantity))
	}

	if err := p.uow.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// SyncStockToCache copies the stock of every part into the cache
func (p *StockProjector) SyncStockToCache(ctx context.Context) error {
	p.logger.Info("Starting stock sync to cache")

	parts, err := p.uow.ListParts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list parts: %w", err)
	}

	for _, part := range parts {
		level := models.StockLevel{
			PartID:          part.ID,
			Quantity:        part.Quantity,
			MinimumQuantity: part.MinimumQuantity,
			Version:         part.Version,
		}
		if _, err := p.cache.SetStock(ctx, level); err != nil {
			p.logger.Error("Failed to sync part stock",
				zap.String("part_id", part.ID),
				zap.Error(err))
		}
	}

	p.logger.Info("Stock sync completed", zap.Int("count", len(parts)))
	return nil
}
