package worker

import (
	"context"
	"errors"

	"repair-shop-service/internal/broker"
	"repair-shop-service/internal/models"
	"repair-shop-service/internal/util"

	"go.uber.org/zap"
)

// StockProjection is what the worker drives for each stock event
type StockProjection interface {
	HandleStockChanged(ctx context.Context, event *models.PartStockChangedEvent) error
	SyncStockToCache(ctx context.Context) error
}

// StockWorker consumes stock events and projects them into the cache
type StockWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	projection   StockProjection
	logger       *zap.Logger
}

// NewStockWorker creates a new stock worker
func NewStockWorker(consumer *broker.Consumer, projection StockProjection) *StockWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnStockChanged(projection.HandleStockChanged)

	return &StockWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		projection:   projection,
		logger:       util.GetLogger(),
	}
}

// Start syncs the cache once and then consumes until ctx is cancelled
func (w *StockWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock worker")

	if err := w.projection.SyncStockToCache(ctx); err != nil {
		w.logger.Error("Initial stock sync failed", zap.Error(err))
	}

	err := w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop stops the worker
func (w *StockWorker) Stop() error {
	w.logger.Info("Stopping stock worker")
	return w.consumer.Close()
}
