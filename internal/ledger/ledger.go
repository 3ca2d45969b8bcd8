// Package ledger owns stock movements of parts. Every movement runs against a
// transaction-scoped repository so the stock change commits or rolls back
// together with the line item that caused it.
package ledger

import (
	"context"
	"fmt"
	"time"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/models"
	"repair-shop-service/internal/util"
)

// StockRepository is the part stock access the ledger needs.
// LockPartStock must hold a row lock until the enclosing transaction ends.
type StockRepository interface {
	LockPartStock(ctx context.Context, partID string) (*models.StockLevel, error)
	DecrementPartStock(ctx context.Context, partID string, amount int) (*models.StockLevel, error)
	IncrementPartStock(ctx context.Context, partID string, amount int) (*models.StockLevel, error)
}

// Movement describes one committed-with-the-transaction stock change
type Movement struct {
	PartID string
	Delta  int
	Stock  models.StockLevel
}

// Ledger reserves and releases part stock
type Ledger struct {
	repo StockRepository
}

// New binds a ledger to a transaction-scoped repository
func New(repo StockRepository) *Ledger {
	return &Ledger{repo: repo}
}

// Reserve takes amount units out of stock, failing with
// InsufficientStockError when fewer are available.
func (l *Ledger) Reserve(ctx context.Context, partID string, amount int) (*Movement, error) {
	if amount <= 0 {
		return nil, apperr.Invalid("quantity", "reservation amount must be positive")
	}

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	level, err := l.repo.LockPartStock(ctx, partID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stock of part %s: %w", partID, err)
	}

	if amount > level.Quantity {
		util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		return nil, &apperr.InsufficientStockError{
			PartID:    partID,
			Requested: amount,
			Available: level.Quantity,
		}
	}

	after, err := l.repo.DecrementPartStock(ctx, partID, amount)
	if err != nil {
		util.InventoryReservationsFailed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to reserve stock of part %s: %w", partID, err)
	}

	return &Movement{PartID: partID, Delta: -amount, Stock: *after}, nil
}

// Release puts amount units back into stock. There is no upper bound.
func (l *Ledger) Release(ctx context.Context, partID string, amount int) (*Movement, error) {
	if amount <= 0 {
		return nil, apperr.Invalid("quantity", "release amount must be positive")
	}

	after, err := l.repo.IncrementPartStock(ctx, partID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to release stock of part %s: %w", partID, err)
	}

	return &Movement{PartID: partID, Delta: amount, Stock: *after}, nil
}

// AdjustReservation moves stock by the difference between the old and the
// new reserved amount. It returns a nil movement when nothing changed.
func (l *Ledger) AdjustReservation(ctx context.Context, partID string, oldAmount, newAmount int) (*Movement, error) {
	delta := newAmount - oldAmount
	switch {
	case delta > 0:
		return l.Reserve(ctx, partID, delta)
	case delta < 0:
		return l.Release(ctx, partID, -delta)
	default:
		return nil, nil
	}
}
