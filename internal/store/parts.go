package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const partColumns = `id, name, model, branch, price, quantity, minimum_quantity, version, created_at, updated_at`

const stockColumns = `id, quantity, minimum_quantity, version`

// CreatePart creates a new part
func (s *queries) CreatePart(ctx context.Context, part *models.Part) error {
	if part.ID == "" {
		part.ID = uuid.New().String()
	}

	query := `
		INSERT INTO parts (id, name, model, branch, price, quantity, minimum_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING version, created_at, updated_at`

	return sqlx.GetContext(ctx, s.q, part, query,
		part.ID, part.Name, part.Model, part.Branch, part.Price, part.Quantity, part.MinimumQuantity)
}

// GetPart retrieves a part by ID
func (s *queries) GetPart(ctx context.Context, id string) (*models.Part, error) {
	var part models.Part
	err := sqlx.GetContext(ctx, s.q, &part, "SELECT "+partColumns+" FROM parts WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, apperr.EntityPart, id)
	}
	return &part, nil
}

// ListParts retrieves all parts
func (s *queries) ListParts(ctx context.Context) ([]models.Part, error) {
	parts := []models.Part{}
	err := sqlx.SelectContext(ctx, s.q, &parts, "SELECT "+partColumns+" FROM parts ORDER BY name, id")
	return parts, err
}

// UpdatePart overwrites the editable fields of a part, quantity included.
// This is the administrative path and does not go through the ledger.
func (s *queries) UpdatePart(ctx context.Context, part *models.Part) error {
	query := `
		UPDATE parts
		SET name = $1, model = $2, branch = $3, price = $4, quantity = $5, minimum_quantity = $6,
		    version = version + 1, updated_at = NOW()
		WHERE id = $7
		RETURNING version, created_at, updated_at`

	err := sqlx.GetContext(ctx, s.q, part, query,
		part.Name, part.Model, part.Branch, part.Price, part.Quantity, part.MinimumQuantity, part.ID)
	return notFound(err, apperr.EntityPart, part.ID)
}

// DeletePart removes a part. Parts still used by a ticket are kept by the
// foreign key and reported as ErrReferenced.
func (s *queries) DeletePart(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM parts WHERE id = $1", id)
	if err != nil {
		return referenced(err)
	}
	return requireAffected(res, apperr.EntityPart, id)
}

// LockPartStock reads the stock of a part and holds its row lock (FOR UPDATE)
func (s *queries) LockPartStock(ctx context.Context, partID string) (*models.StockLevel, error) {
	var level models.StockLevel
	err := sqlx.GetContext(ctx, s.q, &level,
		"SELECT "+stockColumns+" FROM parts WHERE id = $1 FOR UPDATE", partID)
	if err != nil {
		return nil, notFound(err, apperr.EntityPart, partID)
	}
	return &level, nil
}

// DecrementPartStock takes amount units out of stock. The guard keeps the
// quantity non-negative even if the caller skipped LockPartStock.
func (s *queries) DecrementPartStock(ctx context.Context, partID string, amount int) (*models.StockLevel, error) {
	var level models.StockLevel
	err := sqlx.GetContext(ctx, s.q, &level, `
		UPDATE parts
		SET quantity = quantity - $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND quantity >= $1
		RETURNING `+stockColumns, amount, partID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("part %s missing or holding fewer than %d units", partID, amount)
		}
		return nil, err
	}
	return &level, nil
}

// IncrementPartStock puts amount units back into stock
func (s *queries) IncrementPartStock(ctx context.Context, partID string, amount int) (*models.StockLevel, error) {
	var level models.StockLevel
	err := sqlx.GetContext(ctx, s.q, &level, `
		UPDATE parts
		SET quantity = quantity + $1, version = version + 1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+stockColumns, amount, partID)
	if err != nil {
		return nil, notFound(err, apperr.EntityPart, partID)
	}
	return &level, nil
}
