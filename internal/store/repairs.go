package store

import (
	"context"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateRepair creates a new repair catalog entry
func (s *queries) CreateRepair(ctx context.Context, repair *models.Repair) error {
	if repair.ID == "" {
		repair.ID = uuid.New().String()
	}
	return sqlx.GetContext(ctx, s.q, &repair.CreatedAt,
		"INSERT INTO repairs (id, name, price) VALUES ($1, $2, $3) RETURNING created_at",
		repair.ID, repair.Name, repair.Price)
}

// GetRepair retrieves a repair by ID
func (s *queries) GetRepair(ctx context.Context, id string) (*models.Repair, error) {
	var repair models.Repair
	err := sqlx.GetContext(ctx, s.q, &repair,
		"SELECT id, name, price, created_at FROM repairs WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, apperr.EntityRepair, id)
	}
	return &repair, nil
}

// ListRepairs retrieves the repair catalog
func (s *queries) ListRepairs(ctx context.Context) ([]models.Repair, error) {
	repairs := []models.Repair{}
	err := sqlx.SelectContext(ctx, s.q, &repairs,
		"SELECT id, name, price, created_at FROM repairs ORDER BY name, id")
	return repairs, err
}

// UpdateRepair overwrites name and price of a catalog repair. Line items
// keep their own price snapshot.
func (s *queries) UpdateRepair(ctx context.Context, repair *models.Repair) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE repairs SET name = $1, price = $2 WHERE id = $3",
		repair.Name, repair.Price, repair.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, apperr.EntityRepair, repair.ID)
}

// DeleteRepair removes a catalog repair not used by any ticket
func (s *queries) DeleteRepair(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM repairs WHERE id = $1", id)
	if err != nil {
		return referenced(err)
	}
	return requireAffected(res, apperr.EntityRepair, id)
}
