package service

import (
	"context"
	"errors"
	"fmt"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/ledger"
	"repair-shop-service/internal/models"
	"repair-shop-service/internal/redisclient"
	"repair-shop-service/internal/store"
	"repair-shop-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockCache is the read-side mirror of part stock
type StockCache interface {
	SetStock(ctx context.Context, level models.StockLevel) (bool, error)
	GetStock(ctx context.Context, partID string) (*models.StockLevel, error)
	DeleteStock(ctx context.Context, partID string) error
}

// CatalogService manages the parts and repairs catalog
type CatalogService struct {
	uow       store.UnitOfWork
	cache     StockCache
	publisher EventPublisher
	logger    *zap.Logger
}

// NewCatalogService creates a new catalog service. cache and publisher may be nil.
func NewCatalogService(uow store.UnitOfWork, cache StockCache, publisher EventPublisher) *CatalogService {
	return &CatalogService{
		uow:       uow,
		cache:     cache,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// CreatePartRequest represents a request to add a part to the catalog
type CreatePartRequest struct {
	Name            string          `json:"name" binding:"required"`
	Model           string          `json:"model"`
	Branch          string          `json:"branch"`
	Price           decimal.Decimal `json:"price"`
	Quantity        int             `json:"quantity" binding:"min=0,max=1000000"`
	MinimumQuantity int             `json:"minimum_quantity" binding:"min=0,max=1000000"`
}

// UpdateCatalogPartRequest represents an administrative edit of a part
type UpdateCatalogPartRequest struct {
	Name            *string          `json:"name"`
	Model           *string          `json:"model"`
	Branch          *string          `json:"branch"`
	Price           *decimal.Decimal `json:"price"`
	Quantity        *int             `json:"quantity" binding:"omitempty,min=0,max=1000000"`
	MinimumQuantity *int             `json:"minimum_quantity" binding:"omitempty,min=0,max=1000000"`
}

// CreateRepairRequest represents a request to add a repair to the catalog
type CreateRepairRequest struct {
	Name  string          `json:"name" binding:"required"`
	Price decimal.Decimal `json:"price"`
}

// UpdateCatalogRepairRequest represents an edit of a catalog repair
type UpdateCatalogRepairRequest struct {
	Name  *string          `json:"name"`
	Price *decimal.Decimal `json:"price"`
}

// validatePartFields checks the optional fields shared by create and edit
func validatePartFields(price *decimal.Decimal, qty, minQty *int) error {
	if price != nil {
		if err := validateMoney("price", *price); err != nil {
			return err
		}
	}
	if qty != nil {
		if err := validateQuantity("quantity", *qty, 0); err != nil {
			return err
		}
	}
	if minQty != nil {
		if err := validateQuantity("minimum_quantity", *minQty, 0); err != nil {
			return err
		}
	}
	return nil
}

func partStockEvent(part *models.Part, delta int, reason string) *models.PartStockChangedEvent {
	return stockChangedEvent(&ledger.Movement{
		PartID: part.ID,
		Delta:  delta,
		Stock: models.StockLevel{
			PartID:          part.ID,
			Quantity:        part.Quantity,
			MinimumQuantity: part.MinimumQuantity,
			Version:         part.Version,
		},
	}, reason)
}

// CreatePart adds a part with its opening stock
func (s *CatalogService) CreatePart(ctx context.Context, req *CreatePartRequest) (*models.Part, error) {
	if req.Name == "" {
		return nil, apperr.Invalid("name", "is required")
	}
	if err := validatePartFields(&req.Price, &req.Quantity, &req.MinimumQuantity); err != nil {
		return nil, err
	}

	part := &models.Part{
		Name:            req.Name,
		Model:           req.Model,
		Branch:          req.Branch,
		Price:           req.Price,
		Quantity:        req.Quantity,
		MinimumQuantity: req.MinimumQuantity,
	}
	if err := s.uow.CreatePart(ctx, part); err != nil {
		return nil, fmt.Errorf("failed to create part: %w", err)
	}

	box := outbox{stock: []*models.PartStockChangedEvent{partStockEvent(part, part.Quantity, StockReasonCreated)}}
	box.flush(ctx, s.publisher, s.logger)

	s.logger.Info("Part created", zap.String("part_id", part.ID), zap.Int("quantity", part.Quantity))
	return part, nil
}

// GetPart retrieves a part by ID
func (s *CatalogService) GetPart(ctx context.Context, id string) (*models.Part, error) {
	return s.uow.GetPart(ctx, id)
}

// ListParts lists the whole parts catalog
func (s *CatalogService) ListParts(ctx context.Context) ([]models.Part, error) {
	return s.uow.ListParts(ctx)
}

// UpdatePart applies an administrative edit. A quantity given here replaces
// the stock outright and is not booked through the ledger.
func (s *CatalogService) UpdatePart(ctx context.Context, id string, req *UpdateCatalogPartRequest) (*models.Part, error) {
	if err := validatePartFields(req.Price, req.Quantity, req.MinimumQuantity); err != nil {
		return nil, err
	}

	var (
		part *models.Part
		box  outbox
	)
	err := s.uow.WithinTx(ctx, "update part", func(tx store.Repository) error {
		box.reset()

		// Take the stock lock first so the edit queues behind in-flight reservations.
		level, err := tx.LockPartStock(ctx, id)
		if err != nil {
			return err
		}
		current, err := tx.GetPart(ctx, id)
		if err != nil {
			return err
		}

		if req.Name != nil {
			current.Name = *req.Name
		}
		if req.Model != nil {
			current.Model = *req.Model
		}
		if req.Branch != nil {
			current.Branch = *req.Branch
		}
		if req.Price != nil {
			current.Price = *req.Price
		}
		if req.Quantity != nil {
			current.Quantity = *req.Quantity
		}
		if req.MinimumQuantity != nil {
			current.MinimumQuantity = *req.MinimumQuantity
		}

		if err := tx.UpdatePart(ctx, current); err != nil {
			return fmt.Errorf("failed to update part: %w", err)
		}

		part = current
		box.stock = append(box.stock, partStockEvent(part, part.Quantity-level.Quantity, StockReasonReset))
		return nil
	})
	if err != nil {
		return nil, err
	}

	box.flush(ctx, s.publisher, s.logger)
	return part, nil
}

// DeletePart removes a part no ticket uses and drops its cached stock
func (s *CatalogService) DeletePart(ctx context.Context, id string) error {
	err := s.uow.WithinTx(ctx, "delete part", func(tx store.Repository) error {
		if _, err := tx.LockPartStock(ctx, id); err != nil {
			return err
		}
		return tx.DeletePart(ctx, id)
	})
	if errors.Is(err, apperr.ErrReferenced) {
		return apperr.Invalid("id", "part is still used by ticket line items")
	}
	if err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.DeleteStock(ctx, id); err != nil {
			s.logger.Warn("Failed to drop cached stock", zap.String("part_id", id), zap.Error(err))
		}
	}
	s.logger.Info("Part deleted", zap.String("part_id", id))
	return nil
}

// CreateRepair adds a repair to the catalog
func (s *CatalogService) CreateRepair(ctx context.Context, req *CreateRepairRequest) (*models.Repair, error) {
	if req.Name == "" {
		return nil, apperr.Invalid("name", "is required")
	}
	if err := validateMoney("price", req.Price); err != nil {
		return nil, err
	}

	repair := &models.Repair{Name: req.Name, Price: req.Price}
	if err := s.uow.CreateRepair(ctx, repair); err != nil {
		return nil, fmt.Errorf("failed to create repair: %w", err)
	}
	return repair, nil
}

// GetRepair retrieves a repair by ID
func (s *CatalogService) GetRepair(ctx context.Context, id string) (*models.Repair, error) {
	return s.uow.GetRepair(ctx, id)
}

// ListRepairs lists the whole repairs catalog
func (s *CatalogService) ListRepairs(ctx context.Context) ([]models.Repair, error) {
	return s.uow.ListRepairs(ctx)
}

// UpdateRepair edits a catalog repair. Tickets that already use it keep
// the price they were given when it was attached.
func (s *CatalogService) UpdateRepair(ctx context.Context, id string, req *UpdateCatalogRepairRequest) (*models.Repair, error) {
	if req.Name != nil && *req.Name == "" {
		return nil, apperr.Invalid("name", "must not be empty")
	}
	if req.Price != nil {
		if err := validateMoney("price", *req.Price); err != nil {
			return nil, err
		}
	}

	var repair *models.Repair
	err := s.uow.WithinTx(ctx, "update repair", func(tx store.Repository) error {
		current, err := tx.GetRepair(ctx, id)
		if err != nil {
			return err
		}
		if req.Name != nil {
			current.Name = *req.Name
		}
		if req.Price != nil {
			current.Price = *req.Price
		}
		if err := tx.UpdateRepair(ctx, current); err != nil {
			return fmt.Errorf("failed to update repair: %w", err)
		}
		repair = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repair, nil
}

// DeleteRepair removes a repair no ticket uses
func (s *CatalogService) DeleteRepair(ctx context.Context, id string) error {
	err := s.uow.DeleteRepair(ctx, id)
	if errors.Is(err, apperr.ErrReferenced) {
		return apperr.Invalid("id", "repair is still used by ticket line items")
	}
	return err
}

// GetStock returns the stock of a part from the cache, falling back to the
// database on a miss and warming the cache with the result.
func (s *CatalogService) GetStock(ctx context.Context, partID string) (*models.StockLevel, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetStock")
	defer span.End()

	if s.cache != nil {
		level, err := s.cache.GetStock(ctx, partID)
		if err == nil {
			return level, nil
		}
		if !errors.Is(err, redisclient.ErrStockNotCached) {
			s.logger.Warn("Stock cache read failed, falling back to DB",
				zap.String("part_id", partID),
				zap.Error(err))
		}
	}

	part, err := s.uow.GetPart(ctx, partID)
	if err != nil {
		return nil, err
	}
	level := &models.StockLevel{
		PartID:          part.ID,
		Quantity:        part.Quantity,
		MinimumQuantity: part.MinimumQuantity,
		Version:         part.Version,
	}

	if s.cache != nil {
		if _, err := s.cache.SetStock(ctx, *level); err != nil {
			s.logger.Warn("Failed to warm stock cache", zap.String("part_id", partID), zap.Error(err))
		}
	}
	return level, nil
}
