package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"repair-shop-service/internal/models"
	"repair-shop-service/internal/redisclient"
	"repair-shop-service/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishLineItemChanged(ctx context.Context, event *models.LineItemChangedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishStockChanged(ctx context.Context, event *models.PartStockChangedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishTicketStatusChanged(ctx context.Context, event *models.TicketStatusChangedEvent) error {
	return m.Called(ctx, event).Error(0)
}

// acceptAll makes every publish succeed
func (m *mockPublisher) acceptAll() *mockPublisher {
	m.On("PublishLineItemChanged", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("PublishStockChanged", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("PublishTicketStatusChanged", mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

// fakeCache mirrors the versioned write of the Redis stock script
type fakeCache struct {
	mu     sync.Mutex
	levels map[string]models.StockLevel
	err    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{levels: map[string]models.StockLevel{}}
}

func (c *fakeCache) SetStock(_ context.Context, level models.StockLevel) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if current, ok := c.levels[level.PartID]; ok && current.Version >= level.Version {
		return false, nil
	}
	c.levels[level.PartID] = level
	return true, nil
}

func (c *fakeCache) GetStock(_ context.Context, partID string) (*models.StockLevel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	level, ok := c.levels[partID]
	if !ok {
		return nil, redisclient.ErrStockNotCached
	}
	return &level, nil
}

func (c *fakeCache) DeleteStock(_ context.Context, partID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	delete(c.levels, partID)
	return nil
}

type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: map[string]string{}}
}

func (f *fakeIdempotency) GetIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.keys[key]
	return v, ok, nil
}

func (f *fakeIdempotency) SetIdempotencyKey(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = value
	return nil
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(v int) *int {
	return &v
}

var ticketSeq int64

func seedTicket(t *testing.T, s *memstore.Store) *models.Ticket {
	t.Helper()
	n := atomic.AddInt64(&ticketSeq, 1)
	ticket := &models.Ticket{
		TicketNumber: fmt.Sprintf("SG-2026-%06d", n),
		DeviceCode:   fmt.Sprintf("SJ-SEED%06d", n),
		Status:       models.TicketStatusReceived,
		CustomerID:   "customer-1",
		DeviceID:     "device-1",
	}
	require.NoError(t, s.CreateTicket(context.Background(), ticket))
	return ticket
}

func seedPart(t *testing.T, s *memstore.Store, qty int, price string) *models.Part {
	t.Helper()
	part := &models.Part{
		Name:            "Display assembly",
		Model:           "X1",
		Price:           decimal.RequireFromString(price),
		Quantity:        qty,
		MinimumQuantity: 1,
	}
	require.NoError(t, s.CreatePart(context.Background(), part))
	return part
}

func seedRepair(t *testing.T, s *memstore.Store, price string) *models.Repair {
	t.Helper()
	repair := &models.Repair{Name: "Screen replacement", Price: decimal.RequireFromString(price)}
	require.NoError(t, s.CreateRepair(context.Background(), repair))
	return repair
}

func stockOf(t *testing.T, s *memstore.Store, partID string) int {
	t.Helper()
	part, err := s.GetPart(context.Background(), partID)
	require.NoError(t, err)
	return part.Quantity
}

func ticketOf(t *testing.T, s *memstore.Store, id string) *models.Ticket {
	t.Helper()
	ticket, err := s.GetTicket(context.Background(), id)
	require.NoError(t, err)
	return ticket
}
