package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/models"
	"repair-shop-service/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type lineItemFixture struct {
	store   *memstore.Store
	pub     *mockPublisher
	idem    *fakeIdempotency
	manager *LineItemManager
	ticket  *models.Ticket
}

func newLineItemFixture(t *testing.T) *lineItemFixture {
	t.Helper()
	s := memstore.New()
	pub := (&mockPublisher{}).acceptAll()
	idem := newFakeIdempotency()
	return &lineItemFixture{
		store:   s,
		pub:     pub,
		idem:    idem,
		manager: NewLineItemManager(s, pub, idem, time.Hour),
		ticket:  seedTicket(t, s),
	}
}

func (f *lineItemFixture) attachPart(t *testing.T, partID string, qty int, price string) *models.TicketPart {
	t.Helper()
	item, err := f.manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID:   f.ticket.ID,
		PartID:     partID,
		Quantity:   qty,
		PriceAtUse: dec(price),
	})
	require.NoError(t, err)
	return item
}

func TestAttachPartReservesStockAndUpdatesTotals(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "12.00")

	item := f.attachPart(t, part.ID, 3, "10.00")

	assert.Equal(t, 3, item.Quantity)
	assert.Equal(t, 2, stockOf(t, f.store, part.ID))

	ticket := ticketOf(t, f.store, f.ticket.ID)
	assert.Equal(t, "30.00", ticket.TotalPartsCost.StringFixed(2))
	assert.Equal(t, "30.00", ticket.TotalPrice.StringFixed(2))

	f.pub.AssertCalled(t, "PublishStockChanged", mock.Anything, mock.MatchedBy(func(e *models.PartStockChangedEvent) bool {
		return e.PartID == part.ID && e.Delta == -3 && e.Quantity == 2 && e.Reason == StockReasonAttach
	}))
	f.pub.AssertCalled(t, "PublishLineItemChanged", mock.Anything, mock.MatchedBy(func(e *models.LineItemChangedEvent) bool {
		return e.EventType == models.EventTypeTicketPartAttached && e.LineItemID == item.ID
	}))
}

func TestAttachPartInsufficientStockLeavesNoTrace(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")
	f.attachPart(t, part.ID, 3, "10.00")

	_, err := f.manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID:   f.ticket.ID,
		PartID:     part.ID,
		Quantity:   5,
		PriceAtUse: dec("10.00"),
	})

	var stockErr *apperr.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 2, stockOf(t, f.store, part.ID))

	items, err := f.manager.ListTicketParts(context.Background(), f.ticket.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "30.00", ticketOf(t, f.store, f.ticket.ID).TotalPartsCost.StringFixed(2))
}

func TestUpdatePartQuantityReleasesDifference(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")
	item := f.attachPart(t, part.ID, 3, "10.00")

	updated, err := f.manager.UpdatePart(context.Background(), item.ID, &UpdatePartRequest{Quantity: intPtr(1)})
	require.NoError(t, err)

	assert.Equal(t, 1, updated.Quantity)
	assert.Equal(t, 4, stockOf(t, f.store, part.ID))
	assert.Equal(t, "10.00", ticketOf(t, f.store, f.ticket.ID).TotalPartsCost.StringFixed(2))
}

func TestUpdatePartQuantityIncreaseBeyondStockKeepsOriginal(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")
	item := f.attachPart(t, part.ID, 3, "10.00")

	_, err := f.manager.UpdatePart(context.Background(), item.ID, &UpdatePartRequest{Quantity: intPtr(6)})

	var stockErr *apperr.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockOf(t, f.store, part.ID))

	current, err := f.manager.GetTicketPart(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, current.Quantity)
}

func TestUpdatePartPriceOnlyLeavesStock(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")
	item := f.attachPart(t, part.ID, 2, "10.00")

	_, err := f.manager.UpdatePart(context.Background(), item.ID, &UpdatePartRequest{PriceAtUse: dec("7.50")})
	require.NoError(t, err)

	assert.Equal(t, 3, stockOf(t, f.store, part.ID))
	assert.Equal(t, "15.00", ticketOf(t, f.store, f.ticket.ID).TotalPartsCost.StringFixed(2))
}

func TestDetachPartRestoresStock(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")
	item := f.attachPart(t, part.ID, 3, "10.00")
	_, err := f.manager.UpdatePart(context.Background(), item.ID, &UpdatePartRequest{Quantity: intPtr(1)})
	require.NoError(t, err)

	deleted, err := f.manager.DetachPart(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, deleted.ID)
	assert.Equal(t, 1, deleted.Quantity)

	assert.Equal(t, 5, stockOf(t, f.store, part.ID))
	ticket := ticketOf(t, f.store, f.ticket.ID)
	assert.Equal(t, "0.00", ticket.TotalPartsCost.StringFixed(2))
	assert.Equal(t, "0.00", ticket.TotalPrice.StringFixed(2))

	_, err = f.manager.GetTicketPart(context.Background(), item.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestMixedTicketTotals(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")
	repair := seedRepair(t, f.store, "25.00")

	_, err := f.manager.AttachRepair(context.Background(), &AttachRepairRequest{
		TicketID:   f.ticket.ID,
		RepairID:   repair.ID,
		PriceAtUse: dec("25.00"),
	})
	require.NoError(t, err)
	f.attachPart(t, part.ID, 2, "10.00")

	ticket := ticketOf(t, f.store, f.ticket.ID)
	assert.Equal(t, "25.00", ticket.TotalRepairsCost.StringFixed(2))
	assert.Equal(t, "20.00", ticket.TotalPartsCost.StringFixed(2))
	assert.Equal(t, "45.00", ticket.TotalPrice.StringFixed(2))
}

func TestConcurrentAttachNeverOverdraws(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.AttachPart(context.Background(), &AttachPartRequest{
				TicketID: f.ticket.ID,
				PartID:   part.ID,
				Quantity: 3,
			})
		}(i)
	}
	wg.Wait()

	succeeded, shortages := 0, 0
	for _, err := range errs {
		var stockErr *apperr.InsufficientStockError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &stockErr):
			shortages++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, shortages)
	assert.Equal(t, 2, stockOf(t, f.store, part.ID))
}

func TestAttachPartDefaultsToCatalogPrice(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "19.99")

	item, err := f.manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID: f.ticket.ID,
		PartID:   part.ID,
		Quantity: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, "19.99", item.PriceAtUse.StringFixed(2))
	assert.Equal(t, "39.98", ticketOf(t, f.store, f.ticket.ID).TotalPrice.StringFixed(2))
}

func TestAttachPartUnknownReferences(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")

	_, err := f.manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID: f.ticket.ID, PartID: "missing", Quantity: 1,
	})
	var notFound *apperr.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, apperr.EntityPart, notFound.Entity)

	_, err = f.manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID: "missing", PartID: part.ID, Quantity: 1,
	})
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, apperr.EntityTicket, notFound.Entity)

	assert.Equal(t, 5, stockOf(t, f.store, part.ID))
}

func TestAttachPartRejectsInvalidInput(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")
	commits := f.store.Commits()

	_, err := f.manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID: f.ticket.ID, PartID: part.ID, Quantity: 0,
	})
	var validErr *apperr.ValidationError
	require.ErrorAs(t, err, &validErr)
	assert.Equal(t, "quantity", validErr.Field)

	_, err = f.manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID: f.ticket.ID, PartID: part.ID, Quantity: 1, PriceAtUse: dec("-1"),
	})
	require.ErrorAs(t, err, &validErr)

	assert.Equal(t, commits, f.store.Commits())
}

func TestFailedTotalsUpdateRollsBackEverything(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")

	boom := errors.New("connection reset")
	f.store.FailOn("UpdateTicketTotals", boom)
	_, err := f.manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID: f.ticket.ID, PartID: part.ID, Quantity: 3,
	})
	f.store.FailOn("UpdateTicketTotals", nil)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 5, stockOf(t, f.store, part.ID))

	items, err := f.manager.ListTicketParts(context.Background(), f.ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
	f.pub.AssertNotCalled(t, "PublishStockChanged", mock.Anything, mock.Anything)
}

func TestFailedDetachKeepsLineItemAndStock(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")
	item := f.attachPart(t, part.ID, 3, "10.00")

	f.store.FailOn("IncrementPartStock", errors.New("disk full"))
	_, err := f.manager.DetachPart(context.Background(), item.ID)
	f.store.FailOn("IncrementPartStock", nil)

	require.Error(t, err)
	assert.Equal(t, 2, stockOf(t, f.store, part.ID))
	_, err = f.manager.GetTicketPart(context.Background(), item.ID)
	assert.NoError(t, err)
}

func TestAttachPartReplaysIdempotencyKey(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")
	req := &AttachPartRequest{TicketID: f.ticket.ID, PartID: part.ID, Quantity: 2, IdempotencyKey: "req-1"}

	first, err := f.manager.AttachPart(context.Background(), req)
	require.NoError(t, err)
	second, err := f.manager.AttachPart(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, stockOf(t, f.store, part.ID))
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	s := memstore.New()
	pub := &mockPublisher{}
	pub.On("PublishStockChanged", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	pub.On("PublishLineItemChanged", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	manager := NewLineItemManager(s, pub, nil, time.Hour)
	ticket := seedTicket(t, s)
	part := seedPart(t, s, 5, "10.00")

	_, err := manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID: ticket.ID, PartID: part.ID, Quantity: 1,
	})

	require.NoError(t, err)
	assert.Equal(t, 4, stockOf(t, s, part.ID))
	pub.AssertExpectations(t)
}

func TestRepairLifecycle(t *testing.T) {
	f := newLineItemFixture(t)
	repair := seedRepair(t, f.store, "40.00")
	notes := "replace flex cable"

	item, err := f.manager.AttachRepair(context.Background(), &AttachRepairRequest{
		TicketID: f.ticket.ID,
		RepairID: repair.ID,
		Notes:    &notes,
	})
	require.NoError(t, err)
	assert.Equal(t, "40.00", item.PriceAtUse.StringFixed(2))
	assert.Equal(t, "40.00", ticketOf(t, f.store, f.ticket.ID).TotalRepairsCost.StringFixed(2))

	updated, err := f.manager.UpdateRepair(context.Background(), item.ID, &UpdateRepairRequest{PriceAtUse: dec("35.00")})
	require.NoError(t, err)
	assert.Equal(t, notes, *updated.Notes)
	assert.Equal(t, "35.00", ticketOf(t, f.store, f.ticket.ID).TotalPrice.StringFixed(2))

	deleted, err := f.manager.DetachRepair(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, "35.00", deleted.PriceAtUse.StringFixed(2))
	assert.True(t, ticketOf(t, f.store, f.ticket.ID).TotalRepairsCost.IsZero())

	_, err = f.manager.DetachRepair(context.Background(), item.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestStockIsConservedAcrossOperations(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 10, "10.00")

	a := f.attachPart(t, part.ID, 4, "10.00")
	b := f.attachPart(t, part.ID, 3, "10.00")
	_, err := f.manager.UpdatePart(context.Background(), a.ID, &UpdatePartRequest{Quantity: intPtr(6)})
	require.NoError(t, err)
	_, err = f.manager.AttachPart(context.Background(), &AttachPartRequest{TicketID: f.ticket.ID, PartID: part.ID, Quantity: 2})
	require.Error(t, err)
	_, err = f.manager.DetachPart(context.Background(), b.ID)
	require.NoError(t, err)

	items, err := f.manager.ListTicketParts(context.Background(), f.ticket.ID)
	require.NoError(t, err)
	attached := 0
	for _, item := range items {
		attached += item.Quantity
	}
	assert.Equal(t, 10, stockOf(t, f.store, part.ID)+attached)
	assert.Equal(t, "60.00", ticketOf(t, f.store, f.ticket.ID).TotalPartsCost.StringFixed(2))
}

func TestListLineItemsOfUnknownTicket(t *testing.T) {
	f := newLineItemFixture(t)

	_, err := f.manager.ListTicketParts(context.Background(), "missing")
	assert.True(t, apperr.IsNotFound(err))
	_, err = f.manager.ListTicketRepairs(context.Background(), "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestIdempotencyKeyReusedOnAnotherTicketIsRejected(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 10, "10.00")
	other := seedTicket(t, f.store)

	_, err := f.manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID: f.ticket.ID, PartID: part.ID, Quantity: 2, IdempotencyKey: "k",
	})
	require.NoError(t, err)

	_, err = f.manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID: other.ID, PartID: part.ID, Quantity: 5, IdempotencyKey: "k",
	})

	var validErr *apperr.ValidationError
	require.ErrorAs(t, err, &validErr)
	assert.Equal(t, "idempotency_key", validErr.Field)
	items, err := f.manager.ListTicketParts(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 8, stockOf(t, f.store, part.ID))
}

func TestIdempotencyKeyReusedWithDifferentQuantityIsRejected(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 10, "10.00")
	req := &AttachPartRequest{TicketID: f.ticket.ID, PartID: part.ID, Quantity: 2, IdempotencyKey: "k"}

	_, err := f.manager.AttachPart(context.Background(), req)
	require.NoError(t, err)

	changed := *req
	changed.Quantity = 3
	_, err = f.manager.AttachPart(context.Background(), &changed)

	var validErr *apperr.ValidationError
	assert.ErrorAs(t, err, &validErr)
	assert.Equal(t, 8, stockOf(t, f.store, part.ID))
}

func TestRepairIdempotencyKeyIsBoundToTicket(t *testing.T) {
	f := newLineItemFixture(t)
	repair := seedRepair(t, f.store, "40.00")
	other := seedTicket(t, f.store)

	first, err := f.manager.AttachRepair(context.Background(), &AttachRepairRequest{
		TicketID: f.ticket.ID, RepairID: repair.ID, IdempotencyKey: "r",
	})
	require.NoError(t, err)
	again, err := f.manager.AttachRepair(context.Background(), &AttachRepairRequest{
		TicketID: f.ticket.ID, RepairID: repair.ID, IdempotencyKey: "r",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = f.manager.AttachRepair(context.Background(), &AttachRepairRequest{
		TicketID: other.ID, RepairID: repair.ID, IdempotencyKey: "r",
	})
	var validErr *apperr.ValidationError
	assert.ErrorAs(t, err, &validErr)
	assert.True(t, ticketOf(t, f.store, other.ID).TotalRepairsCost.IsZero())
}

func TestPriceAtUseWithMoreThanTwoDecimalsIsRejected(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")

	_, err := f.manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID: f.ticket.ID, PartID: part.ID, Quantity: 1, PriceAtUse: dec("10.005"),
	})
	var validErr *apperr.ValidationError
	require.ErrorAs(t, err, &validErr)
	assert.Equal(t, "price_at_use", validErr.Field)
	assert.Equal(t, 5, stockOf(t, f.store, part.ID))

	item := f.attachPart(t, part.ID, 1, "10.50")
	assert.Equal(t, "10.50", item.PriceAtUse.StringFixed(2))

	_, err = f.manager.UpdatePart(context.Background(), item.ID, &UpdatePartRequest{PriceAtUse: dec("9.999")})
	assert.ErrorAs(t, err, &validErr)
	assert.Equal(t, "10.50", ticketOf(t, f.store, f.ticket.ID).TotalPartsCost.StringFixed(2))
}

func TestQuantityAboveLimitIsRejected(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 5, "10.00")

	_, err := f.manager.AttachPart(context.Background(), &AttachPartRequest{
		TicketID: f.ticket.ID, PartID: part.ID, Quantity: MaxQuantity + 1,
	})
	var validErr *apperr.ValidationError
	require.ErrorAs(t, err, &validErr)
	assert.Equal(t, "quantity", validErr.Field)

	item := f.attachPart(t, part.ID, 1, "10.00")
	_, err = f.manager.UpdatePart(context.Background(), item.ID, &UpdatePartRequest{Quantity: intPtr(1 << 40)})
	assert.ErrorAs(t, err, &validErr)
	assert.Equal(t, 4, stockOf(t, f.store, part.ID))
}

func TestListAllTicketPartsPages(t *testing.T) {
	f := newLineItemFixture(t)
	part := seedPart(t, f.store, 10, "10.00")
	other := seedTicket(t, f.store)
	f.attachPart(t, part.ID, 1, "10.00")
	f.attachPart(t, part.ID, 1, "10.00")
	_, err := f.manager.AttachPart(context.Background(), &AttachPartRequest{TicketID: other.ID, PartID: part.ID, Quantity: 1})
	require.NoError(t, err)

	all, err := f.manager.ListAllTicketParts(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, other.ID, all[0].TicketID)

	second, err := f.manager.ListAllTicketParts(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.Len(t, second, 1)
}
