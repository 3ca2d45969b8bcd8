package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/models"
	"repair-shop-service/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTicketService(t *testing.T) (*TicketService, *memstore.Store, *mockPublisher) {
	t.Helper()
	s := memstore.New()
	pub := (&mockPublisher{}).acceptAll()
	return NewTicketService(s, pub, "SG", "SJ"), s, pub
}

func TestCreateTicketGeneratesCodes(t *testing.T) {
	svc, _, _ := newTicketService(t)

	ticket, err := svc.CreateTicket(context.Background(), &CreateTicketRequest{
		CustomerID: "customer-1",
		DeviceID:   "device-1",
		Branch:     "downtown",
	})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^SG-\d{4}-\d{4}$`), ticket.TicketNumber)
	assert.Regexp(t, regexp.MustCompile(`^SJ-[A-Z0-9]{11}$`), ticket.DeviceCode)
	assert.Equal(t, models.TicketStatusReceived, ticket.Status)
	assert.True(t, ticket.TotalPrice.IsZero())
}

func TestCreateTicketValidatesInput(t *testing.T) {
	svc, _, _ := newTicketService(t)

	_, err := svc.CreateTicket(context.Background(), &CreateTicketRequest{DeviceID: "device-1"})
	var validErr *apperr.ValidationError
	require.ErrorAs(t, err, &validErr)
	assert.Equal(t, "customer_id", validErr.Field)

	_, err = svc.CreateTicket(context.Background(), &CreateTicketRequest{
		CustomerID: "customer-1", DeviceID: "device-1", Status: "LOST",
	})
	require.ErrorAs(t, err, &validErr)
	assert.Equal(t, "status", validErr.Field)
}

func TestGetTicketIncludesLineItems(t *testing.T) {
	svc, s, _ := newTicketService(t)
	ticket := seedTicket(t, s)
	part := seedPart(t, s, 5, "10.00")
	manager := NewLineItemManager(s, nil, nil, 0)
	_, err := manager.AttachPart(context.Background(), &AttachPartRequest{TicketID: ticket.ID, PartID: part.ID, Quantity: 2})
	require.NoError(t, err)

	details, err := svc.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, ticket.ID, details.Ticket.ID)
	assert.Len(t, details.Parts, 1)
	assert.Empty(t, details.Repairs)
	assert.Equal(t, "20.00", details.Ticket.TotalPrice.StringFixed(2))

	_, err = svc.GetTicket(context.Background(), "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestListTicketsFiltersAndPages(t *testing.T) {
	svc, _, _ := newTicketService(t)
	for i := 0; i < 3; i++ {
		_, err := svc.CreateTicket(context.Background(), &CreateTicketRequest{
			CustomerID: "customer-1", DeviceID: "device-1", Branch: "north",
		})
		require.NoError(t, err)
	}
	_, err := svc.CreateTicket(context.Background(), &CreateTicketRequest{
		CustomerID: "customer-2", DeviceID: "device-2", Branch: "south",
	})
	require.NoError(t, err)

	north, err := svc.ListTickets(context.Background(), models.TicketFilter{Branch: "north"})
	require.NoError(t, err)
	assert.Len(t, north, 3)

	page, err := svc.ListTickets(context.Background(), models.TicketFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = svc.ListTickets(context.Background(), models.TicketFilter{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = svc.ListTickets(context.Background(), models.TicketFilter{Status: "LOST"})
	assert.Error(t, err)
}

func TestUpdateStatusRoleGate(t *testing.T) {
	tests := []struct {
		name    string
		role    models.Role
		status  models.TicketStatus
		allowed bool
	}{
		{"technician diagnoses", models.RoleTechnician, models.TicketStatusDiagnosis, true},
		{"technician skips to waiting parts", models.RoleTechnician, models.TicketStatusWaitingParts, true},
		{"technician cannot deliver", models.RoleTechnician, models.TicketStatusDelivered, false},
		{"receptionist approves", models.RoleReceptionist, models.TicketStatusApproved, true},
		{"receptionist cannot repair", models.RoleReceptionist, models.TicketStatusUnderRepair, false},
		{"admin sets anything", models.RoleAdmin, models.TicketStatusUnderRepair, true},
		{"customer sets nothing", models.RoleCustomer, models.TicketStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, s, _ := newTicketService(t)
			ticket := seedTicket(t, s)

			updated, err := svc.UpdateStatus(context.Background(), models.Actor{ID: "user-1", Role: tt.role}, ticket.ID, tt.status)

			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.status, updated.Status)
				assert.Equal(t, tt.status, ticketOf(t, s, ticket.ID).Status)
				return
			}
			var authErr *apperr.AuthorizationError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, models.TicketStatusReceived, ticketOf(t, s, ticket.ID).Status)
		})
	}
}

func TestUpdateStatusPublishesTransition(t *testing.T) {
	svc, s, pub := newTicketService(t)
	ticket := seedTicket(t, s)
	actor := models.Actor{ID: "tech-7", Role: models.RoleTechnician}

	_, err := svc.UpdateStatus(context.Background(), actor, ticket.ID, models.TicketStatusDiagnosis)
	require.NoError(t, err)

	pub.AssertCalled(t, "PublishTicketStatusChanged", mock.Anything, mock.MatchedBy(func(e *models.TicketStatusChangedEvent) bool {
		return e.From == models.TicketStatusReceived && e.To == models.TicketStatusDiagnosis && e.ActorID == "tech-7"
	}))
}

func TestUpdateStatusSameStatusIsNoop(t *testing.T) {
	svc, s, pub := newTicketService(t)
	ticket := seedTicket(t, s)

	_, err := svc.UpdateStatus(context.Background(), models.Actor{ID: "r-1", Role: models.RoleReceptionist}, ticket.ID, models.TicketStatusReceived)
	require.NoError(t, err)

	pub.AssertNotCalled(t, "PublishTicketStatusChanged", mock.Anything, mock.Anything)
}

func TestUpdateStatusUnknownTicket(t *testing.T) {
	svc, _, _ := newTicketService(t)

	_, err := svc.UpdateStatus(context.Background(), models.Actor{Role: models.RoleAdmin}, "missing", models.TicketStatusReady)
	assert.True(t, apperr.IsNotFound(err))
}

func TestAssignTechnician(t *testing.T) {
	svc, s, _ := newTicketService(t)
	ticket := seedTicket(t, s)
	tech := "tech-3"

	updated, err := svc.AssignTechnician(context.Background(), ticket.ID, &tech)
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedTechID)
	assert.Equal(t, tech, *ticketOf(t, s, ticket.ID).AssignedTechID)

	empty := ""
	_, err = svc.AssignTechnician(context.Background(), ticket.ID, &empty)
	require.NoError(t, err)
	assert.Nil(t, ticketOf(t, s, ticket.ID).AssignedTechID)
}

func TestListTicketsOffsetFollowsClampedLimit(t *testing.T) {
	svc, s, _ := newTicketService(t)
	for i := 0; i < 151; i++ {
		seedTicket(t, s)
	}

	first, err := svc.ListTickets(context.Background(), models.TicketFilter{Page: 1, Limit: 500})
	require.NoError(t, err)
	assert.Len(t, first, 100)

	second, err := svc.ListTickets(context.Background(), models.TicketFilter{Page: 2, Limit: 500})
	require.NoError(t, err)
	assert.Len(t, second, 51)
	assert.NotEqual(t, first[99].ID, second[0].ID)

	fallback, err := svc.ListTickets(context.Background(), models.TicketFilter{Page: 2, Limit: -5})
	require.NoError(t, err)
	assert.Len(t, fallback, 20)
}

func TestDeleteTicketReleasesHeldStock(t *testing.T) {
	svc, s, pub := newTicketService(t)
	manager := NewLineItemManager(s, pub, nil, time.Hour)
	ticket := seedTicket(t, s)
	screen := seedPart(t, s, 10, "50.00")
	battery := seedPart(t, s, 4, "20.00")
	repair := seedRepair(t, s, "30.00")

	for _, req := range []*AttachPartRequest{
		{TicketID: ticket.ID, PartID: screen.ID, Quantity: 2},
		{TicketID: ticket.ID, PartID: screen.ID, Quantity: 3},
		{TicketID: ticket.ID, PartID: battery.ID, Quantity: 1},
	} {
		_, err := manager.AttachPart(context.Background(), req)
		require.NoError(t, err)
	}
	_, err := manager.AttachRepair(context.Background(), &AttachRepairRequest{TicketID: ticket.ID, RepairID: repair.ID})
	require.NoError(t, err)

	deleted, err := svc.DeleteTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, deleted.ID)

	assert.Equal(t, 10, stockOf(t, s, screen.ID))
	assert.Equal(t, 4, stockOf(t, s, battery.ID))
	_, err = s.GetTicket(context.Background(), ticket.ID)
	assert.True(t, apperr.IsNotFound(err))
	all, err := s.ListAllTicketParts(context.Background(), 100, 0)
	require.NoError(t, err)
	assert.Empty(t, all)

	pub.AssertCalled(t, "PublishStockChanged", mock.Anything, mock.MatchedBy(func(e *models.PartStockChangedEvent) bool {
		return e.PartID == screen.ID && e.Delta == 5 && e.Reason == StockReasonTicketDeleted
	}))
}

func TestDeleteTicketRollsBackOnFailure(t *testing.T) {
	svc, s, _ := newTicketService(t)
	manager := NewLineItemManager(s, nil, nil, time.Hour)
	ticket := seedTicket(t, s)
	part := seedPart(t, s, 5, "10.00")
	_, err := manager.AttachPart(context.Background(), &AttachPartRequest{TicketID: ticket.ID, PartID: part.ID, Quantity: 2})
	require.NoError(t, err)

	s.FailOn("DeleteTicket", errors.New("disk full"))
	_, err = svc.DeleteTicket(context.Background(), ticket.ID)
	s.FailOn("DeleteTicket", nil)

	require.Error(t, err)
	assert.Equal(t, 3, stockOf(t, s, part.ID))
	items, err := manager.ListTicketParts(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDeleteUnknownTicket(t *testing.T) {
	svc, _, _ := newTicketService(t)

	_, err := svc.DeleteTicket(context.Background(), "missing")
	assert.True(t, apperr.IsNotFound(err))
}
