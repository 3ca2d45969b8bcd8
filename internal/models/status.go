package models

// Role is the role of an authenticated user
type Role string

// User roles
const (
	RoleAdmin        Role = "ADMIN"
	RoleReceptionist Role = "RECEPTIONIST"
	RoleTechnician   Role = "TECHNICIAN"
	RoleStoreManager Role = "STORE_MANAGER"
	RoleCustomer     Role = "CUSTOMER"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleReceptionist, RoleTechnician, RoleStoreManager, RoleCustomer:
		return true
	}
	return false
}

// TicketStatus is the workflow state of a ticket
type TicketStatus string

// Ticket statuses
const (
	TicketStatusReceived        TicketStatus = "RECEIVED"
	TicketStatusDiagnosis       TicketStatus = "DIAGNOSIS"
	TicketStatusUnderRepair     TicketStatus = "UNDER_REPAIR"
	TicketStatusWaitingParts    TicketStatus = "WAITING_PARTS"
	TicketStatusWaitingApproval TicketStatus = "WAITING_APPROVAL"
	TicketStatusApproved        TicketStatus = "APPROVED"
	TicketStatusReady           TicketStatus = "READY"
	TicketStatusDelivered       TicketStatus = "DELIVERED"
	TicketStatusCancelled       TicketStatus = "CANCELLED"
)

var receptionStatuses = map[TicketStatus]bool{
	TicketStatusApproved:  true,
	TicketStatusDelivered: true,
	TicketStatusCancelled: true,
	TicketStatusReady:     true,
	TicketStatusReceived:  true,
}

var technicianStatuses = map[TicketStatus]bool{
	TicketStatusDiagnosis:       true,
	TicketStatusUnderRepair:     true,
	TicketStatusWaitingApproval: true,
	TicketStatusWaitingParts:    true,
}

// Valid reports whether s is a known status
func (s TicketStatus) Valid() bool {
	return receptionStatuses[s] || technicianStatuses[s]
}

// CanSetStatus reports whether role may move a ticket into status.
// Only the target status is checked; any current state may move to any
// status of the caller's set.
func CanSetStatus(role Role, status TicketStatus) bool {
	switch {
	case role == RoleAdmin:
		return status.Valid()
	case receptionStatuses[status]:
		return role == RoleReceptionist
	case technicianStatuses[status]:
		return role == RoleTechnician
	}
	return false
}
