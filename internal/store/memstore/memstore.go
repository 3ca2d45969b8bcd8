// Package memstore is an in-memory store.UnitOfWork for tests. Transactions
// are serialized and run against a private copy of the data that replaces
// the shared copy only on success, which gives the same all-or-nothing and
// no-lost-update behaviour the Postgres store gets from row locks.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/models"
	"repair-shop-service/internal/store"

	"github.com/google/uuid"
)

type data struct {
	parts         map[string]models.Part
	repairs       map[string]models.Repair
	tickets       map[string]models.Ticket
	ticketParts   map[string]models.TicketPart
	ticketRepairs map[string]models.TicketRepair
	processed     map[string]string
	last          time.Time
}

func newData() *data {
	return &data{
		parts:         map[string]models.Part{},
		repairs:       map[string]models.Repair{},
		tickets:       map[string]models.Ticket{},
		ticketParts:   map[string]models.TicketPart{},
		ticketRepairs: map[string]models.TicketRepair{},
		processed:     map[string]string{},
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.parts {
		c.parts[k] = v
	}
	for k, v := range d.repairs {
		c.repairs[k] = v
	}
	for k, v := range d.tickets {
		c.tickets[k] = v
	}
	for k, v := range d.ticketParts {
		c.ticketParts[k] = v
	}
	for k, v := range d.ticketRepairs {
		c.ticketRepairs[k] = v
	}
	for k, v := range d.processed {
		c.processed[k] = v
	}
	c.last = d.last
	return c
}

// now returns a strictly increasing timestamp so listings keep insertion order
func (d *data) now() time.Time {
	t := time.Now().UTC()
	if !t.After(d.last) {
		t = d.last.Add(time.Microsecond)
	}
	d.last = t
	return t
}

// Store is the in-memory UnitOfWork
type Store struct {
	repo

	txMu    sync.Mutex
	mu      sync.Mutex
	current *data
	faults  map[string]error
	commits int
}

var _ store.UnitOfWork = (*Store)(nil)

// New creates an empty store
func New() *Store {
	s := &Store{current: newData(), faults: map[string]error{}}
	s.repo = repo{store: s}
	return s
}

// FailOn makes the named Repository method return err until cleared with a nil err
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

// Commits returns the number of committed transactions
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) fault(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults[method]
}

// WithinTx runs fn against a private copy that is published on success
func (s *Store) WithinTx(ctx context.Context, op string, fn func(tx store.Repository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	working := s.current.clone()
	s.mu.Unlock()

	if err := fn(&repo{store: s, tx: working}); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = working
	s.commits++
	s.mu.Unlock()
	return nil
}

// repo implements store.Repository. Outside a transaction every call runs
// as its own single-statement transaction.
type repo struct {
	store *Store
	tx    *data
}

func (r *repo) run(method string, fn func(d *data) error) error {
	if err := r.store.fault(method); err != nil {
		return err
	}
	if r.tx != nil {
		return fn(r.tx)
	}
	return r.store.WithinTx(context.Background(), method, func(tx store.Repository) error {
		return fn(tx.(*repo).tx)
	})
}

func (r *repo) CreatePart(_ context.Context, part *models.Part) error {
	return r.run("CreatePart", func(d *data) error {
		if part.ID == "" {
			part.ID = uuid.New().String()
		}
		part.Version = 1
		part.CreatedAt = d.now()
		part.UpdatedAt = part.CreatedAt
		d.parts[part.ID] = *part
		return nil
	})
}

func (r *repo) GetPart(_ context.Context, id string) (*models.Part, error) {
	var out *models.Part
	err := r.run("GetPart", func(d *data) error {
		p, ok := d.parts[id]
		if !ok {
			return apperr.NotFound(apperr.EntityPart, id)
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *repo) ListParts(_ context.Context) ([]models.Part, error) {
	out := []models.Part{}
	err := r.run("ListParts", func(d *data) error {
		for _, p := range d.parts {
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Name != out[j].Name {
				return out[i].Name < out[j].Name
			}
			return out[i].ID < out[j].ID
		})
		return nil
	})
	return out, err
}

func (r *repo) UpdatePart(_ context.Context, part *models.Part) error {
	return r.run("UpdatePart", func(d *data) error {
		existing, ok := d.parts[part.ID]
		if !ok {
			return apperr.NotFound(apperr.EntityPart, part.ID)
		}
		if part.Quantity < 0 {
			return fmt.Errorf("quantity of part %s violates check constraint", part.ID)
		}
		part.Version = existing.Version + 1
		part.CreatedAt = existing.CreatedAt
		part.UpdatedAt = d.now()
		d.parts[part.ID] = *part
		return nil
	})
}

func (r *repo) DeletePart(_ context.Context, id string) error {
	return r.run("DeletePart", func(d *data) error {
		if _, ok := d.parts[id]; !ok {
			return apperr.NotFound(apperr.EntityPart, id)
		}
		for _, item := range d.ticketParts {
			if item.PartID == id {
				return fmt.Errorf("%w: part %s", apperr.ErrReferenced, id)
			}
		}
		delete(d.parts, id)
		return nil
	})
}

func stockOf(p models.Part) *models.StockLevel {
	return &models.StockLevel{
		PartID:          p.ID,
		Quantity:        p.Quantity,
		MinimumQuantity: p.MinimumQuantity,
		Version:         p.Version,
	}
}

func (r *repo) LockPartStock(_ context.Context, partID string) (*models.StockLevel, error) {
	var out *models.StockLevel
	err := r.run("LockPartStock", func(d *data) error {
		p, ok := d.parts[partID]
		if !ok {
			return apperr.NotFound(apperr.EntityPart, partID)
		}
		out = stockOf(p)
		return nil
	})
	return out, err
}

func (r *repo) DecrementPartStock(_ context.Context, partID string, amount int) (*models.StockLevel, error) {
	var out *models.StockLevel
	err := r.run("DecrementPartStock", func(d *data) error {
		p, ok := d.parts[partID]
		if !ok || p.Quantity < amount {
			return fmt.Errorf("part %s missing or holding fewer than %d units", partID, amount)
		}
		p.Quantity -= amount
		p.Version++
		p.UpdatedAt = d.now()
		d.parts[partID] = p
		out = stockOf(p)
		return nil
	})
	return out, err
}

func (r *repo) IncrementPartStock(_ context.Context, partID string, amount int) (*models.StockLevel, error) {
	var out *models.StockLevel
	err := r.run("IncrementPartStock", func(d *data) error {
		p, ok := d.parts[partID]
		if !ok {
			return apperr.NotFound(apperr.EntityPart, partID)
		}
		p.Quantity += amount
		p.Version++
		p.UpdatedAt = d.now()
		d.parts[partID] = p
		out = stockOf(p)
		return nil
	})
	return out, err
}

func (r *repo) CreateRepair(_ context.Context, repair *models.Repair) error {
	return r.run("CreateRepair", func(d *data) error {
		if repair.ID == "" {
			repair.ID = uuid.New().String()
		}
		repair.CreatedAt = d.now()
		d.repairs[repair.ID] = *repair
		return nil
	})
}

func (r *repo) GetRepair(_ context.Context, id string) (*models.Repair, error) {
	var out *models.Repair
	err := r.run("GetRepair", func(d *data) error {
		rp, ok := d.repairs[id]
		if !ok {
			return apperr.NotFound(apperr.EntityRepair, id)
		}
		out = &rp
		return nil
	})
	return out, err
}

func (r *repo) ListRepairs(_ context.Context) ([]models.Repair, error) {
	out := []models.Repair{}
	err := r.run("ListRepairs", func(d *data) error {
		for _, rp := range d.repairs {
			out = append(out, rp)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return nil
	})
	return out, err
}

func (r *repo) UpdateRepair(_ context.Context, repair *models.Repair) error {
	return r.run("UpdateRepair", func(d *data) error {
		existing, ok := d.repairs[repair.ID]
		if !ok {
			return apperr.NotFound(apperr.EntityRepair, repair.ID)
		}
		existing.Name = repair.Name
		existing.Price = repair.Price
		d.repairs[repair.ID] = existing
		return nil
	})
}

func (r *repo) DeleteRepair(_ context.Context, id string) error {
	return r.run("DeleteRepair", func(d *data) error {
		if _, ok := d.repairs[id]; !ok {
			return apperr.NotFound(apperr.EntityRepair, id)
		}
		for _, item := range d.ticketRepairs {
			if item.RepairID == id {
				return fmt.Errorf("%w: repair %s", apperr.ErrReferenced, id)
			}
		}
		delete(d.repairs, id)
		return nil
	})
}

func (r *repo) CreateTicket(_ context.Context, ticket *models.Ticket) error {
	return r.run("CreateTicket", func(d *data) error {
		if ticket.ID == "" {
			ticket.ID = uuid.New().String()
		}
		for _, t := range d.tickets {
			if t.TicketNumber == ticket.TicketNumber || t.DeviceCode == ticket.DeviceCode {
				return fmt.Errorf("%w: ticket number or device code", apperr.ErrDuplicate)
			}
		}
		ticket.CreatedAt = d.now()
		ticket.UpdatedAt = ticket.CreatedAt
		d.tickets[ticket.ID] = *ticket
		return nil
	})
}

func (r *repo) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	return r.getTicket("GetTicket", id)
}

func (r *repo) LockTicket(_ context.Context, id string) (*models.Ticket, error) {
	return r.getTicket("LockTicket", id)
}

func (r *repo) getTicket(method, id string) (*models.Ticket, error) {
	var out *models.Ticket
	err := r.run(method, func(d *data) error {
		t, ok := d.tickets[id]
		if !ok {
			return apperr.NotFound(apperr.EntityTicket, id)
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *repo) ListTickets(_ context.Context, filter models.TicketFilter) ([]models.Ticket, error) {
	out := []models.Ticket{}
	err := r.run("ListTickets", func(d *data) error {
		for _, t := range d.tickets {
			if filter.Status != "" && t.Status != filter.Status {
				continue
			}
			if filter.Branch != "" && t.Branch != filter.Branch {
				continue
			}
			out = append(out, t)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		if filter.Offset > 0 {
			if filter.Offset >= len(out) {
				out = out[:0]
			} else {
				out = out[filter.Offset:]
			}
		}
		if filter.Limit > 0 && filter.Limit < len(out) {
			out = out[:filter.Limit]
		}
		return nil
	})
	return out, err
}

func (r *repo) updateTicket(method, id string, fn func(t *models.Ticket)) error {
	return r.run(method, func(d *data) error {
		t, ok := d.tickets[id]
		if !ok {
			return apperr.NotFound(apperr.EntityTicket, id)
		}
		fn(&t)
		t.UpdatedAt = d.now()
		d.tickets[id] = t
		return nil
	})
}

func (r *repo) UpdateTicketTotals(_ context.Context, id string, totals models.TicketTotals) error {
	return r.updateTicket("UpdateTicketTotals", id, func(t *models.Ticket) {
		t.TotalPartsCost = totals.PartsCost
		t.TotalRepairsCost = totals.RepairsCost
		t.TotalPrice = totals.TotalPrice
	})
}

func (r *repo) UpdateTicketStatus(_ context.Context, id string, status models.TicketStatus) error {
	return r.updateTicket("UpdateTicketStatus", id, func(t *models.Ticket) {
		t.Status = status
	})
}

func (r *repo) AssignTechnician(_ context.Context, id string, techID *string) error {
	return r.updateTicket("AssignTechnician", id, func(t *models.Ticket) {
		t.AssignedTechID = techID
	})
}

func (r *repo) DeleteTicket(_ context.Context, id string) error {
	return r.run("DeleteTicket", func(d *data) error {
		if _, ok := d.tickets[id]; !ok {
			return apperr.NotFound(apperr.EntityTicket, id)
		}
		for itemID, item := range d.ticketParts {
			if item.TicketID == id {
				delete(d.ticketParts, itemID)
			}
		}
		for itemID, item := range d.ticketRepairs {
			if item.TicketID == id {
				delete(d.ticketRepairs, itemID)
			}
		}
		delete(d.tickets, id)
		return nil
	})
}

func (r *repo) CreateTicketPart(_ context.Context, item *models.TicketPart) error {
	return r.run("CreateTicketPart", func(d *data) error {
		if _, ok := d.tickets[item.TicketID]; !ok {
			return fmt.Errorf("foreign key violation: ticket %s", item.TicketID)
		}
		if _, ok := d.parts[item.PartID]; !ok {
			return fmt.Errorf("foreign key violation: part %s", item.PartID)
		}
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.CreatedAt = d.now()
		item.UpdatedAt = item.CreatedAt
		d.ticketParts[item.ID] = *item
		return nil
	})
}

func (r *repo) GetTicketPart(_ context.Context, id string) (*models.TicketPart, error) {
	return r.getTicketPart("GetTicketPart", id)
}

func (r *repo) LockTicketPart(_ context.Context, id string) (*models.TicketPart, error) {
	return r.getTicketPart("LockTicketPart", id)
}

func (r *repo) getTicketPart(method, id string) (*models.TicketPart, error) {
	var out *models.TicketPart
	err := r.run(method, func(d *data) error {
		item, ok := d.ticketParts[id]
		if !ok {
			return apperr.NotFound(apperr.EntityTicketPart, id)
		}
		out = &item
		return nil
	})
	return out, err
}

func (r *repo) UpdateTicketPart(_ context.Context, item *models.TicketPart) error {
	return r.run("UpdateTicketPart", func(d *data) error {
		existing, ok := d.ticketParts[item.ID]
		if !ok {
			return apperr.NotFound(apperr.EntityTicketPart, item.ID)
		}
		existing.Quantity = item.Quantity
		existing.PriceAtUse = item.PriceAtUse
		existing.UpdatedAt = d.now()
		item.UpdatedAt = existing.UpdatedAt
		d.ticketParts[item.ID] = existing
		return nil
	})
}

func (r *repo) DeleteTicketPart(_ context.Context, id string) (*models.TicketPart, error) {
	var out *models.TicketPart
	err := r.run("DeleteTicketPart", func(d *data) error {
		item, ok := d.ticketParts[id]
		if !ok {
			return apperr.NotFound(apperr.EntityTicketPart, id)
		}
		delete(d.ticketParts, id)
		out = &item
		return nil
	})
	return out, err
}

func (r *repo) ListTicketParts(_ context.Context, ticketID string) ([]models.TicketPart, error) {
	out := []models.TicketPart{}
	err := r.run("ListTicketParts", func(d *data) error {
		for _, item := range d.ticketParts {
			if item.TicketID == ticketID {
				out = append(out, item)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return nil
	})
	return out, err
}

func (r *repo) ListAllTicketParts(_ context.Context, limit, offset int) ([]models.TicketPart, error) {
	out := []models.TicketPart{}
	err := r.run("ListAllTicketParts", func(d *data) error {
		for _, item := range d.ticketParts {
			out = append(out, item)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		if offset >= len(out) {
			out = out[:0]
			return nil
		}
		out = out[offset:]
		if limit < len(out) {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r *repo) DeleteTicketPartsOf(_ context.Context, ticketID string) ([]models.TicketPart, error) {
	out := []models.TicketPart{}
	err := r.run("DeleteTicketPartsOf", func(d *data) error {
		for id, item := range d.ticketParts {
			if item.TicketID == ticketID {
				out = append(out, item)
				delete(d.ticketParts, id)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return nil
	})
	return out, err
}

func (r *repo) CreateTicketRepair(_ context.Context, item *models.TicketRepair) error {
	return r.run("CreateTicketRepair", func(d *data) error {
		if _, ok := d.tickets[item.TicketID]; !ok {
			return fmt.Errorf("foreign key violation: ticket %s", item.TicketID)
		}
		if _, ok := d.repairs[item.RepairID]; !ok {
			return fmt.Errorf("foreign key violation: repair %s", item.RepairID)
		}
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.CreatedAt = d.now()
		item.UpdatedAt = item.CreatedAt
		d.ticketRepairs[item.ID] = *item
		return nil
	})
}

func (r *repo) GetTicketRepair(_ context.Context, id string) (*models.TicketRepair, error) {
	return r.getTicketRepair("GetTicketRepair", id)
}

func (r *repo) LockTicketRepair(_ context.Context, id string) (*models.TicketRepair, error) {
	return r.getTicketRepair("LockTicketRepair", id)
}

func (r *repo) getTicketRepair(method, id string) (*models.TicketRepair, error) {
	var out *models.TicketRepair
	err := r.run(method, func(d *data) error {
		item, ok := d.ticketRepairs[id]
		if !ok {
			return apperr.NotFound(apperr.EntityTicketRepair, id)
		}
		out = &item
		return nil
	})
	return out, err
}

func (r *repo) UpdateTicketRepair(_ context.Context, item *models.TicketRepair) error {
	return r.run("UpdateTicketRepair", func(d *data) error {
		existing, ok := d.ticketRepairs[item.ID]
		if !ok {
			return apperr.NotFound(apperr.EntityTicketRepair, item.ID)
		}
		existing.PriceAtUse = item.PriceAtUse
		existing.Notes = item.Notes
		existing.UpdatedAt = d.now()
		item.UpdatedAt = existing.UpdatedAt
		d.ticketRepairs[item.ID] = existing
		return nil
	})
}

func (r *repo) DeleteTicketRepair(_ context.Context, id string) (*models.TicketRepair, error) {
	var out *models.TicketRepair
	err := r.run("DeleteTicketRepair", func(d *data) error {
		item, ok := d.ticketRepairs[id]
		if !ok {
			return apperr.NotFound(apperr.EntityTicketRepair, id)
		}
		delete(d.ticketRepairs, id)
		out = &item
		return nil
	})
	return out, err
}

func (r *repo) ListTicketRepairs(_ context.Context, ticketID string) ([]models.TicketRepair, error) {
	out := []models.TicketRepair{}
	err := r.run("ListTicketRepairs", func(d *data) error {
		for _, item := range d.ticketRepairs {
			if item.TicketID == ticketID {
				out = append(out, item)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return nil
	})
	return out, err
}

func (r *repo) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.run("IsEventProcessed", func(d *data) error {
		_, exists = d.processed[eventID]
		return nil
	})
	return exists, err
}

func (r *repo) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	return r.run("MarkEventProcessed", func(d *data) error {
		if _, ok := d.processed[eventID]; !ok {
			d.processed[eventID] = eventType
		}
		return nil
	})
}
