package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"repair-shop-service/config"
	"repair-shop-service/internal/apperr"
	"repair-shop-service/internal/ledger"
	"repair-shop-service/internal/models"
	"repair-shop-service/internal/util"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// Postgres error codes that mean "another transaction got in the way"
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
	pqUniqueViolation      = "23505"
	pqForeignKeyViolation  = "23503"
)

// Repository is every query the services run. The same set is available
// on the Store (autocommit reads) and inside WithinTx callbacks.
type Repository interface {
	ledger.StockRepository

	CreatePart(ctx context.Context, part *models.Part) error
	GetPart(ctx context.Context, id string) (*models.Part, error)
	ListParts(ctx context.Context) ([]models.Part, error)
	UpdatePart(ctx context.Context, part *models.Part) error
	DeletePart(ctx context.Context, id string) error

	CreateRepair(ctx context.Context, repair *models.Repair) error
	GetRepair(ctx context.Context, id string) (*models.Repair, error)
	ListRepairs(ctx context.Context) ([]models.Repair, error)
	UpdateRepair(ctx context.Context, repair *models.Repair) error
	DeleteRepair(ctx context.Context, id string) error

	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	LockTicket(ctx context.Context, id string) (*models.Ticket, error)
	ListTickets(ctx context.Context, filter models.TicketFilter) ([]models.Ticket, error)
	UpdateTicketTotals(ctx context.Context, id string, totals models.TicketTotals) error
	UpdateTicketStatus(ctx context.Context, id string, status models.TicketStatus) error
	AssignTechnician(ctx context.Context, id string, techID *string) error
	DeleteTicket(ctx context.Context, id string) error

	CreateTicketPart(ctx context.Context, item *models.TicketPart) error
	GetTicketPart(ctx context.Context, id string) (*models.TicketPart, error)
	LockTicketPart(ctx context.Context, id string) (*models.TicketPart, error)
	UpdateTicketPart(ctx context.Context, item *models.TicketPart) error
	DeleteTicketPart(ctx context.Context, id string) (*models.TicketPart, error)
	ListTicketParts(ctx context.Context, ticketID string) ([]models.TicketPart, error)
	ListAllTicketParts(ctx context.Context, limit, offset int) ([]models.TicketPart, error)
	DeleteTicketPartsOf(ctx context.Context, ticketID string) ([]models.TicketPart, error)

	CreateTicketRepair(ctx context.Context, item *models.TicketRepair) error
	GetTicketRepair(ctx context.Context, id string) (*models.TicketRepair, error)
	LockTicketRepair(ctx context.Context, id string) (*models.TicketRepair, error)
	UpdateTicketRepair(ctx context.Context, item *models.TicketRepair) error
	DeleteTicketRepair(ctx context.Context, id string) (*models.TicketRepair, error)
	ListTicketRepairs(ctx context.Context, ticketID string) ([]models.TicketRepair, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// UnitOfWork runs a callback inside one transaction. The callback's
// Repository is bound to that transaction; returning an error (or
// panicking) rolls back every write made through it.
type UnitOfWork interface {
	Repository
	WithinTx(ctx context.Context, op string, fn func(tx Repository) error) error
}

// queries implements Repository over either the pool or a transaction
type queries struct {
	q sqlx.ExtContext
}

type Store struct {
	queries
	db          *sqlx.DB
	lockTimeout time.Duration
	maxAttempts int
	logger      *zap.Logger
}

var _ UnitOfWork = (*Store)(nil)

// NewStore creates a new database store
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreFromDB(db, cfg.LockTimeout, cfg.MaxTxAttempts), nil
}

// NewStoreFromDB wraps an open connection pool
func NewStoreFromDB(db *sqlx.DB, lockTimeout time.Duration, maxAttempts int) *Store {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Store{
		queries:     queries{q: db},
		db:          db,
		lockTimeout: lockTimeout,
		maxAttempts: maxAttempts,
		logger:      util.GetLogger(),
	}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithinTx runs fn in a read-committed transaction. Serialization failures
// and deadlocks are retried up to the configured attempts; what is left,
// together with lock timeouts, surfaces as ConcurrencyConflictError.
func (s *Store) WithinTx(ctx context.Context, op string, fn func(tx Repository) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) || attempt == s.maxAttempts {
			break
		}

		util.TxRetriesTotal.Inc()
		s.logger.Warn("Retrying transaction",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}

	if err != nil && isConflict(err) {
		util.ConcurrencyConflictsTotal.Inc()
		return &apperr.ConcurrencyConflictError{Op: op, Err: err}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx Repository) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err := fn(&queries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isRetryable(err error) bool {
	code := pqCode(err)
	return code == pqSerializationFailure || code == pqDeadlockDetected
}

func isConflict(err error) bool {
	return isRetryable(err) || pqCode(err) == pqLockNotAvailable
}

// notFound maps sql.ErrNoRows to a typed NotFoundError
func notFound(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(entity, id)
	}
	return err
}

// referenced maps a foreign key violation on delete to ErrReferenced
func referenced(err error) error {
	if pqCode(err) == pqForeignKeyViolation {
		return fmt.Errorf("%w: %v", apperr.ErrReferenced, err)
	}
	return err
}

// requireAffected reports NotFound when an UPDATE touched no row
func requireAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(entity, id)
	}
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *queries) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, s.q, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *queries) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
