package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"rsvpdesk/internal/model"
)

var (
	ErrEventNotFound = fmt.Errorf("event %w", model.ErrNotFound)
	ErrRSVPNotFound  = fmt.Errorf("rsvp %w", model.ErrNotFound)
	ErrDuplicateRSVP = fmt.Errorf("duplicate rsvp: %w", model.ErrConflict)
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Repository interface {
	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	InsertRSVP(ctx context.Context, rsvp *model.RSVP, guard model.Guard) error
	GetRSVP(ctx context.Context, id uuid.UUID) (*model.RSVP, error)
	ListRSVPs(ctx context.Context, eventID uuid.UUID) ([]model.RSVP, error)
	MarkCheckedIn(ctx context.Context, id uuid.UUID) (*model.RSVP, bool, error)
	DeleteRSVP(ctx context.Context, id uuid.UUID) (*model.RSVP, error)
	MigrateUp(ctx context.Context) error
	MigrateDown(ctx context.Context) error
	Close() error
}

type repository struct {
	db     *sqlx.DB
	driver string
	log    *zerolog.Logger
}

// NewRepository wraps the master pool of a wbf Postgres connection.
func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{db: sqlx.NewDb(db.Master, DriverPostgres), driver: DriverPostgres, log: log}, nil
}

const (
	eventColumns = `id, title, starts_at, location, description, capacity, allows_plus_one, occupancy, created_at`
	rsvpColumns  = `id, event_id, name, email, status, party_size, dietary, checked_in, created_at`
)

func (r *repository) Close() error {
	return r.db.Close()
}

func (r *repository) CreateEvent(ctx context.Context, e *model.Event) error {
	query := r.db.Rebind(`
		INSERT INTO events (id, title, starts_at, location, description, capacity, allows_plus_one, occupancy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`)

	if _, err := r.db.ExecContext(ctx, query,
		e.ID, e.Title, e.StartsAt, e.Location, e.Description, e.Capacity, e.AllowsPlusOne, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	e.Occupancy = 0
	return nil
}

func (r *repository) GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	var e model.Event
	err := r.db.GetContext(ctx, &e, r.db.Rebind(`SELECT `+eventColumns+` FROM events WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &e, nil
}

func (r *repository) ListEvents(ctx context.Context) ([]model.Event, error) {
	var events []model.Event
	if err := r.db.SelectContext(ctx, &events, `SELECT `+eventColumns+` FROM events ORDER BY starts_at ASC`); err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}

// InsertRSVP writes a new RSVP in one transaction. When guard.Seats is positive the
// occupancy counter is bumped only if the seats still fit; otherwise the row is
// stored as waitlisted. A duplicate (event, email) pair rolls everything back.
func (r *repository) InsertRSVP(ctx context.Context, rsvp *model.RSVP, guard model.Guard) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var exists int
	err = tx.GetContext(ctx, &exists, tx.Rebind(`SELECT 1 FROM events WHERE id = ?`), rsvp.EventID)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEventNotFound
		}
		return fmt.Errorf("failed to load event: %w", err)
	}

	if guard.Seats > 0 {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE events
			SET occupancy = occupancy + ?
			WHERE id = ? AND (capacity IS NULL OR occupancy + ? <= capacity)
		`), guard.Seats, rsvp.EventID, guard.Seats)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to reserve seats: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to reserve seats: %w", err)
		}
		if n == 0 {
			rsvp.Status = model.StatusWaitlisted
		} else {
			rsvp.Status = model.StatusAttending
		}
	}

	var id uuid.UUID
	err = tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO rsvps (id, event_id, name, email, status, party_size, dietary, checked_in, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, email) DO NOTHING
		RETURNING id
	`), rsvp.ID, rsvp.EventID, rsvp.Name, rsvp.Email, rsvp.Status, rsvp.PartySize, rsvp.Dietary, false, rsvp.CreatedAt).Scan(&id)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDuplicateRSVP
		}
		return fmt.Errorf("failed to create rsvp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	rsvp.ID = id
	rsvp.CheckedIn = false
	return nil
}

func (r *repository) GetRSVP(ctx context.Context, id uuid.UUID) (*model.RSVP, error) {
	var rsvp model.RSVP
	err := r.db.GetContext(ctx, &rsvp, r.db.Rebind(`SELECT `+rsvpColumns+` FROM rsvps WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRSVPNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rsvp: %w", err)
	}
	return &rsvp, nil
}

func (r *repository) ListRSVPs(ctx context.Context, eventID uuid.UUID) ([]model.RSVP, error) {
	rsvps := []model.RSVP{}
	query := r.db.Rebind(`
		SELECT ` + rsvpColumns + `
		FROM rsvps
		WHERE event_id = ?
		ORDER BY created_at DESC, id ASC
	`)
	if err := r.db.SelectContext(ctx, &rsvps, query, eventID); err != nil {
		return nil, fmt.Errorf("failed to get rsvps: %w", err)
	}
	return rsvps, nil
}

// MarkCheckedIn flips checked_in once. The boolean result is false when the
// guest had already been checked in and nothing was written.
func (r *repository) MarkCheckedIn(ctx context.Context, id uuid.UUID) (*model.RSVP, bool, error) {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE rsvps SET checked_in = ? WHERE id = ? AND checked_in = ?`),
		true, id, false,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update check-in: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to update check-in: %w", err)
	}

	rsvp, err := r.GetRSVP(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return rsvp, n > 0, nil
}

// DeleteRSVP removes a row and gives its seats back when it was attending.
func (r *repository) DeleteRSVP(ctx context.Context, id uuid.UUID) (*model.RSVP, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var rsvp model.RSVP
	err = tx.GetContext(ctx, &rsvp, tx.Rebind(`SELECT `+rsvpColumns+` FROM rsvps WHERE id = ?`), id)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRSVPNotFound
		}
		return nil, fmt.Errorf("failed to select rsvp for deletion: %w", err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM rsvps WHERE id = ?`), id); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to delete rsvp: %w", err)
	}

	if rsvp.Status == model.StatusAttending {
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE events SET occupancy = occupancy - ? WHERE id = ?`),
			rsvp.Seats(), rsvp.EventID,
		); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to release seats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit deletion: %w", err)
	}
	return &rsvp, nil
}
