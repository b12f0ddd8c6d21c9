package workpiece

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/plrobotics/dispense-core/internal/capability"
)

// Repository defines the interface for workpiece persistence.
// This abstraction allows different implementations (SQLite, in-memory)
// and enables unit testing without database dependencies. The store is
// trusted for ID uniqueness.
type Repository interface {
	// Save inserts or replaces a workpiece. One validated payload per
	// save; an empty ID is filled in before insert.
	Save(ctx context.Context, wp *Workpiece) error

	// GetAll retrieves every stored workpiece.
	GetAll(ctx context.Context) ([]Workpiece, error)

	// GetByID retrieves a workpiece by ID.
	// Returns ErrNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*Workpiece, error)

	// Delete removes a workpiece by ID.
	// Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with the
// workpieces migration applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save inserts or replaces a workpiece.
func (r *SQLiteRepository) Save(ctx context.Context, wp *Workpiece) error {
	if err := Validate(wp); err != nil {
		return err
	}
	if wp.ID == "" {
		wp.ID = GenerateID()
	}

	now := time.Now().UTC()
	if wp.CreatedAt.IsZero() {
		wp.CreatedAt = now
	}
	wp.UpdatedAt = now

	contour, err := json.Marshal(wp.Contour)
	if err != nil {
		return fmt.Errorf("marshalling contour: %w", err)
	}
	glue, err := json.Marshal(wp.Glue)
	if err != nil {
		return fmt.Errorf("marshalling glue settings: %w", err)
	}
	var pickup []byte
	if wp.PickupPoint != nil {
		pickup, err = json.Marshal(wp.PickupPoint)
		if err != nil {
			return fmt.Errorf("marshalling pickup point: %w", err)
		}
	}

	query := `
		INSERT INTO workpieces (id, name, contour, glue, pickup_point, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			contour = excluded.contour,
			glue = excluded.glue,
			pickup_point = excluded.pickup_point,
			updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query,
		wp.ID, wp.Name, string(contour), string(glue), nullableText(pickup),
		wp.CreatedAt.Format(time.RFC3339Nano), wp.UpdatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("saving workpiece: %w", err)
	}
	return nil
}

// GetAll retrieves every stored workpiece, ordered by name.
func (r *SQLiteRepository) GetAll(ctx context.Context) ([]Workpiece, error) {
	query := `
		SELECT id, name, contour, glue, pickup_point, created_at, updated_at
		FROM workpieces
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying workpieces: %w", err)
	}
	defer rows.Close()

	var out []Workpiece
	for rows.Next() {
		wp, scanErr := scanWorkpiece(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, *wp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workpieces: %w", err)
	}
	return out, nil
}

// GetByID retrieves a workpiece by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Workpiece, error) {
	query := `
		SELECT id, name, contour, glue, pickup_point, created_at, updated_at
		FROM workpieces
		WHERE id = ?`

	wp, err := scanWorkpiece(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying workpiece by id: %w", err)
	}
	return wp, nil
}

// Delete removes a workpiece by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workpieces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting workpiece: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanWorkpiece.
type scanner interface {
	Scan(dest ...any) error
}

func scanWorkpiece(s scanner) (*Workpiece, error) {
	var (
		wp         Workpiece
		contour    string
		glue       string
		pickup     sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := s.Scan(&wp.ID, &wp.Name, &contour, &glue, &pickup, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(contour), &wp.Contour); err != nil {
		return nil, fmt.Errorf("unmarshalling contour: %w", err)
	}
	if err := json.Unmarshal([]byte(glue), &wp.Glue); err != nil {
		return nil, fmt.Errorf("unmarshalling glue settings: %w", err)
	}
	if pickup.Valid && pickup.String != "" {
		var p capability.Point
		if err := json.Unmarshal([]byte(pickup.String), &p); err != nil {
			return nil, fmt.Errorf("unmarshalling pickup point: %w", err)
		}
		wp.PickupPoint = &p
	}

	var err error
	if wp.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if wp.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &wp, nil
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
