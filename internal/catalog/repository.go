// Package catalog keeps a ledger of the files uploaded through the gateway.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one uploaded file.
type Record struct {
	ID        int64             `json:"id"`
	URL       string            `json:"url"`
	Group     string            `json:"group"`
	Path      string            `json:"path"`
	Ext       string            `json:"ext"`
	Size      int64             `json:"size"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ErrAlreadyExists is returned when a record with the same URL exists.
var ErrAlreadyExists = errors.New("catalog record already exists")

// Repository handles all catalog database operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Insert stores rec and fills in its ID and CreatedAt.
func (r *Repository) Insert(ctx context.Context, rec *Record) error {
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO files (url, group_name, path, ext, size, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		rec.URL, rec.Group, rec.Path, rec.Ext, rec.Size, meta,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert file record: %w", err)
	}
	return nil
}

// DeleteByPath removes the records of the file stored at group/path.
// Deleting a missing record is not an error.
func (r *Repository) DeleteByPath(ctx context.Context, group, path string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM files WHERE group_name = $1 AND path = $2`, group, path); err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	return nil
}

// List returns records newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Record, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, url, group_name, path, ext, size, metadata, created_at
		 FROM files
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list file records: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.ID, &rec.URL, &rec.Group, &rec.Path, &rec.Ext, &rec.Size, &rec.Metadata, &rec.CreatedAt)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan file records: %w", err)
	}
	return records, nil
}

// isUniqueViolation checks whether an error is a PostgreSQL unique_violation (code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
