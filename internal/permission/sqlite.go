package permission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/telbridge/internal/dispatch"
)

// SQLiteStore keeps grants in the permission_grants table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Granted(ctx context.Context, p dispatch.Permission) (bool, error) {
	var granted int
	err := s.db.QueryRowContext(ctx, `SELECT granted FROM permission_grants WHERE permission = ?;`, string(p)).Scan(&granted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query permission %s: %w", p, err)
	}
	return granted != 0, nil
}

func (s *SQLiteStore) Set(ctx context.Context, p dispatch.Permission, granted bool) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	v := 0
	if granted {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO permission_grants(permission, granted, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(permission) DO UPDATE SET granted = excluded.granted, updated_at = excluded.updated_at;
`, string(p), v, now)
	if err != nil {
		return fmt.Errorf("set permission %s: %w", p, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT permission, granted, updated_at FROM permission_grants ORDER BY permission ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		var (
			g         Grant
			name      string
			granted   int
			updatedAt string
		)
		if err := rows.Scan(&name, &granted, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		g.Permission = dispatch.Permission(name)
		g.Granted = granted != 0
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			g.UpdatedAt = t
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
