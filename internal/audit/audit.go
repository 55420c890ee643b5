// Package audit keeps a durable record of every resolved command in invocation_log.
// Phone numbers are stored only as fingerprints.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/telbridge/internal/dispatch"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Entry struct {
	ID         string           `json:"id"`
	RequestID  string           `json:"request_id"`
	Command    string           `json:"command"`
	Outcome    dispatch.Outcome `json:"outcome"`
	Code       dispatch.Code    `json:"code,omitempty"`
	Message    string           `json:"message,omitempty"`
	TargetHash string           `json:"target_hash,omitempty"`
	DurationMS int64            `json:"duration_ms"`
	CreatedAt  time.Time        `json:"created_at"`
}

type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{db: db, logger: logger}
}

// Observe implements dispatch.Observer. The row is written even when ctx is already
// cancelled. Write failures are logged; they never reach the caller's Result.
func (l *Log) Observe(ctx context.Context, r dispatch.Resolution) {
	if err := l.Record(context.WithoutCancel(ctx), r); err != nil {
		l.logger.Error("audit write failed", "request_id", r.RequestID, "error", err)
	}
}

func (l *Log) Record(ctx context.Context, r dispatch.Resolution) error {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO invocation_log(id, request_id, command, outcome, code, message, target_hash, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), r.RequestID, r.Command, string(r.Result.Outcome), nullable(string(r.Result.Code)),
		nullable(r.Result.Message), nullable(r.TargetHash), r.Duration.Milliseconds(), at.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert invocation_log: %w", err)
	}
	return nil
}

// List returns the newest entries first.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, request_id, command, outcome, code, message, target_hash, duration_ms, created_at
FROM invocation_log
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query invocation_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                         Entry
			outcome, createdAt        string
			code, message, targetHash sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Command, &outcome, &code, &message, &targetHash,
			&e.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan invocation_log: %w", err)
		}
		e.Outcome = dispatch.Outcome(outcome)
		e.Code = dispatch.Code(code.String)
		e.Message = message.String
		e.TargetHash = targetHash.String
		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
