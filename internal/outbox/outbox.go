// Package outbox is a durable SMS outbox. Accepting a message means writing it here;
// the Drainer hands queued messages to the transmitter in the background.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxAttempts = 5
	defaultBackoffBase = 30 * time.Second
	maxBackoff         = 10 * time.Minute
	maxErrorBytes      = 4 * 1024
)

type Outbox struct {
	db          *sql.DB
	maxAttempts int
	backoffBase time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Outbox)

func WithMaxAttempts(n int) Option {
	return func(o *Outbox) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithBackoffBase(d time.Duration) Option {
	return func(o *Outbox) {
		if d > 0 {
			o.backoffBase = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Outbox) {
		if l != nil {
			o.logger = l
		}
	}
}

func New(db *sql.DB, opts ...Option) *Outbox {
	o := &Outbox{
		db:          db,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enqueue stores a message as queued and returns its ID.
func (o *Outbox) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Destination == "" {
		return "", fmt.Errorf("destination is empty")
	}

	id := uuid.NewString()
	now := formatTime(o.now())

	var requestID any
	if req.RequestID != "" {
		requestID = req.RequestID
	}

	_, err := o.db.ExecContext(ctx, `
INSERT INTO sms_outbox(id, destination, body, status, attempt, max_attempts, request_id, created_at, next_attempt_at)
VALUES(?, ?, ?, ?, 0, ?, ?, ?, ?);
`, id, req.Destination, req.Body, StatusQueued, o.maxAttempts, requestID, now, now)
	if err != nil {
		return "", fmt.Errorf("enqueue message: %w", err)
	}
	return id, nil
}

// Claim takes the oldest due queued message, marks it sending and bumps its attempt.
// Returns (nil, nil) if nothing is due.
func (o *Outbox) Claim(ctx context.Context) (*Message, error) {
	now := formatTime(o.now())

	row := o.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM sms_outbox
  WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE sms_outbox
SET status = ?, attempt = attempt + 1
WHERE id IN (SELECT id FROM next)
RETURNING `+messageColumns+`;
`, StatusQueued, now, StatusSending)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim message: %w", err)
	}
	return m, nil
}

// MarkSent records a successful hand-off to the radio.
func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	res, err := o.db.ExecContext(ctx, `
UPDATE sms_outbox SET status = ?, sent_at = ?, next_attempt_at = NULL, last_error = NULL
WHERE id = ? AND status = ?;
`, StatusSent, formatTime(o.now()), id, StatusSending)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return requireOneRow(res, id)
}

// MarkFailed records a failed attempt. The message is re-queued with exponential
// backoff until its attempts run out, then it is failed for good. The resulting
// status is returned.
func (o *Outbox) MarkFailed(ctx context.Context, id string, cause string) (Status, error) {
	if len(cause) > maxErrorBytes {
		cause = cause[:maxErrorBytes]
	}

	var attempt, maxAttempts int
	err := o.db.QueryRowContext(ctx, `SELECT attempt, max_attempts FROM sms_outbox WHERE id = ? AND status = ?;`, id, StatusSending).
		Scan(&attempt, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("load message: %w", err)
	}

	status := StatusQueued
	var next any = formatTime(o.now().Add(o.backoff(attempt)))
	if attempt >= maxAttempts {
		status = StatusFailed
		next = nil
	}

	if _, err := o.db.ExecContext(ctx, `
UPDATE sms_outbox SET status = ?, next_attempt_at = ?, last_error = ?
WHERE id = ?;
`, status, next, cause, id); err != nil {
		return "", fmt.Errorf("mark failed: %w", err)
	}
	return status, nil
}

// RecoverInFlight re-queues messages left in sending by a previous run.
func (o *Outbox) RecoverInFlight(ctx context.Context) (int, error) {
	res, err := o.db.ExecContext(ctx, `UPDATE sms_outbox SET status = ?, next_attempt_at = ? WHERE status = ?;`,
		StatusQueued, formatTime(o.now()), StatusSending)
	if err != nil {
		return 0, fmt.Errorf("recover in-flight messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Depth returns the number of messages not yet sent or failed.
func (o *Outbox) Depth(ctx context.Context) (int, error) {
	var n int
	if err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sms_outbox WHERE status IN (?, ?);`, StatusQueued, StatusSending).Scan(&n); err != nil {
		return 0, fmt.Errorf("outbox depth: %w", err)
	}
	return n, nil
}

// Get returns one message by ID.
func (o *Outbox) Get(ctx context.Context, id string) (*Message, error) {
	row := o.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM sms_outbox WHERE id = ?;`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// List returns the most recent messages, newest first.
func (o *Outbox) List(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := o.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM sms_outbox ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (o *Outbox) backoff(attempt int) time.Duration {
	d := o.backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

const messageColumns = `id, destination, body, status, attempt, max_attempts, request_id, created_at, next_attempt_at, sent_at, last_error`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*Message, error) {
	var (
		m            Message
		statusS      string
		requestID    sql.NullString
		createdAtS   string
		nextAttemptS sql.NullString
		sentAtS      sql.NullString
		lastError    sql.NullString
	)
	if err := s.Scan(&m.ID, &m.Destination, &m.Body, &statusS, &m.Attempt, &m.MaxAttempts, &requestID,
		&createdAtS, &nextAttemptS, &sentAtS, &lastError); err != nil {
		return nil, err
	}

	m.Status = Status(statusS)
	m.RequestID = requestID.String
	if t, err := time.Parse(timeLayout, createdAtS); err == nil {
		m.CreatedAt = t
	}
	if nextAttemptS.Valid {
		if t, err := time.Parse(timeLayout, nextAttemptS.String); err == nil {
			m.NextAttemptAt = &t
		}
	}
	if sentAtS.Valid {
		if t, err := time.Parse(timeLayout, sentAtS.String); err == nil {
			m.SentAt = &t
		}
	}
	if lastError.Valid {
		m.LastError = &lastError.String
	}
	return &m, nil
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
