package outbox

import (
	"errors"
	"time"
)

type Status string

const (
	StatusQueued  Status = "queued"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message is one text message waiting for (or done with) transmission.
type Message struct {
	ID            string     `json:"id"`
	Destination   string     `json:"destination"`
	Body          string     `json:"body"`
	Status        Status     `json:"status"`
	Attempt       int        `json:"attempt"`
	MaxAttempts   int        `json:"max_attempts"`
	RequestID     string     `json:"request_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
}

type EnqueueRequest struct {
	Destination string
	Body        string
	RequestID   string
}

var ErrNotFound = errors.New("message not found")

// timeLayout is fixed-width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
