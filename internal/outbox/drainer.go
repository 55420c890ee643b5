package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/telbridge/internal/dispatch"
)

const defaultDrainInterval = time.Second

// Transmitter puts one message on the air.
type Transmitter interface {
	Transmit(ctx context.Context, m *Message) error
}

// Publisher receives outbox.sent / outbox.failed events.
type Publisher interface {
	Publish(eventType string, data any)
}

// TransitionHook is told about every status a message moves into after a send attempt.
type TransitionHook func(status Status)

const (
	EventSent   = "outbox.sent"
	EventFailed = "outbox.failed"
)

// TransitionEvent is the payload of outbox events. Destinations are fingerprinted.
type TransitionEvent struct {
	ID         string `json:"id"`
	RequestID  string `json:"request_id,omitempty"`
	TargetHash string `json:"target_hash"`
	Status     Status `json:"status"`
	Attempt    int    `json:"attempt"`
	Error      string `json:"error,omitempty"`
}

// Drainer moves queued messages to the transmitter, one at a time.
type Drainer struct {
	outbox    *Outbox
	tx        Transmitter
	interval  time.Duration
	publisher Publisher
	hooks     []TransitionHook
	logger    *slog.Logger
}

type DrainerOption func(*Drainer)

func WithInterval(d time.Duration) DrainerOption {
	return func(dr *Drainer) {
		if d > 0 {
			dr.interval = d
		}
	}
}

func WithPublisher(p Publisher) DrainerOption {
	return func(dr *Drainer) { dr.publisher = p }
}

func WithTransitionHook(h TransitionHook) DrainerOption {
	return func(dr *Drainer) {
		if h != nil {
			dr.hooks = append(dr.hooks, h)
		}
	}
}

func WithDrainLogger(l *slog.Logger) DrainerOption {
	return func(dr *Drainer) {
		if l != nil {
			dr.logger = l
		}
	}
}

func NewDrainer(o *Outbox, tx Transmitter, opts ...DrainerOption) *Drainer {
	dr := &Drainer{
		outbox:   o,
		tx:       tx,
		interval: defaultDrainInterval,
		logger:   o.logger,
	}
	for _, opt := range opts {
		opt(dr)
	}
	return dr
}

// Start re-queues messages left in flight by a previous run, then drains the outbox
// on every tick until ctx is cancelled.
func (dr *Drainer) Start(ctx context.Context) error {
	n, err := dr.outbox.RecoverInFlight(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		dr.logger.Warn("re-queued in-flight messages", "count", n)
	}

	dr.logger.Info("outbox drain started", "interval", dr.interval)
	defer dr.logger.Info("outbox drain stopped")

	ticker := time.NewTicker(dr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := dr.drainDue(ctx); err != nil {
				dr.logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

func (dr *Drainer) drainDue(ctx context.Context) error {
	for ctx.Err() == nil {
		processed, err := dr.DrainOnce(ctx)
		if err != nil || !processed {
			return err
		}
	}
	return nil
}

// DrainOnce transmits the next due message, if any, and reports whether one was handled.
func (dr *Drainer) DrainOnce(ctx context.Context) (bool, error) {
	m, err := dr.outbox.Claim(ctx)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}

	logger := dr.logger.With("message_id", m.ID, "request_id", m.RequestID,
		"target", dispatch.Fingerprint(m.Destination), "attempt", m.Attempt)

	txErr := dr.tx.Transmit(ctx, m)
	if txErr == nil {
		if err := dr.outbox.MarkSent(ctx, m.ID); err != nil {
			return true, fmt.Errorf("message %s: %w", m.ID, err)
		}
		logger.Info("message sent")
		dr.transition(m, StatusSent, "")
		return true, nil
	}

	status, err := dr.outbox.MarkFailed(ctx, m.ID, txErr.Error())
	if err != nil {
		return true, fmt.Errorf("message %s: %w", m.ID, err)
	}
	if status == StatusFailed {
		logger.Error("message failed permanently", "error", txErr)
	} else {
		logger.Warn("message send failed, will retry", "error", txErr)
	}
	dr.transition(m, status, txErr.Error())
	return true, nil
}

func (dr *Drainer) transition(m *Message, status Status, errMsg string) {
	for _, h := range dr.hooks {
		h(status)
	}
	if dr.publisher == nil {
		return
	}
	eventType := EventSent
	if status != StatusSent {
		eventType = EventFailed
	}
	dr.publisher.Publish(eventType, TransitionEvent{
		ID:         m.ID,
		RequestID:  m.RequestID,
		TargetHash: dispatch.Fingerprint(m.Destination),
		Status:     status,
		Attempt:    m.Attempt,
		Error:      errMsg,
	})
}
