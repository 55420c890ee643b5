package events

import (
	"context"

	"github.com/mattjoyce/telbridge/internal/dispatch"
)

const EventCommandResolved = "command.resolved"

// Resolved is the payload of command.resolved events.
type Resolved struct {
	RequestID  string           `json:"request_id"`
	Command    string           `json:"command"`
	Outcome    dispatch.Outcome `json:"outcome"`
	Code       dispatch.Code    `json:"code,omitempty"`
	Message    string           `json:"message,omitempty"`
	TargetHash string           `json:"target_hash,omitempty"`
	DurationMS int64            `json:"duration_ms"`
}

// ResolvedFrom builds the event payload for r.
func ResolvedFrom(r dispatch.Resolution) Resolved {
	return Resolved{
		RequestID:  r.RequestID,
		Command:    r.Command,
		Outcome:    r.Result.Outcome,
		Code:       r.Result.Code,
		Message:    r.Result.Message,
		TargetHash: r.TargetHash,
		DurationMS: r.Duration.Milliseconds(),
	}
}

// Observe publishes every resolution as a command.resolved event.
func (h *Hub) Observe(_ context.Context, r dispatch.Resolution) {
	h.Publish(EventCommandResolved, ResolvedFrom(r))
}
