// Package platform adapts the dispatcher's ports to concrete backends: the external
// helper process, the SMS outbox and a dry-run logger.
package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/outbox"
	"github.com/mattjoyce/telbridge/internal/protocol"
)

const (
	BackendHelper = "helper"
	BackendOutbox = "outbox"
	BackendLog    = "log"
)

// HelperRunner runs one helper request. *helper.Runner satisfies it.
type HelperRunner interface {
	Run(ctx context.Context, req *protocol.HelperRequest) error
}

// HelperSender sends text synchronously through the helper.
type HelperSender struct {
	runner HelperRunner
}

func NewHelperSender(r HelperRunner) *HelperSender { return &HelperSender{runner: r} }

func (s *HelperSender) SendText(ctx context.Context, destination, body string) error {
	requestID, _ := dispatch.RequestIDFromContext(ctx)
	return s.runner.Run(ctx, textRequest(requestID, destination, body))
}

// OutboxSender accepts a message by writing it to the outbox. Transmission happens
// later in the drain loop.
type OutboxSender struct {
	outbox *outbox.Outbox
}

func NewOutboxSender(o *outbox.Outbox) *OutboxSender { return &OutboxSender{outbox: o} }

func (s *OutboxSender) SendText(ctx context.Context, destination, body string) error {
	requestID, _ := dispatch.RequestIDFromContext(ctx)
	if _, err := s.outbox.Enqueue(ctx, outbox.EnqueueRequest{
		Destination: destination,
		Body:        body,
		RequestID:   requestID,
	}); err != nil {
		return fmt.Errorf("queue message: %w", err)
	}
	return nil
}

// HelperTransmitter lets the outbox drain put messages on the air through the helper.
type HelperTransmitter struct {
	runner HelperRunner
}

func NewHelperTransmitter(r HelperRunner) *HelperTransmitter { return &HelperTransmitter{runner: r} }

func (t *HelperTransmitter) Transmit(ctx context.Context, m *outbox.Message) error {
	return t.runner.Run(ctx, textRequest(m.RequestID, m.Destination, m.Body))
}

// HelperLauncher hands intents to the helper.
type HelperLauncher struct {
	runner HelperRunner
}

func NewHelperLauncher(r HelperRunner) *HelperLauncher { return &HelperLauncher{runner: r} }

func (l *HelperLauncher) Launch(ctx context.Context, intent dispatch.Intent) error {
	requestID, _ := dispatch.RequestIDFromContext(ctx)
	return l.runner.Run(ctx, &protocol.HelperRequest{
		RequestID: requestID,
		Operation: protocol.OperationLaunch,
		Intent: &protocol.IntentPayload{
			Action: intent.Action,
			Data:   intent.Data,
			Flags:  intent.Flags.Names(),
		},
	})
}

// LogSender and LogLauncher accept everything and only log it.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender { return &LogSender{logger: orDefault(logger)} }

func (s *LogSender) SendText(ctx context.Context, destination, body string) error {
	requestID, _ := dispatch.RequestIDFromContext(ctx)
	s.logger.Info("dry-run send_text", "request_id", requestID,
		"target", dispatch.Fingerprint(destination), "body_len", len(body))
	return nil
}

type LogLauncher struct {
	logger *slog.Logger
}

func NewLogLauncher(logger *slog.Logger) *LogLauncher { return &LogLauncher{logger: orDefault(logger)} }

func (l *LogLauncher) Launch(ctx context.Context, intent dispatch.Intent) error {
	requestID, _ := dispatch.RequestIDFromContext(ctx)
	l.logger.Info("dry-run launch", "request_id", requestID, "action", intent.Action,
		"flags", intent.Flags.Names())
	return nil
}

func textRequest(requestID, destination, body string) *protocol.HelperRequest {
	return &protocol.HelperRequest{
		RequestID: requestID,
		Operation: protocol.OperationSendText,
		Text:      &protocol.TextPayload{Destination: destination, Body: body},
	}
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
