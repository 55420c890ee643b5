package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/telbridge/internal/log"
)

type requestIDKey struct{}

// WithRequestID attaches a caller-chosen request ID to ctx. Handle generates one
// when none is present.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID set by WithRequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// Dispatcher routes commands to their handlers. It is safe for concurrent use.
type Dispatcher struct {
	perms    PermissionChecker
	sender   MessageSender
	launcher ActionLauncher

	observers        []Observer
	assumeSMSGranted bool
	logger           *slog.Logger
	now              func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObservers registers observers notified after every resolution.
func WithObservers(obs ...Observer) Option {
	return func(d *Dispatcher) {
		for _, o := range obs {
			if o != nil {
				d.observers = append(d.observers, o)
			}
		}
	}
}

// WithSMSPermissionAssumed skips the SEND_SMS check, for platforms that grant it
// at install time.
func WithSMSPermissionAssumed() Option {
	return func(d *Dispatcher) { d.assumeSMSGranted = true }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Dispatcher over the given platform ports.
func New(perms PermissionChecker, sender MessageSender, launcher ActionLauncher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		perms:    perms,
		sender:   sender,
		launcher: launcher,
		logger:   log.WithComponent("dispatch"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle is the boundary entry point: it validates and converts the string-keyed
// arguments once, then dispatches. It always returns exactly one Result. Cancelling
// ctx does not interrupt a command already handed to the platform.
func (d *Dispatcher) Handle(ctx context.Context, name string, args map[string]any) Result {
	ctx, requestID := detach(ctx)
	start := d.now()
	logger := d.logger.With("request_id", requestID, "command", name)

	cmd, err := Parse(name, args)
	if err != nil {
		var res Result
		var argErr *ArgError
		switch {
		case errors.Is(err, ErrUnknownCommand):
			logger.Info("command not implemented")
			res = NotImplemented()
		case errors.As(err, &argErr):
			logger.Warn("command rejected", "code", CodeArgError, "error", argErr.Message)
			res = Failure(CodeArgError, argErr.Message)
		default:
			logger.Error("command parse failed", "error", err)
			res = Failure(CodeArgError, err.Error())
		}
		d.notify(ctx, Resolution{
			RequestID: requestID,
			Command:   name,
			Result:    res,
			Duration:  d.now().Sub(start),
			At:        d.now(),
		})
		return res
	}

	return d.dispatch(ctx, requestID, start, cmd)
}

// Dispatch runs an already-typed command.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) Result {
	ctx, requestID := detach(ctx)
	return d.dispatch(ctx, requestID, d.now(), cmd)
}

func (d *Dispatcher) dispatch(ctx context.Context, requestID string, start time.Time, cmd Command) Result {
	if cmd == nil {
		res := NotImplemented()
		d.notify(ctx, Resolution{RequestID: requestID, Result: res, Duration: d.now().Sub(start), At: d.now()})
		return res
	}

	target := Fingerprint(cmd.Target())
	logger := d.logger.With("request_id", requestID, "command", cmd.Name(), "target", target)

	var res Result
	switch c := cmd.(type) {
	case SendMessage:
		res = d.sendMessage(ctx, logger, c)
	case PlaceCall:
		res = d.placeCall(ctx, logger, c)
	default:
		logger.Info("command not implemented")
		res = NotImplemented()
	}

	d.notify(ctx, Resolution{
		RequestID:  requestID,
		Command:    cmd.Name(),
		TargetHash: target,
		Result:     res,
		Duration:   d.now().Sub(start),
		At:         d.now(),
	})
	return res
}

func (d *Dispatcher) sendMessage(ctx context.Context, logger *slog.Logger, c SendMessage) Result {
	logger.Debug("sendSms requested", "body", Fingerprint(c.Message), "body_len", len(c.Message))

	if !d.assumeSMSGranted {
		if res, ok := d.requirePermission(ctx, logger, PermissionSendSMS, CodeSMSError); !ok {
			return res
		}
	}

	if err := d.sender.SendText(ctx, c.Number, c.Message); err != nil {
		logger.Error("sendSms failed", "code", CodeSMSError, "error", err)
		return Failure(CodeSMSError, err.Error())
	}

	logger.Info("sendSms accepted by platform")
	return Success()
}

func (d *Dispatcher) placeCall(ctx context.Context, logger *slog.Logger, c PlaceCall) Result {
	logger.Debug("callNumber requested")

	if res, ok := d.requirePermission(ctx, logger, PermissionCallPhone, CodeCallError); !ok {
		return res
	}

	intent := CallIntent(c.Number)
	logger.Debug("launching call intent", "action", intent.Action, "flags", intent.Flags.Names())
	if err := d.launcher.Launch(ctx, intent); err != nil {
		logger.Error("callNumber failed", "code", CodeCallError, "error", err)
		return Failure(CodeCallError, err.Error())
	}

	logger.Info("callNumber handed to dialer")
	return Success()
}

// requirePermission returns ok=false and the failure to report when p is not granted.
// A failed query is a platform error and is reported under errCode with its message.
func (d *Dispatcher) requirePermission(ctx context.Context, logger *slog.Logger, p Permission, errCode Code) (Result, bool) {
	granted, err := d.perms.Granted(ctx, p)
	if err != nil {
		logger.Error("permission query failed", "permission", p, "code", errCode, "error", err)
		return Failure(errCode, err.Error()), false
	}
	logger.Debug("permission checked", "permission", p, "granted", granted)
	if !granted {
		logger.Warn("permission not granted", "permission", p)
		return Failure(CodePermissionDenied, fmt.Sprintf("%s permission not granted", p)), false
	}
	return Result{}, true
}

func (d *Dispatcher) notify(ctx context.Context, r Resolution) {
	for _, o := range d.observers {
		o.Observe(ctx, r)
	}
}

// detach strips the caller's cancellation from ctx, so a departed caller cannot
// abort a platform call or lose its observation, and makes sure it carries a
// request ID.
func detach(ctx context.Context) (context.Context, string) {
	ctx = context.WithoutCancel(ctx)
	if id, ok := RequestIDFromContext(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}
