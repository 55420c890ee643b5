// Package helper runs the external platform helper: a process that owns the modem or
// dialer and speaks the helper protocol (one JSON request on stdin, one JSON response on
// stdout).
package helper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/telbridge/internal/protocol"
)

const (
	// maxStderrBytes caps the amount of stderr captured from helper execution.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	defaultTimeout = 10 * time.Second
)

// ErrTimeout is returned when the helper does not answer within its timeout.
var ErrTimeout = errors.New("helper timed out")

// Error is a failure reported by the helper itself (status=error). Its message is
// passed through verbatim.
type Error struct {
	Message string
	Stderr  string
}

func (e *Error) Error() string { return e.Message }

// Config describes how to start the helper.
type Config struct {
	Command string
	Args    []string
	Env     []string
	Timeout time.Duration
}

// Runner spawns the helper once per request.
type Runner struct {
	cfg    Config
	grace  time.Duration
	logger *slog.Logger
}

// New creates a Runner. A zero timeout falls back to 10s.
func New(cfg Config, logger *slog.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, grace: terminationGracePeriod, logger: logger}
}

// Command returns the configured helper executable.
func (r *Runner) Command() string { return r.cfg.Command }

// Run sends req to a fresh helper process and waits for its answer.
// Protocol and DeadlineAt are filled in by Run.
func (r *Runner) Run(ctx context.Context, req *protocol.HelperRequest) error {
	req.Protocol = protocol.HelperProtocolVersion
	req.DeadlineAt = time.Now().Add(r.cfg.Timeout).UTC()

	logger := r.logger.With("request_id", req.RequestID, "operation", req.Operation)

	resp, stderr, err := r.spawn(ctx, req, logger)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("helper timed out", "timeout", r.cfg.Timeout, "stderr", stderr)
			return fmt.Errorf("%w after %v", ErrTimeout, r.cfg.Timeout)
		}
		logger.Error("helper execution failed", "error", err, "stderr", stderr)
		return err
	}

	for _, entry := range resp.Logs {
		logger.Info("helper log", "level", entry.Level, "message", entry.Message)
	}

	if resp.Status == "error" {
		logger.Warn("helper returned error", "error", resp.Error)
		return &Error{Message: resp.Error, Stderr: stderr}
	}
	return nil
}

// spawn starts the helper, writes the request to stdin, and reads the response from stdout.
// Returns the response, stderr output, and any error.
func (r *Runner) spawn(ctx context.Context, req *protocol.HelperRequest, logger *slog.Logger) (*protocol.HelperResponse, string, error) {
	if r.cfg.Command == "" {
		return nil, "", fmt.Errorf("helper command is not configured")
	}

	timeoutTimer := time.NewTimer(r.cfg.Timeout)
	defer timeoutTimer.Stop()

	// Don't use CommandContext - termination is managed here.
	cmd := exec.Command(r.cfg.Command, r.cfg.Args...)
	// Grandchildren holding stdout open must not stall Wait after the helper exits.
	cmd.WaitDelay = r.grace
	if len(r.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), r.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning helper", "command", r.cfg.Command, "timeout", r.cfg.Timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start helper: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeHelperRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		r.terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), context.DeadlineExceeded

	case <-ctx.Done():
		r.terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), ctx.Err()

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		if werr := <-writeErr; werr != nil {
			return nil, stderrStr, werr
		}

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				logger.Warn("helper exited with non-zero status", "exit_code", exitErr.ExitCode())
			} else {
				return nil, stderrStr, fmt.Errorf("wait for helper: %w", err)
			}
		}

		resp, rawBytes, err := protocol.DecodeHelperResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode helper response", "error", err, "stdout", string(rawBytes))
			return nil, stderrStr, fmt.Errorf("decode helper response: %w", err)
		}

		return resp, stderrStr, nil
	}
}

// terminate sends SIGTERM, then SIGKILL once the grace period runs out.
func (r *Runner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	logger.Warn("stopping helper, sending SIGTERM")
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("helper exited after SIGTERM")
	case <-grace.C:
		logger.Warn("helper did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
