// Package channel serves the method channel over a line-delimited JSON stream,
// typically the process's stdin and stdout.
package channel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/protocol"
)

// maxLineBytes bounds a single request line.
const maxLineBytes = 1 << 20

// Handler resolves one named command. *dispatch.Dispatcher satisfies it.
type Handler interface {
	Handle(ctx context.Context, name string, args map[string]any) dispatch.Result
}

type Stdio struct {
	handler Handler
	logger  *slog.Logger
}

func NewStdio(h Handler, logger *slog.Logger) *Stdio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stdio{handler: h, logger: logger}
}

// Serve reads requests from r until EOF or ctx is done. Each request is resolved
// before the next line is read, and gets exactly one response line on w. A line
// longer than maxLineBytes is discarded and answered with ARG_ERROR.
func (s *Stdio) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReaderSize(r, 64*1024)

	s.logger.Info("stdio channel started")
	defer s.logger.Info("stdio channel stopped")

	for {
		raw, tooLong, readErr := readLine(reader, maxLineBytes)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read request: %w", readErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var resp *protocol.Response
		switch line := bytes.TrimSpace(raw); {
		case tooLong:
			s.logger.Warn("request line too long", "limit", maxLineBytes)
			resp = protocol.ErrorResponse("", dispatch.CodeArgError, "invalid request: line exceeds 1MiB")
		case len(line) > 0:
			resp = s.handleLine(ctx, line)
		}
		if resp != nil {
			if err := protocol.EncodeResponse(w, resp); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}

		if readErr != nil {
			return nil
		}
	}
}

// readLine returns the next newline-terminated line without its terminator. Once
// a line passes limit bytes the rest of it is consumed and dropped, and tooLong
// is set. err is io.EOF when the input ends, possibly after a final partial line.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case err == nil:
			return bytes.TrimSuffix(line, []byte("\n")), tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return line, tooLong, err
		}
	}
}

func (s *Stdio) handleLine(ctx context.Context, line []byte) *protocol.Response {
	req, err := protocol.DecodeRequest(bytes.NewReader(line))
	if err != nil {
		id := salvageID(line)
		s.logger.Warn("invalid request line", "id", id, "error", err)
		return protocol.ErrorResponse(id, dispatch.CodeArgError, "invalid request: "+err.Error())
	}
	return protocol.FromResult(req.ID, s.handler.Handle(ctx, req.Command, req.Arguments))
}

// salvageID pulls the id out of a request that failed strict decoding, so the
// error can still be correlated.
func salvageID(line []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return ""
	}
	return probe.ID
}
