package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/telbridge/internal/auth"
	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/protocol"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	if s.outbox != nil {
		depth, err := s.outbox.Depth(r.Context())
		if err != nil {
			s.logger.Error("failed to compute outbox depth", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to compute outbox depth")
			return
		}
		resp.OutboxDepth = &depth
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleInvoke handles POST /invoke: one method channel request in, one response out.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	req, err := protocol.DecodeRequest(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		s.writeResponse(w, protocol.ErrorResponse("", dispatch.CodeArgError, "invalid request: "+err.Error()))
		return
	}

	if scope, ok := auth.ScopeForCommand(req.Command); ok && !s.principalHas(r, scope) {
		s.writeError(w, http.StatusForbidden, fmt.Sprintf("token lacks scope %s for %s", scope, req.Command))
		return
	}

	ctx := r.Context()
	if id := middleware.GetReqID(ctx); id != "" {
		ctx = dispatch.WithRequestID(ctx, id)
	}

	res := s.commands.Handle(ctx, req.Command, req.Arguments)
	s.writeResponse(w, protocol.FromResult(req.ID, res))
}

// statusFor maps a response envelope onto an HTTP status.
func statusFor(resp *protocol.Response) int {
	switch {
	case resp.OK:
		return http.StatusOK
	case resp.NotImplemented:
		return http.StatusNotImplemented
	}
	switch dispatch.Code(resp.Code) {
	case dispatch.CodeArgError:
		return http.StatusBadRequest
	case dispatch.CodePermissionDenied:
		return http.StatusForbidden
	case dispatch.CodeSMSError, dispatch.CodeCallError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *protocol.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(resp))
	if err := protocol.EncodeResponse(w, resp); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
