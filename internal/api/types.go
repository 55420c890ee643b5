package api

// ErrorResponse is returned for transport-level errors (auth, scopes, health).
// Command outcomes always use the method channel response envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	// OutboxDepth is omitted when messages are sent synchronously.
	OutboxDepth *int `json:"outbox_depth,omitempty"`
}
