package protocol

import "time"

// Request is the app-channel envelope: a command name plus its arguments.
type Request struct {
	ID        string         `json:"id,omitempty"`
	Command   string         `json:"command"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Response is the app-channel reply. Exactly one shape is valid:
//
//	{"ok":true,"value":true}
//	{"ok":false,"code":"...","message":"..."}
//	{"ok":false,"not_implemented":true}
type Response struct {
	ID             string  `json:"id,omitempty"`
	OK             bool    `json:"ok"`
	Value          *bool   `json:"value,omitempty"`
	Code           string  `json:"code,omitempty"`
	Message        *string `json:"message,omitempty"`
	NotImplemented bool    `json:"not_implemented,omitempty"`
}

// HelperProtocolVersion is the only helper protocol version spoken.
const HelperProtocolVersion = 1

// Helper operations.
const (
	OperationSendText = "send_text"
	OperationLaunch   = "launch"
)

// HelperRequest is written to a platform helper's stdin.
type HelperRequest struct {
	Protocol   int            `json:"protocol"`
	RequestID  string         `json:"request_id"`
	Operation  string         `json:"operation"` // send_text | launch
	Text       *TextPayload   `json:"text,omitempty"`
	Intent     *IntentPayload `json:"intent,omitempty"`
	DeadlineAt time.Time      `json:"deadline_at"`
}

// TextPayload carries a message for send_text. There are deliberately no
// delivery or sent callbacks.
type TextPayload struct {
	Destination string `json:"destination"`
	Body        string `json:"body"`
}

// IntentPayload carries an intent for launch.
type IntentPayload struct {
	Action string   `json:"action"`
	Data   string   `json:"data"`
	Flags  []string `json:"flags,omitempty"`
}

// HelperResponse is read from a platform helper's stdout.
type HelperResponse struct {
	Status string     `json:"status"` // ok | error
	Error  string     `json:"error,omitempty"`
	Logs   []LogEntry `json:"logs,omitempty"`
}

// LogEntry represents a log message from a helper.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}
