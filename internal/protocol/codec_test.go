package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/telbridge/internal/dispatch"
)

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, req *Request)
	}{
		{
			name:  "send sms",
			input: `{"id":"1","command":"sendSms","arguments":{"number":"+15550001111","message":"help"}}`,
			checkFn: func(t *testing.T, req *Request) {
				if req.Command != "sendSms" {
					t.Errorf("want command=sendSms, got %s", req.Command)
				}
				if req.Arguments["number"] != "+15550001111" {
					t.Error("arguments not parsed")
				}
				if req.ID != "1" {
					t.Errorf("want id=1, got %q", req.ID)
				}
			},
		},
		{
			name:  "arguments optional",
			input: `{"command":"foo"}`,
			checkFn: func(t *testing.T, req *Request) {
				if req.Arguments != nil {
					t.Error("want nil arguments")
				}
			},
		},
		{
			name:  "null argument kept as nil",
			input: `{"command":"callNumber","arguments":{"number":null}}`,
			checkFn: func(t *testing.T, req *Request) {
				v, ok := req.Arguments["number"]
				if !ok || v != nil {
					t.Errorf("want present nil number, got %v (present=%v)", v, ok)
				}
			},
		},
		{name: "missing command", input: `{"arguments":{}}`, wantErr: true},
		{name: "blank command", input: `{"command":"  "}`, wantErr: true},
		{name: "unknown field", input: `{"command":"x","method":"y"}`, wantErr: true},
		{name: "invalid JSON", input: `{not json}`, wantErr: true},
		{name: "empty input", input: ``, wantErr: true},
		{name: "trailing object", input: `{"command":"foo"} {"command":"sendSms"}`, wantErr: true},
		{name: "trailing brace", input: `{"command":"foo"}}`, wantErr: true},
		{name: "trailing garbage", input: `{"command":"foo"} x`, wantErr: true},
		{
			name:  "trailing whitespace allowed",
			input: "{\"command\":\"foo\"}\n  \n",
			checkFn: func(t *testing.T, req *Request) {
				if req.Command != "foo" {
					t.Errorf("want command=foo, got %s", req.Command)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeRequest() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, req)
			}
		})
	}
}

func TestEncodeResponseShapes(t *testing.T) {
	tests := []struct {
		name   string
		result dispatch.Result
		want   string
	}{
		{
			name:   "success",
			result: dispatch.Success(),
			want:   `{"id":"7","ok":true,"value":true}`,
		},
		{
			name:   "failure",
			result: dispatch.Failure(dispatch.CodeArgError, "Missing number"),
			want:   `{"id":"7","ok":false,"code":"ARG_ERROR","message":"Missing number"}`,
		},
		{
			name:   "failure with empty message keeps the field",
			result: dispatch.Failure(dispatch.CodeSMSError, ""),
			want:   `{"id":"7","ok":false,"code":"SMS_ERROR","message":""}`,
		},
		{
			name:   "not implemented",
			result: dispatch.NotImplemented(),
			want:   `{"id":"7","ok":false,"not_implemented":true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := EncodeResponse(&buf, FromResult("7", tt.result)); err != nil {
				t.Fatalf("EncodeResponse: %v", err)
			}
			if got := strings.TrimSpace(buf.String()); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}

			decoded, err := DecodeResponse(&buf)
			if err != nil {
				t.Fatalf("DecodeResponse: %v", err)
			}
			if decoded.Result() != tt.result {
				t.Errorf("Result() = %+v, want %+v", decoded.Result(), tt.result)
			}
		})
	}
}

func TestDecodeResponseRejectsBadShapes(t *testing.T) {
	for _, input := range []string{
		`{"ok":true}`,
		`{"ok":true,"value":false}`,
		`{"ok":true,"value":true,"code":"ARG_ERROR"}`,
		`{"ok":false}`,
		`{"ok":false,"code":"ARG_ERROR"}`,
		`{"ok":false,"value":true,"code":"ARG_ERROR","message":"x"}`,
		`{"ok":false,"not_implemented":true,"code":"ARG_ERROR"}`,
		`{"ok":false,"code":"ARG_ERROR","message":"x","extra":1}`,
	} {
		if _, err := DecodeResponse(strings.NewReader(input)); err == nil {
			t.Errorf("DecodeResponse(%s) should fail", input)
		}
	}
}

func TestEncodeHelperRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *HelperRequest
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "send text",
			req: &HelperRequest{
				Protocol:   1,
				RequestID:  "req-1",
				Operation:  OperationSendText,
				Text:       &TextPayload{Destination: "+15550001111", Body: "help"},
				DeadlineAt: time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"operation":"send_text"`) {
					t.Error("missing operation field")
				}
				if !strings.Contains(output, `"destination":"+15550001111"`) {
					t.Error("missing destination")
				}
				if strings.Contains(output, `"intent"`) {
					t.Error("send_text must not carry an intent")
				}
			},
		},
		{
			name: "launch",
			req: &HelperRequest{
				Protocol:  1,
				RequestID: "req-2",
				Operation: OperationLaunch,
				Intent:    &IntentPayload{Action: dispatch.ActionCall, Data: "tel:112", Flags: []string{"new_task"}},
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"data":"tel:112"`) {
					t.Error("missing intent data")
				}
				if !strings.Contains(output, `"flags":["new_task"]`) {
					t.Error("missing flags")
				}
			},
		},
		{
			name:    "unsupported protocol version",
			req:     &HelperRequest{Protocol: 2, Operation: OperationLaunch, Intent: &IntentPayload{}},
			wantErr: true,
		},
		{
			name:    "send text without payload",
			req:     &HelperRequest{Protocol: 1, Operation: OperationSendText},
			wantErr: true,
		},
		{
			name:    "unknown operation",
			req:     &HelperRequest{Protocol: 1, Operation: "dial"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeHelperRequest(&buf, tt.req)

			if (err != nil) != tt.wantErr {
				t.Errorf("EncodeHelperRequest() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecodeHelperResponseLenient(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantErr     bool
		wantRawData bool
	}{
		{name: "valid JSON response", input: `{"status":"ok"}`, wantRawData: true},
		{name: "error with message", input: `{"status":"error","error":"modem busy"}`, wantRawData: true},
		{name: "logs", input: `{"status":"ok","logs":[{"level":"info","message":"queued"}]}`, wantRawData: true},
		{name: "missing status", input: `{}`, wantErr: true, wantRawData: true},
		{name: "invalid status", input: `{"status":"maybe"}`, wantErr: true, wantRawData: true},
		{name: "error without message", input: `{"status":"error"}`, wantErr: true, wantRawData: true},
		{name: "invalid JSON captures raw data", input: `not json at all`, wantErr: true, wantRawData: true},
		{name: "empty output", input: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, rawData, err := DecodeHelperResponseLenient(strings.NewReader(tt.input))

			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeHelperResponseLenient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantRawData && len(rawData) == 0 {
				t.Error("expected raw data to be captured")
			}
			if !tt.wantErr && resp == nil {
				t.Error("expected response to be parsed")
			}
		})
	}
}
