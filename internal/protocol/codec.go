package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DecodeRequest reads one app-channel request from r.
// Unknown top-level fields and anything after the request object are rejected;
// command is required.
func DecodeRequest(r io.Reader) (*Request, error) {
	var req Request

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after request")
	}

	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("request missing required field: command")
	}

	return &req, nil
}

// EncodeRequest serializes an app-channel request to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req == nil || strings.TrimSpace(req.Command) == "" {
		return fmt.Errorf("request missing required field: command")
	}
	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// EncodeResponse validates the response shape and writes it to w as one JSON line.
func EncodeResponse(w io.Writer, resp *Response) error {
	if err := validateResponse(resp); err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}

// DecodeResponse reads and validates one app-channel response from r.
func DecodeResponse(r io.Reader) (*Response, error) {
	var resp Response

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if err := validateResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func validateResponse(resp *Response) error {
	if resp == nil {
		return fmt.Errorf("response is nil")
	}
	if resp.OK {
		if resp.Value == nil || !*resp.Value {
			return fmt.Errorf("ok response must carry value=true")
		}
		if resp.Code != "" || resp.Message != nil || resp.NotImplemented {
			return fmt.Errorf("ok response must not carry failure fields")
		}
		return nil
	}
	if resp.Value != nil {
		return fmt.Errorf("failed response must not carry a value")
	}
	if resp.NotImplemented {
		if resp.Code != "" || resp.Message != nil {
			return fmt.Errorf("not_implemented response must not carry code or message")
		}
		return nil
	}
	if resp.Code == "" {
		return fmt.Errorf("failed response missing required field: code")
	}
	if resp.Message == nil {
		return fmt.Errorf("failed response missing required field: message")
	}
	return nil
}

// EncodeHelperRequest serializes a HelperRequest to JSON and writes it to w.
// Returns an error if the version or payload is wrong, or writing fails.
func EncodeHelperRequest(w io.Writer, req *HelperRequest) error {
	if req.Protocol != HelperProtocolVersion {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}

	switch req.Operation {
	case OperationSendText:
		if req.Text == nil {
			return fmt.Errorf("send_text request missing text payload")
		}
	case OperationLaunch:
		if req.Intent == nil {
			return fmt.Errorf("launch request missing intent payload")
		}
	default:
		return fmt.Errorf("unsupported operation: %q", req.Operation)
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	return nil
}

// DecodeHelperResponseLenient reads a HelperResponse and also returns the raw
// bytes, so protocol errors can be logged with what the helper printed.
func DecodeHelperResponseLenient(r io.Reader) (*HelperResponse, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if len(data) == 0 {
		return nil, data, fmt.Errorf("helper produced no output on stdout")
	}

	var resp HelperResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, data, fmt.Errorf("helper output is not valid JSON: %w", err)
	}

	if err := validateHelperResponse(&resp); err != nil {
		return nil, data, err
	}

	return &resp, data, nil
}

func validateHelperResponse(resp *HelperResponse) error {
	if resp.Status == "" {
		return fmt.Errorf("response missing required field: status")
	}
	if resp.Status != "ok" && resp.Status != "error" {
		return fmt.Errorf("invalid status value: %q (must be 'ok' or 'error')", resp.Status)
	}
	if resp.Status == "error" && resp.Error == "" {
		return fmt.Errorf("response has status=error but no error message")
	}
	return nil
}
