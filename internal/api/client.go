package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mattjoyce/telbridge/internal/protocol"
)

// Client calls a running telbridge over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Invoke posts req to /invoke. Any command outcome comes back as a Response with a
// nil error; auth and transport failures are errors.
func (c *Client) Invoke(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	var body bytes.Buffer
	if err := protocol.EncodeRequest(&body, req); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke", &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invoke: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out, decodeErr := protocol.DecodeResponse(bytes.NewReader(data))
	if decodeErr == nil {
		return out, nil
	}
	var apiErr ErrorResponse
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		return nil, fmt.Errorf("invoke: %s (HTTP %d)", apiErr.Error, resp.StatusCode)
	}
	return nil, fmt.Errorf("invoke: HTTP %d: %w", resp.StatusCode, decodeErr)
}
