package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/mattjoyce/telbridge/internal/auth"
	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/dispatch/mocks"
	"github.com/mattjoyce/telbridge/internal/events"
	"github.com/mattjoyce/telbridge/internal/log"
	"github.com/mattjoyce/telbridge/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

const adminKey = "admin-key"

type fixture struct {
	perms    *mocks.MockPermissionChecker
	sender   *mocks.MockMessageSender
	launcher *mocks.MockActionLauncher
	hub      *events.Hub
	handler  http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &fixture{
		perms:    mocks.NewMockPermissionChecker(ctrl),
		sender:   mocks.NewMockMessageSender(ctrl),
		launcher: mocks.NewMockActionLauncher(ctrl),
		hub:      events.NewHub(16),
	}
	d := dispatch.New(f.perms, f.sender, f.launcher, dispatch.WithObservers(f.hub))

	cfg := Config{
		APIKey: adminKey,
		Tokens: []auth.TokenConfig{
			{Name: "sms", Token: "sms-token", Scopes: []string{auth.ScopeSMSSend}},
			{Name: "watch", Token: "watch-token", Scopes: []string{auth.ScopeEventsRO}},
		},
	}
	opts = append([]Option{WithEvents(f.hub), WithLogger(log.WithComponent("api"))}, opts...)
	f.handler = New(cfg, d, opts...).Handler()
	return f
}

func (f *fixture) invoke(t *testing.T, token, body string) (*httptest.ResponseRecorder, *protocol.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code == http.StatusUnauthorized || rec.Code == http.StatusForbidden && !strings.Contains(rec.Body.String(), `"ok"`) {
		return rec, nil
	}
	resp, err := protocol.DecodeResponse(rec.Body)
	require.NoError(t, err, rec.Body.String())
	return rec, resp
}

func TestInvokeSendSMS(t *testing.T) {
	f := newFixture(t)
	f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionSendSMS).Return(true, nil)
	f.sender.EXPECT().SendText(gomock.Any(), "+15550001111", "help").Return(nil)

	rec, resp := f.invoke(t, adminKey, `{"id":"a","command":"sendSms","arguments":{"number":"+15550001111","message":"help"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a", resp.ID)
	assert.True(t, resp.OK)
	require.NotNil(t, resp.Value)
	assert.True(t, *resp.Value)
}

func TestInvokeStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(f *fixture)
		wantStatus int
		wantCode   string
		wantNI     bool
	}{
		{
			name:       "missing number",
			body:       `{"command":"callNumber","arguments":{}}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "ARG_ERROR",
		},
		{
			name: "permission denied",
			body: `{"command":"callNumber","arguments":{"number":"+15550001111"}}`,
			setup: func(f *fixture) {
				f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionCallPhone).Return(false, nil)
			},
			wantStatus: http.StatusForbidden,
			wantCode:   "PERMISSION_DENIED",
		},
		{
			name: "sms error",
			body: `{"command":"sendSms","arguments":{"number":"1","message":"m"}}`,
			setup: func(f *fixture) {
				f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionSendSMS).Return(true, nil)
				f.sender.EXPECT().SendText(gomock.Any(), "1", "m").Return(errors.New("Generic failure"))
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "SMS_ERROR",
		},
		{
			name: "call error",
			body: `{"command":"callNumber","arguments":{"number":"112"}}`,
			setup: func(f *fixture) {
				f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionCallPhone).Return(true, nil)
				f.launcher.EXPECT().Launch(gomock.Any(), dispatch.CallIntent("112")).Return(errors.New("no dialer"))
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "CALL_ERROR",
		},
		{
			name:       "unknown command",
			body:       `{"command":"foo"}`,
			wantStatus: http.StatusNotImplemented,
			wantNI:     true,
		},
		{
			name:       "malformed JSON",
			body:       `{"command":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "ARG_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			rec, resp := f.invoke(t, adminKey, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			require.NotNil(t, resp)
			assert.False(t, resp.OK)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantNI, resp.NotImplemented)
		})
	}
}

func TestInvokeAuth(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.invoke(t, "", `{"command":"sendSms"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.invoke(t, "wrong", `{"command":"sendSms"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Scoped token cannot place calls; no collaborator is touched.
	rec, _ = f.invoke(t, "sms-token", `{"command":"callNumber","arguments":{"number":"112"}}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var apiErr ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Contains(t, apiErr.Error, "call:place")

	// Unknown commands need authentication only.
	rec, resp := f.invoke(t, "watch-token", `{"command":"foo"}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.True(t, resp.NotImplemented)
}

type fixedDepth int

func (d fixedDepth) Depth(context.Context) (int, error) { return int(d), nil }

func TestHealthz(t *testing.T) {
	f := newFixture(t, WithOutbox(fixedDepth(3)))

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var h HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	require.NotNil(t, h.OutboxDepth)
	assert.Equal(t, 3, *h.OutboxDepth)
}

func TestMetricsRouteOnlyWhenEnabled(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f = newFixture(t, WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("telbridge_commands_total 0\n"))
	})))
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	// sms-only token lacks events:ro.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/events", nil)
	req.Header.Set("Authorization", "Bearer sms-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	f.hub.Publish(events.EventCommandResolved, map[string]string{"command": "sendSms"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ = http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	req.Header.Set("Authorization", "Bearer watch-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "id: 1", lines[0])
	assert.Equal(t, "event: command.resolved", lines[1])
	assert.Equal(t, `data: {"command":"sendSms"}`, lines[2])
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("x"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
