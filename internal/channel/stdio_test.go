package channel

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedHandler struct {
	calls []string
}

func (h *scriptedHandler) Handle(_ context.Context, name string, args map[string]any) dispatch.Result {
	h.calls = append(h.calls, name)
	switch name {
	case dispatch.CommandSendSMS:
		return dispatch.Success()
	case dispatch.CommandCallNumber:
		if _, ok := args["number"]; !ok {
			return dispatch.Failure(dispatch.CodeArgError, "Missing number")
		}
		return dispatch.Failure(dispatch.CodePermissionDenied, "CALL_PHONE permission not granted")
	default:
		return dispatch.NotImplemented()
	}
}

func decodeAll(t *testing.T, out string) []*protocol.Response {
	t.Helper()
	var resps []*protocol.Response
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		resp, err := protocol.DecodeResponse(strings.NewReader(line))
		require.NoError(t, err, line)
		resps = append(resps, resp)
	}
	return resps
}

func TestStdioServe(t *testing.T) {
	in := strings.Join([]string{
		`{"id":"1","command":"sendSms","arguments":{"number":"+15550001111","message":"help"}}`,
		``,
		`{"id":"2","command":"callNumber","arguments":{}}`,
		`{"id":"3","command":"callNumber","arguments":{"number":"+15550001111"}}`,
		`{"id":"4","command":"foo"}`,
	}, "\n")

	h := &scriptedHandler{}
	var out bytes.Buffer
	require.NoError(t, NewStdio(h, nil).Serve(context.Background(), strings.NewReader(in), &out))

	resps := decodeAll(t, out.String())
	require.Len(t, resps, 4)

	assert.Equal(t, "1", resps[0].ID)
	assert.True(t, resps[0].OK)

	assert.Equal(t, "2", resps[1].ID)
	assert.Equal(t, dispatch.Failure(dispatch.CodeArgError, "Missing number"), resps[1].Result())

	assert.Equal(t, "PERMISSION_DENIED", resps[2].Code)

	assert.Equal(t, "4", resps[3].ID)
	assert.True(t, resps[3].NotImplemented)

	assert.Equal(t, []string{"sendSms", "callNumber", "callNumber", "foo"}, h.calls)
}

func TestStdioMalformedLineContinues(t *testing.T) {
	in := "{not json}\n" +
		`{"id":"x","arguments":{}}` + "\n" +
		`{"id":"y","command":"sendSms","arguments":{"number":"1","message":"m"}}` + "\n"

	h := &scriptedHandler{}
	var out bytes.Buffer
	require.NoError(t, NewStdio(h, nil).Serve(context.Background(), strings.NewReader(in), &out))

	resps := decodeAll(t, out.String())
	require.Len(t, resps, 3)

	assert.Equal(t, "ARG_ERROR", resps[0].Code)
	assert.True(t, strings.HasPrefix(*resps[0].Message, "invalid request: "))

	assert.Equal(t, "x", resps[1].ID, "id is echoed even when the request is rejected")
	assert.Equal(t, "ARG_ERROR", resps[1].Code)

	assert.True(t, resps[2].OK)
	assert.Equal(t, []string{"sendSms"}, h.calls)
}

func TestStdioStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := &scriptedHandler{}
	var out bytes.Buffer
	err := NewStdio(h, nil).Serve(ctx, strings.NewReader(`{"command":"sendSms"}`+"\n"), &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.calls)
	assert.Zero(t, out.Len())
}

func TestStdioOversizedLineContinues(t *testing.T) {
	huge := `{"id":"a","command":"sendSms","arguments":{"number":"1","message":"` +
		strings.Repeat("x", maxLineBytes) + `"}}`
	in := huge + "\n" + `{"id":"b","command":"foo"}` + "\n"

	h := &scriptedHandler{}
	var out bytes.Buffer
	require.NoError(t, NewStdio(h, nil).Serve(context.Background(), strings.NewReader(in), &out))

	resps := decodeAll(t, out.String())
	require.Len(t, resps, 2)

	assert.Empty(t, resps[0].ID)
	assert.Equal(t, "ARG_ERROR", resps[0].Code)
	assert.Equal(t, "invalid request: line exceeds 1MiB", *resps[0].Message)

	assert.Equal(t, "b", resps[1].ID)
	assert.True(t, resps[1].NotImplemented)
	assert.Equal(t, []string{"foo"}, h.calls)
}

func TestStdioFinalLineWithoutNewline(t *testing.T) {
	in := `{"id":"1","command":"foo"}` + "\n" + `{"id":"2","command":"sendSms","arguments":{"number":"1","message":"m"}}`

	h := &scriptedHandler{}
	var out bytes.Buffer
	require.NoError(t, NewStdio(h, nil).Serve(context.Background(), strings.NewReader(in), &out))

	resps := decodeAll(t, out.String())
	require.Len(t, resps, 2)
	assert.Equal(t, "2", resps[1].ID)
	assert.True(t, resps[1].OK)
}

func TestReadLineLimit(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("abcd\nabcdef\nab"), 16)

	line, tooLong, err := readLine(r, 4)
	require.NoError(t, err)
	assert.False(t, tooLong)
	assert.Equal(t, "abcd", string(line))

	line, tooLong, err = readLine(r, 4)
	require.NoError(t, err)
	assert.True(t, tooLong)
	assert.Nil(t, line)

	line, tooLong, err = readLine(r, 4)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, tooLong)
	assert.Equal(t, "ab", string(line))
}
