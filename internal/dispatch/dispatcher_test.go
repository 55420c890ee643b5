package dispatch_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/dispatch/mocks"
	"github.com/mattjoyce/telbridge/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

const testNumber = "+15550001111"

type fixture struct {
	perms    *mocks.MockPermissionChecker
	sender   *mocks.MockMessageSender
	launcher *mocks.MockActionLauncher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	return &fixture{
		perms:    mocks.NewMockPermissionChecker(ctrl),
		sender:   mocks.NewMockMessageSender(ctrl),
		launcher: mocks.NewMockActionLauncher(ctrl),
	}
}

func (f *fixture) dispatcher(opts ...dispatch.Option) *dispatch.Dispatcher {
	return dispatch.New(f.perms, f.sender, f.launcher, opts...)
}

func TestHandleSendSMS(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted by platform", func(t *testing.T) {
		f := newFixture(t)
		f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionSendSMS).Return(true, nil)
		f.sender.EXPECT().SendText(gomock.Any(), testNumber, "help").Return(nil).Times(1)

		res := f.dispatcher().Handle(ctx, "sendSms", map[string]any{"number": testNumber, "message": "help"})
		assert.Equal(t, dispatch.Success(), res)
		assert.True(t, res.OK())
		assert.True(t, res.Value)
	})

	t.Run("platform error becomes SMS_ERROR", func(t *testing.T) {
		f := newFixture(t)
		f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionSendSMS).Return(true, nil)
		f.sender.EXPECT().SendText(gomock.Any(), testNumber, "help").Return(errors.New("radio off")).Times(1)

		res := f.dispatcher().Handle(ctx, "sendSms", map[string]any{"number": testNumber, "message": "help"})
		assert.Equal(t, dispatch.Failure(dispatch.CodeSMSError, "radio off"), res)
	})

	t.Run("permission denied skips sender", func(t *testing.T) {
		f := newFixture(t)
		f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionSendSMS).Return(false, nil)

		res := f.dispatcher().Handle(ctx, "sendSms", map[string]any{"number": testNumber, "message": "help"})
		assert.Equal(t, dispatch.OutcomeFailure, res.Outcome)
		assert.Equal(t, dispatch.CodePermissionDenied, res.Code)
		assert.Equal(t, "SEND_SMS permission not granted", res.Message)
	})

	t.Run("permission query error becomes SMS_ERROR", func(t *testing.T) {
		f := newFixture(t)
		f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionSendSMS).Return(false, errors.New("store offline"))

		res := f.dispatcher().Handle(ctx, "sendSms", map[string]any{"number": testNumber, "message": "help"})
		assert.Equal(t, dispatch.Failure(dispatch.CodeSMSError, "store offline"), res)
	})

	t.Run("assumed permission skips query", func(t *testing.T) {
		f := newFixture(t)
		f.sender.EXPECT().SendText(gomock.Any(), testNumber, "").Return(nil)

		res := f.dispatcher(dispatch.WithSMSPermissionAssumed()).Handle(ctx, "sendSms", map[string]any{"number": testNumber, "message": ""})
		assert.True(t, res.OK())
	})
}

func TestHandleSendSMSMissingArguments(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{name: "nil map", args: nil},
		{name: "empty map", args: map[string]any{}},
		{name: "number only", args: map[string]any{"number": testNumber}},
		{name: "message only", args: map[string]any{"message": "help"}},
		{name: "null number", args: map[string]any{"number": nil, "message": "help"}},
		{name: "null message", args: map[string]any{"number": testNumber, "message": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// No expectations: any call into a port fails the test.
			f := newFixture(t)
			res := f.dispatcher().Handle(context.Background(), "sendSms", tt.args)
			assert.Equal(t, dispatch.Failure(dispatch.CodeArgError, "Missing number or message"), res)
		})
	}
}

func TestHandleMistypedArgument(t *testing.T) {
	f := newFixture(t)
	res := f.dispatcher().Handle(context.Background(), "callNumber", map[string]any{"number": 15550001111})
	assert.Equal(t, dispatch.CodeArgError, res.Code)
	assert.Contains(t, res.Message, "number")
}

func TestHandleCallNumber(t *testing.T) {
	ctx := context.Background()

	t.Run("missing number", func(t *testing.T) {
		f := newFixture(t)
		res := f.dispatcher().Handle(ctx, "callNumber", map[string]any{})
		assert.Equal(t, dispatch.Failure(dispatch.CodeArgError, "Missing number"), res)
	})

	t.Run("permission denied never launches", func(t *testing.T) {
		f := newFixture(t)
		f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionCallPhone).Return(false, nil)

		res := f.dispatcher().Handle(ctx, "callNumber", map[string]any{"number": testNumber})
		assert.Equal(t, dispatch.Failure(dispatch.CodePermissionDenied, "CALL_PHONE permission not granted"), res)
	})

	t.Run("permission query error becomes CALL_ERROR", func(t *testing.T) {
		f := newFixture(t)
		f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionCallPhone).Return(false, errors.New("store offline"))

		res := f.dispatcher().Handle(ctx, "callNumber", map[string]any{"number": testNumber})
		assert.Equal(t, dispatch.Failure(dispatch.CodeCallError, "store offline"), res)
	})

	t.Run("granted launches call intent", func(t *testing.T) {
		f := newFixture(t)
		f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionCallPhone).Return(true, nil)
		f.launcher.EXPECT().Launch(gomock.Any(), dispatch.Intent{
			Action: dispatch.ActionCall,
			Data:   "tel:" + testNumber,
			Flags:  dispatch.FlagNewTask,
		}).Return(nil).Times(1)

		res := f.dispatcher().Handle(ctx, "callNumber", map[string]any{"number": testNumber})
		assert.Equal(t, dispatch.Success(), res)
	})

	t.Run("launcher error becomes CALL_ERROR", func(t *testing.T) {
		f := newFixture(t)
		f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionCallPhone).Return(true, nil)
		f.launcher.EXPECT().Launch(gomock.Any(), gomock.Any()).Return(errors.New("no dialer"))

		res := f.dispatcher().Handle(ctx, "callNumber", map[string]any{"number": testNumber})
		assert.Equal(t, dispatch.Failure(dispatch.CodeCallError, "no dialer"), res)
	})
}

func TestHandleUnknownCommand(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()

	for _, name := range []string{"foo", "", "SENDSMS", "send-message"} {
		res := d.Handle(context.Background(), name, map[string]any{"number": testNumber})
		assert.True(t, res.IsNotImplemented(), "command %q", name)
		assert.False(t, res.OK())
		assert.Empty(t, res.Code)
	}
}

func TestDispatchTyped(t *testing.T) {
	f := newFixture(t)
	f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionCallPhone).Return(true, nil)
	f.launcher.EXPECT().Launch(gomock.Any(), dispatch.CallIntent("112")).Return(nil)

	d := f.dispatcher()
	assert.True(t, d.Dispatch(context.Background(), dispatch.PlaceCall{Number: "112"}).OK())
	assert.True(t, d.Dispatch(context.Background(), nil).IsNotImplemented())
}

func TestObserversSeeEveryResolution(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t)
	obs := mocks.NewMockObserver(ctrl)

	var seen []dispatch.Resolution
	obs.EXPECT().Observe(gomock.Any(), gomock.Any()).Do(func(_ context.Context, r dispatch.Resolution) {
		seen = append(seen, r)
	}).Times(2)

	f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionCallPhone).Return(false, nil)

	d := f.dispatcher(dispatch.WithObservers(obs, nil))
	ctx := dispatch.WithRequestID(context.Background(), "req-1")
	d.Handle(ctx, "callNumber", map[string]any{"number": testNumber})
	d.Handle(context.Background(), "foo", nil)

	require.Len(t, seen, 2)
	assert.Equal(t, "req-1", seen[0].RequestID)
	assert.Equal(t, "callNumber", seen[0].Command)
	assert.Equal(t, dispatch.Fingerprint(testNumber), seen[0].TargetHash)
	assert.Equal(t, dispatch.CodePermissionDenied, seen[0].Result.Code)

	assert.NotEmpty(t, seen[1].RequestID)
	assert.Equal(t, "foo", seen[1].Command)
	assert.Empty(t, seen[1].TargetHash)
	assert.True(t, seen[1].Result.IsNotImplemented())
}

func TestCancelledCallerStillResolves(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t)
	obs := mocks.NewMockObserver(ctrl)

	live := func(ctx context.Context) { assert.NoError(t, ctx.Err()) }

	f.perms.EXPECT().Granted(gomock.Any(), dispatch.PermissionSendSMS).DoAndReturn(
		func(ctx context.Context, _ dispatch.Permission) (bool, error) {
			live(ctx)
			return true, nil
		})
	f.sender.EXPECT().SendText(gomock.Any(), testNumber, "help").DoAndReturn(
		func(ctx context.Context, _, _ string) error {
			live(ctx)
			return nil
		})

	var seen dispatch.Resolution
	obs.EXPECT().Observe(gomock.Any(), gomock.Any()).Do(func(ctx context.Context, r dispatch.Resolution) {
		live(ctx)
		seen = r
	})

	ctx, cancel := context.WithCancel(dispatch.WithRequestID(context.Background(), "req-gone"))
	cancel()

	res := f.dispatcher(dispatch.WithObservers(obs)).Handle(ctx, "sendSms", map[string]any{"number": testNumber, "message": "help"})
	assert.True(t, res.OK())
	assert.Equal(t, "req-gone", seen.RequestID)
}
