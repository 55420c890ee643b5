package dispatch

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

//go:generate mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks

// Permission names an OS-granted capability.
type Permission string

const (
	PermissionSendSMS   Permission = "SEND_SMS"
	PermissionCallPhone Permission = "CALL_PHONE"
)

// PermissionChecker reads the current grant state of a permission.
// Implementations must not cache: every call reflects the state at that moment.
type PermissionChecker interface {
	Granted(ctx context.Context, p Permission) (bool, error)
}

// MessageSender hands a text message to the platform. A nil return means the
// platform accepted it for sending, not that it was delivered.
type MessageSender interface {
	SendText(ctx context.Context, destination, body string) error
}

// ActionLauncher hands an intent to the platform to execute on its own.
type ActionLauncher interface {
	Launch(ctx context.Context, intent Intent) error
}

// ActionCall is the intent action that places a call without further UI.
const ActionCall = "android.intent.action.CALL"

// IntentFlags are launch flags carried by an Intent.
type IntentFlags uint32

// FlagNewTask starts the action as a new task, detached from the caller's UI lifecycle.
const FlagNewTask IntentFlags = 0x10000000

func (f IntentFlags) Has(flag IntentFlags) bool { return f&flag == flag }

// Names returns the symbolic names of the set flags, in a stable order.
func (f IntentFlags) Names() []string {
	var names []string
	if f.Has(FlagNewTask) {
		names = append(names, "new_task")
	}
	return names
}

// Intent describes an action for the launcher: what to do, on which URI, how.
type Intent struct {
	Action string
	Data   string
	Flags  IntentFlags
}

// CallIntent builds the intent that places a call to number.
func CallIntent(number string) Intent {
	return Intent{
		Action: ActionCall,
		Data:   "tel:" + number,
		Flags:  FlagNewTask,
	}
}

// Resolution is what observers see once a command has produced its Result.
type Resolution struct {
	RequestID string
	Command   string
	// TargetHash is the Fingerprint of the phone number, empty when there is none.
	TargetHash string
	Result     Result
	Duration   time.Duration
	At         time.Time
}

// Observer is notified after every resolution. It cannot alter the Result.
type Observer interface {
	Observe(ctx context.Context, r Resolution)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r Resolution)

func (f ObserverFunc) Observe(ctx context.Context, r Resolution) { f(ctx, r) }

// Fingerprint returns a short BLAKE3 digest of s so numbers and bodies can be
// correlated in logs without being written out.
func Fingerprint(s string) string {
	if s == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
