package dispatch

// Outcome is the terminal state of a single invocation.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeFailure        Outcome = "failure"
	OutcomeNotImplemented Outcome = "not_implemented"
)

// Code is the closed failure taxonomy reported to callers.
type Code string

const (
	// CodeArgError: a required argument is missing, null or of the wrong type.
	CodeArgError Code = "ARG_ERROR"
	// CodePermissionDenied: the required OS permission is not granted.
	CodePermissionDenied Code = "PERMISSION_DENIED"
	// CodeSMSError: the message sender failed.
	CodeSMSError Code = "SMS_ERROR"
	// CodeCallError: building or launching the call intent failed.
	CodeCallError Code = "CALL_ERROR"
)

// Result is the single response produced for every command.
type Result struct {
	Outcome Outcome
	Value   bool
	Code    Code
	Message string
}

// Success returns the success result carrying value true.
func Success() Result {
	return Result{Outcome: OutcomeSuccess, Value: true}
}

// Failure returns a coded failure result.
func Failure(code Code, message string) Result {
	return Result{Outcome: OutcomeFailure, Code: code, Message: message}
}

// NotImplemented returns the marker for commands this dispatcher does not support.
func NotImplemented() Result {
	return Result{Outcome: OutcomeNotImplemented}
}

func (r Result) OK() bool { return r.Outcome == OutcomeSuccess }

func (r Result) IsNotImplemented() bool { return r.Outcome == OutcomeNotImplemented }
