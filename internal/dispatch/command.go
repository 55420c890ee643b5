package dispatch

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Wire names of the supported commands.
const (
	CommandSendSMS    = "sendSms"
	CommandCallNumber = "callNumber"
)

// ErrUnknownCommand is returned by Parse for names outside the supported set.
var ErrUnknownCommand = errors.New("unknown command")

// Command is a closed set: SendMessage and PlaceCall are the only implementations.
type Command interface {
	// Name returns the wire name of the command.
	Name() string
	// Target returns the phone number the command acts on.
	Target() string
	isCommand()
}

// SendMessage asks for a text message to be handed to the platform for sending.
type SendMessage struct {
	Number  string
	Message string
}

func (SendMessage) Name() string     { return CommandSendSMS }
func (c SendMessage) Target() string { return c.Number }
func (SendMessage) isCommand()       {}

// PlaceCall asks for a call to be handed to the platform dialer.
type PlaceCall struct {
	Number string
}

func (PlaceCall) Name() string     { return CommandCallNumber }
func (c PlaceCall) Target() string { return c.Number }
func (PlaceCall) isCommand()       {}

// ArgError reports a missing, null or mistyped argument.
type ArgError struct {
	Command string
	Message string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// sendMessageArgs and placeCallArgs use pointers so a missing key and an explicit
// null both decode to nil.
type sendMessageArgs struct {
	Number  *string `mapstructure:"number"`
	Message *string `mapstructure:"message"`
}

type placeCallArgs struct {
	Number *string `mapstructure:"number"`
}

// Parse converts a boundary (name, arguments) pair into a typed Command.
// Unknown names wrap ErrUnknownCommand; argument problems return *ArgError.
// Arguments other than the required ones are ignored.
func Parse(name string, args map[string]any) (Command, error) {
	switch name {
	case CommandSendSMS:
		var a sendMessageArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, &ArgError{Command: name, Message: err.Error()}
		}
		if a.Number == nil || a.Message == nil {
			return nil, &ArgError{Command: name, Message: "Missing number or message"}
		}
		return SendMessage{Number: *a.Number, Message: *a.Message}, nil

	case CommandCallNumber:
		var a placeCallArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, &ArgError{Command: name, Message: err.Error()}
		}
		if a.Number == nil {
			return nil, &ArgError{Command: name, Message: "Missing number"}
		}
		return PlaceCall{Number: *a.Number}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: false,
		ErrorUnused:      false,
	})
	if err != nil {
		return fmt.Errorf("build argument decoder: %w", err)
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
