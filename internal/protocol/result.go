package protocol

import "github.com/mattjoyce/telbridge/internal/dispatch"

// FromResult renders a dispatch result as a channel response.
func FromResult(id string, r dispatch.Result) *Response {
	switch r.Outcome {
	case dispatch.OutcomeSuccess:
		v := true
		return &Response{ID: id, OK: true, Value: &v}
	case dispatch.OutcomeFailure:
		msg := r.Message
		return &Response{ID: id, Code: string(r.Code), Message: &msg}
	default:
		return &Response{ID: id, NotImplemented: true}
	}
}

// ErrorResponse builds a coded failure response.
func ErrorResponse(id string, code dispatch.Code, message string) *Response {
	return FromResult(id, dispatch.Failure(code, message))
}

// Result converts a decoded response back into a dispatch result.
func (r *Response) Result() dispatch.Result {
	switch {
	case r.OK:
		return dispatch.Success()
	case r.NotImplemented:
		return dispatch.NotImplemented()
	default:
		var msg string
		if r.Message != nil {
			msg = *r.Message
		}
		return dispatch.Failure(dispatch.Code(r.Code), msg)
	}
}
