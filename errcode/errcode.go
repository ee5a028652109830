package errcode

// Code is a stable error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Top-level families.
	Hardware       Code = "hardware_error"
	TransientRPC   Code = "transient_rpc_error"
	DocumentSchema Code = "document_schema_error"
	Fatal          Code = "fatal_error"

	// Fine-grained codes; Class collapses each to its family.
	UnknownPin     Code = "unknown_pin"
	PinNotOutput   Code = "pin_not_output"
	PWMUnsupported Code = "pwm_unsupported"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	Timeout        Code = "timeout"
	Unavailable    Code = "unavailable"
	NotFound       Code = "not_found"

	Error Code = "error" // generic fallback
)

// Class collapses a fine-grained code to its family.
func Class(c Code) Code {
	switch c {
	case UnknownPin, PinNotOutput, PWMUnsupported:
		return Hardware
	case InvalidParams, InvalidPayload:
		return DocumentSchema
	case Timeout, Unavailable:
		return TransientRPC
	default:
		return c
	}
}

// E keeps context and a cause alongside a code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// Is reports whether err carries the given code, directly or via its family.
func Is(err error, c Code) bool {
	got := Of(err)
	return got == c || Class(got) == c
}

// Wrap builds an *E; a nil cause is allowed.
func Wrap(c Code, op, msg string, err error) *E {
	return &E{C: c, Op: op, Msg: msg, Err: err}
}
