package payment

// Caller-facing payment error codes.  Processor failures are folded
// into this closed set so that API clients see a stable vocabulary and
// no processor internals leak outside a development build.
const (
	CodeMethodNotFound = "payment_method_not_found"
	CodeMethodUnusable = "payment_method_unusable"
	CodeGeneric        = "payment_failed"
)

// Error is the unit of payment failure handed to callers.  Retriable
// tells the caller whether retrying with a different card or later
// could help; Detail carries the raw processor message and is only
// surfaced when the service runs in development mode.
type Error struct {
	Code      string
	Message   string
	Retriable bool
	Detail    string
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// generic wraps an unclassified processor failure.
func generic(detail string) *Error {
	return &Error{
		Code:      CodeGeneric,
		Message:   "payment could not be processed",
		Retriable: true,
		Detail:    detail,
	}
}
