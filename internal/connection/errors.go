package connection

import "fmt"

// Protocol and state-machine error codes the core can surface. These
// match the wire-level codes a server may also send in an error
// envelope, but these four are raised locally by the connection
// itself.
const (
	CodeInvalidProtocol       = 4019
	CodeInvalidDefaultType    = 4020
	CodeInvalidClientID       = 4021
	CodeIllegalStateTransition = 5007
)

// Error is the structured error type surfaced on the connection's
// "error" event, and forwarded to docs/queries when a reply carries an
// error envelope. The "connection error" event carries the
// transport's plain error value instead.
type Error struct {
	Code    int
	Message string
	// Data carries the full original message payload when the error was
	// extracted from an inbound error envelope; nil for locally raised
	// errors (illegal transition, init validation).
	Data any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func newError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
