package protocol

import "fmt"

// CommandResult is the outcome of a command: a *SuccessResult or an
// *ErrorResult.
type CommandResult interface {
	IsError() bool
	AdditionalData() map[string]any
}

// SuccessResult carries a decoded result payload. Additional holds result
// fields the payload type does not map.
type SuccessResult struct {
	Value      any
	Additional map[string]any
}

// IsError reports false.
func (r *SuccessResult) IsError() bool { return false }

// AdditionalData returns unmapped result fields.
func (r *SuccessResult) AdditionalData() map[string]any { return r.Additional }

// ErrorResult is an error envelope returned by the remote end, either for a
// specific command or, with no command ID, for the connection as a whole.
type ErrorResult struct {
	ErrorType  string `json:"error"`
	Message    string `json:"message"`
	StackTrace string `json:"stacktrace,omitempty"`

	Additional map[string]any `json:"-"`
}

// IsError reports true.
func (e *ErrorResult) IsError() bool { return true }

// AdditionalData returns envelope fields other than the standard ones.
func (e *ErrorResult) AdditionalData() map[string]any { return e.Additional }

// Error implements the error interface.
func (e *ErrorResult) Error() string {
	return fmt.Sprintf("bidi error %s: %s", e.ErrorType, e.Message)
}
