// Package script implements the evaluate command of the BiDi script module.
package script

import (
	"context"
	"fmt"

	"github.com/grantcarthew/bidictl/internal/driver"
)

// ModuleName is the protocol name of this module.
const ModuleName = "script"

// Result types of script.evaluate.
const (
	ResultSuccess   = "success"
	ResultException = "exception"
)

// Module executes script commands.
type Module struct {
	driver *driver.Driver
}

// New creates the module and registers it with d.
func New(d *driver.Driver) *Module {
	m := &Module{driver: d}
	d.RegisterModule(m)
	return m
}

// ModuleName returns "script".
func (m *Module) ModuleName() string {
	return ModuleName
}

// Target selects where a script runs: a browsing context, optionally in a
// sandbox, or a realm.
type Target struct {
	Context string `json:"context,omitempty"`
	Sandbox string `json:"sandbox,omitempty"`
	Realm   string `json:"realm,omitempty"`
}

// RemoteValue is a serialized script value.
type RemoteValue struct {
	Type     string `json:"type"`
	Value    any    `json:"value,omitempty"`
	Handle   string `json:"handle,omitempty"`
	SharedID string `json:"sharedId,omitempty"`
}

// ExceptionDetails describes a thrown exception.
type ExceptionDetails struct {
	ColumnNumber int         `json:"columnNumber"`
	LineNumber   int         `json:"lineNumber"`
	Exception    RemoteValue `json:"exception"`
	Text         string      `json:"text"`
}

// EvaluateParameters are the parameters of script.evaluate.
type EvaluateParameters struct {
	Expression   string `json:"expression"`
	Target       Target `json:"target"`
	AwaitPromise bool   `json:"awaitPromise"`
}

// EvaluateResult is either a value or an exception, discriminated by Type.
type EvaluateResult struct {
	Type             string            `json:"type"`
	Realm            string            `json:"realm"`
	Result           *RemoteValue      `json:"result,omitempty"`
	ExceptionDetails *ExceptionDetails `json:"exceptionDetails,omitempty"`
}

// Err returns the script exception as an error, or nil on success.
func (r EvaluateResult) Err() error {
	if r.Type != ResultException || r.ExceptionDetails == nil {
		return nil
	}
	return fmt.Errorf("script exception at %d:%d: %s",
		r.ExceptionDetails.LineNumber, r.ExceptionDetails.ColumnNumber, r.ExceptionDetails.Text)
}

// Evaluate evaluates an expression in the target.
func (m *Module) Evaluate(ctx context.Context, params EvaluateParameters) (EvaluateResult, error) {
	return driver.Execute[EvaluateResult](ctx, m.driver, "script.evaluate", params, 0)
}
