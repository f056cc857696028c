// Package session implements the BiDi session module.
package session

import (
	"context"

	"github.com/grantcarthew/bidictl/internal/driver"
)

// ModuleName is the protocol name of this module.
const ModuleName = "session"

// Module executes session commands.
type Module struct {
	driver *driver.Driver
}

// New creates the module and registers it with d.
func New(d *driver.Driver) *Module {
	m := &Module{driver: d}
	d.RegisterModule(m)
	return m
}

// ModuleName returns "session".
func (m *Module) ModuleName() string {
	return ModuleName
}

// StatusResult reports whether the remote end can create a new session.
type StatusResult struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

// Status returns the remote end's readiness.
func (m *Module) Status(ctx context.Context) (StatusResult, error) {
	return driver.Execute[StatusResult](ctx, m.driver, "session.status", nil, 0)
}

// CapabilitiesRequest holds the capabilities requested for a new session.
type CapabilitiesRequest struct {
	AlwaysMatch map[string]any   `json:"alwaysMatch,omitempty"`
	FirstMatch  []map[string]any `json:"firstMatch,omitempty"`
}

// NewParameters are the parameters of session.new.
type NewParameters struct {
	Capabilities CapabilitiesRequest `json:"capabilities"`
}

// NewResult describes the created session.
type NewResult struct {
	SessionID    string         `json:"sessionId"`
	Capabilities map[string]any `json:"capabilities"`
}

// New creates a session.
func (m *Module) New(ctx context.Context, params NewParameters) (NewResult, error) {
	return driver.Execute[NewResult](ctx, m.driver, "session.new", params, 0)
}

// End ends the current session.
func (m *Module) End(ctx context.Context) error {
	_, err := driver.Execute[struct{}](ctx, m.driver, "session.end", nil, 0)
	return err
}

// SubscribeParameters select the events to subscribe to, optionally
// limited to browsing contexts.
type SubscribeParameters struct {
	Events   []string `json:"events"`
	Contexts []string `json:"contexts,omitempty"`
}

// SubscribeResult identifies a subscription. Older remote ends return an
// empty result.
type SubscribeResult struct {
	Subscription string `json:"subscription,omitempty"`
}

// Subscribe enables delivery of the given events.
func (m *Module) Subscribe(ctx context.Context, params SubscribeParameters) (SubscribeResult, error) {
	return driver.Execute[SubscribeResult](ctx, m.driver, "session.subscribe", params, 0)
}

// UnsubscribeParameters select the events or subscriptions to remove.
type UnsubscribeParameters struct {
	Events        []string `json:"events,omitempty"`
	Contexts      []string `json:"contexts,omitempty"`
	Subscriptions []string `json:"subscriptions,omitempty"`
}

// Unsubscribe disables delivery of the given events.
func (m *Module) Unsubscribe(ctx context.Context, params UnsubscribeParameters) error {
	_, err := driver.Execute[struct{}](ctx, m.driver, "session.unsubscribe", params, 0)
	return err
}
