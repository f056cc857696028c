// Package browsingcontext implements the BiDi browsingContext module.
package browsingcontext

import (
	"context"

	"github.com/grantcarthew/bidictl/internal/driver"
	"github.com/grantcarthew/bidictl/internal/observable"
)

// ModuleName is the protocol name of this module.
const ModuleName = "browsingContext"

// Event names.
const (
	EventContextCreated   = "browsingContext.contextCreated"
	EventContextDestroyed = "browsingContext.contextDestroyed"
	EventLoad             = "browsingContext.load"
	EventDOMContentLoaded = "browsingContext.domContentLoaded"
)

// Module executes browsingContext commands and exposes its events.
type Module struct {
	driver *driver.Driver

	onContextCreated   *observable.Event[driver.EventArgs[Info]]
	onContextDestroyed *observable.Event[driver.EventArgs[Info]]
	onLoad             *observable.Event[driver.EventArgs[NavigationInfo]]
	onDOMContentLoaded *observable.Event[driver.EventArgs[NavigationInfo]]
}

// New returns the module registered with d, creating and registering it on
// first use. It fails if another registration claimed one of the module's
// event names with a different params type.
func New(d *driver.Driver) (*Module, error) {
	if registered, err := d.Module(ModuleName); err == nil {
		if m, ok := registered.(*Module); ok {
			return m, nil
		}
	}

	m := &Module{driver: d}
	var err error
	if m.onContextCreated, err = driver.RegisterEvent[Info](d, EventContextCreated); err != nil {
		return nil, err
	}
	if m.onContextDestroyed, err = driver.RegisterEvent[Info](d, EventContextDestroyed); err != nil {
		return nil, err
	}
	if m.onLoad, err = driver.RegisterEvent[NavigationInfo](d, EventLoad); err != nil {
		return nil, err
	}
	if m.onDOMContentLoaded, err = driver.RegisterEvent[NavigationInfo](d, EventDOMContentLoaded); err != nil {
		return nil, err
	}
	d.RegisterModule(m)
	return m, nil
}

// ModuleName returns "browsingContext".
func (m *Module) ModuleName() string {
	return ModuleName
}

func (m *Module) OnContextCreated() *observable.Event[driver.EventArgs[Info]] {
	return m.onContextCreated
}

func (m *Module) OnContextDestroyed() *observable.Event[driver.EventArgs[Info]] {
	return m.onContextDestroyed
}

func (m *Module) OnLoad() *observable.Event[driver.EventArgs[NavigationInfo]] {
	return m.onLoad
}

func (m *Module) OnDOMContentLoaded() *observable.Event[driver.EventArgs[NavigationInfo]] {
	return m.onDOMContentLoaded
}

// GetTree returns the tree of browsing contexts.
func (m *Module) GetTree(ctx context.Context, params GetTreeParameters) (GetTreeResult, error) {
	return driver.Execute[GetTreeResult](ctx, m.driver, "browsingContext.getTree", params, 0)
}

// Create opens a new tab or window.
func (m *Module) Create(ctx context.Context, params CreateParameters) (CreateResult, error) {
	return driver.Execute[CreateResult](ctx, m.driver, "browsingContext.create", params, 0)
}

// Navigate loads a URL in a context.
func (m *Module) Navigate(ctx context.Context, params NavigateParameters) (NavigateResult, error) {
	return driver.Execute[NavigateResult](ctx, m.driver, "browsingContext.navigate", params, 0)
}

// Close closes a top-level context.
func (m *Module) Close(ctx context.Context, params CloseParameters) error {
	_, err := driver.Execute[struct{}](ctx, m.driver, "browsingContext.close", params, 0)
	return err
}
