// Package log implements the BiDi log module, which reports console and
// JavaScript error entries.
package log

import (
	"github.com/grantcarthew/bidictl/internal/driver"
	"github.com/grantcarthew/bidictl/internal/driver/script"
	"github.com/grantcarthew/bidictl/internal/observable"
)

// ModuleName is the protocol name of this module.
const ModuleName = "log"

// EventEntryAdded is the name of the entry event.
const EventEntryAdded = "log.entryAdded"

// Source identifies where an entry came from.
type Source struct {
	Realm   string `json:"realm"`
	Context string `json:"context,omitempty"`
}

// Entry is a console or JavaScript log entry.
type Entry struct {
	Type      string               `json:"type"`
	Level     string               `json:"level"`
	Source    Source               `json:"source"`
	Text      *string              `json:"text"`
	Timestamp uint64               `json:"timestamp"`
	Method    string               `json:"method,omitempty"`
	Args      []script.RemoteValue `json:"args,omitempty"`
}

// Module exposes log events.
type Module struct {
	onEntryAdded *observable.Event[driver.EventArgs[Entry]]
}

// New returns the module registered with d, creating it on first use.
func New(d *driver.Driver) (*Module, error) {
	if registered, err := d.Module(ModuleName); err == nil {
		if m, ok := registered.(*Module); ok {
			return m, nil
		}
	}

	onEntryAdded, err := driver.RegisterEvent[Entry](d, EventEntryAdded)
	if err != nil {
		return nil, err
	}
	m := &Module{onEntryAdded: onEntryAdded}
	d.RegisterModule(m)
	return m, nil
}

// ModuleName returns "log".
func (m *Module) ModuleName() string {
	return ModuleName
}

// OnEntryAdded is notified for each log entry.
func (m *Module) OnEntryAdded() *observable.Event[driver.EventArgs[Entry]] {
	return m.onEntryAdded
}
