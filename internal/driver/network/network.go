// Package network implements the request lifecycle events of the BiDi
// network module.
package network

import (
	"github.com/grantcarthew/bidictl/internal/driver"
	"github.com/grantcarthew/bidictl/internal/observable"
)

// ModuleName is the protocol name of this module.
const ModuleName = "network"

// Event names.
const (
	EventBeforeRequestSent = "network.beforeRequestSent"
	EventResponseCompleted = "network.responseCompleted"
)

// BytesValue is a header or cookie value.
type BytesValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Header is an HTTP header.
type Header struct {
	Name  string     `json:"name"`
	Value BytesValue `json:"value"`
}

// RequestData describes a request.
type RequestData struct {
	Request     string   `json:"request"`
	URL         string   `json:"url"`
	Method      string   `json:"method"`
	Headers     []Header `json:"headers"`
	HeadersSize int64    `json:"headersSize"`
	BodySize    *int64   `json:"bodySize"`
}

// ResponseData describes a response.
type ResponseData struct {
	URL           string   `json:"url"`
	Protocol      string   `json:"protocol"`
	Status        int      `json:"status"`
	StatusText    string   `json:"statusText"`
	FromCache     bool     `json:"fromCache"`
	Headers       []Header `json:"headers"`
	MimeType      string   `json:"mimeType"`
	BytesReceived int64    `json:"bytesReceived"`
}

// BaseParameters are shared by all network events.
type BaseParameters struct {
	Context       *string     `json:"context"`
	Navigation    *string     `json:"navigation"`
	RedirectCount int         `json:"redirectCount"`
	Request       RequestData `json:"request"`
	Timestamp     uint64      `json:"timestamp"`
	IsBlocked     bool        `json:"isBlocked"`
}

// BeforeRequestSentParameters is the payload of beforeRequestSent.
type BeforeRequestSentParameters struct {
	BaseParameters
	Initiator map[string]any `json:"initiator,omitempty"`
}

// ResponseCompletedParameters is the payload of responseCompleted.
type ResponseCompletedParameters struct {
	BaseParameters
	Response ResponseData `json:"response"`
}

// Module exposes network events.
type Module struct {
	onBeforeRequestSent *observable.Event[driver.EventArgs[BeforeRequestSentParameters]]
	onResponseCompleted *observable.Event[driver.EventArgs[ResponseCompletedParameters]]
}

// New returns the module registered with d, creating and registering it on
// first use so every caller shares the same event observables.
func New(d *driver.Driver) (*Module, error) {
	if registered, err := d.Module(ModuleName); err == nil {
		if m, ok := registered.(*Module); ok {
			return m, nil
		}
	}

	m := &Module{}
	var err error
	if m.onBeforeRequestSent, err = driver.RegisterEvent[BeforeRequestSentParameters](d, EventBeforeRequestSent); err != nil {
		return nil, err
	}
	if m.onResponseCompleted, err = driver.RegisterEvent[ResponseCompletedParameters](d, EventResponseCompleted); err != nil {
		return nil, err
	}
	d.RegisterModule(m)
	return m, nil
}

// ModuleName returns "network".
func (m *Module) ModuleName() string {
	return ModuleName
}

func (m *Module) OnBeforeRequestSent() *observable.Event[driver.EventArgs[BeforeRequestSentParameters]] {
	return m.onBeforeRequestSent
}

func (m *Module) OnResponseCompleted() *observable.Event[driver.EventArgs[ResponseCompletedParameters]] {
	return m.onResponseCompleted
}
