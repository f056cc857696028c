package session_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantcarthew/bidictl/internal/driver"
	"github.com/grantcarthew/bidictl/internal/driver/drivertest"
	"github.com/grantcarthew/bidictl/internal/driver/session"
	"github.com/grantcarthew/bidictl/internal/remotetest"
)

func TestSession_Commands(t *testing.T) {
	router := remotetest.Router{
		"session.status": func(req remotetest.Request) any {
			return remotetest.Success(req.ID, map[string]any{"ready": true, "message": "ready for session"})
		},
		"session.new": func(req remotetest.Request) any {
			return remotetest.Success(req.ID, map[string]any{
				"sessionId":    "abc-123",
				"capabilities": map[string]any{"browserName": "firefox"},
			})
		},
		"session.end": func(req remotetest.Request) any {
			return remotetest.Success(req.ID, nil)
		},
		"session.subscribe": func(req remotetest.Request) any {
			return remotetest.Success(req.ID, map[string]any{"subscription": "sub-1"})
		},
		"session.unsubscribe": func(req remotetest.Request) any {
			return remotetest.Success(req.ID, nil)
		},
	}

	d, srv := drivertest.New(t, router.Handle)
	m := session.New(d)
	drivertest.Start(t, d, srv)
	ctx := context.Background()

	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Ready)
	assert.Equal(t, "ready for session", status.Message)

	created, err := m.New(ctx, session.NewParameters{
		Capabilities: session.CapabilitiesRequest{AlwaysMatch: map[string]any{"acceptInsecureCerts": true}},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", created.SessionID)
	assert.Equal(t, "firefox", created.Capabilities["browserName"])

	sub, err := m.Subscribe(ctx, session.SubscribeParameters{Events: []string{"log.entryAdded"}})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.Subscription)

	require.NoError(t, m.Unsubscribe(ctx, session.UnsubscribeParameters{Subscriptions: []string{"sub-1"}}))
	require.NoError(t, m.End(ctx))

	reqs := srv.Requests()
	require.Len(t, reqs, 5)
	assert.JSONEq(t, `{}`, string(reqs[0].Params))
	assert.JSONEq(t, `{"capabilities":{"alwaysMatch":{"acceptInsecureCerts":true}}}`, string(reqs[1].Params))
	assert.JSONEq(t, `{"events":["log.entryAdded"]}`, string(reqs[2].Params))
	assert.JSONEq(t, `{"subscriptions":["sub-1"]}`, string(reqs[3].Params))

	registered, err := d.Module(session.ModuleName)
	require.NoError(t, err)
	assert.Same(t, m, registered)
}

func TestSession_RemoteError(t *testing.T) {
	d, srv := drivertest.New(t, func(req remotetest.Request) any {
		return remotetest.Error(req.ID, "session not created", "already have a session")
	})
	m := session.New(d)
	drivertest.Start(t, d, srv)

	_, err := m.New(context.Background(), session.NewParameters{})
	var cmdErr *driver.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "session.new", cmdErr.Method)
	assert.Contains(t, err.Error(), "session not created")

	var params map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(srv.Requests()[0].Params, &params))
	assert.Contains(t, params, "capabilities")
}
