package driver_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantcarthew/bidictl/internal/driver"
	"github.com/grantcarthew/bidictl/internal/driver/drivertest"
	"github.com/grantcarthew/bidictl/internal/observable"
	"github.com/grantcarthew/bidictl/internal/protocol"
	"github.com/grantcarthew/bidictl/internal/remotetest"
	"github.com/grantcarthew/bidictl/internal/transport"
)

type valueResult struct {
	Value string `json:"value"`
}

func echoParams(req remotetest.Request) any {
	var params map[string]any
	_ = json.Unmarshal(req.Params, &params)
	return remotetest.Success(req.ID, params)
}

func TestExecute_RoundTrip(t *testing.T) {
	d, srv := drivertest.New(t, func(req remotetest.Request) any {
		return remotetest.Success(req.ID, map[string]any{"value": "response value"})
	})
	drivertest.Start(t, d, srv)

	got, err := driver.Execute[valueResult](context.Background(), d, "module.command",
		map[string]any{"parameterName": "parameterValue"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "response value", got.Value)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "module.command", reqs[0].Method)
	assert.JSONEq(t, `{"parameterName":"parameterValue"}`, string(reqs[0].Params))
}

func TestExecuteCommand_RemoteError(t *testing.T) {
	d, srv := drivertest.New(t, func(req remotetest.Request) any {
		return remotetest.Error(req.ID, "invalid argument", "bad url")
	})
	drivertest.Start(t, d, srv)

	result, err := d.ExecuteCommand(context.Background(), protocol.NewCommand("browsingContext.navigate", nil), time.Second)
	require.Error(t, err)
	assert.Nil(t, result)

	var cmdErr *driver.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "browsingContext.navigate", cmdErr.Method)
	assert.Equal(t, time.Second, cmdErr.Timeout)

	var remote *protocol.ErrorResult
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "invalid argument", remote.ErrorType)
	assert.Equal(t, "bad url", remote.Message)
}

func TestExecuteCommand_TimeoutAbandonsCommand(t *testing.T) {
	d, srv := drivertest.New(t, nil)
	drivertest.Start(t, d, srv)

	unknown := make(chan string, 1)
	_, err := d.Transport().OnUnknownMessageReceived().AddObserver(func(ctx context.Context, args transport.UnknownMessageEventArgs) error {
		unknown <- args.Message
		return nil
	})
	require.NoError(t, err)

	_, err = d.ExecuteCommand(context.Background(), protocol.NewCommand("module.slow", nil), 50*time.Millisecond)
	require.Error(t, err)

	var cmdErr *driver.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "module.slow", cmdErr.Method)
	assert.ErrorIs(t, err, transport.ErrCommandTimeout)
	assert.Equal(t, 0, d.Transport().Stats().Pending)

	// The late response is reported, not delivered.
	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	require.NoError(t, srv.Send(context.Background(), remotetest.Success(reqs[0].ID, nil)))

	select {
	case msg := <-unknown:
		assert.Contains(t, msg, `"type":"success"`)
	case <-time.After(5 * time.Second):
		t.Fatal("late response was not reported as unknown")
	}
}

func TestExecuteCommand_DefaultTimeout(t *testing.T) {
	d, srv := drivertest.New(t, nil, driver.WithDefaultCommandTimeout(30*time.Millisecond))
	drivertest.Start(t, d, srv)

	assert.Equal(t, 30*time.Millisecond, d.DefaultCommandTimeout())

	_, err := d.ExecuteCommand(context.Background(), protocol.NewCommand("module.slow", nil), 0)
	var cmdErr *driver.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 30*time.Millisecond, cmdErr.Timeout)
}

func TestExecuteCommand_NotConnected(t *testing.T) {
	d, _ := drivertest.New(t, nil)

	_, err := d.ExecuteCommand(context.Background(), protocol.NewCommand("session.status", nil), time.Second)
	var cmdErr *driver.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "session.status", cmdErr.Method)
}

func TestExecute_ConcurrentCallers(t *testing.T) {
	d, srv := drivertest.New(t, echoParams)
	drivertest.Start(t, d, srv)

	type echo struct {
		N int `json:"n"`
	}

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := driver.Execute[echo](context.Background(), d, "test.echo", map[string]any{"n": i}, 5*time.Second)
			if err != nil {
				errs <- err
				return
			}
			if got.N != i {
				errs <- errors.New("response routed to the wrong caller")
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 0, d.Transport().Stats().Pending)
}

func TestRegisterEvent_TypedDelivery(t *testing.T) {
	type loadParams struct {
		Context string `json:"context"`
		URL     string `json:"url"`
	}

	d, srv := drivertest.New(t, nil)
	load, err := driver.RegisterEvent[loadParams](d, "browsingContext.load")
	require.NoError(t, err)
	drivertest.Start(t, d, srv)

	got := make(chan driver.EventArgs[loadParams], 2)
	_, err = load.AddObserver(func(ctx context.Context, args driver.EventArgs[loadParams]) error {
		got <- args
		return nil
	})
	require.NoError(t, err)

	<-srv.Connected()
	require.NoError(t, srv.Send(context.Background(), remotetest.Event("browsingContext.load",
		map[string]any{"context": "ctx-1", "url": "https://example.com", "timestamp": 1})))

	select {
	case args := <-got:
		assert.Equal(t, "browsingContext.load", args.Name)
		assert.Equal(t, "ctx-1", args.Params.Context)
		assert.Equal(t, "https://example.com", args.Params.URL)
		assert.Contains(t, args.AdditionalData, "timestamp")
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRegisterEvent_MaxObservers(t *testing.T) {
	d, _ := drivertest.New(t, nil)
	ev, err := driver.RegisterEvent[valueResult](d, "test.single", observable.WithMaxObservers(1))
	require.NoError(t, err)

	handler := func(ctx context.Context, args driver.EventArgs[valueResult]) error { return nil }
	first, err := ev.AddObserver(handler)
	require.NoError(t, err)

	_, err = ev.AddObserver(handler)
	assert.ErrorIs(t, err, observable.ErrTooManyObservers)

	ev.RemoveObserver(first)
	_, err = ev.AddObserver(handler)
	assert.NoError(t, err)
}

func TestRegisterEvent_AfterStart(t *testing.T) {
	d, srv := drivertest.New(t, nil)
	drivertest.Start(t, d, srv)
	<-srv.Connected()

	ev, err := driver.RegisterEvent[valueResult](d, "test.late")
	require.NoError(t, err)
	got := make(chan string, 1)
	_, _ = ev.AddObserver(func(ctx context.Context, args driver.EventArgs[valueResult]) error {
		got <- args.Params.Value
		return nil
	})

	require.NoError(t, srv.Send(context.Background(), remotetest.Event("test.late", map[string]any{"value": "x"})))

	select {
	case v := <-got:
		assert.Equal(t, "x", v)
	case <-time.After(5 * time.Second):
		t.Fatal("event registered after start was not delivered")
	}
}

func TestStop_DeliversReceivedEvents(t *testing.T) {
	d, srv := drivertest.New(t, func(req remotetest.Request) any {
		return remotetest.Success(req.ID, nil)
	})
	ev, err := driver.RegisterEvent[valueResult](d, "test.event")
	require.NoError(t, err)
	drivertest.Start(t, d, srv)

	var mu sync.Mutex
	var got []string
	_, _ = ev.AddObserver(func(ctx context.Context, args driver.EventArgs[valueResult]) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		got = append(got, args.Params.Value)
		mu.Unlock()
		return nil
	})

	<-srv.Connected()
	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, srv.Send(context.Background(), remotetest.Event("test.event", map[string]any{"value": v})))
	}
	// A command round trip orders the events before it on the same socket.
	_, err = d.ExecuteCommand(context.Background(), protocol.NewCommand("session.status", nil), time.Second)
	require.NoError(t, err)

	require.NoError(t, d.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

type stubModule struct{ name string }

func (m stubModule) ModuleName() string { return m.name }

func TestModuleRegistry(t *testing.T) {
	d, _ := drivertest.New(t, nil)

	_, err := d.Module("session")
	assert.ErrorIs(t, err, driver.ErrUnknownModule)

	d.RegisterModule(stubModule{name: "session"})
	m, err := d.Module("session")
	require.NoError(t, err)
	assert.Equal(t, "session", m.ModuleName())
}

func TestCommandError_Message(t *testing.T) {
	err := &driver.CommandError{Method: "session.new", Timeout: 2 * time.Second, Err: errors.New("boom")}
	assert.Equal(t, "command session.new failed (timeout 2s): boom", err.Error())
	assert.Equal(t, "boom", errors.Unwrap(err).Error())
}

func TestRegisterEvent_SameTypeSharesObservable(t *testing.T) {
	d, srv := drivertest.New(t, nil)

	first, err := driver.RegisterEvent[valueResult](d, "test.shared")
	require.NoError(t, err)
	second, err := driver.RegisterEvent[valueResult](d, "test.shared")
	require.NoError(t, err)
	assert.Same(t, first, second)

	drivertest.Start(t, d, srv)

	a := make(chan string, 1)
	b := make(chan string, 1)
	_, err = first.AddObserver(func(ctx context.Context, args driver.EventArgs[valueResult]) error {
		a <- args.Params.Value
		return nil
	})
	require.NoError(t, err)
	_, err = second.AddObserver(func(ctx context.Context, args driver.EventArgs[valueResult]) error {
		b <- args.Params.Value
		return nil
	})
	require.NoError(t, err)

	<-srv.Connected()
	require.NoError(t, srv.Send(context.Background(), remotetest.Event("test.shared", map[string]any{"value": "v"})))

	for name, ch := range map[string]chan string{"first": a, "second": b} {
		select {
		case v := <-ch:
			assert.Equal(t, "v", v)
		case <-time.After(5 * time.Second):
			t.Fatalf("%s registration was not notified", name)
		}
	}
}

func TestRegisterEvent_TypeConflict(t *testing.T) {
	d, _ := drivertest.New(t, nil)

	_, err := driver.RegisterEvent[valueResult](d, "test.typed")
	require.NoError(t, err)

	ev, err := driver.RegisterEvent[map[string]any](d, "test.typed")
	assert.ErrorIs(t, err, driver.ErrEventTypeConflict)
	assert.Nil(t, ev)
}

func TestRegisterEvent_DetachedObserverPanicIsContained(t *testing.T) {
	d, srv := drivertest.New(t, nil)
	ev, err := driver.RegisterEvent[valueResult](d, "test.panicky")
	require.NoError(t, err)
	drivertest.Start(t, d, srv)

	_, err = ev.AddObserver(func(ctx context.Context, args driver.EventArgs[valueResult]) error {
		panic("broken observer")
	}, observable.WithDetached())
	require.NoError(t, err)

	got := make(chan string, 2)
	_, err = ev.AddObserver(func(ctx context.Context, args driver.EventArgs[valueResult]) error {
		got <- args.Params.Value
		return nil
	})
	require.NoError(t, err)

	<-srv.Connected()
	for _, v := range []string{"1", "2"} {
		require.NoError(t, srv.Send(context.Background(), remotetest.Event("test.panicky", map[string]any{"value": v})))
	}

	for _, want := range []string{"1", "2"} {
		select {
		case v := <-got:
			assert.Equal(t, want, v)
		case <-time.After(5 * time.Second):
			t.Fatal("event delivery stopped after a detached observer panicked")
		}
	}
}

func TestExecuteCommand_NilCommand(t *testing.T) {
	d, _ := drivertest.New(t, nil)

	result, err := d.ExecuteCommand(context.Background(), nil, time.Second)
	assert.ErrorIs(t, err, driver.ErrNilCommand)
	assert.Nil(t, result)
}

func TestExecute_ErrorReportsDefaultTimeout(t *testing.T) {
	d, srv := drivertest.New(t, func(req remotetest.Request) any {
		return remotetest.Error(req.ID, "unknown command", "nope")
	}, driver.WithDefaultCommandTimeout(3*time.Second))
	drivertest.Start(t, d, srv)

	_, err := driver.Execute[valueResult](context.Background(), d, "test.missing", nil, 0)
	var cmdErr *driver.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3*time.Second, cmdErr.Timeout)
}
