package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/grantcarthew/bidictl/internal/config"
	"github.com/grantcarthew/bidictl/internal/driver"
	"github.com/grantcarthew/bidictl/internal/driver/browsingcontext"
	"github.com/grantcarthew/bidictl/internal/driver/drivertest"
	"github.com/grantcarthew/bidictl/internal/remotetest"
)

func init() {
	// Disable colors in tests to avoid ANSI codes in output assertions
	color.NoColor = true
}

// captureOutput runs fn with stdout and stderr redirected and returns both.
func captureOutput(t *testing.T, fn func()) (stdout, stderr string) {
	t.Helper()

	oldOut, oldErr := os.Stdout, os.Stderr
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout, os.Stderr = outW, errW

	var outBuf, errBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = io.Copy(&outBuf, outR) }()
	go func() { defer wg.Done(); _, _ = io.Copy(&errBuf, errR) }()

	defer func() {
		os.Stdout, os.Stderr = oldOut, oldErr
	}()
	fn()

	outW.Close()
	errW.Close()
	wg.Wait()
	return outBuf.String(), errBuf.String()
}

// enableJSONOutput sets JSONOutput to true for the duration of the test.
func enableJSONOutput(t *testing.T) {
	old := JSONOutput
	JSONOutput = true
	t.Cleanup(func() { JSONOutput = old })
}

// run executes args against srv and returns the output.
func run(t *testing.T, srv *remotetest.Server, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	if srv != nil {
		args = append(args, "--url", srv.URL())
	}
	stdout, stderr = captureOutput(t, func() {
		var recognized bool
		recognized, err = ExecuteArgs(args)
		if !recognized {
			t.Fatalf("command not recognized: %v", args)
		}
	})
	return stdout, stderr, err
}

func methods(reqs []remotetest.Request) []string {
	var out []string
	for _, r := range reqs {
		out = append(out, r.Method)
	}
	return out
}

func TestOutputSuccess(t *testing.T) {
	enableJSONOutput(t)

	stdout, _ := captureOutput(t, func() {
		if err := outputSuccess(map[string]string{"message": "test"}, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if result["ok"] != true {
		t.Errorf("expected ok=true, got %v", result["ok"])
	}
	data, ok := result["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data to be map, got %T", result["data"])
	}
	if data["message"] != "test" {
		t.Errorf("expected message=test, got %v", data["message"])
	}
}

func TestOutputSuccess_TextOK(t *testing.T) {
	stdout, _ := captureOutput(t, func() {
		_ = outputSuccess(nil, nil)
	})
	if stdout != "OK\n" {
		t.Errorf("expected OK, got %q", stdout)
	}
}

func TestOutputError(t *testing.T) {
	enableJSONOutput(t)

	var err error
	_, stderr := captureOutput(t, func() {
		err = outputError("something went wrong")
	})

	if err == nil || err.Error() != "something went wrong" {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsPrintedError(err) {
		t.Error("expected printed error")
	}
	if IsPrintedError(errors.New("other")) {
		t.Error("plain error reported as printed")
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(stderr), &result); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if result["ok"] != false || result["error"] != "something went wrong" {
		t.Errorf("unexpected error output %v", result)
	}
}

func TestTryExpandCommand(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"stat", "status"},
		{"status", ""},
		{"s", ""}, // send, status
		{"nav", "navigate"},
		{"zzz", ""},
	}

	for _, tt := range tests {
		if got := tryExpandCommand(tt.prefix); got != tt.want {
			t.Errorf("tryExpandCommand(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestExecuteArgs_unrecognizedCommand(t *testing.T) {
	recognized, err := ExecuteArgs([]string{"nonexistent-command"})
	if recognized {
		t.Error("ExecuteArgs should not recognize 'nonexistent-command'")
	}
	if err != nil {
		t.Errorf("unexpected error for unrecognized command: %v", err)
	}
}

func TestExecuteArgs_emptyArgs(t *testing.T) {
	recognized, err := ExecuteArgs(nil)
	if recognized || err != nil {
		t.Errorf("expected (false, nil), got (%v, %v)", recognized, err)
	}
}

func TestExecuteArgs_resetsFlagsBetweenCalls(t *testing.T) {
	_, _, _ = run(t, nil, "version", "--json")
	if JSONOutput {
		t.Error("JSONOutput not reset after command")
	}

	stdout, _, err := run(t, nil, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout != "bidictl version dev\n" {
		t.Errorf("expected text output after reset, got %q", stdout)
	}
}

func TestRunStatus(t *testing.T) {
	srv := remotetest.NewServer(t, remotetest.Router{
		"session.status": func(req remotetest.Request) any {
			return remotetest.Success(req.ID, map[string]any{"ready": true, "message": "ok"})
		},
	}.Handle)

	stdout, stderr, err := run(t, srv, "status")
	if err != nil {
		t.Fatalf("unexpected error: %v (stderr %q)", err, stderr)
	}
	if stdout != "Ready (ok)\n" {
		t.Errorf("unexpected output %q", stdout)
	}
}

func TestRunStatus_RemoteError(t *testing.T) {
	srv := remotetest.NewServer(t, remotetest.Router{}.Handle)

	_, stderr, err := run(t, srv, "status")
	if !IsPrintedError(err) {
		t.Fatalf("expected printed error, got %v", err)
	}
	if !strings.Contains(stderr, "unknown command") {
		t.Errorf("expected remote error on stderr, got %q", stderr)
	}
}

func TestRunSend_JSON(t *testing.T) {
	srv := remotetest.NewServer(t, func(req remotetest.Request) any {
		return remotetest.Success(req.ID, map[string]any{"echo": json.RawMessage(req.Params)})
	})

	stdout, stderr, err := run(t, srv, "send", "test.echo", `{"a":1}`, "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v (stderr %q)", err, stderr)
	}

	var result struct {
		OK   bool `json:"ok"`
		Data struct {
			Echo map[string]any `json:"echo"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("failed to parse output %q: %v", stdout, err)
	}
	if !result.OK || result.Data.Echo["a"] != 1.0 {
		t.Errorf("unexpected result %+v", result)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 || reqs[0].Method != "test.echo" {
		t.Errorf("unexpected requests %v", methods(reqs))
	}
}

func TestRunSend_InvalidParams(t *testing.T) {
	srv := remotetest.NewServer(t, nil)

	_, stderr, err := run(t, srv, "send", "test.echo", "[1,2]")
	if !IsPrintedError(err) {
		t.Fatalf("expected printed error, got %v", err)
	}
	if !strings.Contains(stderr, "params must be a JSON object") {
		t.Errorf("unexpected stderr %q", stderr)
	}
	if len(srv.Requests()) != 0 {
		t.Error("command sent despite invalid params")
	}
}

func TestRunNavigate_FirstContext(t *testing.T) {
	var mu sync.Mutex
	var navigated map[string]any

	srv := remotetest.NewServer(t, remotetest.Router{
		"browsingContext.getTree": func(req remotetest.Request) any {
			return remotetest.Success(req.ID, map[string]any{
				"contexts": []any{map[string]any{"context": "ctx-1", "url": "about:blank", "children": []any{}}},
			})
		},
		"browsingContext.navigate": func(req remotetest.Request) any {
			mu.Lock()
			_ = json.Unmarshal(req.Params, &navigated)
			mu.Unlock()
			return remotetest.Success(req.ID, map[string]any{"navigation": "nav-1", "url": "https://example.com/"})
		},
	}.Handle)

	stdout, stderr, err := run(t, srv, "navigate", "example.com", "--wait", "interactive")
	if err != nil {
		t.Fatalf("unexpected error: %v (stderr %q)", err, stderr)
	}
	if stdout != "https://example.com/\n" {
		t.Errorf("unexpected output %q", stdout)
	}

	mu.Lock()
	defer mu.Unlock()
	if navigated["context"] != "ctx-1" || navigated["url"] != "https://example.com" || navigated["wait"] != "interactive" {
		t.Errorf("unexpected navigate params %v", navigated)
	}
}

func TestRunNavigate_InvalidWait(t *testing.T) {
	_, stderr, err := run(t, nil, "navigate", "ctx", "example.com", "--wait", "soon")
	if !IsPrintedError(err) {
		t.Fatalf("expected printed error, got %v", err)
	}
	if !strings.Contains(stderr, "invalid --wait") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestRunContexts(t *testing.T) {
	srv := remotetest.NewServer(t, remotetest.Router{
		"browsingContext.getTree": func(req remotetest.Request) any {
			return remotetest.Success(req.ID, map[string]any{
				"contexts": []any{map[string]any{
					"context":  "top",
					"url":      "https://example.com/",
					"children": []any{map[string]any{"context": "child", "url": "about:blank", "children": []any{}}},
				}},
			})
		},
	}.Handle)

	stdout, _, err := run(t, srv, "contexts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout != "top https://example.com/\n  child about:blank\n" {
		t.Errorf("unexpected output %q", stdout)
	}
}

func TestRunEval(t *testing.T) {
	srv := remotetest.NewServer(t, remotetest.Router{
		"script.evaluate": func(req remotetest.Request) any {
			return remotetest.Success(req.ID, map[string]any{
				"type":   "success",
				"realm":  "r1",
				"result": map[string]any{"type": "number", "value": 2},
			})
		},
	}.Handle)

	stdout, _, err := run(t, srv, "eval", "1", "+", "1", "--context", "ctx-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout != "2\n" {
		t.Errorf("unexpected output %q", stdout)
	}

	var params struct {
		Expression string `json:"expression"`
	}
	_ = json.Unmarshal(srv.Requests()[0].Params, &params)
	if params.Expression != "1 + 1" {
		t.Errorf("unexpected expression %q", params.Expression)
	}
}

func TestRunEval_Exception(t *testing.T) {
	srv := remotetest.NewServer(t, remotetest.Router{
		"script.evaluate": func(req remotetest.Request) any {
			return remotetest.Success(req.ID, map[string]any{
				"type":  "exception",
				"realm": "r1",
				"exceptionDetails": map[string]any{
					"columnNumber": 0, "lineNumber": 0, "text": "ReferenceError: x is not defined",
					"exception": map[string]any{"type": "error"},
				},
			})
		},
	}.Handle)

	_, stderr, err := run(t, srv, "eval", "x", "--context", "ctx-1")
	if !IsPrintedError(err) {
		t.Fatalf("expected printed error, got %v", err)
	}
	if !strings.Contains(stderr, "ReferenceError") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestRunListen_Count(t *testing.T) {
	var srv *remotetest.Server
	srv = remotetest.NewServer(t, remotetest.Router{
		"session.subscribe": func(req remotetest.Request) any {
			go func() {
				time.Sleep(20 * time.Millisecond)
				ctx := context.Background()
				_ = srv.Send(ctx, remotetest.Event("log.entryAdded", map[string]any{
					"type": "console", "level": "info", "text": "hello", "timestamp": 0,
					"source": map[string]any{"realm": "r1"},
				}))
				_ = srv.Send(ctx, remotetest.Event("browsingContext.load", map[string]any{
					"context": "ctx-1", "navigation": nil, "timestamp": 0, "url": "about:blank",
				}))
			}()
			return remotetest.Success(req.ID, map[string]any{"subscription": "sub-1"})
		},
		"session.unsubscribe": func(req remotetest.Request) any {
			return remotetest.Success(req.ID, nil)
		},
	}.Handle)

	stdout, stderr, err := run(t, srv, "listen", "log.entryAdded", "browsingContext.load", "--count", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v (stderr %q)", err, stderr)
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", stdout)
	}
	if !strings.HasSuffix(lines[0], "INFO hello") {
		t.Errorf("unexpected log line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "browsingContext.load {") {
		t.Errorf("unexpected event line %q", lines[1])
	}

	reqs := srv.Requests()
	got := methods(reqs)
	if len(got) != 2 || got[0] != "session.subscribe" || got[1] != "session.unsubscribe" {
		t.Fatalf("unexpected requests %v", got)
	}
	var unsub struct {
		Subscriptions []string `json:"subscriptions"`
	}
	_ = json.Unmarshal(reqs[1].Params, &unsub)
	if len(unsub.Subscriptions) != 1 || unsub.Subscriptions[0] != "sub-1" {
		t.Errorf("unexpected unsubscribe params %s", reqs[1].Params)
	}
}

func TestRegisterPrinters_SharesModuleEvents(t *testing.T) {
	d, _ := drivertest.New(t, nil)
	bc, err := browsingcontext.New(d)
	if err != nil {
		t.Fatalf("browsingcontext.New() error = %v", err)
	}
	kept, err := bc.OnLoad().AddObserver(func(ctx context.Context, args driver.EventArgs[browsingcontext.NavigationInfo]) error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	events := []string{browsingcontext.EventLoad, "custom.event"}
	for round := 1; round <= 2; round++ {
		var buf bytes.Buffer
		remove, err := registerPrinters(d, events, newEventPrinter(&buf, 0))
		if err != nil {
			t.Fatalf("round %d: registerPrinters() error = %v", round, err)
		}
		if got := bc.OnLoad().ObserverCount(); got != 2 {
			t.Errorf("round %d: load observers = %d, want 2", round, got)
		}
		remove()
		if got := bc.OnLoad().ObserverCount(); got != 1 {
			t.Errorf("round %d: load observers after remove = %d, want 1", round, got)
		}
	}

	bc.OnLoad().RemoveObserver(kept)
}

func TestExpandEvents(t *testing.T) {
	got := expandEvents([]string{"log", "log.entryAdded", "network", "custom.event"})
	want := []string{"log.entryAdded", "network.beforeRequestSent", "network.responseCompleted", "custom.event"}

	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"   ", "", false},
		{`{"a":1}`, `{"a":1}`, false},
		{` {"a":1} `, `{"a":1}`, false},
		{"[1]", "", true},
		{"{", "", true},
	}

	for _, tt := range tests {
		got, err := parseParams(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseParams(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("parseParams(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "https://example.com"},
		{"http://example.com", "http://example.com"},
		{"localhost:3000", "http://localhost:3000"},
		{"127.0.0.1:8080/path", "http://127.0.0.1:8080/path"},
		{"about:blank", "about:blank"},
		{"data:text/html,hi", "data:text/html,hi"},
	}

	for _, tt := range tests {
		if got := normalizeURL(tt.in); got != tt.want {
			t.Errorf("normalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunConfig(t *testing.T) {
	t.Setenv(config.EnvCommandTimeout, "45")

	stdout, _, err := run(t, nil, "config", "--config", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "command_timeout: 45s") {
		t.Errorf("expected env override in output, got:\n%s", stdout)
	}
}

func TestRunConfig_TimeoutFlag(t *testing.T) {
	stdout, _, err := run(t, nil, "config", "--config", "", "--timeout", "5s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "command_timeout: 5s") {
		t.Errorf("expected flag override in output, got:\n%s", stdout)
	}
}

type failingFactory struct{ err error }

func (f failingFactory) NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	return nil, f.err
}

func TestWithClient_FactoryError(t *testing.T) {
	SetClientFactory(failingFactory{err: errors.New("connect refused")})
	t.Cleanup(ResetClientFactory)

	_, stderr, err := run(t, nil, "status", "--url", "ws://127.0.0.1:1/session")
	if !IsPrintedError(err) {
		t.Fatalf("expected printed error, got %v", err)
	}
	if !strings.Contains(stderr, "connect refused") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}
