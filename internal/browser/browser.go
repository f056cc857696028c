package browser

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// Browser represents a running Firefox instance with the remote agent
// enabled.
type Browser struct {
	cmd         *exec.Cmd
	port        int
	profileDir  string
	ownsProfile bool // true if we created the temp profile
}

// ErrStartTimeout is returned when the browser fails to start in time.
var ErrStartTimeout = errors.New("browser start timeout")

// DefaultStartTimeout bounds the wait for the remote agent to listen.
const DefaultStartTimeout = 30 * time.Second

// Start launches Firefox and waits for its remote agent port to accept
// connections.
func Start(ctx context.Context, opts LaunchOptions) (*Browser, error) {
	binPath := opts.Binary
	if binPath == "" {
		found, err := FindFirefox()
		if err != nil {
			return nil, err
		}
		binPath = found
	}

	return StartWithBinary(ctx, binPath, opts)
}

// StartWithBinary launches Firefox using the specified binary path.
func StartWithBinary(ctx context.Context, binPath string, opts LaunchOptions) (*Browser, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	cmd, profileDir, err := spawnProcess(binPath, opts)
	if err != nil {
		return nil, err
	}

	b := &Browser{
		cmd:         cmd,
		port:        port,
		profileDir:  profileDir,
		ownsProfile: opts.Profile == "",
	}

	waitCtx, cancel := context.WithTimeout(ctx, DefaultStartTimeout)
	defer cancel()

	if err := WaitForListener(waitCtx, "127.0.0.1", port); err != nil {
		_ = b.Close()
		return nil, err
	}

	return b, nil
}

// Port returns the remote agent port.
func (b *Browser) Port() int {
	return b.port
}

// PID returns the browser process ID.
func (b *Browser) PID() int {
	if b.cmd == nil || b.cmd.Process == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

// ProfileDir returns the profile directory in use.
func (b *Browser) ProfileDir() string {
	return b.profileDir
}

// SessionURL returns the WebDriver BiDi endpoint of this browser.
func (b *Browser) SessionURL() string {
	return SessionURL("127.0.0.1", b.port)
}

// Close terminates the browser process and cleans up resources.
func (b *Browser) Close() error {
	if b.cmd == nil || b.cmd.Process == nil {
		return nil
	}

	if err := b.cmd.Process.Signal(os.Interrupt); err != nil {
		if !errors.Is(err, os.ErrProcessDone) {
			_ = b.cmd.Process.Kill()
		}
	}

	_ = b.cmd.Wait()

	if b.ownsProfile && b.profileDir != "" {
		_ = os.RemoveAll(b.profileDir)
	}

	b.cmd = nil
	return nil
}
