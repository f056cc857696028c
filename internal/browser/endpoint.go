package browser

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// SessionURL returns the WebDriver BiDi session endpoint for a remote agent
// listening on host:port.
func SessionURL(host string, port int) string {
	return fmt.Sprintf("ws://%s/session", net.JoinHostPort(host, strconv.Itoa(port)))
}

// WaitForListener polls host:port until it accepts TCP connections or ctx
// is done.
func WaitForListener(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrStartTimeout
		case <-ticker.C:
		}
	}
}
