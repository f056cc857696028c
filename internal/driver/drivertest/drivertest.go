// Package drivertest connects a Driver to an in-process remote end.
package drivertest

import (
	"context"
	"testing"

	"github.com/grantcarthew/bidictl/internal/connection"
	"github.com/grantcarthew/bidictl/internal/driver"
	"github.com/grantcarthew/bidictl/internal/remotetest"
	"github.com/grantcarthew/bidictl/internal/transport"
)

// New returns an unstarted driver and a server answering with handler.
// The driver is stopped when the test ends.
func New(t testing.TB, handler remotetest.Handler, opts ...driver.Option) (*driver.Driver, *remotetest.Server) {
	t.Helper()

	srv := remotetest.NewServer(t, handler)
	tr, err := transport.New(connection.New())
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}
	d, err := driver.New(tr, opts...)
	if err != nil {
		t.Fatalf("failed to create driver: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Stop(context.Background())
	})
	return d, srv
}

// Start connects d to srv.
func Start(t testing.TB, d *driver.Driver, srv *remotetest.Server) {
	t.Helper()
	if err := d.Start(context.Background(), srv.URL()); err != nil {
		t.Fatalf("failed to start driver: %v", err)
	}
}
