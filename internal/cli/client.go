package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grantcarthew/bidictl/internal/browser"
	"github.com/grantcarthew/bidictl/internal/config"
	"github.com/grantcarthew/bidictl/internal/connection"
	"github.com/grantcarthew/bidictl/internal/driver"
	"github.com/grantcarthew/bidictl/internal/metrics"
	"github.com/grantcarthew/bidictl/internal/transport"
)

// closeTimeout bounds Client.Close when the caller's context is gone.
const closeTimeout = 15 * time.Second

// Client is a started driver plus the resources backing it.
type Client struct {
	Driver *driver.Driver

	conn    *connection.Connection
	browser *browser.Browser
	metrics *metrics.Server
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.ID()
}

// Close stops the driver, then the browser and metrics server if this
// client started them.
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	if c.Driver != nil {
		if err := c.Driver.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.browser != nil {
		if err := c.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.metrics != nil {
		if err := c.metrics.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClientFactory opens clients.
type ClientFactory interface {
	NewClient(ctx context.Context, cfg *config.Config) (*Client, error)
}

// defaultFactory connects to cfg.URL, launching Firefox when it is empty.
type defaultFactory struct{}

func (defaultFactory) NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	logger := newLogger(cfg)
	c := &Client{}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		reg, mm, err := metrics.NewRegistry()
		if err != nil {
			return nil, err
		}
		srv := metrics.NewServer(cfg.MetricsAddr, reg, logger)
		if err := srv.Start(); err != nil {
			return nil, err
		}
		m = mm
		c.metrics = srv
		debugf("metrics on http://%s%s", srv.Addr(), metrics.DefaultPath)
	}

	url := cfg.URL
	if url == "" {
		b, err := browser.Start(ctx, browser.LaunchOptions{
			Binary:   cfg.Browser.Binary,
			Headless: cfg.Browser.Headless,
			Port:     cfg.Browser.Port,
			Profile:  cfg.Browser.Profile,
		})
		if err != nil {
			_ = c.Close(ctx)
			return nil, fmt.Errorf("failed to launch firefox: %w", err)
		}
		c.browser = b
		url = b.SessionURL()
		debugf("launched firefox pid=%d profile=%s", b.PID(), b.ProfileDir())
	}

	c.conn = connection.New(
		connection.WithLogger(logger),
		connection.WithBufferSize(cfg.BufferSize),
		connection.WithMetrics(m),
	)
	tr, err := transport.New(c.conn,
		transport.WithLogger(logger),
		transport.WithMetrics(m),
		transport.WithStartupTimeout(cfg.StartupTimeout),
		transport.WithShutdownTimeout(cfg.ShutdownTimeout),
	)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	if Debug {
		traceTransport(tr)
	}

	d, err := driver.New(tr,
		driver.WithDefaultCommandTimeout(cfg.CommandTimeout),
		driver.WithLogger(logger),
	)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Driver = d

	debugf("connecting to %s (connection %s)", url, c.conn.ID())
	if err := d.Start(ctx, url); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return c, nil
}

// traceTransport writes unknown messages and error events to the debug
// output.
func traceTransport(tr *transport.Transport) {
	_, _ = tr.OnUnknownMessageReceived().AddObserver(func(ctx context.Context, args transport.UnknownMessageEventArgs) error {
		debugf("unknown message: %s", args.Message)
		return nil
	})
	_, _ = tr.OnErrorEventReceived().AddObserver(func(ctx context.Context, args transport.ErrorReceivedEventArgs) error {
		debugf("error event: %v", args.Error)
		return nil
	})
}

// clientFactory is the package-level factory, replaceable for testing.
var clientFactory ClientFactory = defaultFactory{}

// SetClientFactory sets the client factory (for testing).
func SetClientFactory(f ClientFactory) {
	clientFactory = f
}

// ResetClientFactory resets to the default factory.
func ResetClientFactory() {
	clientFactory = defaultFactory{}
}

// replClient is the client shared by commands run inside the REPL.
var replClient *Client

// withClient runs fn with the REPL's client, or with a new client that is
// closed afterwards.
func withClient(ctx context.Context, fn func(ctx context.Context, c *Client) error) error {
	if replClient != nil {
		return fn(ctx, replClient)
	}

	cfg, err := loadConfig()
	if err != nil {
		return outputError(err.Error())
	}

	c, err := clientFactory.NewClient(ctx, cfg)
	if err != nil {
		return outputError(err.Error())
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			debugf("close: %v", err)
		}
	}()

	return fn(ctx, c)
}
