package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/bidictl/internal/cli/format"
	"github.com/grantcarthew/bidictl/internal/driver"
	"github.com/grantcarthew/bidictl/internal/driver/browsingcontext"
	bidilog "github.com/grantcarthew/bidictl/internal/driver/log"
	"github.com/grantcarthew/bidictl/internal/driver/network"
	"github.com/grantcarthew/bidictl/internal/driver/session"
	"github.com/grantcarthew/bidictl/internal/observable"
)

var listenCmd = &cobra.Command{
	Use:   "listen <event>...",
	Short: "Stream BiDi events",
	Long: `Subscribes to events with session.subscribe and prints each one until
interrupted. A module name (log, network, browsingContext) subscribes to all
of its events.

  bidictl listen log.entryAdded
  bidictl listen network --count 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: runListen,
}

func init() {
	listenCmd.Flags().Int("count", 0, "Exit after this many events (0 means until interrupted)")
	listenCmd.Flags().StringSlice("context", nil, "Limit events to these browsing contexts")
	rootCmd.AddCommand(listenCmd)
}

// moduleEvents lists the events routed for a module-wide subscription.
var moduleEvents = map[string][]string{
	browsingcontext.ModuleName: {
		browsingcontext.EventContextCreated,
		browsingcontext.EventContextDestroyed,
		browsingcontext.EventLoad,
		browsingcontext.EventDOMContentLoaded,
	},
	bidilog.ModuleName: {bidilog.EventEntryAdded},
	network.ModuleName: {network.EventBeforeRequestSent, network.EventResponseCompleted},
}

// expandEvents replaces module names with their events, dropping duplicates.
func expandEvents(names []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range names {
		if events, ok := moduleEvents[name]; ok {
			for _, e := range events {
				add(e)
			}
			continue
		}
		if !strings.Contains(name, ".") {
			debugf("no known events for module %s", name)
		}
		add(name)
	}
	return out
}

// eventPrinter writes events to w, one per line, and signals done once
// limit events were written.
type eventPrinter struct {
	w     io.Writer
	opts  format.OutputOptions
	limit int
	done  chan struct{}

	mu    sync.Mutex
	count int
}

func newEventPrinter(w io.Writer, limit int) *eventPrinter {
	return &eventPrinter{
		w:     w,
		opts:  outputOptions(),
		limit: limit,
		done:  make(chan struct{}),
	}
}

func (p *eventPrinter) print(name string, params any, text func(w io.Writer) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && p.count >= p.limit {
		return nil
	}

	if JSONOutput {
		line, err := json.Marshal(map[string]any{"event": name, "params": params})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(p.w, string(line)); err != nil {
			return err
		}
	} else if err := text(p.w); err != nil {
		return err
	}

	p.count++
	if p.limit > 0 && p.count == p.limit {
		close(p.done)
	}
	return nil
}

// registerPrinters routes each event to p through the driver's shared
// event observables and returns a func that removes the observers again.
// Log entries and completed responses get their own text format; everything
// else prints as JSON.
func registerPrinters(d *driver.Driver, events []string, p *eventPrinter) (func(), error) {
	bc, err := browsingcontext.New(d)
	if err != nil {
		return nil, err
	}
	lg, err := bidilog.New(d)
	if err != nil {
		return nil, err
	}
	nw, err := network.New(d)
	if err != nil {
		return nil, err
	}

	var removers []func()
	removeAll := func() {
		for _, remove := range removers {
			remove()
		}
	}

	for _, name := range events {
		var remove func()
		var err error
		switch name {
		case bidilog.EventEntryAdded:
			remove, err = observe(lg.OnEntryAdded(), p, func(w io.Writer, args driver.EventArgs[bidilog.Entry]) error {
				return format.LogEntry(w, args.Params, p.opts)
			})
		case network.EventResponseCompleted:
			remove, err = observe(nw.OnResponseCompleted(), p, func(w io.Writer, args driver.EventArgs[network.ResponseCompletedParameters]) error {
				return format.Response(w, args.Params, p.opts)
			})
		case network.EventBeforeRequestSent:
			remove, err = observe(nw.OnBeforeRequestSent(), p, eventText[network.BeforeRequestSentParameters](p))
		case browsingcontext.EventContextCreated:
			remove, err = observe(bc.OnContextCreated(), p, eventText[browsingcontext.Info](p))
		case browsingcontext.EventContextDestroyed:
			remove, err = observe(bc.OnContextDestroyed(), p, eventText[browsingcontext.Info](p))
		case browsingcontext.EventLoad:
			remove, err = observe(bc.OnLoad(), p, eventText[browsingcontext.NavigationInfo](p))
		case browsingcontext.EventDOMContentLoaded:
			remove, err = observe(bc.OnDOMContentLoaded(), p, eventText[browsingcontext.NavigationInfo](p))
		default:
			var ev *observable.Event[driver.EventArgs[map[string]any]]
			if ev, err = driver.RegisterEvent[map[string]any](d, name); err == nil {
				remove, err = observe(ev, p, eventText[map[string]any](p))
			}
		}
		if err != nil {
			removeAll()
			return nil, fmt.Errorf("failed to observe %s: %w", name, err)
		}
		removers = append(removers, remove)
	}
	return removeAll, nil
}

// observe adds an observer printing ev through p and returns its remover.
func observe[T any](ev *observable.Event[driver.EventArgs[T]], p *eventPrinter, text func(w io.Writer, args driver.EventArgs[T]) error) (func(), error) {
	o, err := ev.AddObserver(func(ctx context.Context, args driver.EventArgs[T]) error {
		return p.print(args.Name, args.Params, func(w io.Writer) error {
			return text(w, args)
		})
	})
	if err != nil {
		return nil, err
	}
	return func() { ev.RemoveObserver(o) }, nil
}

// eventText prints an event as its name and JSON params.
func eventText[T any](p *eventPrinter) func(w io.Writer, args driver.EventArgs[T]) error {
	return func(w io.Writer, args driver.EventArgs[T]) error {
		return format.Event(w, args.Name, args.Params, p.opts)
	}
}

func runListen(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	contexts, _ := cmd.Flags().GetStringSlice("context")

	return withClient(cmd.Context(), func(ctx context.Context, c *Client) error {
		p := newEventPrinter(os.Stdout, count)
		removePrinters, err := registerPrinters(c.Driver, expandEvents(args), p)
		if err != nil {
			return outputError(err.Error())
		}
		defer removePrinters()

		sess := session.New(c.Driver)
		sub, err := sess.Subscribe(ctx, session.SubscribeParameters{Events: args, Contexts: contexts})
		if err != nil {
			return outputError(err.Error())
		}
		debugf("subscribed to %s (subscription %q)", strings.Join(args, ", "), sub.Subscription)

		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		select {
		case <-sigCtx.Done():
		case <-p.done:
		}

		unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		unsub := session.UnsubscribeParameters{Events: args, Contexts: contexts}
		if sub.Subscription != "" {
			unsub = session.UnsubscribeParameters{Subscriptions: []string{sub.Subscription}}
		}
		if err := sess.Unsubscribe(unsubCtx, unsub); err != nil {
			debugf("unsubscribe: %v", err)
		}
		return nil
	})
}
