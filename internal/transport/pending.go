package transport

import (
	"sync"
	"time"

	"github.com/grantcarthew/bidictl/internal/protocol"
)

// pendingCommand tracks one in-flight command. result and err are written
// once, before done is closed, and only read after done is closed.
type pendingCommand struct {
	id      uint64
	command *protocol.Command
	sentAt  time.Time

	once   sync.Once
	done   chan struct{}
	result protocol.CommandResult
	err    error

	// Each command records one outcome metric: its response or its first
	// timeout, whichever comes first.
	recorded sync.Once
}

func newPendingCommand(id uint64, cmd *protocol.Command) *pendingCommand {
	return &pendingCommand{
		id:      id,
		command: cmd,
		sentAt:  time.Now(),
		done:    make(chan struct{}),
	}
}

// complete records the outcome. It returns false if the command was already
// completed, in which case nothing changes.
func (p *pendingCommand) complete(result protocol.CommandResult, err error) bool {
	completed := false
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
		completed = true
	})
	return completed
}

// recordOutcome runs fn if no outcome was recorded for the command yet.
func (p *pendingCommand) recordOutcome(fn func()) {
	p.recorded.Do(fn)
}

func (p *pendingCommand) isComplete() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
