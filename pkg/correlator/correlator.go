// Package correlator turns a fire-and-forget envelope transport into
// request/response calls keyed by callback id.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/atomic"

	"github.com/morezero/vault-ipc/pkg/ipcerr"
	"github.com/morezero/vault-ipc/pkg/wire"
)

const logPrefix = "correlator:correlator"

const defaultSettledCacheSize = 256

// Call outcomes reported to the Observer.
const (
	OutcomeResult  = "result"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeClosed  = "closed"
)

// Sender is the part of the transport the correlator needs.
type Sender interface {
	Available() error
	Send(msg *wire.Message) error
}

// Observer is notified about call lifecycles. Implementations must be safe
// for concurrent use.
type Observer interface {
	CallSettled(name, outcome string, elapsed time.Duration)
	PendingCalls(n int)
}

// Options configures a Correlator.
type Options struct {
	// Timeout rejects calls with TIMEOUT when no response arrives in time.
	// Zero keeps calls pending until a response arrives.
	Timeout time.Duration
	// SettledCacheSize bounds how many settled ids are remembered to tell
	// duplicate responses from unknown ones.
	SettledCacheSize int
	Observer         Observer
}

// Correlator allocates callback ids, tracks outstanding calls and settles
// them from inbound responses.
type Correlator struct {
	sender   Sender
	instance string
	seq      atomic.Uint64
	timeout  time.Duration
	observer Observer

	mu      sync.Mutex
	pending map[string]*Call
	settled *lru.Cache
	closed  bool
}

// New creates a Correlator sending through sender.
func New(sender Sender, opts Options) (*Correlator, error) {
	if sender == nil {
		return nil, fmt.Errorf("%s - sender is required", logPrefix)
	}
	size := opts.SettledCacheSize
	if size <= 0 {
		size = defaultSettledCacheSize
	}
	settled, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create settled cache: %w", logPrefix, err)
	}
	return &Correlator{
		sender:   sender,
		instance: uuid.NewString(),
		timeout:  opts.Timeout,
		observer: opts.Observer,
		pending:  make(map[string]*Call),
		settled:  settled,
	}, nil
}

// Go tags msg with a fresh callback id, registers it as pending and sends it.
// Transport failures are returned synchronously and leave nothing pending.
func (c *Correlator) Go(msg *wire.Message) (*Call, error) {
	if err := c.sender.Available(); err != nil {
		return nil, err
	}

	id := fmt.Sprintf("callback-%s-%d", c.instance, c.seq.Inc()-1)
	name := ""
	if msg.Payload != nil {
		name = msg.Payload.Call
	}
	call := newCall(c, id, msg.Target, name)
	msg.Callback = id

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ipcerr.New(ipcerr.CodeTransportUnavailable, "correlator closed")
	}
	c.pending[id] = call
	if c.timeout > 0 {
		call.timer = time.AfterFunc(c.timeout, func() { c.expire(id) })
	}
	n := len(c.pending)
	c.mu.Unlock()
	c.reportPending(n)

	if err := c.sender.Send(msg); err != nil {
		if c.remove(id) != nil {
			call.settle(nil, err)
		}
		return nil, err
	}
	slog.Debug(fmt.Sprintf("%s - sent %s to %s (%s)", logPrefix, id, msg.Target, name))
	return call, nil
}

// Call sends msg and waits for its response.
func (c *Correlator) Call(ctx context.Context, msg *wire.Message) (json.RawMessage, error) {
	call, err := c.Go(msg)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Deliver settles the pending call named by msg.Callback. It reports
// whether msg settled anything; unknown and repeated ids are ignored.
func (c *Correlator) Deliver(msg *wire.Message) bool {
	if msg == nil || msg.Callback == "" {
		return false
	}
	call := c.remove(msg.Callback)
	if call == nil {
		if c.settled.Contains(msg.Callback) {
			slog.Debug(fmt.Sprintf("%s - ignoring duplicate response for %s", logPrefix, msg.Callback))
		} else {
			slog.Debug(fmt.Sprintf("%s - ignoring response for unknown id %s", logPrefix, msg.Callback))
		}
		return false
	}

	if msg.Error != nil {
		c.finish(call, nil, &ipcerr.RemoteError{Message: *msg.Error}, OutcomeError)
	} else {
		c.finish(call, msg.Result, nil, OutcomeResult)
	}
	return true
}

// Pending returns the number of outstanding calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close rejects every outstanding call with TRANSPORT_UNAVAILABLE and
// refuses new ones.
func (c *Correlator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	calls := make([]*Call, 0, len(c.pending))
	for id, call := range c.pending {
		calls = append(calls, call)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	c.reportPending(0)

	for _, call := range calls {
		c.finish(call, nil, ipcerr.New(ipcerr.CodeTransportUnavailable, "correlator closed"), OutcomeClosed)
	}
	if len(calls) > 0 {
		slog.Info(fmt.Sprintf("%s - rejected %d pending calls on close", logPrefix, len(calls)))
	}
}

func (c *Correlator) remove(id string) *Call {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	n := len(c.pending)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.reportPending(n)
	return call
}

func (c *Correlator) expire(id string) {
	call := c.remove(id)
	if call == nil {
		return
	}
	slog.Warn(fmt.Sprintf("%s - call %s to %s timed out after %s", logPrefix, id, call.Target, c.timeout))
	c.finish(call, nil, ipcerr.Newf(ipcerr.CodeTimeout, "no response to %s after %s", id, c.timeout), OutcomeTimeout)
}

// abandon removes a call whose waiter gave up. It reports false when the
// call had already been settled by a response.
func (c *Correlator) abandon(call *Call, cause error) bool {
	if c.remove(call.ID) == nil {
		return false
	}
	return c.finish(call, nil, ipcerr.Newf(ipcerr.CodeTimeout, "call %s abandoned: %v", call.ID, cause), OutcomeTimeout)
}

func (c *Correlator) finish(call *Call, result json.RawMessage, err error, outcome string) bool {
	if !call.settle(result, err) {
		return false
	}
	c.settled.Add(call.ID, struct{}{})
	if c.observer != nil {
		c.observer.CallSettled(call.Name, outcome, time.Since(call.started))
	}
	return true
}

func (c *Correlator) reportPending(n int) {
	if c.observer != nil {
		c.observer.PendingCalls(n)
	}
}
