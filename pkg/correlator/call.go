package correlator

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Call is one outstanding correlated request. It settles exactly once.
type Call struct {
	// ID is the callback id carried by the request and its response.
	ID string
	// Target is the endpoint the request was sent to.
	Target string
	// Name is the payload call name, or "" for envelopes without a payload.
	Name string

	owner   *Correlator
	started time.Time
	timer   *time.Timer

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newCall(owner *Correlator, id, target, name string) *Call {
	return &Call{
		ID:      id,
		Target:  target,
		Name:    name,
		owner:   owner,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

// Done is closed when the call settles.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the settled outcome. It is only meaningful after Done is closed.
func (c *Call) Result() (json.RawMessage, error) {
	return c.result, c.err
}

// Wait blocks until the call settles or ctx ends. When ctx ends first the
// call is abandoned and a TIMEOUT error is returned.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
	}
	if c.owner.abandon(c, ctx.Err()) {
		return nil, c.err
	}
	// A response won the race with ctx.
	<-c.done
	return c.result, c.err
}

func (c *Call) settle(result json.RawMessage, err error) bool {
	settled := false
	c.once.Do(func() {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.result = result
		c.err = err
		settled = true
		close(c.done)
	})
	return settled
}
