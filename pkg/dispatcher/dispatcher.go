// Package dispatcher routes inbound envelopes to the component that
// recognizes their shape.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/vault-ipc/pkg/transport"
	"github.com/morezero/vault-ipc/pkg/wire"
)

const logPrefix = "dispatcher:dispatch"

// Routes taken by Dispatch.
const (
	RouteRequest  = "request"
	RouteResponse = "response"
	RouteReady    = "ready"
	RouteIgnored  = "ignored"
)

// RequestHandler serves request envelopes (the service registry).
type RequestHandler interface {
	HandleRequest(ctx context.Context, in *transport.Inbound) bool
}

// ResponseHandler settles response envelopes (the call correlator).
type ResponseHandler interface {
	Deliver(msg *wire.Message) bool
}

// ReadyListener is called for every ready notification with the announced identity.
type ReadyListener func(identity string)

// Observer counts routed envelopes.
type Observer interface {
	Routed(route string)
}

// Dispatcher routes inbound envelopes by shape: requests to the registry,
// ready notifications to listeners, responses to the correlator. Anything
// else is ignored.
type Dispatcher struct {
	requests  RequestHandler
	responses ResponseHandler
	observer  Observer

	mu        sync.RWMutex
	listeners []ReadyListener
}

// NewDispatcherParams holds parameters for NewDispatcher.
type NewDispatcherParams struct {
	Requests  RequestHandler
	Responses ResponseHandler
	Observer  Observer
}

// NewDispatcher creates a new Dispatcher. Either handler may be nil, in
// which case envelopes of that shape are ignored.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	return &Dispatcher{
		requests:  params.Requests,
		responses: params.Responses,
		observer:  params.Observer,
	}
}

// OnReady adds a listener for ready notifications.
func (d *Dispatcher) OnReady(fn ReadyListener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Handler returns a transport handler dispatching with ctx.
func (d *Dispatcher) Handler(ctx context.Context) transport.Handler {
	return func(in *transport.Inbound) {
		d.Dispatch(ctx, in)
	}
}

// Dispatch routes one inbound envelope and returns the route taken.
func (d *Dispatcher) Dispatch(ctx context.Context, in *transport.Inbound) string {
	route := d.route(ctx, in)
	if d.observer != nil {
		d.observer.Routed(route)
	}
	return route
}

func (d *Dispatcher) route(ctx context.Context, in *transport.Inbound) string {
	msg := in.Message
	switch {
	case msg == nil:
		return RouteIgnored

	case msg.Payload != nil:
		if d.requests == nil || !msg.IsRequest() {
			slog.Debug(fmt.Sprintf("%s - ignoring request-shaped envelope from %s", logPrefix, in.Origin))
			return RouteIgnored
		}
		if !d.requests.HandleRequest(ctx, in) {
			return RouteIgnored
		}
		return RouteRequest

	case msg.IsReady():
		identity := msg.ReadyOrigin()
		slog.Info(fmt.Sprintf("%s - %s is ready", logPrefix, identity))
		d.mu.RLock()
		listeners := d.listeners
		d.mu.RUnlock()
		for _, fn := range listeners {
			fn(identity)
		}
		return RouteReady

	case msg.IsResponse():
		if d.responses == nil || !d.responses.Deliver(msg) {
			return RouteIgnored
		}
		return RouteResponse
	}

	slog.Debug(fmt.Sprintf("%s - ignoring envelope without callback from %s", logPrefix, in.Origin))
	return RouteIgnored
}
