package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/morezero/vault-ipc/pkg/commsutil"
	"github.com/morezero/vault-ipc/pkg/ipcerr"
	"github.com/morezero/vault-ipc/pkg/wire"
)

const logPrefix = "transport:channel"

// Transport is a duplex, unordered, best-effort envelope channel. Envelopes
// are routed by their target identity and only envelopes targeting this
// endpoint are handed on. The transport stamps every frame with its own
// identity and tells handlers who sent each inbound envelope.
type Transport interface {
	Identity() string
	// Available returns a TRANSPORT_UNAVAILABLE error when nothing can be sent.
	Available() error
	Send(msg *wire.Message) error
	OnMessage(handler Handler)
	// OpenChannel creates a stream channel pair, retains one end and returns
	// the reference of the other end for transfer.
	OpenChannel() (Port, wire.PortRef, error)
	// AttachChannel binds the end of a pair that a peer transferred.
	AttachChannel(ref wire.PortRef) (Port, error)
	Close() error
}

// Inbound is an envelope received from a peer.
type Inbound struct {
	Origin  string
	Message *wire.Message
}

// Handler receives inbound envelopes, including ones for services it does not host.
type Handler func(in *Inbound)

// Resolver maps an endpoint identity to its bus subject.
type Resolver interface {
	Subject(uri string) string
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(uri string) string

// Subject calls f(uri).
func (f ResolverFunc) Subject(uri string) string {
	return f(uri)
}

// DefaultResolver derives subjects with commsutil.BuildEndpointSubject.
var DefaultResolver Resolver = ResolverFunc(commsutil.BuildEndpointSubject)

// Options configures a Channel.
type Options struct {
	// Identity is this endpoint's URI. Required.
	Identity string
	// Resolver maps identities to subjects. Nil uses DefaultResolver.
	Resolver Resolver
	// AllowedOrigins, when non-empty, restricts inbound envelopes to these senders.
	AllowedOrigins []string
}

// Channel is the Transport implementation over a Bus.
type Channel struct {
	bus      Bus
	identity string
	subject  string
	resolver Resolver
	allowed  map[string]struct{}

	mu       sync.RWMutex
	handlers []Handler
	sub      Subscription
	ports    map[*busPort]struct{}

	started atomic.Bool
	closed  atomic.Bool
}

// New creates a Channel. Call Start to begin receiving.
func New(bus Bus, opts Options) (*Channel, error) {
	if bus == nil {
		return nil, fmt.Errorf("%s - bus is required", logPrefix)
	}
	if opts.Identity == "" {
		return nil, fmt.Errorf("%s - identity is required", logPrefix)
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = DefaultResolver
	}
	var allowed map[string]struct{}
	if len(opts.AllowedOrigins) > 0 {
		allowed = make(map[string]struct{}, len(opts.AllowedOrigins))
		for _, o := range opts.AllowedOrigins {
			allowed[o] = struct{}{}
		}
	}
	return &Channel{
		bus:      bus,
		identity: opts.Identity,
		subject:  resolver.Subject(opts.Identity),
		resolver: resolver,
		allowed:  allowed,
		ports:    make(map[*busPort]struct{}),
	}, nil
}

// Start subscribes to this endpoint's subject.
func (c *Channel) Start() error {
	if c.closed.Load() {
		return ipcerr.New(ipcerr.CodeTransportUnavailable, "transport closed")
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	sub, err := c.bus.Subscribe(c.subject, c.receive)
	if err != nil {
		c.started.Store(false)
		return fmt.Errorf("%s - failed to start %s: %w", logPrefix, c.identity, err)
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	slog.Info(fmt.Sprintf("%s - %s listening on %s", logPrefix, c.identity, c.subject))
	return nil
}

// Identity returns this endpoint's URI.
func (c *Channel) Identity() string {
	return c.identity
}

// Subject returns the bus subject this endpoint receives on.
func (c *Channel) Subject() string {
	return c.subject
}

// Available reports whether Send can currently succeed.
func (c *Channel) Available() error {
	switch {
	case c.closed.Load():
		return ipcerr.New(ipcerr.CodeTransportUnavailable, "transport closed")
	case !c.started.Load():
		return ipcerr.New(ipcerr.CodeTransportUnavailable, "transport not started")
	case !c.bus.Connected():
		return ipcerr.New(ipcerr.CodeTransportUnavailable, "bus not connected")
	}
	return nil
}

// Send publishes msg to the subject of msg.Target.
func (c *Channel) Send(msg *wire.Message) error {
	if err := c.Available(); err != nil {
		return err
	}
	if msg.Target == "" {
		return fmt.Errorf("%s - message has no target", logPrefix)
	}
	data, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("%s - failed to encode message: %w", logPrefix, err)
	}
	if err := c.bus.Publish(&Frame{Subject: c.resolver.Subject(msg.Target), Origin: c.identity, Data: data}); err != nil {
		return ipcerr.Newf(ipcerr.CodeTransportUnavailable, "send to %s: %v", msg.Target, err)
	}
	return nil
}

// OnMessage adds a handler for inbound envelopes.
func (c *Channel) OnMessage(handler Handler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, handler)
	c.mu.Unlock()
}

// OpenChannel creates a stream channel pair on fresh subjects.
func (c *Channel) OpenChannel() (Port, wire.PortRef, error) {
	if err := c.Available(); err != nil {
		return nil, wire.PortRef{}, err
	}
	a, b := commsutil.NewStreamSubject(), commsutil.NewStreamSubject()
	local, err := c.bindPort(wire.PortRef{Recv: a, Send: b})
	if err != nil {
		return nil, wire.PortRef{}, err
	}
	return local, wire.PortRef{Recv: b, Send: a}, nil
}

// AttachChannel binds the transferred end of a pair.
func (c *Channel) AttachChannel(ref wire.PortRef) (Port, error) {
	if ref.Recv == "" || ref.Send == "" {
		return nil, fmt.Errorf("%s - incomplete port reference", logPrefix)
	}
	if err := c.Available(); err != nil {
		return nil, err
	}
	p, err := c.bindPort(ref)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Channel) bindPort(ref wire.PortRef) (*busPort, error) {
	p, err := newBusPort(c.bus, c.identity, ref)
	if err != nil {
		return nil, err
	}
	p.onClose = c.forgetPort
	c.mu.Lock()
	c.ports[p] = struct{}{}
	c.mu.Unlock()
	return p, nil
}

func (c *Channel) forgetPort(p *busPort) {
	c.mu.Lock()
	delete(c.ports, p)
	c.mu.Unlock()
}

// Close stops receiving and closes every port still open.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	ports := make([]*busPort, 0, len(c.ports))
	for p := range c.ports {
		ports = append(ports, p)
	}
	c.mu.Unlock()

	var err error
	if sub != nil {
		err = multierr.Append(err, sub.Unsubscribe())
	}
	for _, p := range ports {
		err = multierr.Append(err, p.Close())
	}
	return err
}

func (c *Channel) receive(f *Frame) {
	if c.allowed != nil {
		if _, ok := c.allowed[f.Origin]; !ok {
			slog.Warn(fmt.Sprintf("%s - dropping frame from unexpected origin %q", logPrefix, f.Origin))
			return
		}
	}
	msg, err := wire.Decode(f.Data)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - ignoring undecodable frame on %s: %v", logPrefix, f.Subject, err))
		return
	}
	if msg.Target != c.identity {
		slog.Warn(fmt.Sprintf("%s - %s dropping envelope addressed to %q from %q", logPrefix, c.identity, msg.Target, f.Origin))
		return
	}

	c.mu.RLock()
	handlers := c.handlers
	c.mu.RUnlock()

	in := &Inbound{Origin: f.Origin, Message: msg}
	for _, h := range handlers {
		h(in)
	}
}
