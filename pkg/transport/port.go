package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/morezero/vault-ipc/pkg/commsutil"
	"github.com/morezero/vault-ipc/pkg/wire"
)

const portLogPrefix = "transport:port"

const portQueueSize = 256

// ErrPortClosed is returned by Post and Receive after Close.
var ErrPortClosed = errors.New("port closed")

// Port is one end of a stream channel pair. The layer imposes no framing
// on what flows through it: Post and Receive carry opaque payloads.
type Port interface {
	// Ref names the subjects this end receives on and sends to.
	Ref() wire.PortRef
	// Post JSON-encodes v and sends it to the other end.
	Post(v interface{}) error
	// PostRaw sends data unchanged.
	PostRaw(data []byte) error
	// Receive blocks for the next payload from the other end.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type busPort struct {
	bus    Bus
	origin string
	ref    wire.PortRef
	sub    Subscription
	queue  chan []byte
	done   chan struct{}
	once   sync.Once

	onClose func(*busPort)
}

// newBusPort subscribes to ref.Recv before returning, so nothing the other
// end posts after the handshake can be missed.
func newBusPort(bus Bus, origin string, ref wire.PortRef) (*busPort, error) {
	p := &busPort{
		bus:    bus,
		origin: origin,
		ref:    ref,
		queue:  make(chan []byte, portQueueSize),
		done:   make(chan struct{}),
	}
	sub, err := bus.Subscribe(ref.Recv, func(f *Frame) {
		select {
		case p.queue <- f.Data:
		case <-p.done:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to bind port: %w", portLogPrefix, err)
	}
	p.sub = sub
	return p, nil
}

// NewPipe returns two linked ports over a private in-process bus.
func NewPipe() (Port, Port, error) {
	bus := NewMemoryBus()
	a, b := commsutil.NewStreamSubject(), commsutil.NewStreamSubject()
	left, err := newBusPort(bus, "", wire.PortRef{Recv: a, Send: b})
	if err != nil {
		return nil, nil, err
	}
	right, err := newBusPort(bus, "", wire.PortRef{Recv: b, Send: a})
	if err != nil {
		left.Close()
		return nil, nil, err
	}
	return left, right, nil
}

func (p *busPort) Ref() wire.PortRef {
	return p.ref
}

func (p *busPort) Post(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s - failed to encode stream message: %w", portLogPrefix, err)
	}
	return p.PostRaw(data)
}

func (p *busPort) PostRaw(data []byte) error {
	select {
	case <-p.done:
		return ErrPortClosed
	default:
	}
	return p.bus.Publish(&Frame{Subject: p.ref.Send, Origin: p.origin, Data: data})
}

func (p *busPort) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.queue:
		return data, nil
	default:
	}
	select {
	case data := <-p.queue:
		return data, nil
	case <-p.done:
		return nil, ErrPortClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *busPort) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.sub.Unsubscribe()
		if p.onClose != nil {
			p.onClose(p)
		}
	})
	return err
}
