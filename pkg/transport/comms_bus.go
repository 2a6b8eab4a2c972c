package transport

import (
	"fmt"

	comms "github.com/nats-io/nats.go"
)

const commsBusLogPrefix = "transport:comms_bus"

// CommsBus is a Bus backed by a COMMS (NATS) connection. The sender
// identity travels in the Ipc-Origin header.
type CommsBus struct {
	nc *comms.Conn
}

// NewCommsBus wraps an established COMMS connection.
func NewCommsBus(nc *comms.Conn) *CommsBus {
	return &CommsBus{nc: nc}
}

// Publish sends a frame to its subject.
func (b *CommsBus) Publish(f *Frame) error {
	msg := comms.NewMsg(f.Subject)
	msg.Data = f.Data
	if f.Origin != "" {
		msg.Header.Set(HeaderOrigin, f.Origin)
	}
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("%s - failed to publish to %s: %w", commsBusLogPrefix, f.Subject, err)
	}
	return nil
}

// Subscribe delivers every frame published on subject to handler, one at a time.
func (b *CommsBus) Subscribe(subject string, handler func(*Frame)) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *comms.Msg) {
		handler(&Frame{
			Subject: msg.Subject,
			Origin:  msg.Header.Get(HeaderOrigin),
			Data:    msg.Data,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", commsBusLogPrefix, subject, err)
	}
	return sub, nil
}

// Connected reports whether the underlying connection is usable.
func (b *CommsBus) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Flush waits until the server has processed everything published so far.
func (b *CommsBus) Flush() error {
	return b.nc.Flush()
}
