// Package transport carries IPC envelopes between endpoints over a
// subject-addressed message bus, and provides the paired stream ports used
// by streaming calls.
package transport

// HeaderOrigin carries the sender identity of a frame.
const HeaderOrigin = "Ipc-Origin"

// Frame is one message on a bus subject.
type Frame struct {
	Subject string
	Origin  string
	Data    []byte
}

// Bus is a best-effort, subject-addressed publish/subscribe channel.
// Delivery order is only preserved per subscription; frames published to a
// subject nobody listens on are dropped.
type Bus interface {
	Publish(f *Frame) error
	Subscribe(subject string, handler func(*Frame)) (Subscription, error)
	Connected() bool
}

// Subscription is an active bus subscription.
type Subscription interface {
	Unsubscribe() error
}
