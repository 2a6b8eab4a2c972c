package events

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/morezero/vault-ipc/pkg/wire"
)

const notifierLogPrefix = "events:notifier"

// Ready modes accepted by NewNotifier callers.
const (
	ModePeer      = "peer"
	ModeBroadcast = "broadcast"
	ModeNone      = "none"
)

// ReadyNotifier announces that a service is ready to take calls.
type ReadyNotifier interface {
	NotifyReady(ctx context.Context, event *ReadyEvent) error
}

// NoOpNotifier is a ReadyNotifier that does nothing (for hosts that never listen).
type NoOpNotifier struct{}

// NotifyReady is a no-op.
func (n *NoOpNotifier) NotifyReady(_ context.Context, _ *ReadyEvent) error {
	return nil
}

// CallbackNotifier is a ReadyNotifier that calls a callback function (for testing).
type CallbackNotifier struct {
	callback func(ctx context.Context, event *ReadyEvent) error
}

// NewCallbackNotifier creates a new CallbackNotifier.
func NewCallbackNotifier(cb func(ctx context.Context, event *ReadyEvent) error) *CallbackNotifier {
	return &CallbackNotifier{callback: cb}
}

// NotifyReady calls the callback.
func (n *CallbackNotifier) NotifyReady(ctx context.Context, event *ReadyEvent) error {
	return n.callback(ctx, event)
}

// Sender posts envelopes to peers.
type Sender interface {
	Send(msg *wire.Message) error
}

// PeerNotifier sends the ready envelope {target, callback: "init-<identity>"}
// to each hosting peer over the IPC transport.
type PeerNotifier struct {
	sender  Sender
	targets []string
}

// NewPeerNotifier creates a PeerNotifier addressing targets.
func NewPeerNotifier(sender Sender, targets ...string) *PeerNotifier {
	return &PeerNotifier{sender: sender, targets: targets}
}

// NotifyReady sends one ready envelope per target. All targets are tried.
func (n *PeerNotifier) NotifyReady(_ context.Context, event *ReadyEvent) error {
	var err error
	for _, target := range n.targets {
		if sendErr := n.sender.Send(wire.NewReady(target, event.Identity)); sendErr != nil {
			slog.Error(fmt.Sprintf("%s - failed to send ready for %s to %s: %v", notifierLogPrefix, event.Tag, target, sendErr))
			err = multierr.Append(err, sendErr)
			continue
		}
		slog.Debug(fmt.Sprintf("%s - sent ready for %s to %s", notifierLogPrefix, event.Tag, target))
	}
	return err
}
