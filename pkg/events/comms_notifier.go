package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/vault-ipc/pkg/commsutil"
)

const commsNotifierLogPrefix = "events:comms_notifier"

// CommsNotifierOpts configures CommsNotifier. Nil or zero values use defaults.
type CommsNotifierOpts struct {
	// GlobalReadySubject overrides the global ready subject.
	GlobalReadySubject string
}

// CommsNotifier broadcasts ready events on COMMS subjects.
type CommsNotifier struct {
	nc                 *comms.Conn
	globalReadySubject string
}

// NewCommsNotifier creates a new CommsNotifier. Pass nil for opts to use defaults.
func NewCommsNotifier(nc *comms.Conn, opts *CommsNotifierOpts) *CommsNotifier {
	globalSubject := commsutil.SubjectReady
	if opts != nil && opts.GlobalReadySubject != "" {
		globalSubject = opts.GlobalReadySubject
	}
	return &CommsNotifier{nc: nc, globalReadySubject: globalSubject}
}

// NotifyReady publishes the event to both the per-tag and global ready subjects.
func (n *CommsNotifier) NotifyReady(_ context.Context, event *ReadyEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsNotifierLogPrefix, err)
	}

	tagSubject := commsutil.BuildReadySubject(event.Tag)
	if err := n.nc.Publish(tagSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsNotifierLogPrefix, tagSubject, err))
		return err
	}

	if err := n.nc.Publish(n.globalReadySubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsNotifierLogPrefix, n.globalReadySubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published ready event for %s from %s", commsNotifierLogPrefix, event.Tag, event.Identity))
	return nil
}
