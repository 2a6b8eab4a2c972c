// Package ipc assembles one IPC endpoint: the transport channel, the call
// correlator, the service registry, the client factory and the inbound
// dispatcher that ties them together.
package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"github.com/morezero/vault-ipc/pkg/client"
	"github.com/morezero/vault-ipc/pkg/correlator"
	"github.com/morezero/vault-ipc/pkg/dispatcher"
	"github.com/morezero/vault-ipc/pkg/events"
	"github.com/morezero/vault-ipc/pkg/metrics"
	"github.com/morezero/vault-ipc/pkg/peers"
	"github.com/morezero/vault-ipc/pkg/registry"
	"github.com/morezero/vault-ipc/pkg/transport"
)

const logPrefix = "ipc:node"

// Config holds node configuration.
type Config struct {
	// Identity is the endpoint URI of the node. Required.
	Identity string
	// AllowedOrigins restricts inbound envelopes to these senders. Empty accepts all.
	AllowedOrigins []string
	// CallTimeout rejects outgoing calls still pending after it. Zero waits forever.
	CallTimeout time.Duration
	// ProtocolConstraint is checked against the protocol version peers report.
	ProtocolConstraint string
	// ReadyMode selects how services announce readiness: peer, broadcast or none.
	ReadyMode string
	// ReadyTargets are the peers addressed in peer mode. When empty the
	// directory's notifyReady peers are used.
	ReadyTargets []string
	// ForgetOnReady drops cached clients of a peer when it announces ready again.
	ForgetOnReady bool
	Registry      registry.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReadyMode:     events.ModePeer,
		ForgetOnReady: true,
		Registry:      registry.DefaultConfig(),
	}
}

// Node is one IPC endpoint.
type Node struct {
	config     Config
	channel    *transport.Channel
	correlator *correlator.Correlator
	registry   *registry.Registry
	factory    *client.Factory
	dispatcher *dispatcher.Dispatcher
	directory  *peers.Directory
	started    atomic.Bool
}

// NewNodeParams holds parameters for NewNode.
type NewNodeParams struct {
	Bus    transport.Bus
	Config Config
	// Directory maps peer URIs and aliases to subjects. Nil derives every subject.
	Directory *peers.Directory
	// Notifier overrides the notifier chosen by Config.ReadyMode.
	Notifier events.ReadyNotifier
	// Metrics receives correlator, registry and dispatcher activity. Optional.
	Metrics *metrics.Metrics
}

// NewNode wires a node over params.Bus. Call Start to begin receiving.
func NewNode(params NewNodeParams) (*Node, error) {
	cfg := params.Config
	directory := params.Directory
	if directory == nil {
		directory = peers.NewDirectory(peers.GetDefaultManifest())
	}

	channel, err := transport.New(params.Bus, transport.Options{
		Identity:       cfg.Identity,
		Resolver:       directory,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create transport: %w", logPrefix, err)
	}

	var (
		corrObserver correlator.Observer
		regObserver  registry.Observer
		dispObserver dispatcher.Observer
	)
	if params.Metrics != nil {
		corrObserver, regObserver, dispObserver = params.Metrics, params.Metrics, params.Metrics
	}

	corr, err := correlator.New(channel, correlator.Options{Timeout: cfg.CallTimeout, Observer: corrObserver})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create correlator: %w", logPrefix, err)
	}

	notifier := params.Notifier
	if notifier == nil {
		notifier = newNotifier(cfg, directory, channel)
	}

	reg := registry.NewRegistry(registry.NewRegistryParams{
		Transport: channel,
		Notifier:  notifier,
		Observer:  regObserver,
		Config:    cfg.Registry,
	})

	factoryCfg := client.DefaultConfig()
	if cfg.ProtocolConstraint != "" {
		factoryCfg.ProtocolConstraint = cfg.ProtocolConstraint
	}
	factory := client.NewFactory(client.NewFactoryParams{
		Caller:   corr,
		Channels: channel,
		Config:   factoryCfg,
	})

	disp := dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Requests:  reg,
		Responses: corr,
		Observer:  dispObserver,
	})

	n := &Node{
		config:     cfg,
		channel:    channel,
		correlator: corr,
		registry:   reg,
		factory:    factory,
		dispatcher: disp,
		directory:  directory,
	}
	if cfg.ForgetOnReady {
		disp.OnReady(func(identity string) { factory.Forget(identity) })
	}
	return n, nil
}

func newNotifier(cfg Config, directory *peers.Directory, sender events.Sender) events.ReadyNotifier {
	switch cfg.ReadyMode {
	case events.ModePeer:
		targets := cfg.ReadyTargets
		if len(targets) == 0 {
			targets = directory.ReadyTargets()
		}
		resolved := make([]string, 0, len(targets))
		for _, t := range targets {
			resolved = append(resolved, directory.ResolveAlias(t))
		}
		return events.NewPeerNotifier(sender, resolved...)
	case events.ModeBroadcast:
		slog.Warn(fmt.Sprintf("%s - broadcast ready mode needs a bus notifier, ready notifications disabled", logPrefix))
		return &events.NoOpNotifier{}
	default:
		return &events.NoOpNotifier{}
	}
}

// Start begins receiving envelopes. ctx is handed to every receiver
// invocation.
func (n *Node) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return nil
	}
	n.channel.OnMessage(n.dispatcher.Handler(ctx))
	if err := n.channel.Start(); err != nil {
		return fmt.Errorf("%s - failed to start %s: %w", logPrefix, n.config.Identity, err)
	}
	slog.Info(fmt.Sprintf("%s - Node %s started", logPrefix, n.config.Identity))
	return nil
}

// Identity returns the endpoint URI of the node.
func (n *Node) Identity() string {
	return n.channel.Identity()
}

// CreateService registers a new service tag on this node.
func (n *Node) CreateService(tag string) (*registry.Service, error) {
	return n.registry.Register(tag)
}

// CreateClient connects to the service ref hosted at uri. uri may be a
// peer alias from the directory.
func (n *Node) CreateClient(ctx context.Context, uri, ref string) (*client.Client, error) {
	return n.factory.Connect(ctx, n.directory.ResolveAlias(uri), ref)
}

// OnReady adds a listener for ready notifications from peers.
func (n *Node) OnReady(fn dispatcher.ReadyListener) {
	n.dispatcher.OnReady(fn)
}

// Health reports the node's health.
func (n *Node) Health(ctx context.Context) *registry.HealthOutput {
	return n.registry.Health(ctx)
}

// Registry returns the service registry of the node.
func (n *Node) Registry() *registry.Registry {
	return n.registry
}

// Factory returns the client factory of the node.
func (n *Node) Factory() *client.Factory {
	return n.factory
}

// Correlator returns the call correlator of the node.
func (n *Node) Correlator() *correlator.Correlator {
	return n.correlator
}

// Transport returns the transport channel of the node.
func (n *Node) Transport() *transport.Channel {
	return n.channel
}

// Close rejects pending calls and stops the transport.
func (n *Node) Close() error {
	n.correlator.Close()
	err := n.channel.Close()
	slog.Info(fmt.Sprintf("%s - Node %s closed", logPrefix, n.config.Identity))
	return err
}
