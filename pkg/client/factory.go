// Package client builds proxies for services hosted by remote endpoints.
// A Factory performs the init and getInterface handshake once per
// (tag, uri) pair and caches the resulting Client.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/morezero/vault-ipc/pkg/correlator"
	"github.com/morezero/vault-ipc/pkg/ipcerr"
	"github.com/morezero/vault-ipc/pkg/semver"
	"github.com/morezero/vault-ipc/pkg/transport"
	"github.com/morezero/vault-ipc/pkg/wire"
)

const logPrefix = "client:factory"

// Caller sends correlated requests. *correlator.Correlator implements it.
type Caller interface {
	Go(msg *wire.Message) (*correlator.Call, error)
	Call(ctx context.Context, msg *wire.Message) (json.RawMessage, error)
}

// Channels opens stream channel pairs. *transport.Channel implements it.
type Channels interface {
	OpenChannel() (transport.Port, wire.PortRef, error)
}

// Config holds factory configuration.
type Config struct {
	// ProtocolConstraint is checked against the protocol version a peer
	// reports from init. Peers that answer init with null are accepted.
	ProtocolConstraint string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{ProtocolConstraint: semver.DefaultProtocolConstraint}
}

type cacheKey struct {
	tag string
	uri string
}

// Factory creates and caches clients.
type Factory struct {
	caller   Caller
	channels Channels
	config   *Config

	mu      sync.RWMutex
	clients map[cacheKey]*Client
	flights map[string]*flight
	group   singleflight.Group
}

// NewFactoryParams holds parameters for NewFactory.
type NewFactoryParams struct {
	Caller   Caller
	Channels Channels
	Config   *Config
}

// NewFactory creates a new Factory.
func NewFactory(params NewFactoryParams) *Factory {
	cfg := params.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Factory{
		caller:   params.Caller,
		channels: params.Channels,
		config:   cfg,
		clients:  make(map[cacheKey]*Client),
		flights:  make(map[string]*flight),
	}
}

// Connect returns the client for the service ref hosted at uri. ref is a
// tag with an optional SemVer range, e.g. "wallet" or "wallet@^1".
// Concurrent connects to the same pair share one handshake; the client is
// cached only once it is completely built. Each caller waits on its own
// ctx. The shared handshake is cancelled once every caller has given up.
func (f *Factory) Connect(ctx context.Context, uri, ref string) (*Client, error) {
	sref, err := semver.ParseServiceRef(ref)
	if err != nil {
		return nil, ipcerr.Newf(ipcerr.CodeInvalidParams, "%v", err)
	}
	key := cacheKey{tag: sref.Tag, uri: uri}

	c := f.cached(key)
	if c == nil {
		if c, err = f.await(ctx, key, sref); err != nil {
			return nil, err
		}
	}

	if err := semver.CheckCompatible(sref.Tag, c.version, sref.Range); err != nil {
		return nil, err
	}
	return c, nil
}

func (f *Factory) await(ctx context.Context, key cacheKey, sref *semver.ServiceRef) (*Client, error) {
	name := key.tag + "\x00" + key.uri
	fl := f.join(name, ctx)
	ch := f.group.DoChan(name, func() (interface{}, error) {
		if c := f.cached(key); c != nil {
			return c, nil
		}
		c, err := f.build(fl.ctx, key.uri, sref)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.clients[key] = c
		f.mu.Unlock()
		slog.Info(fmt.Sprintf("%s - Connected to %s at %s (%d members)", logPrefix, key.tag, key.uri, len(c.members)))
		return c, nil
	})

	select {
	case res := <-ch:
		f.leave(name, fl, false)
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	case <-ctx.Done():
		f.leave(name, fl, true)
		return nil, ipcerr.Newf(ipcerr.CodeTimeout, "connect %s at %s: %v", key.tag, key.uri, ctx.Err())
	}
}

// flight is the handshake shared by concurrent connects to one pair.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (f *Factory) join(name string, ctx context.Context) *flight {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl := f.flights[name]
	if fl == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: fctx, cancel: cancel}
		f.flights[name] = fl
	}
	fl.waiters++
	return fl
}

func (f *Factory) leave(name string, fl *flight, abandoned bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	if f.flights[name] == fl {
		delete(f.flights, name)
	}
	if abandoned {
		f.group.Forget(name)
		slog.Debug(fmt.Sprintf("%s - Every caller gave up on %s, cancelling handshake", logPrefix, name))
	}
	fl.cancel()
}

// Forget drops every cached client of uri, so the next Connect repeats
// the handshake. It returns the number of clients dropped.
func (f *Factory) Forget(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key := range f.clients {
		if key.uri == uri {
			delete(f.clients, key)
			n++
		}
	}
	if n > 0 {
		slog.Debug(fmt.Sprintf("%s - Forgot %d clients of %s", logPrefix, n, uri))
	}
	return n
}

// Len returns the number of cached clients.
func (f *Factory) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *Factory) cached(key cacheKey) *Client {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.clients[key]
}

func (f *Factory) build(ctx context.Context, uri string, sref *semver.ServiceRef) (*Client, error) {
	info, err := f.init(ctx, uri, sref.Tag)
	if err != nil {
		return nil, err
	}
	if err := semver.CheckCompatible(sref.Tag, info.Version, sref.Range); err != nil {
		return nil, err
	}

	members, err := fetchInterface(ctx, f.caller, uri, sref.Tag)
	if err != nil {
		return nil, err
	}
	return newClient(f, uri, sref.Tag, info.Version, members), nil
}

func (f *Factory) init(ctx context.Context, uri, tag string) (*wire.InitResult, error) {
	msg, err := wire.NewRequest(uri, tag, wire.CallInit, nil)
	if err != nil {
		return nil, err
	}
	raw, err := f.caller.Call(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%s - init %s at %s: %w", logPrefix, tag, uri, err)
	}

	info := &wire.InitResult{}
	if err := wire.DecodeResult(raw, info); err != nil {
		return nil, fmt.Errorf("%s - init %s at %s returned %s: %w", logPrefix, tag, uri, raw, err)
	}
	if info.Protocol == "" {
		slog.Debug(fmt.Sprintf("%s - %s at %s reported no protocol version", logPrefix, tag, uri))
		return info, nil
	}
	if err := semver.CheckCompatible("protocol", info.Protocol, f.config.ProtocolConstraint); err != nil {
		return nil, err
	}
	return info, nil
}

func fetchInterface(ctx context.Context, caller Caller, uri, tag string) ([]wire.Member, error) {
	msg, err := wire.NewRequest(uri, tag, wire.CallGetInterface, nil)
	if err != nil {
		return nil, err
	}
	raw, err := caller.Call(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%s - getInterface %s at %s: %w", logPrefix, tag, uri, err)
	}
	var members []wire.Member
	if err := wire.DecodeResult(raw, &members); err != nil {
		return nil, fmt.Errorf("%s - getInterface %s at %s returned %s: %w", logPrefix, tag, uri, raw, err)
	}
	return members, nil
}
