package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/morezero/vault-ipc/pkg/correlator"
	"github.com/morezero/vault-ipc/pkg/registry"
	"github.com/morezero/vault-ipc/pkg/transport"
	"github.com/morezero/vault-ipc/pkg/wire"
)

const (
	appURI   = "vault://app"
	vaultURI = "vault://enclave"
)

// countingCaller counts requests per call name before handing them on.
type countingCaller struct {
	next Caller

	mu    sync.Mutex
	calls map[string]int
}

func (c *countingCaller) count(msg *wire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	if msg.Payload != nil {
		c.calls[msg.Payload.Call]++
	}
}

func (c *countingCaller) Go(msg *wire.Message) (*correlator.Call, error) {
	c.count(msg)
	return c.next.Go(msg)
}

func (c *countingCaller) Call(ctx context.Context, msg *wire.Message) (json.RawMessage, error) {
	c.count(msg)
	return c.next.Call(ctx, msg)
}

func (c *countingCaller) sent(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

type harness struct {
	bus     *transport.MemoryBus
	app     *transport.Channel
	vault   *transport.Channel
	reg     *registry.Registry
	caller  *countingCaller
	factory *Factory
}

func newHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()
	bus := transport.NewMemoryBus()
	t.Cleanup(bus.Close)

	app := startChannel(t, bus, appURI)
	vault := startChannel(t, bus, vaultURI)

	reg := registry.NewRegistry(registry.NewRegistryParams{Transport: vault})
	vault.OnMessage(func(in *transport.Inbound) {
		reg.HandleRequest(context.Background(), in)
	})

	corr, err := correlator.New(app, correlator.Options{})
	if err != nil {
		t.Fatalf("client:helpers_test - correlator.New: %v", err)
	}
	t.Cleanup(corr.Close)
	app.OnMessage(func(in *transport.Inbound) {
		if in.Message.IsResponse() {
			corr.Deliver(in.Message)
		}
	})

	caller := &countingCaller{next: corr}
	return &harness{
		bus:     bus,
		app:     app,
		vault:   vault,
		reg:     reg,
		caller:  caller,
		factory: NewFactory(NewFactoryParams{Caller: caller, Channels: app, Config: cfg}),
	}
}

func startChannel(t *testing.T, bus transport.Bus, identity string) *transport.Channel {
	t.Helper()
	ch, err := transport.New(bus, transport.Options{Identity: identity})
	if err != nil {
		t.Fatalf("client:helpers_test - transport.New(%s): %v", identity, err)
	}
	if err := ch.Start(); err != nil {
		t.Fatalf("client:helpers_test - Start(%s): %v", identity, err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

// registerFGH registers the service tag with methods f, g and stream h.
func (hs *harness) registerFGH(t *testing.T, tag string) *registry.Service {
	t.Helper()
	svc, err := hs.reg.Register(tag)
	if err != nil {
		t.Fatalf("client:helpers_test - Register(%s): %v", tag, err)
	}
	for _, fn := range []interface{}{f, g} {
		if err := svc.AddReceiver(fn); err != nil {
			t.Fatalf("client:helpers_test - AddReceiver: %v", err)
		}
	}
	if err := svc.AddStreamReceiver(h); err != nil {
		t.Fatalf("client:helpers_test - AddStreamReceiver: %v", err)
	}
	return svc
}

func f(a, b int) int { return a + b }

func g(x string) string { return "g:" + x }

func h(ctx context.Context, y int) error {
	port := registry.InvocationFrom(ctx).Stream
	for i := 0; i < y; i++ {
		if err := port.Post(i * 10); err != nil {
			return err
		}
	}
	return nil
}

// waiting returns how many connects are waiting on the handshake for key.
func (f *Factory) waiting(key cacheKey) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if fl := f.flights[key.tag+"\x00"+key.uri]; fl != nil {
		return fl.waiters
	}
	return 0
}
