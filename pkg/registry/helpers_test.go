package registry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/morezero/vault-ipc/pkg/correlator"
	"github.com/morezero/vault-ipc/pkg/transport"
	"github.com/morezero/vault-ipc/pkg/wire"
)

const (
	appURI   = "vault://app"
	vaultURI = "vault://enclave"
)

// harness wires a registry behind one channel and a correlator behind
// another, both on a shared in-memory bus.
type harness struct {
	app   *transport.Channel
	vault *transport.Channel
	reg   *Registry
	corr  *correlator.Correlator
}

func newHarness(t *testing.T, cfg Config, obs Observer) *harness {
	t.Helper()
	bus := transport.NewMemoryBus()
	t.Cleanup(bus.Close)

	app := startChannel(t, bus, appURI)
	vault := startChannel(t, bus, vaultURI)

	reg := NewRegistry(NewRegistryParams{Transport: vault, Config: cfg, Observer: obs})
	vault.OnMessage(func(in *transport.Inbound) {
		reg.HandleRequest(context.Background(), in)
	})

	corr, err := correlator.New(app, correlator.Options{})
	if err != nil {
		t.Fatalf("registry:helpers_test - correlator.New: %v", err)
	}
	app.OnMessage(func(in *transport.Inbound) {
		if in.Message.IsResponse() {
			corr.Deliver(in.Message)
		}
	})
	return &harness{app: app, vault: vault, reg: reg, corr: corr}
}

func startChannel(t *testing.T, bus transport.Bus, identity string) *transport.Channel {
	t.Helper()
	ch, err := transport.New(bus, transport.Options{Identity: identity})
	if err != nil {
		t.Fatalf("registry:helpers_test - transport.New(%s): %v", identity, err)
	}
	if err := ch.Start(); err != nil {
		t.Fatalf("registry:helpers_test - Start(%s): %v", identity, err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func (h *harness) request(t *testing.T, tag, call string, args []interface{}, transfer ...wire.PortRef) *wire.Message {
	t.Helper()
	msg, err := wire.NewRequest(vaultURI, tag, call, args, transfer...)
	if err != nil {
		t.Fatalf("registry:helpers_test - NewRequest: %v", err)
	}
	return msg
}

func (h *harness) call(t *testing.T, tag, call string, args ...interface{}) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.corr.Call(ctx, h.request(t, tag, call, args))
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) RequestHandled(tag, call, outcome string, _ time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, tag+"."+call+":"+outcome)
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("registry:helpers_test - condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Receivers with declared names, used to check default naming.

func f(a, b int) int { return a + b }

func g(x string) string { return "g:" + x }

func h(ctx context.Context, y int) error {
	inv := InvocationFrom(ctx)
	for i := 0; i < y; i++ {
		if err := inv.Stream.Post(i); err != nil {
			return err
		}
	}
	return nil
}

// newVaultCorrelator returns a correlator sending from the vault side.
func newVaultCorrelator(t *testing.T, hs *harness) *correlator.Correlator {
	t.Helper()
	corr, err := correlator.New(hs.vault, correlator.Options{})
	if err != nil {
		t.Fatalf("registry:helpers_test - correlator.New: %v", err)
	}
	hs.vault.OnMessage(func(in *transport.Inbound) {
		if in.Message.IsResponse() {
			corr.Deliver(in.Message)
		}
	})
	return corr
}
