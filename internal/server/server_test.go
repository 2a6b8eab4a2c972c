package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/vault-ipc/internal/config"
	"github.com/morezero/vault-ipc/pkg/commsutil"
	"github.com/morezero/vault-ipc/pkg/ipc"
	"github.com/morezero/vault-ipc/pkg/ipcerr"
	"github.com/morezero/vault-ipc/pkg/registry"
	"github.com/morezero/vault-ipc/pkg/transport"
)

const (
	serverTestPrefix = "server:server_test"
	serverURI        = "vault://server-test"
	callerURI        = "vault://server-test-caller"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", serverTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", serverTestPrefix)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func testConfig() *config.Config {
	return &config.Config{
		Identity:           serverURI,
		ProtocolConstraint: "^1",
		ReadyMode:          "none",
		HealthCheckTimeout: 5 * time.Second,
	}
}

func newTestServer(t *testing.T, url string, cfg *config.Config) *Server {
	t.Helper()
	nc, err := commsutil.Connect(url, "server-test")
	if err != nil {
		t.Fatalf("%s - Connect: %v", serverTestPrefix, err)
	}
	s, err := New(context.Background(), cfg, nc)
	if err != nil {
		nc.Close()
		t.Fatalf("%s - New: %v", serverTestPrefix, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newCaller(t *testing.T, url string) *ipc.Node {
	t.Helper()
	nc, err := commsutil.Connect(url, "server-test-caller")
	if err != nil {
		t.Fatalf("%s - Connect: %v", serverTestPrefix, err)
	}
	t.Cleanup(nc.Close)

	cfg := ipc.DefaultConfig()
	cfg.Identity = callerURI
	node, err := ipc.NewNode(ipc.NewNodeParams{Bus: transport.NewCommsBus(nc), Config: cfg})
	if err != nil {
		t.Fatalf("%s - NewNode: %v", serverTestPrefix, err)
	}
	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("%s - Start: %v", serverTestPrefix, err)
	}
	t.Cleanup(func() { node.Close() })
	return node
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestServer_HealthAndReady(t *testing.T) {
	s := newTestServer(t, startTestServer(t), testConfig())
	h := s.Handler()

	code, body := get(t, h, "/health")
	if code != http.StatusOK {
		t.Fatalf("%s - /health = %d: %s", serverTestPrefix, code, body)
	}
	var health registry.HealthOutput
	if err := json.Unmarshal([]byte(body), &health); err != nil {
		t.Fatalf("%s - decode health: %v", serverTestPrefix, err)
	}
	if health.Status != "healthy" || !health.Checks.Transport || health.Services != 1 {
		t.Errorf("%s - health = %+v", serverTestPrefix, health)
	}

	if code, body := get(t, h, "/ready"); code != http.StatusOK || !strings.Contains(body, "ready") {
		t.Errorf("%s - /ready = %d %s", serverTestPrefix, code, body)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("%s - Close: %v", serverTestPrefix, err)
	}
	if code, _ := get(t, h, "/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("%s - /ready after Close = %d, want 503", serverTestPrefix, code)
	}
	if code, _ := get(t, h, "/health"); code != http.StatusServiceUnavailable {
		t.Errorf("%s - /health after Close = %d, want 503", serverTestPrefix, code)
	}
}

func TestServer_ServicesPages(t *testing.T) {
	s := newTestServer(t, startTestServer(t), testConfig())
	h := s.Handler()

	code, body := get(t, h, "/services")
	if code != http.StatusOK {
		t.Fatalf("%s - /services = %d", serverTestPrefix, code)
	}
	var services []registry.ServiceInfo
	if err := json.Unmarshal([]byte(body), &services); err != nil {
		t.Fatalf("%s - decode services: %v", serverTestPrefix, err)
	}
	if len(services) != 1 || services[0].Tag != SystemTag || services[0].Version != SystemVersion {
		t.Fatalf("%s - services = %+v", serverTestPrefix, services)
	}
	names := []string{}
	for _, m := range services[0].Interface {
		names = append(names, m.Name)
	}
	if got := strings.Join(names, ","); got != "ping,echo,services,ticks" {
		t.Errorf("%s - system members = %s", serverTestPrefix, got)
	}

	code, body = get(t, h, "/")
	if code != http.StatusOK {
		t.Fatalf("%s - / = %d", serverTestPrefix, code)
	}
	for _, want := range []string{serverURI, "system", "ping/0", "ticks/2", "(stream)"} {
		if !strings.Contains(body, want) {
			t.Errorf("%s - home page missing %q", serverTestPrefix, want)
		}
	}
	if code, _ := get(t, h, "/nope"); code != http.StatusNotFound {
		t.Errorf("%s - /nope = %d, want 404", serverTestPrefix, code)
	}
}

func TestServer_Metrics(t *testing.T) {
	url := startTestServer(t)
	s := newTestServer(t, url, testConfig())
	caller := newCaller(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := caller.CreateClient(ctx, serverURI, SystemTag)
	if err != nil {
		t.Fatalf("%s - CreateClient: %v", serverTestPrefix, err)
	}
	if _, err := c.Invoke(ctx, "ping"); err != nil {
		t.Fatalf("%s - ping: %v", serverTestPrefix, err)
	}

	code, body := get(t, s.Handler(), "/metrics")
	if code != http.StatusOK {
		t.Fatalf("%s - /metrics = %d", serverTestPrefix, code)
	}
	for _, want := range []string{"vault_ipc_registry_requests_total", "vault_ipc_dispatcher_envelopes_total", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("%s - /metrics missing %s", serverTestPrefix, want)
		}
	}
}

func TestSystemService_OverComms(t *testing.T) {
	url := startTestServer(t)
	newTestServer(t, url, testConfig())
	caller := newCaller(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := caller.CreateClient(ctx, serverURI, "system@^1")
	if err != nil {
		t.Fatalf("%s - CreateClient: %v", serverTestPrefix, err)
	}

	var pong string
	if err := c.InvokeInto(ctx, &pong, "ping"); err != nil || pong != "pong" {
		t.Errorf("%s - ping = %q, %v", serverTestPrefix, pong, err)
	}

	raw, err := c.Invoke(ctx, "echo", 1, "a", map[string]bool{"ok": true})
	if err != nil || string(raw) != `[1,"a",{"ok":true}]` {
		t.Errorf("%s - echo = %s, %v", serverTestPrefix, raw, err)
	}
	raw, err = c.Invoke(ctx, "echo")
	if err != nil || string(raw) != `[]` {
		t.Errorf("%s - empty echo = %s, %v", serverTestPrefix, raw, err)
	}

	var services []registry.ServiceInfo
	if err := c.InvokeInto(ctx, &services, "services"); err != nil || len(services) != 1 {
		t.Errorf("%s - services = %+v, %v", serverTestPrefix, services, err)
	}

	port, err := c.Stream(ctx, "ticks", 3, 10)
	if err != nil {
		t.Fatalf("%s - ticks: %v", serverTestPrefix, err)
	}
	defer port.Close()
	for i := 0; i < 3; i++ {
		data, err := port.Receive(ctx)
		if err != nil {
			t.Fatalf("%s - Receive tick %d: %v", serverTestPrefix, i, err)
		}
		var tick Tick
		if err := json.Unmarshal(data, &tick); err != nil || tick.Seq != i {
			t.Errorf("%s - tick %d = %s, %v", serverTestPrefix, i, data, err)
		}
	}
	data, err := port.Receive(ctx)
	if err != nil {
		t.Fatalf("%s - Receive end of ticks: %v", serverTestPrefix, err)
	}
	if !IsEndOfStream(data) {
		t.Errorf("%s - last tick = %s, want done marker", serverTestPrefix, data)
	}

	_, err = c.Stream(ctx, "ticks", 0, 10)
	var remote *ipcerr.RemoteError
	if !errors.As(err, &remote) {
		t.Errorf("%s - ticks(0) = %v, want remote error", serverTestPrefix, err)
	}
}

func TestServer_BroadcastReady(t *testing.T) {
	url := startTestServer(t)

	watcher, err := comms.Connect(url)
	if err != nil {
		t.Fatalf("%s - Connect watcher: %v", serverTestPrefix, err)
	}
	defer watcher.Close()
	got := make(chan *comms.Msg, 1)
	sub, err := watcher.ChanSubscribe(commsutil.BuildReadySubject(SystemTag), got)
	if err != nil {
		t.Fatalf("%s - Subscribe: %v", serverTestPrefix, err)
	}
	defer sub.Unsubscribe()
	if err := watcher.Flush(); err != nil {
		t.Fatalf("%s - Flush: %v", serverTestPrefix, err)
	}

	cfg := testConfig()
	cfg.ReadyMode = "broadcast"
	newTestServer(t, url, cfg)

	select {
	case msg := <-got:
		var ev struct {
			Tag      string `json:"tag"`
			Identity string `json:"identity"`
		}
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.Tag != SystemTag || ev.Identity != serverURI {
			t.Errorf("%s - ready event = %s, %v", serverTestPrefix, msg.Data, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - no ready broadcast", serverTestPrefix)
	}
}

func TestSetupLogging(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		SetupLogging(level)
	}
	SetupLogging("info")
}

func TestIsEndOfStream(t *testing.T) {
	tests := []struct {
		data string
		want bool
	}{
		{`{"seq":3,"time":"t","done":true}`, true},
		{`{"seq":1,"time":"t"}`, false},
		{`{"done":false}`, false},
		{`[1,2]`, false},
		{`"done"`, false},
		{`not json`, false},
	}
	for _, tt := range tests {
		if got := IsEndOfStream([]byte(tt.data)); got != tt.want {
			t.Errorf("%s - IsEndOfStream(%s) = %v, want %v", serverTestPrefix, tt.data, got, tt.want)
		}
	}
}
