package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/vault-ipc/pkg/ipc"
	"github.com/morezero/vault-ipc/pkg/registry"
)

const systemLogPrefix = "server:system"

// SystemTag is the tag of the built-in service every node hosts.
const SystemTag = "system"

// SystemVersion is the version the system service reports from init.
const SystemVersion = "1.0.0"

const maxTicks = 1000

// Tick is one message of the ticks stream. The last message has Done set
// and carries no tick of its own.
type Tick struct {
	Seq  int    `json:"seq"`
	Time string `json:"time"`
	Done bool   `json:"done,omitempty"`
}

// IsEndOfStream reports whether a stream message marks the end of the
// stream, i.e. is an object with "done": true.
func IsEndOfStream(data []byte) bool {
	var marker struct {
		Done bool `json:"done"`
	}
	if err := json.Unmarshal(data, &marker); err != nil {
		return false
	}
	return marker.Done
}

// RegisterSystemService hosts the system service on node: ping, echo,
// services and the ticks stream.
func RegisterSystemService(node *ipc.Node) (*registry.Service, error) {
	svc, err := node.CreateService(SystemTag)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create system service: %w", systemLogPrefix, err)
	}
	if err := svc.SetVersion(SystemVersion); err != nil {
		return nil, err
	}

	sys := &system{node: node}
	receivers := []struct {
		handler interface{}
		name    string
	}{
		{sys.ping, "ping"},
		{sys.echo, "echo"},
		{sys.services, "services"},
	}
	for _, r := range receivers {
		if err := svc.AddReceiver(r.handler, r.name); err != nil {
			return nil, fmt.Errorf("%s - failed to add %s: %w", systemLogPrefix, r.name, err)
		}
	}
	if err := svc.AddStreamReceiver(sys.ticks, "ticks"); err != nil {
		return nil, fmt.Errorf("%s - failed to add ticks: %w", systemLogPrefix, err)
	}
	return svc, nil
}

type system struct {
	node *ipc.Node
}

func (s *system) ping() string {
	return "pong"
}

func (s *system) echo(args ...json.RawMessage) []json.RawMessage {
	if args == nil {
		return []json.RawMessage{}
	}
	return args
}

func (s *system) services() []registry.ServiceInfo {
	return s.node.Registry().Services()
}

// ticks acknowledges at once, then posts count ticks every intervalMs
// milliseconds, a final Done tick, and closes the stream.
func (s *system) ticks(ctx context.Context, count, intervalMs int) error {
	if count <= 0 || count > maxTicks {
		return fmt.Errorf("count must be between 1 and %d", maxTicks)
	}
	if intervalMs <= 0 {
		intervalMs = 1000
	}
	inv := registry.InvocationFrom(ctx)
	port := inv.Stream

	go func() {
		defer port.Close()
		ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
		defer ticker.Stop()
		for seq := 0; seq < count; seq++ {
			if err := port.Post(Tick{Seq: seq, Time: time.Now().UTC().Format(time.RFC3339Nano)}); err != nil {
				slog.Debug(fmt.Sprintf("%s - ticks for %s stopped: %v", systemLogPrefix, inv.Origin, err))
				return
			}
			if seq == count-1 {
				if err := port.Post(Tick{Seq: count, Time: time.Now().UTC().Format(time.RFC3339Nano), Done: true}); err != nil {
					slog.Debug(fmt.Sprintf("%s - ticks for %s not terminated: %v", systemLogPrefix, inv.Origin, err))
				}
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
