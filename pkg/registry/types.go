// Package registry hosts named services whose receivers peers can call
// through the IPC transport.
package registry

import (
	"context"
	"time"

	"github.com/morezero/vault-ipc/pkg/transport"
	"github.com/morezero/vault-ipc/pkg/wire"
)

// Request outcomes reported to the Observer.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeDropped     = "dropped"
	OutcomeRateLimited = "rate_limited"
)

// Transport is the part of the IPC transport the registry needs.
type Transport interface {
	Identity() string
	Available() error
	Send(msg *wire.Message) error
	AttachChannel(ref wire.PortRef) (transport.Port, error)
}

// Observer is notified about every inbound request. Implementations must
// be safe for concurrent use.
type Observer interface {
	RequestHandled(tag, call, outcome string, elapsed time.Duration)
}

// Invocation describes the request a receiver is serving.
type Invocation struct {
	Tag      string
	Call     string
	Origin   string
	Callback string
	// Stream is the retained end of the channel pair for stream receivers.
	Stream transport.Port
}

type invocationKey struct{}

// InvocationFrom returns the invocation carried by ctx, or nil.
func InvocationFrom(ctx context.Context) *Invocation {
	inv, _ := ctx.Value(invocationKey{}).(*Invocation)
	return inv
}

func withInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// ServiceInfo describes a registered service.
type ServiceInfo struct {
	Tag       string        `json:"tag"`
	Version   string        `json:"version,omitempty"`
	Interface []wire.Member `json:"interface"`
}

// HealthOutput holds the result of the health check.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Services  int          `json:"services"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks holds individual health check results.
type HealthChecks struct {
	Transport bool `json:"transport"`
}
