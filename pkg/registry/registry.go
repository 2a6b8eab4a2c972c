package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/vault-ipc/pkg/events"
	"github.com/morezero/vault-ipc/pkg/ipcerr"
	"github.com/morezero/vault-ipc/pkg/semver"
)

const logPrefix = "registry:registry"

// Config holds registry configuration.
type Config struct {
	// RateLimitRPS limits inbound requests per service tag. Zero disables limiting.
	RateLimitRPS float64
	// RateLimitBurst is the token bucket size used with RateLimitRPS.
	RateLimitBurst int
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{}
}

// Registry owns the services hosted by one IPC endpoint.
type Registry struct {
	transport Transport
	notifier  events.ReadyNotifier
	observer  Observer
	config    Config
	limiter   *tagLimiter

	mu       sync.RWMutex
	services map[string]*Service
	order    []string
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	// Transport answers requests. It may be nil for purely local use.
	Transport Transport
	Notifier  events.ReadyNotifier
	Observer  Observer
	Config    Config
}

// NewRegistry creates a new Registry instance.
func NewRegistry(params NewRegistryParams) *Registry {
	notifier := params.Notifier
	if notifier == nil {
		notifier = &events.NoOpNotifier{}
	}
	return &Registry{
		transport: params.Transport,
		notifier:  notifier,
		observer:  params.Observer,
		config:    params.Config,
		limiter:   newTagLimiter(params.Config.RateLimitRPS, params.Config.RateLimitBurst),
		services:  make(map[string]*Service),
	}
}

// Register creates the service tag. A tag can be registered once.
func (r *Registry) Register(tag string) (*Service, error) {
	if !semver.ValidateTag(tag) {
		return nil, ipcerr.Newf(ipcerr.CodeInvalidParams, "invalid service tag %q", tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[tag]; exists {
		return nil, ipcerr.Newf(ipcerr.CodeDuplicateTag, "service tag %q already registered", tag)
	}
	svc := newService(r, tag)
	r.services[tag] = svc
	r.order = append(r.order, tag)

	slog.Info(fmt.Sprintf("%s - registered service %s", logPrefix, tag))
	return svc, nil
}

// Service returns the service registered under tag.
func (r *Registry) Service(tag string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[tag]
	return svc, ok
}

// Services lists the registered services in registration order.
func (r *Registry) Services() []ServiceInfo {
	r.mu.RLock()
	svcs := make([]*Service, 0, len(r.order))
	for _, tag := range r.order {
		svcs = append(svcs, r.services[tag])
	}
	r.mu.RUnlock()

	out := make([]ServiceInfo, 0, len(svcs))
	for _, svc := range svcs {
		out = append(out, ServiceInfo{Tag: svc.Tag(), Version: svc.Version(), Interface: svc.GetInterface()})
	}
	return out
}

func (r *Registry) identity() string {
	if r.transport == nil {
		return ""
	}
	return r.transport.Identity()
}
