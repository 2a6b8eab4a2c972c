package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morezero/vault-ipc/pkg/events"
	"github.com/morezero/vault-ipc/pkg/ipcerr"
	"github.com/morezero/vault-ipc/pkg/semver"
	"github.com/morezero/vault-ipc/pkg/wire"
)

const serviceLogPrefix = "registry:service"

// Service is a registered tag and its receivers.
type Service struct {
	tag      string
	registry *Registry
	builtins map[string]*receiver

	mu          sync.RWMutex
	version     string
	methods     map[string]*receiver
	methodOrder []string
	streams     map[string]*receiver
	streamOrder []string
}

func newService(r *Registry, tag string) *Service {
	s := &Service{
		tag:      tag,
		registry: r,
		methods:  make(map[string]*receiver),
		streams:  make(map[string]*receiver),
	}
	initRcv, _ := newReceiver(s.initResult, wire.CallInit, false)
	ifaceRcv, _ := newReceiver(s.GetInterface, wire.CallGetInterface, false)
	s.builtins = map[string]*receiver{
		wire.CallInit:         initRcv,
		wire.CallGetInterface: ifaceRcv,
	}
	return s
}

// Tag returns the service tag.
func (s *Service) Tag() string {
	return s.tag
}

// Version returns the service version reported by init, or "".
func (s *Service) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SetVersion sets the SemVer version reported by init.
func (s *Service) SetVersion(version string) error {
	if err := semver.ValidateVersion(version); err != nil {
		return ipcerr.New(ipcerr.CodeInvalidParams, err.Error())
	}
	s.mu.Lock()
	s.version = version
	s.mu.Unlock()
	return nil
}

// AddReceiver installs handler as a unary method. The name defaults to the
// handler's declared func name; closures need an explicit name.
func (s *Service) AddReceiver(handler interface{}, name ...string) error {
	return s.add(handler, firstName(name), false)
}

// AddStreamReceiver installs handler as a streaming method. The handler
// must take context.Context first; InvocationFrom(ctx).Stream is its end
// of the channel pair.
func (s *Service) AddStreamReceiver(handler interface{}, name ...string) error {
	return s.add(handler, firstName(name), true)
}

func (s *Service) add(handler interface{}, name string, stream bool) error {
	rcv, err := newReceiver(handler, name, stream)
	if err != nil {
		return err
	}
	if _, reserved := s.builtins[rcv.name]; reserved {
		return ipcerr.Newf(ipcerr.CodeInvalidHandler, "receiver name %q is reserved", rcv.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, order, other := s.methods, &s.methodOrder, s.streams
	if stream {
		table, order, other = s.streams, &s.streamOrder, s.methods
	}
	if _, clash := other[rcv.name]; clash {
		return ipcerr.Newf(ipcerr.CodeInvalidHandler, "receiver name %q already used by %s", rcv.name, s.tag)
	}
	if _, exists := table[rcv.name]; exists {
		slog.Warn(fmt.Sprintf("%s - replacing %s receiver %s", serviceLogPrefix, s.tag, rcv.name))
	} else {
		*order = append(*order, rcv.name)
	}
	table[rcv.name] = rcv

	kind := "receiver"
	if stream {
		kind = "stream receiver"
	}
	slog.Info(fmt.Sprintf("%s - added %s %s receiver: %s/%d", serviceLogPrefix, s.tag, kind, rcv.name, rcv.arity()))
	return nil
}

// GetInterface describes the externally callable members: methods then
// streams, each in registration order. Built-ins are not listed.
func (s *Service) GetInterface() []wire.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]wire.Member, 0, len(s.methodOrder)+len(s.streamOrder))
	for _, name := range s.methodOrder {
		members = append(members, s.methods[name].member())
	}
	for _, name := range s.streamOrder {
		members = append(members, s.streams[name].member())
	}
	return members
}

// Ready tells the hosting peer that the service accepts calls.
func (s *Service) Ready(ctx context.Context) error {
	event := &events.ReadyEvent{
		Tag:       s.tag,
		Identity:  s.registry.identity(),
		Version:   s.Version(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	slog.Info(fmt.Sprintf("%s - sending %s ready", serviceLogPrefix, s.tag))
	if err := s.registry.notifier.NotifyReady(ctx, event); err != nil {
		return fmt.Errorf("%s - ready for %s failed: %w", serviceLogPrefix, s.tag, err)
	}
	return nil
}

// lookup finds call among built-ins, methods, then streams.
func (s *Service) lookup(call string) *receiver {
	if rcv, ok := s.builtins[call]; ok {
		return rcv
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rcv, ok := s.methods[call]; ok {
		return rcv
	}
	return s.streams[call]
}

func (s *Service) initResult() wire.InitResult {
	return wire.InitResult{Protocol: semver.ProtocolVersion, Version: s.Version()}
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
