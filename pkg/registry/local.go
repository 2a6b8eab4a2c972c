package registry

import (
	"context"
	"encoding/json"

	"github.com/morezero/vault-ipc/pkg/ipcerr"
	"github.com/morezero/vault-ipc/pkg/transport"
	"github.com/morezero/vault-ipc/pkg/wire"
)

// LocalInterface calls a service's receivers in-process, without the
// transport. Arguments still travel as JSON so receivers see the same
// values a remote caller would produce.
type LocalInterface struct {
	svc *Service
}

// GetLocalInterface returns the same-process interface of the service.
func (s *Service) GetLocalInterface() *LocalInterface {
	return &LocalInterface{svc: s}
}

// Origin returns the identity of the hosting endpoint.
func (l *LocalInterface) Origin() string {
	return l.svc.registry.identity()
}

// Members describes the callable members, as GetInterface does.
func (l *LocalInterface) Members() []wire.Member {
	return l.svc.GetInterface()
}

// Invoke calls the unary method name.
func (l *LocalInterface) Invoke(ctx context.Context, name string, args ...interface{}) (json.RawMessage, error) {
	rcv, err := l.receiver(name, false)
	if err != nil {
		return nil, err
	}
	encoded, err := wire.EncodeArgs(args)
	if err != nil {
		return nil, ipcerr.Newf(ipcerr.CodeInvalidParams, "encode arguments of %s: %v", name, err)
	}
	inv := &Invocation{Tag: l.svc.tag, Call: name, Origin: l.Origin()}
	return rcv.call(withInvocation(ctx, inv), encoded)
}

// Stream calls the stream receiver name over an in-process channel pair
// and returns the caller's end.
func (l *LocalInterface) Stream(ctx context.Context, name string, args ...interface{}) (transport.Port, error) {
	rcv, err := l.receiver(name, true)
	if err != nil {
		return nil, err
	}
	encoded, err := wire.EncodeArgs(args)
	if err != nil {
		return nil, ipcerr.Newf(ipcerr.CodeInvalidParams, "encode arguments of %s: %v", name, err)
	}
	local, remote, err := transport.NewPipe()
	if err != nil {
		return nil, err
	}
	inv := &Invocation{Tag: l.svc.tag, Call: name, Origin: l.Origin(), Stream: remote}
	if _, err := rcv.call(withInvocation(ctx, inv), encoded); err != nil {
		local.Close()
		remote.Close()
		return nil, err
	}
	return local, nil
}

func (l *LocalInterface) receiver(name string, stream bool) (*receiver, error) {
	l.svc.mu.RLock()
	defer l.svc.mu.RUnlock()
	table := l.svc.methods
	if stream {
		table = l.svc.streams
	}
	rcv, ok := table[name]
	if !ok {
		return nil, ipcerr.Newf(ipcerr.CodeUnknownMethod, "%s has no %s", l.svc.tag, name)
	}
	return rcv, nil
}
