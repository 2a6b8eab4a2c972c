package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/vault-ipc/pkg/ipcerr"
	"github.com/morezero/vault-ipc/pkg/transport"
	"github.com/morezero/vault-ipc/pkg/wire"
)

const dispatchLogPrefix = "registry:dispatch"

// HandleRequest serves an inbound request envelope. Requests for unknown
// tags or receivers are dropped without a response. Accepted requests run
// on their own goroutine; HandleRequest reports whether one was started
// or answered.
func (r *Registry) HandleRequest(ctx context.Context, in *transport.Inbound) bool {
	msg := in.Message
	if !msg.IsRequest() {
		return false
	}
	tag, call := msg.Payload.Tag, msg.Payload.Call

	svc, ok := r.Service(tag)
	if !ok {
		slog.Warn(fmt.Sprintf("%s - dropping call %s for unknown service %s from %s", dispatchLogPrefix, call, tag, in.Origin))
		r.observe("", "", OutcomeDropped, 0)
		return false
	}
	rcv := svc.lookup(call)
	if rcv == nil {
		slog.Warn(fmt.Sprintf("%s - dropping unknown call %s.%s from %s", dispatchLogPrefix, tag, call, in.Origin))
		r.observe(tag, "", OutcomeDropped, 0)
		return false
	}

	if !r.limiter.Allow(tag) {
		slog.Warn(fmt.Sprintf("%s - rate limited %s.%s from %s", dispatchLogPrefix, tag, call, in.Origin))
		r.observe(tag, call, OutcomeRateLimited, 0)
		r.respond(in, nil, ipcerr.Newf(ipcerr.CodeRateLimited, "too many requests for %s", tag))
		return true
	}

	go r.serve(ctx, in, rcv)
	return true
}

func (r *Registry) serve(ctx context.Context, in *transport.Inbound, rcv *receiver) {
	started := time.Now()
	msg := in.Message
	inv := &Invocation{
		Tag:      msg.Payload.Tag,
		Call:     msg.Payload.Call,
		Origin:   in.Origin,
		Callback: msg.Callback,
	}

	if rcv.stream {
		port, err := r.attach(msg)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - %s.%s: %v", dispatchLogPrefix, inv.Tag, inv.Call, err))
			r.observe(inv.Tag, inv.Call, OutcomeError, time.Since(started))
			r.respond(in, nil, err)
			return
		}
		inv.Stream = port
	}

	slog.Debug(fmt.Sprintf("%s - %s.%s from %s", dispatchLogPrefix, inv.Tag, inv.Call, in.Origin))
	result, err := rcv.call(withInvocation(ctx, inv), msg.Payload.Args)
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
		if inv.Stream != nil {
			inv.Stream.Close()
		}
	}
	r.observe(inv.Tag, inv.Call, outcome, time.Since(started))
	r.respond(in, result, err)
}

func (r *Registry) attach(msg *wire.Message) (transport.Port, error) {
	if len(msg.Transfer) == 0 {
		return nil, ipcerr.Newf(ipcerr.CodeInvalidParams, "stream call %s carries no channel", msg.Payload.Call)
	}
	if r.transport == nil {
		return nil, ipcerr.New(ipcerr.CodeTransportUnavailable, "registry has no transport")
	}
	return r.transport.AttachChannel(msg.Transfer[0])
}

// respond answers the requester with exactly one of result or the
// stringified error. Requests without a callback id expect no answer.
func (r *Registry) respond(in *transport.Inbound, result json.RawMessage, err error) {
	msg := in.Message
	if msg.Callback == "" {
		return
	}
	if in.Origin == "" || r.transport == nil {
		slog.Warn(fmt.Sprintf("%s - cannot answer %s: no route back to requester", dispatchLogPrefix, msg.Callback))
		return
	}

	var reply *wire.Message
	if err != nil {
		reply = wire.NewError(in.Origin, msg.Callback, err.Error())
	} else {
		reply = wire.NewResult(in.Origin, msg.Callback, result)
	}
	if sendErr := r.transport.Send(reply); sendErr != nil {
		slog.Error(fmt.Sprintf("%s - failed to answer %s to %s: %v", dispatchLogPrefix, msg.Callback, in.Origin, sendErr))
	}
}

func (r *Registry) observe(tag, call, outcome string, elapsed time.Duration) {
	if r.observer != nil {
		r.observer.RequestHandled(tag, call, outcome, elapsed)
	}
}
