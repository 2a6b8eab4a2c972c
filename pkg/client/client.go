package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/morezero/vault-ipc/pkg/correlator"
	"github.com/morezero/vault-ipc/pkg/ipcerr"
	"github.com/morezero/vault-ipc/pkg/transport"
	"github.com/morezero/vault-ipc/pkg/wire"
)

// Func is a proxy for one remote unary method.
type Func func(ctx context.Context, args ...interface{}) (json.RawMessage, error)

// StreamFunc is a proxy for one remote stream method.
type StreamFunc func(ctx context.Context, args ...interface{}) (transport.Port, error)

// Client is the proxy of one remote service, built from its interface
// descriptor. It is safe for concurrent use.
type Client struct {
	caller   Caller
	channels Channels
	uri      string
	tag      string
	version  string
	members  []wire.Member
	methods  map[string]Func
	streams  map[string]StreamFunc
	arities  map[string]int
}

func newClient(f *Factory, uri, tag, version string, members []wire.Member) *Client {
	c := &Client{
		caller:   f.caller,
		channels: f.channels,
		uri:      uri,
		tag:      tag,
		version:  version,
		members:  members,
		methods:  make(map[string]Func),
		streams:  make(map[string]StreamFunc),
		arities:  make(map[string]int, len(members)),
	}
	for _, m := range members {
		name := m.Name
		c.arities[name] = m.Arity
		switch m.Type {
		case wire.MemberMethod:
			c.methods[name] = func(ctx context.Context, args ...interface{}) (json.RawMessage, error) {
				return c.invoke(ctx, name, args)
			}
		case wire.MemberStream:
			c.streams[name] = func(ctx context.Context, args ...interface{}) (transport.Port, error) {
				return c.stream(ctx, name, args)
			}
		}
	}
	return c
}

// URI returns the identity of the hosting endpoint.
func (c *Client) URI() string {
	return c.uri
}

// Tag returns the service tag.
func (c *Client) Tag() string {
	return c.tag
}

// Version returns the service version reported by init, or "".
func (c *Client) Version() string {
	return c.version
}

// Interface returns the descriptor the client was built from.
func (c *Client) Interface() []wire.Member {
	out := make([]wire.Member, len(c.members))
	copy(out, c.members)
	return out
}

// GetInterface fetches the current descriptor from the service.
func (c *Client) GetInterface(ctx context.Context) ([]wire.Member, error) {
	return fetchInterface(ctx, c.caller, c.uri, c.tag)
}

// Method returns the proxy of the unary method name, or nil.
func (c *Client) Method(name string) Func {
	return c.methods[name]
}

// StreamMethod returns the proxy of the stream method name, or nil.
func (c *Client) StreamMethod(name string) StreamFunc {
	return c.streams[name]
}

// Invoke calls the unary method name and waits for its result.
func (c *Client) Invoke(ctx context.Context, name string, args ...interface{}) (json.RawMessage, error) {
	fn := c.methods[name]
	if fn == nil {
		return nil, c.unknown(name, wire.MemberMethod)
	}
	return fn(ctx, args...)
}

// InvokeInto calls the unary method name and decodes its result into out.
func (c *Client) InvokeInto(ctx context.Context, out interface{}, name string, args ...interface{}) error {
	raw, err := c.Invoke(ctx, name, args...)
	if err != nil {
		return err
	}
	return wire.DecodeResult(raw, out)
}

// Go sends a call to the unary method name without waiting for it.
func (c *Client) Go(name string, args ...interface{}) (*correlator.Call, error) {
	if c.methods[name] == nil {
		return nil, c.unknown(name, wire.MemberMethod)
	}
	msg, err := c.request(name, args)
	if err != nil {
		return nil, err
	}
	return c.caller.Go(msg)
}

// Stream calls the stream method name and returns the caller's end of the
// channel pair once the service acknowledged the call.
func (c *Client) Stream(ctx context.Context, name string, args ...interface{}) (transport.Port, error) {
	fn := c.streams[name]
	if fn == nil {
		return nil, c.unknown(name, wire.MemberStream)
	}
	return fn(ctx, args...)
}

func (c *Client) invoke(ctx context.Context, name string, args []interface{}) (json.RawMessage, error) {
	msg, err := c.request(name, args)
	if err != nil {
		return nil, err
	}
	return c.caller.Call(ctx, msg)
}

func (c *Client) stream(ctx context.Context, name string, args []interface{}) (transport.Port, error) {
	if err := c.checkArity(name, args); err != nil {
		return nil, err
	}
	local, remote, err := c.channels.OpenChannel()
	if err != nil {
		return nil, err
	}
	msg, err := wire.NewRequest(c.uri, c.tag, name, args, remote)
	if err != nil {
		local.Close()
		return nil, ipcerr.Newf(ipcerr.CodeInvalidParams, "%s.%s: %v", c.tag, name, err)
	}
	if _, err := c.caller.Call(ctx, msg); err != nil {
		local.Close()
		return nil, err
	}
	return local, nil
}

func (c *Client) request(name string, args []interface{}) (*wire.Message, error) {
	if err := c.checkArity(name, args); err != nil {
		return nil, err
	}
	msg, err := wire.NewRequest(c.uri, c.tag, name, args)
	if err != nil {
		return nil, ipcerr.Newf(ipcerr.CodeInvalidParams, "%s.%s: %v", c.tag, name, err)
	}
	return msg, nil
}

func (c *Client) checkArity(name string, args []interface{}) error {
	if want := c.arities[name]; len(args) < want {
		return ipcerr.Newf(ipcerr.CodeInvalidParams, "%s.%s expects at least %d arguments, got %d", c.tag, name, want, len(args))
	}
	return nil
}

func (c *Client) unknown(name, kind string) error {
	return ipcerr.New(ipcerr.CodeUnknownMethod, fmt.Sprintf("%s has no %s %q", c.tag, kind, name))
}
