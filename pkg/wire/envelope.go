// Package wire defines the JSON envelope exchanged between IPC peers.
package wire

import (
	"encoding/json"
	"strings"
)

// Built-in receiver names every service answers.
const (
	CallInit         = "init"
	CallGetInterface = "getInterface"
)

// ReadyPrefix prefixes the callback of a service ready notification.
const ReadyPrefix = "init-"

// Member types of an interface descriptor entry.
const (
	MemberMethod = "method"
	MemberStream = "stream"
)

// Message is the single envelope used for requests, responses and ready
// notifications. Its shape decides who handles it:
//
//	request:  {target, payload: {call, args, tag}, transfer, callback}
//	response: {target, callback, result} or {target, callback, error}
//	ready:    {target, callback: "init-<identity>"}
type Message struct {
	Target   string          `json:"target,omitempty"`
	Callback string          `json:"callback,omitempty"`
	Payload  *Payload        `json:"payload,omitempty"`
	Transfer []PortRef       `json:"transfer,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *string         `json:"error,omitempty"`
}

// Payload is the body of a request.
type Payload struct {
	Call string            `json:"call"`
	Args []json.RawMessage `json:"args"`
	Tag  string            `json:"tag"`
}

// PortRef identifies one end of a stream channel pair by the bus subjects
// it receives on and sends to.
type PortRef struct {
	Recv string `json:"recv"`
	Send string `json:"send"`
}

// Member describes one externally callable member of a service.
type Member struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Arity int    `json:"arity"`
}

// InitResult is returned by the built-in init receiver.
type InitResult struct {
	Protocol string `json:"protocol"`
	Version  string `json:"version,omitempty"`
}

// IsRequest reports whether m carries a service call.
func (m *Message) IsRequest() bool {
	return m.Payload != nil && m.Payload.Tag != "" && m.Payload.Call != ""
}

// IsReady reports whether m is a service ready notification.
func (m *Message) IsReady() bool {
	return m.Payload == nil && m.Result == nil && m.Error == nil &&
		strings.HasPrefix(m.Callback, ReadyPrefix)
}

// IsResponse reports whether m answers a correlated call.
func (m *Message) IsResponse() bool {
	return m.Payload == nil && m.Callback != "" && !m.IsReady()
}

// ReadyOrigin returns the identity announced by a ready notification.
func (m *Message) ReadyOrigin() string {
	return strings.TrimPrefix(m.Callback, ReadyPrefix)
}

// NewRequest builds a request envelope. Args are JSON encoded in order.
func NewRequest(target, tag, call string, args []interface{}, transfer ...PortRef) (*Message, error) {
	encoded, err := EncodeArgs(args)
	if err != nil {
		return nil, err
	}
	return &Message{
		Target:   target,
		Payload:  &Payload{Call: call, Args: encoded, Tag: tag},
		Transfer: transfer,
	}, nil
}

// NewResult builds a success response. A nil result is sent as JSON null.
func NewResult(target, callback string, result json.RawMessage) *Message {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &Message{Target: target, Callback: callback, Result: result}
}

// NewError builds an error response.
func NewError(target, callback, errText string) *Message {
	return &Message{Target: target, Callback: callback, Error: &errText}
}

// NewReady builds the ready notification sent by a service under identity.
func NewReady(target, identity string) *Message {
	return &Message{Target: target, Callback: ReadyPrefix + identity}
}
