package commsutil

import (
	"strings"

	comms "github.com/nats-io/nats.go"
)

// Default COMMS subjects.
const (
	SubjectEndpointPrefix = "ipc.endpoint"
	SubjectStreamPrefix   = "ipc.stream"
	SubjectReady          = "ipc.ready"
)

// BuildEndpointSubject derives the inbox subject of an endpoint URI.
// Bytes outside [A-Za-z0-9-] are escaped as '_' and two hex digits, so
// distinct URIs never share a subject: "https://my.dev" maps to
// "ipc.endpoint.https_3a_2f_2fmy_2edev".
func BuildEndpointSubject(uri string) string {
	return SubjectEndpointPrefix + "." + sanitizeToken(uri)
}

// BuildReadySubject builds the broadcast subject for a service ready event.
func BuildReadySubject(tag string) string {
	return SubjectReady + "." + sanitizeToken(tag)
}

// NewStreamSubject returns a fresh, unique subject for one end of a stream channel.
func NewStreamSubject() string {
	return SubjectStreamPrefix + "." + strings.TrimPrefix(comms.NewInbox(), comms.InboxPrefix)
}

const hexDigits = "0123456789abcdef"

// sanitizeToken is injective: '_' only ever starts an escape.
func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}
