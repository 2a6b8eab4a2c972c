// Package events delivers service ready notifications in the way the
// hosting mode expects.
package events

// ReadyEvent is emitted when a service has finished registering its receivers.
type ReadyEvent struct {
	Tag       string `json:"tag"`
	Identity  string `json:"identity"`
	Version   string `json:"version,omitempty"`
	Timestamp string `json:"timestamp"`
}
