// Package peers maps endpoint identities to bus subjects using a peer
// manifest loaded from JSON or YAML.
package peers

import (
	"sort"

	"github.com/morezero/vault-ipc/pkg/commsutil"
)

// Peer is one known endpoint in the manifest.
type Peer struct {
	// Subject overrides the derived bus subject of the endpoint.
	Subject     string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// NotifyReady marks a peer that receives ready notifications in peer mode.
	NotifyReady bool `json:"notifyReady,omitempty" yaml:"notifyReady,omitempty"`
}

// Manifest is the root peer manifest.
type Manifest struct {
	Name    string            `json:"name" yaml:"name"`
	Version string            `json:"version" yaml:"version"`
	Peers   map[string]Peer   `json:"peers" yaml:"peers"`
	Aliases map[string]string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Directory provides fast lookup of manifest peers.
type Directory struct {
	name    string
	version string
	peers   map[string]*Peer
	aliases map[string]string
}

// Get returns a peer by URI or alias.
func (d *Directory) Get(ref string) *Peer {
	if p, ok := d.peers[ref]; ok {
		return p
	}
	if resolved, ok := d.aliases[ref]; ok {
		if p, ok := d.peers[resolved]; ok {
			return p
		}
	}
	return nil
}

// ResolveAlias resolves an alias to the peer URI. Unknown refs are returned unchanged.
func (d *Directory) ResolveAlias(ref string) string {
	if resolved, ok := d.aliases[ref]; ok {
		return resolved
	}
	return ref
}

// Subject returns the bus subject of uri: the manifest subject when one is
// set, otherwise the derived endpoint subject.
func (d *Directory) Subject(uri string) string {
	uri = d.ResolveAlias(uri)
	if p := d.peers[uri]; p != nil && p.Subject != "" {
		return p.Subject
	}
	return commsutil.BuildEndpointSubject(uri)
}

// ReadyTargets lists the URIs of peers flagged for ready notifications, sorted.
func (d *Directory) ReadyTargets() []string {
	var out []string
	for uri, p := range d.peers {
		if p.NotifyReady {
			out = append(out, uri)
		}
	}
	sort.Strings(out)
	return out
}

// List returns all peers keyed by URI.
func (d *Directory) List() map[string]*Peer {
	return d.peers
}

// Name returns the manifest name.
func (d *Directory) Name() string {
	return d.name
}

// Version returns the manifest version.
func (d *Directory) Version() string {
	return d.version
}
