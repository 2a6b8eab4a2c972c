package peers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const logPrefix = "peers:loader"

// LoadManifest loads the peer manifest from file paths or environment.
// It tries paths in order: first any paths passed in, then IPC_PEERS_FILE env, then defaults.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func LoadManifest(paths ...string) (*Manifest, error) {
	all := make([]string, 0, len(paths)+5)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("IPC_PEERS_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/peers.yaml", "config/peers.json", "peers.yaml", "peers.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		m, err := ParseManifest(p, data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse peers file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded %d peers from %s", logPrefix, len(m.Peers), p))
		return m, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default peer manifest", logPrefix))
	return GetDefaultManifest(), nil
}

// ParseManifest decodes a manifest, choosing the format from the file name.
func ParseManifest(name string, data []byte) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s - invalid YAML manifest: %w", logPrefix, err)
		}
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s - invalid JSON manifest: %w", logPrefix, err)
		}
	}
	for alias, target := range m.Aliases {
		if _, ok := m.Peers[target]; !ok {
			return nil, fmt.Errorf("%s - alias %q points to unknown peer %q", logPrefix, alias, target)
		}
	}
	return &m, nil
}

// GetDefaultManifest returns the fallback manifest: no peers, every subject derived.
func GetDefaultManifest() *Manifest {
	return &Manifest{
		Name:    "vault-ipc-peers",
		Version: "1.0.0",
		Peers:   map[string]Peer{},
		Aliases: map[string]string{},
	}
}

// NewDirectory builds a Directory for fast lookups.
func NewDirectory(m *Manifest) *Directory {
	peers := make(map[string]*Peer, len(m.Peers))
	for uri, p := range m.Peers {
		p := p
		peers[uri] = &p
	}

	aliases := make(map[string]string, len(m.Aliases))
	for alias, target := range m.Aliases {
		aliases[alias] = target
	}

	return &Directory{
		name:    m.Name,
		version: m.Version,
		peers:   peers,
		aliases: aliases,
	}
}

// MergeManifests merges an override manifest into a base manifest.
func MergeManifests(base, override *Manifest) *Manifest {
	merged := *base

	merged.Peers = make(map[string]Peer, len(base.Peers)+len(override.Peers))
	for uri, p := range base.Peers {
		merged.Peers[uri] = p
	}
	for uri, p := range override.Peers {
		merged.Peers[uri] = p
	}

	merged.Aliases = make(map[string]string, len(base.Aliases)+len(override.Aliases))
	for alias, target := range base.Aliases {
		merged.Aliases[alias] = target
	}
	for alias, target := range override.Aliases {
		merged.Aliases[alias] = target
	}

	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Version != "" {
		merged.Version = override.Version
	}
	return &merged
}
