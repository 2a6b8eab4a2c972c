// Package config provides node configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/vault-ipc/pkg/events"
	"github.com/morezero/vault-ipc/pkg/semver"
)

const logPrefix = "config:LoadConfig"

// Config holds vault-ipc configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"vault-ipc"`

	// Endpoint identity and peers
	Identity       string   `envconfig:"IPC_IDENTITY" default:"vault://vault-ipc"`
	PeersFile      string   `envconfig:"IPC_PEERS_FILE"`
	AllowedOrigins []string `envconfig:"IPC_ALLOWED_ORIGINS"`

	// Calls (CALL_TIMEOUT 0 = wait until the peer answers)
	CallTimeout        time.Duration `envconfig:"CALL_TIMEOUT" default:"0s"`
	ProtocolConstraint string        `envconfig:"PROTOCOL_CONSTRAINT" default:"^1"`

	// Ready notifications: peer | broadcast | none
	ReadyMode    string   `envconfig:"READY_MODE" default:"peer"`
	ReadyTargets []string `envconfig:"READY_TARGETS"`

	// Inbound rate limit per service tag (0 = unlimited)
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"0"`

	// Command line client
	CLIIdentity string        `envconfig:"IPC_CLI_IDENTITY" default:"vault://vault-ipc-cli"`
	CLITimeout  time.Duration `envconfig:"IPC_CLI_TIMEOUT" default:"10s"`

	// HTTP health endpoint (HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr           string        `envconfig:"HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running a node.
func (c *Config) ValidateForServe() error {
	if c.Identity == "" {
		return fmt.Errorf("%s - IPC_IDENTITY is required for serve", logPrefix)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("%s - CALL_TIMEOUT must not be negative", logPrefix)
	}
	if c.ProtocolConstraint != "" {
		if err := semver.ValidateRange(c.ProtocolConstraint); err != nil {
			return fmt.Errorf("%s - PROTOCOL_CONSTRAINT: %w", logPrefix, err)
		}
	}
	switch c.ReadyMode {
	case events.ModePeer, events.ModeBroadcast, events.ModeNone:
	default:
		return fmt.Errorf("%s - READY_MODE must be peer, broadcast or none, got %q", logPrefix, c.ReadyMode)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("%s - RATE_LIMIT_RPS must not be negative", logPrefix)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		return fmt.Errorf("%s - RATE_LIMIT_BURST must be positive when RATE_LIMIT_RPS is set", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	return nil
}

// ValidateForClient checks required config when running client commands (describe, call).
func (c *Config) ValidateForClient() error {
	if c.CLIIdentity == "" {
		return fmt.Errorf("%s - IPC_CLI_IDENTITY is required", logPrefix)
	}
	if c.CLIIdentity == c.Identity {
		return fmt.Errorf("%s - IPC_CLI_IDENTITY must differ from IPC_IDENTITY", logPrefix)
	}
	if c.CLITimeout <= 0 {
		return fmt.Errorf("%s - IPC_CLI_TIMEOUT must be positive", logPrefix)
	}
	return nil
}
