package config

import (
	"fmt"
	"net/url"
	"time"
)

// GatewayConfig addresses the gateway
type GatewayConfig struct {
	URL   string `json:"url" yaml:"url" toml:"url"`
	Token string `json:"token,omitempty" yaml:"token,omitempty" toml:"token,omitempty"` // supports ${ENV_VAR}
}

// Validate checks the gateway address is a ws:// or wss:// URL
func (g GatewayConfig) Validate() error {
	if g.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(g.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", g.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url %q must use ws:// or wss://", g.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", g.URL)
	}
	return nil
}

// ReconnectConfig tunes the reconnect backoff
type ReconnectConfig struct {
	BaseMS int     `json:"base_ms" yaml:"base_ms" toml:"base_ms"`
	MaxMS  int     `json:"max_ms" yaml:"max_ms" toml:"max_ms"`
	Factor float64 `json:"factor" yaml:"factor" toml:"factor"`
}

// DefaultReconnectConfig returns 800ms growing by 1.7x up to 15s
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{BaseMS: 800, MaxMS: 15000, Factor: 1.7}
}

// Validate validates the reconnect configuration
func (r ReconnectConfig) Validate() error {
	if r.BaseMS < 0 || r.MaxMS < 0 {
		return fmt.Errorf("delays cannot be negative (base %dms, max %dms)", r.BaseMS, r.MaxMS)
	}
	if r.MaxMS > 0 && r.BaseMS > r.MaxMS {
		return fmt.Errorf("base_ms %d exceeds max_ms %d", r.BaseMS, r.MaxMS)
	}
	if r.Factor != 0 && r.Factor < 1 {
		return fmt.Errorf("factor must be at least 1 (got %v)", r.Factor)
	}
	return nil
}

// Base returns the first reconnect delay
func (r ReconnectConfig) Base() time.Duration {
	return time.Duration(r.BaseMS) * time.Millisecond
}

// Max returns the delay cap
func (r ReconnectConfig) Max() time.Duration {
	return time.Duration(r.MaxMS) * time.Millisecond
}

// HandshakeConfig tunes the connect handshake
type HandshakeConfig struct {
	ChallengeGraceMS int `json:"challenge_grace_ms" yaml:"challenge_grace_ms" toml:"challenge_grace_ms"`
}

// ChallengeGrace returns how long to wait for connect.challenge
func (h HandshakeConfig) ChallengeGrace() time.Duration {
	return time.Duration(h.ChallengeGraceMS) * time.Millisecond
}
