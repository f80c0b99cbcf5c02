// Package config defines the runtime configuration for esplog and
// parses gateway specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	ncerr "esplog/internal/errors"
	"esplog/internal/sink"
	"esplog/util"
)

// Config holds every tuneable for one esplog process.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	Bind string // local bind host; empty means all interfaces
	Port int    // local TCP port

	// ── Connection handling ──────────────────────────────────────────
	ChunkSize   int
	IdleTimeout time.Duration
	MaxLine     int

	// ── Output ───────────────────────────────────────────────────────
	PeerOnLines bool
	Color       string // never, always, auto
	Verbose     int

	// ── SSH reverse tunnel ───────────────────────────────────────────
	ReverseTunnelSpec    string // raw [user@]host[:port] from -R
	ReverseTunnelEnabled bool
	TunnelUser           string
	TunnelHost           string
	TunnelPort           int
	RemoteBind           string
	RemotePort           int // 0 → same as Port
	SSHKeyPath           string
	SSHPassword          bool
	UseSSHAgent          bool
	StrictHostKey        bool
	KnownHostsPath       string
	KeepAlive            time.Duration
}

// ListenAddress is the local "host:port" to bind.
func (c *Config) ListenAddress() string {
	return util.FormatAddr(c.Bind, c.Port)
}

// EffectiveRemotePort is the gateway port devices connect to.
func (c *Config) EffectiveRemotePort() int {
	if c.RemotePort > 0 {
		return c.RemotePort
	}
	return c.Port
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "pi@gateway.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user, host, port = m[1], m[2], DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent and
// resolves the reverse tunnel spec.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &ncerr.ConfigError{
			Field: "port", Value: c.Port,
			Message: "must be between 1 and 65535",
			Hint:    fmt.Sprintf("the firmware default is %d", DefaultPort),
		}
	}
	if c.ChunkSize < 1 {
		return &ncerr.ConfigError{Field: "chunk-size", Value: c.ChunkSize, Message: "must be positive"}
	}
	if c.IdleTimeout < 0 {
		return &ncerr.ConfigError{Field: "idle-timeout", Value: c.IdleTimeout, Message: "must not be negative"}
	}
	if c.MaxLine < 0 {
		return &ncerr.ConfigError{Field: "max-line", Value: c.MaxLine, Message: "must not be negative", Hint: "0 means unbounded"}
	}
	if _, err := sink.ParseColorMode(c.Color); err != nil {
		return &ncerr.ConfigError{Field: "color", Value: c.Color, Message: err.Error()}
	}

	if c.ReverseTunnelSpec != "" {
		user, host, port, err := ParseTunnelSpec(c.ReverseTunnelSpec)
		if err != nil {
			return &ncerr.ConfigError{Field: "reverse-tunnel", Value: c.ReverseTunnelSpec, Message: err.Error()}
		}
		c.ReverseTunnelEnabled = true
		c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	}

	if c.ReverseTunnelEnabled {
		if c.TunnelHost == "" {
			return &ncerr.ConfigError{Field: "reverse-tunnel", Message: "gateway host is required", Hint: "use -R user@gateway"}
		}
		if c.RemotePort < 0 || c.RemotePort > 65535 {
			return &ncerr.ConfigError{Field: "remote-port", Value: c.RemotePort, Message: "must be between 0 and 65535"}
		}
		if c.IdleTimeout > 0 {
			return &ncerr.ConfigError{
				Field: "idle-timeout", Value: c.IdleTimeout,
				Message: "not supported through an SSH tunnel",
				Hint:    "SSH channels carry no read deadlines",
			}
		}
	} else if c.RemotePort != 0 || c.RemoteBind != "" {
		return &ncerr.ConfigError{
			Field: "remote-port", Value: c.RemotePort,
			Message: "only valid with a reverse tunnel",
			Hint:    "add -R user@gateway",
		}
	}

	return nil
}
