package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the prefix of every supported environment variable.
// Boolean values accept "1", "true", "yes" (case-insensitive).
const EnvPrefix = "ESPLOG_"

// LoadFromEnv overlays environment variables onto cfg.  Unset, empty,
// or unparsable variables leave the existing value alone.  Call it
// before flag parsing so flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v, ok := envString("BIND"); ok {
		cfg.Bind = v
	}
	if v, ok := envInt("PORT"); ok {
		cfg.Port = v
	}
	if v, ok := envInt("CHUNK_SIZE"); ok {
		cfg.ChunkSize = v
	}
	if v, ok := envInt("IDLE_TIMEOUT"); ok {
		cfg.IdleTimeout = time.Duration(v) * time.Second
	}
	if v, ok := envInt("MAX_LINE"); ok {
		cfg.MaxLine = v
	}
	if envBool("PEER_ON_LINES") {
		cfg.PeerOnLines = true
	}
	if v, ok := envString("COLOR"); ok {
		cfg.Color = v
	}
	if v, ok := envInt("VERBOSE"); ok {
		cfg.Verbose = v
	}

	// Reverse tunnel
	if v, ok := envString("REVERSE_TUNNEL"); ok {
		cfg.ReverseTunnelSpec = v
	}
	if v, ok := envInt("REMOTE_PORT"); ok {
		cfg.RemotePort = v
	}
	if v, ok := envString("REMOTE_BIND"); ok {
		cfg.RemoteBind = v
	}
	if v, ok := envString("SSH_KEY"); ok {
		cfg.SSHKeyPath = v
	}
	if envBool("SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v, ok := envString("KNOWN_HOSTS"); ok {
		cfg.KnownHostsPath = v
	}
	if v, ok := envInt("KEEP_ALIVE"); ok {
		cfg.KeepAlive = time.Duration(v) * time.Second
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envString(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func envInt(key string) (int, bool) {
	v, ok := envString(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(EnvPrefix + key))
	return v == "1" || v == "true" || v == "yes"
}
