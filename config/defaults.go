package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// Every tuneable default lives here so CLI flags and environment
// loading agree.

const (
	// DefaultPort is the TCP port ESP32 firmware logs to.
	DefaultPort = 8888

	// DefaultChunkSize is the per-read buffer size.
	DefaultChunkSize = 1024

	// DefaultVerbose prints startup and shutdown diagnostics only.
	DefaultVerbose = 1

	// DefaultColor keeps records free of escape sequences.
	DefaultColor = "never"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout bounds the SSH gateway dial and handshake.
	DefaultConnTimeout = 30 * time.Second

	// DefaultKeepAliveInterval is the SSH keepalive period.
	DefaultKeepAliveInterval = 30 * time.Second
)

// Default returns a Config populated with the defaults above.
func Default() *Config {
	return &Config{
		Port:      DefaultPort,
		ChunkSize: DefaultChunkSize,
		Color:     DefaultColor,
		Verbose:   DefaultVerbose,
		KeepAlive: DefaultKeepAliveInterval,
	}
}
