package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Listener(t *testing.T) {
	t.Setenv("ESPLOG_BIND", "192.168.4.1")
	t.Setenv("ESPLOG_PORT", "9999")
	cfg := Default()
	LoadFromEnv(cfg)
	if cfg.Bind != "192.168.4.1" || cfg.Port != 9999 {
		t.Errorf("got bind %q port %d", cfg.Bind, cfg.Port)
	}
}

func TestLoadFromEnv_Handling(t *testing.T) {
	t.Setenv("ESPLOG_CHUNK_SIZE", "256")
	t.Setenv("ESPLOG_IDLE_TIMEOUT", "90")
	t.Setenv("ESPLOG_MAX_LINE", "4096")
	t.Setenv("ESPLOG_PEER_ON_LINES", "yes")
	t.Setenv("ESPLOG_COLOR", "auto")
	t.Setenv("ESPLOG_VERBOSE", "3")

	cfg := Default()
	LoadFromEnv(cfg)

	if cfg.ChunkSize != 256 {
		t.Errorf("ChunkSize = %d", cfg.ChunkSize)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Errorf("IdleTimeout = %v", cfg.IdleTimeout)
	}
	if cfg.MaxLine != 4096 {
		t.Errorf("MaxLine = %d", cfg.MaxLine)
	}
	if !cfg.PeerOnLines {
		t.Error("PeerOnLines should be true")
	}
	if cfg.Color != "auto" {
		t.Errorf("Color = %q", cfg.Color)
	}
	if cfg.Verbose != 3 {
		t.Errorf("Verbose = %d", cfg.Verbose)
	}
}

func TestLoadFromEnv_Booleans(t *testing.T) {
	for _, v := range []string{"1", "true", "yes", "TRUE", "Yes"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("ESPLOG_STRICT_HOSTKEY", v)
			cfg := Default()
			LoadFromEnv(cfg)
			if !cfg.StrictHostKey {
				t.Error("StrictHostKey should be true")
			}
		})
	}
	t.Run("no", func(t *testing.T) {
		t.Setenv("ESPLOG_STRICT_HOSTKEY", "no")
		cfg := Default()
		LoadFromEnv(cfg)
		if cfg.StrictHostKey {
			t.Error("StrictHostKey should stay false")
		}
	})
}

func TestLoadFromEnv_ReverseTunnel(t *testing.T) {
	t.Setenv("ESPLOG_REVERSE_TUNNEL", "pi@gw:2222")
	t.Setenv("ESPLOG_REMOTE_PORT", "18888")
	t.Setenv("ESPLOG_REMOTE_BIND", "0.0.0.0")
	t.Setenv("ESPLOG_SSH_KEY", "/home/pi/.ssh/id_ed25519")
	t.Setenv("ESPLOG_SSH_PASSWORD", "1")
	t.Setenv("ESPLOG_SSH_AGENT", "true")
	t.Setenv("ESPLOG_KNOWN_HOSTS", "/etc/ssh/known_hosts")
	t.Setenv("ESPLOG_KEEP_ALIVE", "15")

	cfg := Default()
	LoadFromEnv(cfg)

	if cfg.ReverseTunnelSpec != "pi@gw:2222" {
		t.Errorf("ReverseTunnelSpec = %q", cfg.ReverseTunnelSpec)
	}
	if cfg.RemotePort != 18888 || cfg.RemoteBind != "0.0.0.0" {
		t.Errorf("remote = %q:%d", cfg.RemoteBind, cfg.RemotePort)
	}
	if cfg.SSHKeyPath != "/home/pi/.ssh/id_ed25519" || !cfg.SSHPassword || !cfg.UseSSHAgent {
		t.Errorf("ssh auth fields not loaded: %+v", cfg)
	}
	if cfg.KnownHostsPath != "/etc/ssh/known_hosts" {
		t.Errorf("KnownHostsPath = %q", cfg.KnownHostsPath)
	}
	if cfg.KeepAlive != 15*time.Second {
		t.Errorf("KeepAlive = %v", cfg.KeepAlive)
	}
}

func TestLoadFromEnv_NoOverrideWhenUnset(t *testing.T) {
	cfg := &Config{Bind: "original", Port: 1234}
	LoadFromEnv(cfg)
	if cfg.Bind != "original" || cfg.Port != 1234 {
		t.Errorf("values overridden: %+v", cfg)
	}
}

func TestLoadFromEnv_InvalidIntIgnored(t *testing.T) {
	t.Setenv("ESPLOG_PORT", "not-a-number")
	cfg := Default()
	LoadFromEnv(cfg)
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want default %d", cfg.Port, DefaultPort)
	}
}
