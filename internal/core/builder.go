package core

import (
	"io"
	"os/user"

	"esplog/config"
	"esplog/internal/handler"
	"esplog/internal/metrics"
	"esplog/internal/sink"
	"esplog/internal/transport"
	"esplog/tunnel"
	"esplog/util"
)

// Build assembles a ListenMode from a validated configuration.  Records
// go to out; diagnostics go to logger.
func Build(cfg *config.Config, out io.Writer, logger *util.Logger) (*ListenMode, error) {
	mode, err := sink.ParseColorMode(cfg.Color)
	if err != nil {
		return nil, err
	}
	s := sink.New(out, sink.Options{Color: mode, PeerOnLines: cfg.PeerOnLines})
	m := metrics.New()

	return &ListenMode{
		Transport: buildTransport(cfg, logger),
		Handler: &handler.Handler{
			Sink:        s,
			Metrics:     m,
			Logger:      logger,
			ChunkSize:   cfg.ChunkSize,
			IdleTimeout: cfg.IdleTimeout,
			MaxLine:     cfg.MaxLine,
		},
		Sink:    s,
		Metrics: m,
		Logger:  logger,
	}, nil
}

// buildTransport picks a local TCP port or an SSH remote forward.
func buildTransport(cfg *config.Config, logger *util.Logger) transport.Listener {
	if !cfg.ReverseTunnelEnabled {
		return &transport.TCPListener{Address: cfg.ListenAddress()}
	}

	sshUser := cfg.TunnelUser
	if sshUser == "" {
		if u, err := user.Current(); err == nil {
			sshUser = u.Username
		}
	}

	return &transport.SSHListener{
		SSH: &tunnel.SSHConfig{
			User:          sshUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultConnTimeout,
			KeepAlive:     cfg.KeepAlive,
		},
		RemoteBind: cfg.RemoteBind,
		RemotePort: cfg.EffectiveRemotePort(),
		Logger:     logger,
	}
}
