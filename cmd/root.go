// Package cmd wires up the CLI flags and starts the log server.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"esplog/config"
	"esplog/internal/core"
	"esplog/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X esplog/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the log server until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("esplog", flag.ContinueOnError)

	// ── listener ─────────────────────────────────────────────────
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "TCP port to listen on")
	fs.StringVarP(&cfg.Bind, "bind", "b", cfg.Bind, "Local address to bind (default all interfaces)")

	// ── connection handling ──────────────────────────────────────
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Maximum bytes per read")
	idleSec := fs.IntP("idle-timeout", "w", int(cfg.IdleTimeout/time.Second), "Close connections idle for this many seconds (0 = never)")
	fs.IntVar(&cfg.MaxLine, "max-line", cfg.MaxLine, "Emit unterminated lines longer than this many bytes (0 = unbounded)")

	// ── output ───────────────────────────────────────────────────
	fs.BoolVar(&cfg.PeerOnLines, "peer-on-lines", cfg.PeerOnLines, "Prefix line records with the device address")
	fs.StringVar(&cfg.Color, "color", cfg.Color, "Colour record prefixes: never, always, auto")
	verbose := fs.CountP("verbose", "v", "Increase verbosity (repeatable)")
	quiet := fs.BoolP("quiet", "q", false, "Only report errors on stderr")

	// ── SSH reverse tunnel ───────────────────────────────────────
	fs.StringVarP(&cfg.ReverseTunnelSpec, "reverse-tunnel", "R", cfg.ReverseTunnelSpec, "Expose the server through an SSH gateway [user@]host[:port]")
	fs.IntVar(&cfg.RemotePort, "remote-port", cfg.RemotePort, "Gateway port devices connect to (default same as --port)")
	fs.StringVar(&cfg.RemoteBind, "remote-bind", cfg.RemoteBind, "Gateway address to bind the forward on")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	keepAliveSec := fs.Int("keep-alive", int(cfg.KeepAlive/time.Second), "SSH keepalive interval in seconds (0 = off)")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("esplog %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	cfg.IdleTimeout = time.Duration(*idleSec) * time.Second
	cfg.KeepAlive = time.Duration(*keepAliveSec) * time.Second
	cfg.Verbose += *verbose
	if *quiet {
		cfg.Verbose = 0
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	mode, err := core.Build(cfg, os.Stdout, logger)
	if err != nil {
		return err
	}

	if dryRun {
		logger.Info("configuration OK: %s, chunk size %d", mode.Transport, cfg.ChunkSize)
		return nil
	}

	if err := mode.Run(ctx); err != nil {
		return err
	}
	logger.Verbose("metrics: %s", mode.Metrics.JSON())
	return nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `esplog – ESP32 TCP log sink v%s

Accepts plain-text log streams from devices over TCP and prints each
line with a local timestamp.

Usage:
  esplog [options]                            Listen on port 8888
  esplog -p <port> [options]                  Listen on another port
  esplog -R user@gateway [options]            Listen through an SSH gateway

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  Every option can also be set as %s<NAME>, e.g. ESPLOG_PORT=9000.
  Flags take precedence over the environment.

Examples:
  esplog                                      Log devices on :8888
  esplog -b 192.168.4.1 -w 120                Bind the AP address, drop idle devices
  esplog --color auto --peer-on-lines         Colourised, tagged lines
  esplog -R pi@bastion --remote-port 18888    Reach the sink from outside the LAN
`, config.EnvPrefix)
}
