// Package cmd wires up the CLI flags and runs the WebSocket proxy.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"wsproxy/config"
	"wsproxy/internal/core"
	"wsproxy/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X wsproxy/cmd.version=1.1.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives --version and --dry-run output; tests swap it.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// cliOpts are the flags that steer the CLI itself rather than the proxy.
type cliOpts struct {
	configFile  string
	verbose     int // -v count, added to the configured level
	dryRun      bool
	showVersion bool
	showHelp    bool
}

// Execute parses args and runs the server until ctx is cancelled.
//
// Settings are layered defaults < config file < WSPROXY_* environment <
// flags.  The flags are parsed twice: once to find --config, then over
// the file and environment values so that only flags actually given
// override them.
func Execute(ctx context.Context, args []string) error {
	var opts cliOpts

	probe := newFlagSet(config.Default(), &opts)
	if err := probe.Parse(args); err != nil {
		return err
	}
	if opts.showHelp || len(args) == 0 {
		printUsage(probe)
		return nil
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "wsproxy %s\n", version)
		return nil
	}
	if probe.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", probe.Arg(0))
	}

	// ── layer the configuration ──────────────────────────────────
	cfg := config.Default()
	if opts.configFile != "" {
		if err := config.LoadFile(opts.configFile, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)
	if err := newFlagSet(cfg, &opts).Parse(args); err != nil {
		return err
	}
	cfg.Verbose += opts.verbose

	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build & run ──────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	if opts.dryRun {
		fmt.Fprintf(stdout, "wsproxy: would listen on %s, %s\n", cfg.Addr(), mode.Summary)
		return nil
	}
	return mode.Run(ctx)
}

// newFlagSet binds every flag to cfg, using cfg's current values as the
// defaults.
func newFlagSet(cfg *config.Config, opts *cliOpts) *flag.FlagSet {
	fs := flag.NewFlagSet("wsproxy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// ── listener ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.Host, "host", "H", cfg.Host, "Listen address")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Listen port")
	fs.DurationVar(&cfg.CloseTimeout, "close-timeout", cfg.CloseTimeout, "Grace period for each connection's close handshake")
	fs.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Timeout for the HTTP upgrade")
	fs.Int64Var(&cfg.ReadLimit, "read-limit", cfg.ReadLimit, "Maximum message size in bytes (0 = unlimited)")
	fs.StringSliceVar(&cfg.AllowedOrigins, "origin", cfg.AllowedOrigins, "Allowed browser origin (repeatable)")

	// ── session handler ──────────────────────────────────────────
	fs.StringVarP(&cfg.Upstream, "upstream", "u", cfg.Upstream, "Relay every session to host:port")
	fs.BoolVar(&cfg.PathTarget, "path-target", cfg.PathTarget, "Relay to the /host/port named in the request path")
	fs.BoolVar(&cfg.Echo, "echo", cfg.Echo, "Echo every message back")
	fs.StringVarP(&cfg.Execute, "exec", "e", cfg.Execute, "Run program per session, bound to its stdio")
	fs.StringVarP(&cfg.Command, "command", "c", cfg.Command, "Run shell command per session, bound to its stdio")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Timeout for one upstream dial")
	fs.IntVar(&cfg.DialAttempts, "dial-attempts", cfg.DialAttempts, "Upstream dial attempts per session")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Dial upstreams through SSH [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&opts.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cfg.Stats, "stats", cfg.Stats, "Log connection statistics on shutdown")

	// ── CLI ──────────────────────────────────────────────────────
	fs.StringVarP(&opts.configFile, "config", "f", opts.configFile, "YAML config file")
	fs.BoolVar(&cfg.Watch, "watch", cfg.Watch, "Reload allowed origins when the config file changes")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&opts.showHelp, "help", "h", false, "Show this help")

	return fs
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `wsproxy – WebSocket server with graceful shutdown v%s

Usage:
  wsproxy -u <host:port> [options]            Relay to a fixed upstream
  wsproxy --path-target [options]             Relay to /host/port
  wsproxy --echo [options]                    Echo messages back
  wsproxy -e <program> | -c <cmd> [options]   Bind sessions to a process

Options:
`, version)
	fs.SetOutput(os.Stderr)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  wsproxy -u db.internal:5432                 Relay on localhost:8667
  wsproxy -H 0.0.0.0 -p 9000 --echo           Public echo server
  wsproxy --path-target -T admin@bastion      Relay through an SSH gateway
  wsproxy -f wsproxy.yaml --watch             Config file, live origins
`)
}
