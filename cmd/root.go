// Package cmd wires up the CLI flags and starts the daemon.
package cmd

import (
	"context"
	"fmt"
	"os"

	"sockproxyd/config"
	"sockproxyd/internal/daemon"
	ncerr "sockproxyd/internal/errors"
	"sockproxyd/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X sockproxyd/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses argv and runs the daemon until it stops.
//
// Flags are scanned left to right by hand rather than with a flag
// package, per spec §6: "later flags override earlier; -c may appear
// at any position and its file is merged at that point." A two-phase
// parser (flags first, file second, or vice versa) can't express that
// -c sitting between two other flags only overrides the one before it.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()

	i := 0
	for i < len(args) {
		arg := args[i]
		switch arg {
		case "-h", "--help":
			printUsage()
			return nil
		case "--version":
			fmt.Printf("sockproxyd %s\n", version)
			return nil
		case "-D":
			cfg.Debug = true
			i++
		case "-v", "--verbose":
			cfg.Verbose++
			i++
		case "--via-password":
			cfg.ViaPassword = true
			i++
		case "--via-agent":
			cfg.ViaAgent = true
			i++
		case "--strict-hostkey":
			cfg.ViaStrictHostKey = true
			i++
		case "-a":
			val, err := flagValue(args, i)
			if err != nil {
				return startupErr(arg, err)
			}
			cfg.BindAddr = val
			i += 2
		case "-p":
			val, err := flagValue(args, i)
			if err != nil {
				return startupErr(arg, err)
			}
			port, err := parsePort(val)
			if err != nil {
				return startupErr(arg, err)
			}
			cfg.Port = port
			i += 2
		case "-L":
			val, err := flagValue(args, i)
			if err != nil {
				return startupErr(arg, err)
			}
			cfg.LogFile = val
			i += 2
		case "-N", "-V":
			val, err := flagValue(args, i)
			if err != nil {
				return startupErr(arg, err)
			}
			cfg.ControllerURL = val
			i += 2
		case "-c":
			val, err := flagValue(args, i)
			if err != nil {
				return startupErr(arg, err)
			}
			if err := config.LoadFile(cfg, val); err != nil {
				return startupErr(arg, err)
			}
			i += 2
		case "--via-key":
			val, err := flagValue(args, i)
			if err != nil {
				return startupErr(arg, err)
			}
			cfg.ViaKeyPath = val
			i += 2
		case "--known-hosts":
			val, err := flagValue(args, i)
			if err != nil {
				return startupErr(arg, err)
			}
			cfg.ViaKnownHosts = val
			i += 2
		default:
			return &ncerr.FatalStartupError{Reason: fmt.Sprintf("unknown argument %q (use -h for usage)", arg)}
		}
	}

	if err := cfg.Validate(); err != nil {
		return &ncerr.FatalStartupError{Reason: "invalid configuration", Err: err}
	}

	logger, closeLog, err := openLogger(cfg)
	if err != nil {
		return &ncerr.FatalStartupError{Reason: "opening log file", Err: err}
	}
	defer closeLog()

	d := daemon.New(cfg, logger)
	return d.Run(ctx)
}

func startupErr(flag string, err error) error {
	return &ncerr.FatalStartupError{Reason: fmt.Sprintf("parsing %s", flag), Err: err}
}

// flagValue returns the argument following args[i], or an error if
// the flag was the last token.
func flagValue(args []string, i int) (string, error) {
	if i+1 >= len(args) {
		return "", fmt.Errorf("%s requires a value", args[i])
	}
	return args[i+1], nil
}

func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// openLogger builds the verbosity-scaled logger spec §6's -L names:
// "-" or unset means stderr, anything else is an append-mode file.
// Each -v raises verbosity one level above a normal base so Info/Warn
// output is never silent; -D selects the debug level outright.
func openLogger(cfg *config.Config) (*util.Logger, func(), error) {
	verbosity := int(util.LogNormal) + cfg.Verbose
	if cfg.Debug {
		verbosity = int(util.LogDebug)
	}
	if verbosity > int(util.LogDebug) {
		verbosity = int(util.LogDebug)
	}

	if cfg.LogFile == "" || cfg.LogFile == "-" {
		return util.NewLogger(verbosity), func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %q: %w", cfg.LogFile, err)
	}
	return util.NewLoggerTo(verbosity, f), func() { f.Close() }, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `sockproxyd %s – TCP proxy multiplexer for %s

Usage:
  sockproxyd [options]

Options:
  -a <addr>           bind address, "*" for all interfaces (default "*")
  -p <port>           command listener port (default 2504)
  -L <file>           log file path, "-" or unset for stderr
  -N, -V <url>        controller base URL (default http://127.0.0.1:3480)
  -D                  enable debug logging
  -c <file>           read INI config (may appear anywhere; merges at that point)
  -v, --verbose       raise log verbosity (repeatable)
  --via-key <path>    SSH private key for VIA= gateway dialing
  --via-password      prompt for an SSH password for VIA= gateway dialing
  --via-agent         use the SSH agent for VIA= gateway dialing
  --strict-hostkey    verify VIA= gateway host keys against known_hosts
  --known-hosts <path> known_hosts path for VIA= gateway host key checks
  -h, --help          show this help
  --version           print version and exit

Later flags override earlier ones; -c's file is merged at its position
in argv, so flags after -c override its values and flags before it are
overridden by it.
`, version, config.Ident)
}
