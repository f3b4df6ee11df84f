package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and INI parsing, mirroring the teacher's convention
// of keeping constants in one file.

const (
	// Ident is the fixed greeting identifier (spec §6).
	Ident = "TOGGLEDBITS-SOCKPROXY"

	// ProtocolVersion is the decimal integer sent in the greeting.
	ProtocolVersion = 1

	// DefaultBindAddr is "*", meaning all interfaces.
	DefaultBindAddr = "*"

	// DefaultPort is the command listener's default port.
	DefaultPort = 2504

	// DefaultControllerURL is the controller base URL used when
	// neither -N nor -V nor [host] vera is given.
	DefaultControllerURL = "http://127.0.0.1:3480"

	// DefaultBlockSize is a session's default max bytes per read.
	DefaultBlockSize = 2048

	// DefaultSetupTimeoutMS is peer_timeout_ms while a session is in
	// SETUP, protecting against a stalled setup handshake.
	DefaultSetupTimeoutMS = 30000

	// StatTimeoutMS bounds the "effectively infinite" timeout STAT
	// grants its caller (spec §9: bounded, not truly infinite).
	StatTimeoutMS = 60 * 60 * 1000

	// NotifyHTTPTimeout is the total budget for one notification GET.
	NotifyHTTPTimeout = 5 * time.Second

	// DefaultSSHPort is the standard SSH port, used when a gateway
	// spec omits one.
	DefaultSSHPort = 22

	// DefaultGatewayTimeoutS is the SSH dial timeout in seconds.
	DefaultGatewayTimeoutS = 30

	// TickFastInterval is the scheduler's wait ceiling when the
	// notification queue is non-empty (spec §4.1).
	TickFastInterval = 1 * time.Second

	// TickSlowInterval is the scheduler's wait ceiling otherwise.
	TickSlowInterval = 5 * time.Second
)
