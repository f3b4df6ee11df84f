package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"sockproxyd/config"
)

// Deps wires the command interpreter to daemon-level resources without
// the session package importing transport, tunnel, or the daemon's
// registry directly.
type Deps struct {
	Config *config.Config

	// Dial opens network:address, optionally through the gateway
	// named by via (empty string for a plain dial).
	Dial func(ctx context.Context, network, address, via string) (net.Conn, error)

	// RangeSessions iterates every live session for STAT; yield
	// returning false stops iteration early.
	RangeSessions func(yield func(*Session) bool)

	// RequestStop sets the daemon's keep_going flag false (STOP).
	RequestStop func()
}

const helpText = `OK HELP
CONN host:port [RTIM=ms] [BLKS=n] [PACE=s] [NTFY=dev/sid/act[/pid]] [VIA=gw] - dial remote, enter ECHO
NTFY dev sid act [pid] - set notification binding
RTIM ms - set remote leg idle timeout
BLKS nbytes - set max bytes per read
PACE seconds - set minimum seconds between notifications
STAT - list live sessions
CAPA - list supported CONN options
QUIT - close this session
STOP - shut down the daemon
`

// HandleSetupLine parses and executes one newline-stripped command
// line per spec §4.4, returning the full reply (including trailing
// \n) and whether the session should close after it is written.
func (s *Session) HandleSetupLine(ctx context.Context, line string, deps *Deps) (reply string, shouldClose bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERR INVALID COMMAND\n", false
	}

	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "CONN":
		return s.handleConn(ctx, args, deps)
	case "NTFY":
		return s.handleNtfy(args)
	case "RTIM":
		return s.handleRtim(args)
	case "PACE":
		return s.handlePace(args)
	case "BLKS":
		return s.handleBlks(args)
	case "STAT":
		return s.handleStat(deps), false
	case "CAPA":
		return "OK CAPA BLKS RTIM NTFY CONN VIA\n", false
	case "HELP":
		return helpText, false
	case "QUIT":
		return "OK QUIT\n", true
	case "STOP":
		if deps.RequestStop != nil {
			deps.RequestStop()
		}
		return "OK STOP\n", false
	default:
		return "ERR INVALID COMMAND\n", false
	}
}

func (s *Session) handleConn(ctx context.Context, args []string, deps *Deps) (string, bool) {
	if len(args) == 0 {
		return "ERR CONN Missing host:port\n", false
	}

	host, portStr, err := splitHostPort(args[0])
	if err != nil {
		return fmt.Sprintf("ERR CONN %s\n", err), false
	}

	via := s.GatewaySpec
	binding := s.Binding()
	blockSize := s.BlockSize()
	remoteTimeout := s.RemoteTimeoutMS()
	pace := s.PaceSeconds()

	for _, tok := range args[1:] {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			return fmt.Sprintf("ERR CONN Invalid option %s\n", tok), false
		}
		key, val := kv[0], kv[1]
		switch key {
		case "RTIM":
			n, perr := strconv.ParseInt(val, 10, 64)
			if perr != nil || n < 0 {
				return fmt.Sprintf("ERR CONN Invalid option %s\n", tok), false
			}
			remoteTimeout = n
		case "BLKS":
			n, perr := strconv.Atoi(val)
			if perr != nil || n <= 0 {
				return fmt.Sprintf("ERR CONN Invalid option %s\n", tok), false
			}
			blockSize = n
		case "PACE":
			n, perr := strconv.ParseFloat(val, 64)
			if perr != nil || n < 0 {
				return fmt.Sprintf("ERR CONN Invalid option %s\n", tok), false
			}
			pace = int(n)
		case "NTFY":
			b, perr := parseNtfyValue(val)
			if perr != nil {
				return fmt.Sprintf("ERR CONN Invalid option %s\n", tok), false
			}
			binding = b
		case "VIA":
			via = val
		default:
			return fmt.Sprintf("ERR CONN Invalid option %s\n", tok), false
		}
	}

	if deps.Config != nil && via != "" {
		via = deps.Config.ResolveVia(via)
	}

	remoteAddr := host + ":" + portStr
	conn, err := deps.Dial(ctx, "tcp", remoteAddr, via)
	if err != nil {
		return fmt.Sprintf("ERR CONN %s\n", err), false
	}

	s.SetBlockSize(blockSize)
	s.SetRemoteTimeoutMS(remoteTimeout)
	s.SetPaceSeconds(pace)
	s.SetBinding(binding)
	s.GatewaySpec = via
	s.EnterEcho(conn, remoteAddr)

	return fmt.Sprintf("OK CONN %s\n", s.Pid()), false
}

func (s *Session) handleNtfy(args []string) (string, bool) {
	if len(args) < 3 {
		return "ERR NTFY Missing arguments\n", false
	}
	dev, err := strconv.Atoi(args[0])
	if err != nil {
		dev = -1
	}
	b := Binding{Device: dev, Service: args[1], Action: args[2]}
	if len(args) >= 4 {
		b.Pid = args[3]
	}
	s.SetBinding(b)
	return "OK NTFY\n", false
}

func (s *Session) handleRtim(args []string) (string, bool) {
	if len(args) != 1 {
		return "ERR RTIM Missing value\n", false
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || n < 0 {
		return "ERR RTIM Invalid value\n", false
	}
	s.SetRemoteTimeoutMS(n)
	return "OK RTIM\n", false
}

func (s *Session) handlePace(args []string) (string, bool) {
	if len(args) != 1 {
		return "ERR PACE Invalid pace\n", false
	}
	n, err := strconv.ParseFloat(args[0], 64)
	if err != nil || n < 0 {
		return "ERR PACE Invalid pace\n", false
	}
	s.SetPaceSeconds(int(n))
	return "OK PACE\n", false
}

func (s *Session) handleBlks(args []string) (string, bool) {
	if len(args) != 1 {
		return "ERR BLKS Invalid value\n", false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return "ERR BLKS Invalid value\n", false
	}
	s.SetBlockSize(n)
	return "OK BLKS\n", false
}

func (s *Session) handleStat(deps *Deps) string {
	s.SetPeerTimeoutMS(config.StatTimeoutMS)
	return FormatStat(s, deps.RangeSessions)
}

// splitHostPort implements spec §4.4's CONN grammar: host is any
// non-":" sequence, port is decimal digits, joined by exactly one ":".
func splitHostPort(addr string) (host, port string, err error) {
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("Invalid address %s", addr)
	}
	if !isDecimalDigits(parts[1]) {
		return "", "", fmt.Errorf("Invalid port %s", parts[1])
	}
	return parts[0], parts[1], nil
}

func isDecimalDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// parseNtfyValue parses CONN's NTFY=dev/sid/act[/pid] option value.
func parseNtfyValue(val string) (Binding, error) {
	parts := strings.Split(val, "/")
	if len(parts) < 3 {
		return Binding{}, fmt.Errorf("malformed NTFY option")
	}
	dev, err := strconv.Atoi(parts[0])
	if err != nil {
		dev = -1
	}
	b := Binding{Device: dev, Service: parts[1], Action: parts[2]}
	if len(parts) >= 4 {
		b.Pid = parts[3]
	}
	return b, nil
}
