// Package session implements the per-connection state machine at the
// heart of sockproxyd: a Session moves from SETUP (line-oriented
// command parsing) to ECHO (transparent byte relay) and carries every
// timer, counter, and notification binding the rest of the daemon
// reads or mutates (spec §3).
package session

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"sockproxyd/config"
)

// State is a session's position in the SETUP→ECHO lifecycle.
type State int32

const (
	StateSetup State = 1
	StateEcho  State = 2
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "SETUP"
	case StateEcho:
		return "ECHO"
	default:
		return "UNKNOWN"
	}
}

// Binding is a session's notification target, set by NTFY or by a
// CONN option. Device < 0 means "no notifications".
type Binding struct {
	Device  int
	Service string
	Action  string
	Pid     string
}

// Session is one accepted connection's full state, per spec §3.
type Session struct {
	id     string
	direct bool // true for direct-listener sessions (spec §3 Listener)

	state atomic.Int32

	ClientConn net.Conn
	RemoteConn net.Conn // nil until ECHO

	PeerAddr   string
	RemoteAddr string

	// GatewaySpec is the VIA= gateway this session dialed through, if
	// any (SPEC_FULL §3 supplemental field). Empty means a direct
	// TCP dial. The gateway connection itself is owned by the pool,
	// not the session; RemoteConn's Close releases the pool
	// reference.
	GatewaySpec string

	mu sync.Mutex // guards the fields below

	blockSize       int
	peerTimeoutMS   int64
	remoteTimeoutMS int64
	notifyPaceS     int
	binding         Binding

	lastPeerTS   time.Time
	lastRemoteTS time.Time
	lastNotifyTS time.Time

	recvFromRemote atomic.Int64
	sentToRemote   atomic.Int64

	setupBuf []byte

	notifyPending atomic.Bool

	createdTS time.Time

	stopReason error // set once teardown has been decided
	stopOnce   sync.Once
	done       chan struct{}

	legWG sync.WaitGroup // tracks the remote-leg goroutine, started either up front or mid-stream on CONN success
}

// New creates a session for an accepted client connection, in SETUP
// with the setup idle timeout. direct marks a direct-listener accept,
// which starts in ECHO with no remote connection yet; Run then feeds
// the listener's implicit CONN line through the command interpreter to
// dial the remote.
func New(id string, direct bool, conn net.Conn) *Session {
	s := &Session{
		id:         id,
		direct:     direct,
		ClientConn: conn,
		PeerAddr:   conn.RemoteAddr().String(),
		blockSize:  config.DefaultBlockSize,
		createdTS:  time.Now(),
		done:       make(chan struct{}),
		binding:    Binding{Device: -1},
	}
	s.lastPeerTS = s.createdTS
	if direct {
		s.state.Store(int32(StateEcho))
	} else {
		s.state.Store(int32(StateSetup))
		s.peerTimeoutMS = config.DefaultSetupTimeoutMS
	}
	return s
}

// ── identity & state ─────────────────────────────────────────────────

func (s *Session) ID() string    { return s.id }
func (s *Session) Direct() bool  { return s.direct }
func (s *Session) State() State  { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// EnterEcho transitions SETUP→ECHO, per spec §3: peer_timeout_ms is
// replaced by remote_timeout_ms on entry.
func (s *Session) EnterEcho(remoteConn net.Conn, remoteAddr string) {
	s.mu.Lock()
	s.RemoteConn = remoteConn
	s.RemoteAddr = remoteAddr
	s.peerTimeoutMS = s.remoteTimeoutMS
	s.lastRemoteTS = time.Now()
	s.mu.Unlock()
	s.setState(StateEcho)
}

// Done returns a channel closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop marks the session for teardown with reason, idempotently, and
// closes both sockets. Safe to call from either leg's goroutine or
// the timeout sweep.
func (s *Session) Stop(reason error) {
	s.stopOnce.Do(func() {
		s.stopReason = reason
		if s.ClientConn != nil {
			s.ClientConn.Close()
		}
		if s.RemoteConn != nil {
			s.RemoteConn.Close()
		}
		close(s.done)
	})
}

// StopReason returns why the session was torn down, or nil if it is
// still live.
func (s *Session) StopReason() error { return s.stopReason }

// ── tunables (guarded; RTIM/BLKS/PACE/NTFY mutate these at any time) ──

func (s *Session) BlockSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockSize
}

func (s *Session) SetBlockSize(n int) {
	s.mu.Lock()
	s.blockSize = n
	s.mu.Unlock()
}

func (s *Session) PeerTimeoutMS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerTimeoutMS
}

func (s *Session) SetPeerTimeoutMS(ms int64) {
	s.mu.Lock()
	s.peerTimeoutMS = ms
	s.mu.Unlock()
}

func (s *Session) RemoteTimeoutMS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteTimeoutMS
}

func (s *Session) SetRemoteTimeoutMS(ms int64) {
	s.mu.Lock()
	s.remoteTimeoutMS = ms
	s.mu.Unlock()
}

// PaceSeconds implements notify.SessionRef.
func (s *Session) PaceSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyPaceS
}

func (s *Session) SetPaceSeconds(n int) {
	s.mu.Lock()
	s.notifyPaceS = n
	s.mu.Unlock()
}

func (s *Session) Binding() Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding
}

// Pid returns the session's notification pid, defaulting to its id
// when NTFY has never set one explicitly.
func (s *Session) Pid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binding.Pid == "" {
		return s.id
	}
	return s.binding.Pid
}

func (s *Session) SetBinding(b Binding) {
	s.mu.Lock()
	if b.Pid == "" {
		b.Pid = s.binding.Pid
	}
	s.binding = b
	s.mu.Unlock()
}

// ── timestamps & counters ────────────────────────────────────────────

func (s *Session) TouchPeer() {
	s.mu.Lock()
	s.lastPeerTS = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastPeerAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPeerTS
}

func (s *Session) TouchRemote() {
	s.mu.Lock()
	s.lastRemoteTS = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastRemoteAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRemoteTS
}

// LastNotifyAt implements notify.SessionRef.
func (s *Session) LastNotifyAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastNotifyTS
}

// MarkNotified implements notify.SessionRef.
func (s *Session) MarkNotified(t time.Time) {
	s.mu.Lock()
	s.lastNotifyTS = t
	s.mu.Unlock()
}

// TryClaimPending implements notify.SessionRef.
func (s *Session) TryClaimPending() bool {
	return s.notifyPending.CompareAndSwap(false, true)
}

// ClearPending implements notify.SessionRef.
func (s *Session) ClearPending() {
	s.notifyPending.Store(false)
}

func (s *Session) AddRecvFromRemote(n int64) { s.recvFromRemote.Add(n) }
func (s *Session) AddSentToRemote(n int64)   { s.sentToRemote.Add(n) }

func (s *Session) RecvFromRemote() int64 { return s.recvFromRemote.Load() }
func (s *Session) SentToRemote() int64   { return s.sentToRemote.Load() }

func (s *Session) CreatedAt() time.Time { return s.createdTS }
