package session

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"time"

	ncerr "sockproxyd/internal/errors"
	"sockproxyd/internal/metrics"
	"sockproxyd/internal/notify"
	"sockproxyd/util"
)

// RelayDeps bundles the command interpreter's Deps with the extra
// resources the per-leg goroutines need: the notification queue, the
// controller's base URL for building notification requests, metrics,
// and a logger.
type RelayDeps struct {
	*Deps
	Notify         *notify.Queue
	ControllerBase string
	Metrics        *metrics.Collector
	Logger         *util.Logger
}

// Run drives one session to completion: for a direct listener it
// first executes implicitConnLine through the command interpreter
// (spec §4.1.2), then relays client and remote legs as independent
// goroutines until either side closes, an idle timeout fires, or QUIT
// is received, and finally emits the session's closing notification.
// Run blocks until the session is fully torn down.
func (s *Session) Run(ctx context.Context, deps *RelayDeps, implicitConnLine string) {
	deps.Metrics.ConnectionOpened()
	defer deps.Metrics.ConnectionClosed()

	if implicitConnLine != "" {
		reply, _ := s.HandleSetupLine(ctx, implicitConnLine, deps.Deps)
		if !strings.HasPrefix(reply, "OK CONN") {
			deps.Logger.Error("direct listener %1: implicit CONN failed: %2", s.ID(), strings.TrimSpace(reply))
			s.Stop(&ncerr.RemoteDialError{SessionID: s.ID(), Addr: s.RemoteAddr, Err: errors.New(strings.TrimSpace(reply))})
			s.emitFinalNotify(deps)
			return
		}
	}

	if s.State() == StateEcho {
		s.startRemoteLeg(ctx, deps)
	}

	s.runClientLeg(ctx, deps)
	s.legWG.Wait()
	s.emitFinalNotify(deps)
}

func (s *Session) startRemoteLeg(ctx context.Context, deps *RelayDeps) {
	s.legWG.Add(1)
	go func() {
		defer s.legWG.Done()
		s.runRemoteLeg(ctx, deps)
	}()
}

func (s *Session) runClientLeg(ctx context.Context, deps *RelayDeps) {
	buf := util.GetBuf()
	defer util.PutBuf(buf)

	for {
		select {
		case <-s.Done():
			return
		case <-ctx.Done():
			s.Stop(ctx.Err())
			return
		default:
		}

		s.ClientConn.SetReadDeadline(deadlineFor(s.PeerTimeoutMS()))

		n, err := s.ClientConn.Read((*buf)[:s.readSize(len(*buf))])
		if n > 0 {
			s.TouchPeer()
			s.consumeClientBytes(ctx, (*buf)[:n], deps)
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			s.Stop(&ncerr.PeerIOError{SessionID: s.ID(), Err: err})
			return
		}
	}
}

// consumeClientBytes implements spec §4.2's client-leg step: in ECHO
// the bytes are relayed verbatim; in SETUP they accumulate until a
// newline completes a command line, per spec §8's boundary behavior
// ("bytes before the first \n are buffered, not treated as a
// command").
func (s *Session) consumeClientBytes(ctx context.Context, data []byte, deps *RelayDeps) {
	if s.State() == StateEcho {
		s.writeToRemote(data, deps)
		return
	}

	s.setupBuf = append(s.setupBuf, data...)
	for {
		idx := bytes.IndexByte(s.setupBuf, '\n')
		if idx < 0 {
			return
		}
		line := string(s.setupBuf[:idx])
		rest := s.setupBuf[idx+1:]
		s.setupBuf = nil

		reply, shouldClose := s.HandleSetupLine(ctx, line, deps.Deps)
		if _, werr := s.ClientConn.Write([]byte(reply)); werr != nil {
			s.Stop(&ncerr.PeerIOError{SessionID: s.ID(), Err: werr})
			return
		}

		if shouldClose {
			s.Stop(nil)
			return
		}

		if s.State() == StateEcho {
			// CONN just succeeded: it permanently stops command
			// parsing (spec §4.4), so anything left in this buffer
			// is payload, not a further command line.
			s.startRemoteLeg(ctx, deps)
			if len(rest) > 0 {
				s.writeToRemote(rest, deps)
			}
			return
		}

		s.setupBuf = rest
	}
}

func (s *Session) writeToRemote(data []byte, deps *RelayDeps) {
	if _, err := s.RemoteConn.Write(data); err != nil {
		s.Stop(&ncerr.RemoteIOError{SessionID: s.ID(), Err: err})
		return
	}
	s.AddSentToRemote(int64(len(data)))
	deps.Metrics.BytesSent(int64(len(data)))
}

func (s *Session) runRemoteLeg(ctx context.Context, deps *RelayDeps) {
	buf := util.GetBuf()
	defer util.PutBuf(buf)

	for {
		select {
		case <-s.Done():
			return
		default:
		}

		s.RemoteConn.SetReadDeadline(deadlineFor(s.RemoteTimeoutMS()))

		n, err := s.RemoteConn.Read((*buf)[:s.readSize(len(*buf))])
		if n > 0 {
			s.TouchRemote()
			if _, werr := s.ClientConn.Write((*buf)[:n]); werr != nil {
				s.Stop(&ncerr.PeerIOError{SessionID: s.ID(), Err: werr})
				return
			}
			s.AddRecvFromRemote(int64(n))
			deps.Metrics.BytesReceived(int64(n))
			s.enqueueNotify(deps)
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			s.Stop(&ncerr.RemoteIOError{SessionID: s.ID(), Err: err})
			return
		}
	}
}

func (s *Session) enqueueNotify(deps *RelayDeps) {
	b := s.Binding()
	if b.Device < 0 || deps.Notify == nil {
		return
	}
	url := notify.BuildURL(deps.ControllerBase, b.Device, b.Service, b.Action, s.Pid())
	deps.Notify.Enqueue(s, url)
}

// emitFinalNotify runs after teardown so the controller's next read
// observes the close (spec §5 ordering). If a notification was
// already queued, that entry still gets delivered once this session
// is gone (spec §4.3's drain_one handles sessions that no longer
// exist); this only needs to enqueue a fresh one when nothing was
// already pending.
func (s *Session) emitFinalNotify(deps *RelayDeps) {
	s.enqueueNotify(deps)
}

// CheckIdle enforces spec §4.1 step 3's timeout rules from the
// scheduler's periodic sweep: if either leg has exceeded its
// configured idle window, the session is stopped so the relay
// goroutines observe closed sockets on their next read.
func (s *Session) CheckIdle(now time.Time) {
	if ms := s.PeerTimeoutMS(); ms > 0 && now.Sub(s.LastPeerAt()) >= time.Duration(ms)*time.Millisecond {
		s.Stop(&ncerr.IdleTimeoutError{SessionID: s.ID(), Leg: "peer", TimeoutMS: ms})
		return
	}
	if s.State() == StateEcho {
		if ms := s.RemoteTimeoutMS(); ms > 0 && now.Sub(s.LastRemoteAt()) >= time.Duration(ms)*time.Millisecond {
			s.Stop(&ncerr.IdleTimeoutError{SessionID: s.ID(), Leg: "remote", TimeoutMS: ms})
		}
	}
}

func (s *Session) readSize(bufLen int) int {
	n := s.BlockSize()
	if n <= 0 || n > bufLen {
		return bufLen
	}
	return n
}

func deadlineFor(timeoutMS int64) time.Time {
	if timeoutMS <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
