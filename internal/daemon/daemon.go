// Package daemon wires the session, notify, transport, and tunnel
// packages into one running sockproxyd: spec §9's "cyclic reference"
// note (the session needs the registry, the registry needs the
// session) and "global state as a Daemon value" note both resolve
// here, in a single struct instead of package-level variables.
package daemon

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"sockproxyd/config"
	"sockproxyd/internal/metrics"
	"sockproxyd/internal/notify"
	"sockproxyd/internal/session"
	"sockproxyd/internal/transport"
	"sockproxyd/tunnel"
	"sockproxyd/util"
)

// Daemon holds one sockproxyd run's full state: its configuration, the
// live session registry, the notification queue and its HTTP client,
// the SSH gateway pool, and the keep_going flag STOP clears.
type Daemon struct {
	Config  *config.Config
	Logger  *util.Logger
	Metrics *metrics.Collector

	sessions     *util.SyncMap[string, *session.Session]
	idGen        *session.IDGenerator
	notify       *notify.Queue
	notifyClient *notify.Client
	pool         *tunnel.Pool
	tcpDialer    *transport.TCPDialer

	keepGoing atomic.Bool

	mu        sync.Mutex
	listeners []net.Listener
}

// New builds a Daemon ready to Run. cfg must already be validated.
func New(cfg *config.Config, logger *util.Logger) *Daemon {
	collector := metrics.New()
	d := &Daemon{
		Config:  cfg,
		Logger:  logger,
		Metrics: collector,

		sessions:  util.NewSyncMap[string, *session.Session](),
		idGen:     session.NewIDGenerator(),
		pool:      tunnel.NewPool(logger, collector),
		tcpDialer: &transport.TCPDialer{},
	}
	d.notify = notify.NewQueue(d)
	d.notifyClient = notify.NewClient(logger, d.Metrics)
	d.keepGoing.Store(true)
	return d
}

// Lookup implements notify.Registry, so the drain loop can tell a live
// session from one that has already been torn down.
func (d *Daemon) Lookup(id string) (notify.SessionRef, bool) {
	s, ok := d.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// RangeSessions implements session.Deps.RangeSessions, feeding STAT.
func (d *Daemon) RangeSessions(yield func(*session.Session) bool) {
	d.sessions.Range(func(_ string, s *session.Session) bool { return yield(s) })
}

// RequestStop implements session.Deps.RequestStop (the STOP command):
// it only clears keep_going. Per spec §4.1, the scheduler loop is what
// notices the flag, finishes its current tick, force-closes every
// session, and only then closes the listeners.
func (d *Daemon) RequestStop() {
	d.keepGoing.Store(false)
}

func (d *Daemon) trackListener(ln net.Listener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, ln)
	d.mu.Unlock()
}

func (d *Daemon) closeListeners() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ln := range d.listeners {
		ln.Close()
	}
}

func (d *Daemon) stopAllSessions() {
	d.sessions.Range(func(_ string, s *session.Session) bool {
		s.Stop(nil)
		return true
	})
}

// Dial implements session.Deps.Dial: a plain TCP dial when via is
// empty (the common case), or a pooled SSH gateway dial when a CONN
// option or direct-listener line specified VIA= (spec §10.1).
func (d *Daemon) Dial(ctx context.Context, network, address, via string) (net.Conn, error) {
	if via == "" {
		return d.tcpDialer.Dial(ctx, network, address)
	}

	user, host, port, err := config.ParseGatewaySpec(via)
	if err != nil {
		return nil, err
	}
	gw := &tunnel.SSHConfig{
		User:          user,
		Host:          host,
		Port:          port,
		KeyPath:       d.Config.ViaKeyPath,
		PromptPass:    d.Config.ViaPassword,
		UseAgent:      d.Config.ViaAgent,
		StrictHostKey: d.Config.ViaStrictHostKey,
		KnownHosts:    d.Config.ViaKnownHosts,
		ConnTimeout:   time.Duration(d.Config.GatewayTimeoutS) * time.Second,
	}
	return transport.NewGatewayDialer(d.pool, gw, d.Logger).Dial(ctx, network, address)
}

func (d *Daemon) deps() *session.Deps {
	return &session.Deps{
		Config:        d.Config,
		Dial:          d.Dial,
		RangeSessions: d.RangeSessions,
		RequestStop:   d.RequestStop,
	}
}

func (d *Daemon) relayDeps() *session.RelayDeps {
	return &session.RelayDeps{
		Deps:           d.deps(),
		Notify:         d.notify,
		ControllerBase: d.Config.ControllerURL,
		Metrics:        d.Metrics,
		Logger:         d.Logger,
	}
}
