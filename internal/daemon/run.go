package daemon

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"sockproxyd/config"
	"sockproxyd/internal/session"
)

// Run blocks until the daemon stops, either because a session ran
// STOP (spec §4.1/§8 S7) or ctx was cancelled (SIGINT/SIGTERM at the
// main-loop level). It returns a non-nil error only for a listener
// bind failure (spec §6's "pre-flight failure" exit path).
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go d.pool.Run(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.ListenCommand(gctx) })
	for port, line := range d.Config.DirectListeners {
		port, line := port, line
		g.Go(func() error { return d.ListenDirect(gctx, port, line) })
	}
	g.Go(func() error {
		d.schedulerLoop(gctx)
		return nil
	})

	err := g.Wait()
	d.pool.Stop()
	return err
}

// schedulerLoop implements spec §4.1's tick: each pass sweeps every
// session for idle timeouts, then drains at most one queued
// notification, then waits up to the 1s/5s ceiling from spec §4.1
// (shorter while the notification queue is non-empty) before the next
// pass. Once keep_going goes false it finishes the in-flight tick,
// force-closes every session, closes the listeners, and returns.
func (d *Daemon) schedulerLoop(ctx context.Context) {
	for {
		now := time.Now()
		d.sessions.Range(func(_ string, s *session.Session) bool {
			s.CheckIdle(now)
			return true
		})
		d.notify.DrainOne(now, d.notifyClient.Dispatch)

		if !d.keepGoing.Load() {
			d.Logger.Debug("metrics at shutdown: %1", d.Metrics.JSON())
			d.stopAllSessions()
			d.closeListeners()
			return
		}

		wait := config.TickSlowInterval
		if d.notify.Len() > 0 {
			wait = config.TickFastInterval
		}

		select {
		case <-ctx.Done():
			d.stopAllSessions()
			d.closeListeners()
			return
		case <-time.After(wait):
		}
	}
}
