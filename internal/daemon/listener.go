package daemon

import (
	"context"
	"fmt"
	"net"

	"sockproxyd/config"
	ncerr "sockproxyd/internal/errors"
	"sockproxyd/internal/session"
	"sockproxyd/util"
)

// ListenCommand runs the command listener: every accept gets the
// greeting (spec §6) and starts in SETUP.
func (d *Daemon) ListenCommand(ctx context.Context) error {
	addr := util.FormatAddr(bindHost(d.Config.BindAddr), d.Config.Port)
	return d.listen(ctx, addr, d.acceptCommand)
}

// ListenDirect runs one direct listener (spec §3 Listener, §4.1.2):
// every accept is already in ECHO, driven by connLine.
func (d *Daemon) ListenDirect(ctx context.Context, port int, connLine string) error {
	addr := util.FormatAddr(bindHost(d.Config.BindAddr), port)
	return d.listen(ctx, addr, func(conn net.Conn) {
		d.acceptDirect(conn, connLine)
	})
}

func bindHost(addr string) string {
	if addr == "*" {
		return ""
	}
	return addr
}

func (d *Daemon) listen(ctx context.Context, addr string, handle func(net.Conn)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &ncerr.FatalStartupError{Reason: fmt.Sprintf("listen on %s", addr), Err: err}
	}
	d.trackListener(ln)
	d.Logger.Info("listening on %1", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if !d.keepGoing.Load() {
				return nil
			}
			d.Logger.Error("accept on %1: %2", addr, err)
			continue
		}
		go handle(conn)
	}
}

func (d *Daemon) acceptCommand(conn net.Conn) {
	id := d.idGen.Next(false)
	s := session.New(id, false, conn)
	d.sessions.Store(id, s)
	defer d.sessions.Delete(id)

	greeting := fmt.Sprintf("OK %s %d %s\n", config.Ident, config.ProtocolVersion, id)
	if _, err := conn.Write([]byte(greeting)); err != nil {
		s.Stop(&ncerr.PeerIOError{SessionID: id, Err: err})
		conn.Close()
		return
	}

	d.Logger.Verbose("session %1: accepted from %2", id, conn.RemoteAddr())
	s.Run(context.Background(), d.relayDeps(), "")
	d.Logger.Verbose("session %1: closed: %2", id, s.StopReason())
}

func (d *Daemon) acceptDirect(conn net.Conn, connLine string) {
	id := d.idGen.Next(true)
	s := session.New(id, true, conn)
	d.sessions.Store(id, s)
	defer d.sessions.Delete(id)

	d.Logger.Verbose("direct session %1: accepted from %2", id, conn.RemoteAddr())
	s.Run(context.Background(), d.relayDeps(), connLine)
	d.Logger.Verbose("direct session %1: closed: %2", id, s.StopReason())
}
