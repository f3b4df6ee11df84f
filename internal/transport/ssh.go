package transport

import (
	"context"
	"net"

	"sockproxyd/tunnel"
	"sockproxyd/util"
)

// GatewayDialer routes connections through a pooled SSH gateway.
// Unlike a single-tunnel dialer, the underlying SSH connection is
// shared with every other session whose CONN VIA= names the same
// user@host:port, and is acquired/released per Dial rather than held
// for the dialer's lifetime.
type GatewayDialer struct {
	pool   *tunnel.Pool
	config *tunnel.SSHConfig
	logger *util.Logger
}

// NewGatewayDialer creates a dialer that forwards connections through
// the gateway named by cfg, sharing pool's connection cache.
func NewGatewayDialer(pool *tunnel.Pool, cfg *tunnel.SSHConfig, logger *util.Logger) *GatewayDialer {
	return &GatewayDialer{pool: pool, config: cfg, logger: logger}
}

// Dial acquires the gateway tunnel (connecting it if this is the
// first session to need it) and opens address through it. The
// returned conn's Close releases the tunnel reference; it does not
// tear down the SSH connection itself, since other sessions may still
// be relaying through it.
func (d *GatewayDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t, release, err := d.pool.Acquire(ctx, d.config)
	if err != nil {
		return nil, err
	}

	conn, err := t.Dial(ctx, network, address)
	if err != nil {
		release()
		return nil, err
	}

	return &pooledConn{Conn: conn, release: release}, nil
}

// Close is a no-op: the gateway's lifetime is owned by the shared
// pool, not by any one dialer.
func (d *GatewayDialer) Close() error { return nil }

// pooledConn releases its pool reference exactly once when closed.
type pooledConn struct {
	net.Conn
	release func()
	closed  bool
}

func (c *pooledConn) Close() error {
	if !c.closed {
		c.closed = true
		c.release()
	}
	return c.Conn.Close()
}
