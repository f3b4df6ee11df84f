package transport

import (
	"io"
	"testing"

	"sockproxyd/internal/metrics"
	"sockproxyd/tunnel"
	"sockproxyd/util"
)

// TestNewGatewayDialer_Close verifies Close is a no-op: the gateway's
// lifetime belongs to the shared pool, not the dialer.
func TestNewGatewayDialer_Close(t *testing.T) {
	pool := tunnel.NewPool(util.NewLoggerTo(0, io.Discard), metrics.New())
	cfg := &tunnel.SSHConfig{User: "admin", Host: "bastion.example.com", Port: 22}

	d := NewGatewayDialer(pool, cfg, util.NewLoggerTo(0, io.Discard))
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
