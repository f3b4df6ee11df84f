package tunnel

import (
	"context"
	"io"
	"testing"
	"time"

	"sockproxyd/internal/metrics"
	"sockproxyd/internal/retry"
	"sockproxyd/util"
)

func TestSpecKey(t *testing.T) {
	cfg := &SSHConfig{User: "admin", Host: "bastion.example.com", Port: 2222}
	if got, want := specKey(cfg), "admin@bastion.example.com:2222"; got != want {
		t.Errorf("specKey = %q, want %q", got, want)
	}
}

// TestPool_AcquireFailure verifies that a dial failure surfaces as an
// error rather than being pooled, so a later Acquire for the same
// spec retries instead of reusing a dead entry.
func TestPool_AcquireFailure(t *testing.T) {
	p := NewPool(util.NewLoggerTo(0, io.Discard), metrics.New())
	p.backoff = &retry.Backoff{InitialDelay: time.Millisecond, MaxAttempts: 1}

	cfg := &SSHConfig{User: "nobody", Host: "127.0.0.1", Port: 1, ConnTimeout: 50 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, _, err := p.Acquire(ctx, cfg)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if p.Len() != 0 {
		t.Errorf("Len = %d, want 0 after failed acquire", p.Len())
	}
}

func TestPool_StopClosesEntries(t *testing.T) {
	p := NewPool(util.NewLoggerTo(0, io.Discard), metrics.New())
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop on empty pool: %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("Len = %d, want 0", p.Len())
	}
}
