package tunnel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sockproxyd/internal/metrics"
	"sockproxyd/internal/retry"
	"sockproxyd/util"
)

// specKey identifies a gateway by its dial coordinates. Two CONN lines
// that name the same user@host:port share one SSH connection.
func specKey(cfg *SSHConfig) string {
	return fmt.Sprintf("%s@%s:%d", cfg.User, cfg.Host, cfg.Port)
}

// poolEntry is a refcounted gateway tunnel. refs tracks the number of
// sessions currently relaying through it; the sweep evicts entries
// that are both dead and unreferenced.
type poolEntry struct {
	tunnel *SSHTunnel
	refs   int
}

// Pool holds one SSH connection per distinct gateway spec and shares
// it across sessions whose CONN VIA= names the same host. Grounded on
// Manager's healthLoop, generalized from a single held tunnel to a
// refcounted map swept on the same cadence.
type Pool struct {
	logger  *util.Logger
	backoff *retry.Backoff
	metrics *metrics.Collector

	mu      sync.Mutex
	entries map[string]*poolEntry
	stopped bool
}

// NewPool returns an empty gateway pool. collector may be nil; a nil
// *metrics.Collector is itself a safe no-op receiver.
func NewPool(logger *util.Logger, collector *metrics.Collector) *Pool {
	return &Pool{
		logger:  logger,
		backoff: retry.DefaultBackoff(),
		metrics: collector,
		entries: make(map[string]*poolEntry),
	}
}

// Run starts the background sweep that evicts dead, unreferenced
// entries every 10 seconds, mirroring Manager.healthLoop's cadence.
func (p *Pool) Run(ctx context.Context) {
	tick := time.NewTicker(10 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			p.mu.Lock()
			done := p.stopped
			p.mu.Unlock()
			if done {
				return
			}
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, ent := range p.entries {
		if ent.refs > 0 {
			continue
		}
		if !ent.tunnel.IsAlive() {
			p.logger.Debug("gateway pool: evicting dead entry %1", key)
			delete(p.entries, key)
		}
	}
}

// Acquire returns a connected tunnel for cfg, dialing it with
// exponential backoff (via [retry.Backoff]) if no live entry for this
// spec exists yet. The returned release func must be called exactly
// once when the caller is done relaying through the tunnel.
func (p *Pool) Acquire(ctx context.Context, cfg *SSHConfig) (*SSHTunnel, func(), error) {
	key := specKey(cfg)

	p.mu.Lock()
	ent, ok := p.entries[key]
	if ok && ent.tunnel.IsAlive() {
		ent.refs++
		p.mu.Unlock()
		return ent.tunnel, p.releaseFunc(key), nil
	}
	reconnect := ok // a dead entry for this key means this dial replaces it
	p.mu.Unlock()

	if reconnect {
		p.metrics.TunnelReconnect()
	}

	t := NewSSHTunnel(cfg, p.logger)
	err := p.backoff.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			p.logger.Debug("gateway %1: retrying connect (attempt %2)", key, attempt)
		}
		return t.Connect(ctx)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gateway %s: %w", key, err)
	}

	p.mu.Lock()
	p.entries[key] = &poolEntry{tunnel: t, refs: 1}
	p.mu.Unlock()

	return t, p.releaseFunc(key), nil
}

func (p *Pool) releaseFunc(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if ent, ok := p.entries[key]; ok {
				ent.refs--
			}
		})
	}
}

// Stop closes every pooled tunnel and halts the sweep loop.
func (p *Pool) Stop() error {
	p.mu.Lock()
	p.stopped = true
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	var firstErr error
	for _, ent := range entries {
		if err := ent.tunnel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len reports the number of distinct gateway connections currently
// held. Used by tests.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
