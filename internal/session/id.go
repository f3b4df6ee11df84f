package session

import (
	"fmt"
	"sync"
	"time"
)

// epochOffset anchors the clock-derived component of an id so it
// stays a short hex string for the life of this codebase; matches the
// source daemon's project-epoch convention rather than disclosing the
// full Unix timestamp (spec §4.6).
const epochOffset = 1577836800 // 2020-01-01T00:00:00Z

// IDGenerator produces strictly monotonic, lowercase-hex session ids.
// Direct-listener sessions get an "L" prefix (spec §4.6).
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator returns a generator seeded from the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns the next id, bumping past the last emitted value on
// collision so ids are strictly increasing even within the same
// 10-second clock bucket.
func (g *IDGenerator) Next(direct bool) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	candidate := (g.now().Unix() - epochOffset) / 10
	if candidate <= g.last {
		candidate = g.last + 1
	}
	g.last = candidate

	if direct {
		return fmt.Sprintf("L%x", candidate)
	}
	return fmt.Sprintf("%x", candidate)
}
