// Package notify implements the daemon's fire-and-forget controller
// notification pipeline: a per-session-coalesced send queue (spec
// §4.3) and the HTTP client that actually dispatches a notification.
package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SessionRef is the minimal view of a session the queue needs to
// enforce coalescing and pacing. It is satisfied structurally by
// *session.Session without notify importing the session package.
type SessionRef interface {
	ID() string
	PaceSeconds() int
	LastNotifyAt() time.Time
	MarkNotified(at time.Time)
	// TryClaimPending reports whether this call is the one that
	// claims the session's single outstanding-notification slot; a
	// second caller while one is already queued gets false.
	TryClaimPending() bool
	ClearPending()
}

// Registry looks a session up by id at drain time, since a session
// may be destroyed while its final notification is still queued.
type Registry interface {
	Lookup(id string) (SessionRef, bool)
}

type entry struct {
	sessionID string
	url       string
}

// Queue implements spec §4.3: at most one outstanding notification
// per session, drained one at a time subject to each session's pace.
type Queue struct {
	registry Registry

	mu      sync.Mutex
	entries []entry
}

// NewQueue returns an empty queue backed by registry for liveness and
// pacing checks at drain time.
func NewQueue(registry Registry) *Queue {
	return &Queue{registry: registry}
}

// Enqueue appends a pending notification for sess unless one is
// already queued (coalescing). Callers must have already checked that
// sess has a binding (device >= 0); Enqueue only enforces coalescing.
func (q *Queue) Enqueue(sess SessionRef, url string) {
	if !sess.TryClaimPending() {
		return
	}
	q.mu.Lock()
	q.entries = append(q.entries, entry{sessionID: sess.ID(), url: url})
	q.mu.Unlock()
}

// Len reports the number of pending entries; the scheduler uses this
// to pick its 1s/5s readiness-wait ceiling (spec §4.1).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// DrainOne scans from the head for the first entry eligible for
// delivery — its session no longer exists, has no pacing, or its pace
// window has elapsed — removes it, and calls dispatch with its URL.
// Ineligible entries are left in place for a later call. At most one
// dispatch happens per call, per spec §4.3.
func (q *Queue) DrainOne(now time.Time, dispatch func(url string)) {
	url, ok := q.claimEligible(now)
	if !ok {
		return
	}
	dispatch(url)
}

// claimEligible removes the first eligible entry under the lock and
// returns its URL. The dispatch call itself must happen after the
// lock is released: it is a synchronous HTTP GET with a multi-second
// ceiling (internal/notify/client.go), and holding q.mu across it
// would stall any Enqueue from a session whose pending slot was just
// cleared, blocking that session's relay (spec §4.3/§5).
func (q *Queue) claimEligible(now time.Time) (url string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		sess, live := q.registry.Lookup(e.sessionID)

		eligible := !live
		if live {
			pace := sess.PaceSeconds()
			eligible = pace == 0 || !sess.LastNotifyAt().Add(time.Duration(pace)*time.Second).After(now)
		}
		if !eligible {
			continue
		}

		q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
		if live {
			sess.MarkNotified(now)
			sess.ClearPending()
		}
		return e.url, true
	}
	return "", false
}

// BuildURL constructs the data_request notification URL for a
// session's current binding, per spec §4.3. Percent-encoding of
// serviceId/action/Pid uses lowercase hex digits, matching the
// source's encoder rather than Go's stdlib (which uppercases and
// encodes space as "+").
func BuildURL(controllerBase string, device int, service, action, pid string) string {
	base := strings.TrimRight(controllerBase, "/")
	return fmt.Sprintf("%s/data_request?id=action&output_format=json&DeviceNum=%d&serviceId=%s&action=%s&Pid=%s",
		base, device, percentEncode(service), percentEncode(action), percentEncode(pid))
}

func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	}
	return false
}
