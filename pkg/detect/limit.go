package detect

import (
	"sync"
	"time"

	"submon/pkg/protocol"
)

// SessionLimiter admits at most Max calls per session within a sliding
// Window. It is safe for concurrent use by a tool server's handlers.
type SessionLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	calls map[string][]time.Time
}

// NewSessionLimiter returns a limiter. A nil now uses time.Now.
func NewSessionLimiter(maxPerSession int, window time.Duration, now func() time.Time) *SessionLimiter {
	if now == nil {
		now = time.Now
	}
	return &SessionLimiter{max: maxPerSession, window: window, now: now, calls: map[string][]time.Time{}}
}

// Allow records a call for sessionID and reports whether it is within the
// limit. Denied calls are not recorded.
func (l *SessionLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	for id, times := range l.calls {
		kept := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(l.calls, id)
			continue
		}
		l.calls[id] = kept
	}

	if len(l.calls[sessionID]) >= l.max {
		return false
	}
	l.calls[sessionID] = append(l.calls[sessionID], now)
	return true
}

// RateLimit is a Capability that admits callers through l, keyed by the
// caller's session. Place it last in All so denied callers are not counted.
func RateLimit(l *SessionLimiter) Capability {
	return func(r protocol.DetectionResult) bool { return l.Allow(r.SessionID) }
}
