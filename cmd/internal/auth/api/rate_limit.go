package authapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// evaluateWindowThrottle blocks once max failures fall inside window. The
// retry delay runs until the oldest in-window failure ages out.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cutoff := now.Add(-window)
	count := 0
	var oldest time.Time
	for _, f := range failures {
		if !f.After(cutoff) {
			continue
		}
		count++
		if oldest.IsZero() || f.Before(oldest) {
			oldest = f
		}
	}
	if count < max {
		return false, 0
	}
	retry := oldest.Add(window).Sub(now)
	if retry <= 0 {
		return false, 0
	}
	return true, retry
}

// evaluateProgressiveLockout applies the first tier whose threshold is met.
// The lock runs from the most recent failure. Tiers are ordered most severe
// first.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := failures[0]
	for _, f := range failures[1:] {
		if f.After(latest) {
			latest = f
		}
	}
	for _, t := range tiers {
		if t.Threshold <= 0 || len(failures) < t.Threshold {
			continue
		}
		retry := latest.Add(t.Duration).Sub(now)
		if retry <= 0 {
			return false, 0
		}
		return true, retry
	}
	return false, 0
}

// failureLog keeps recent login failures per key (client IP or identifier)
// in process memory.
type failureLog struct {
	mu     sync.Mutex
	keep   time.Duration
	perKey int
	byKey  map[string][]time.Time
}

const (
	failureLogPerKey  = 64
	failureLogMaxKeys = 50_000
)

func newFailureLog(keep time.Duration) *failureLog {
	return &failureLog{keep: keep, perKey: failureLogPerKey, byKey: make(map[string][]time.Time)}
}

func (l *failureLog) record(key string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.byKey) >= failureLogMaxKeys {
		l.pruneLocked(now)
	}
	fs := append(l.byKey[key], now)
	if len(fs) > l.perKey {
		fs = fs[len(fs)-l.perKey:]
	}
	l.byKey[key] = fs
}

// recent returns failures newer than now-window.
func (l *failureLog) recent(key string, now time.Time, window time.Duration) []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-window)
	var out []time.Time
	for _, f := range l.byKey[key] {
		if f.After(cutoff) {
			out = append(out, f)
		}
	}
	return out
}

func (l *failureLog) reset(key string) {
	l.mu.Lock()
	delete(l.byKey, key)
	l.mu.Unlock()
}

func (l *failureLog) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.keep)
	for k, fs := range l.byKey {
		if len(fs) == 0 || !fs[len(fs)-1].After(cutoff) {
			delete(l.byKey, k)
		}
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter / time.Second)
	if retryAfter%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many attempts. Try again later.")
}
