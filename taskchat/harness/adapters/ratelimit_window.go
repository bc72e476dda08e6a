package adapters

import (
	"context"
	"hash/fnv"
	"sync/atomic"
	"time"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
)

const (
	WindowMinute = "minute"
	WindowHour   = "hour"
)

// WindowLimits are the per-user ceilings. A ceiling of zero or less is unlimited.
type WindowLimits struct {
	PerMinute int
	PerHour   int
}

// ManagedLimiter is a RateLimiter whose ceilings can change at runtime and whose
// expired state can be pruned on a schedule.
type ManagedLimiter interface {
	ports.RateLimiter
	SetLimits(limits WindowLimits)
	Prune(ctx context.Context, now time.Time) (int, error)
}

type window struct {
	start time.Time
	count int
}

type windowCounter struct {
	minute window
	hour   window
}

// WindowLimiter keeps minute and hour counters per user in process memory.
// Users are spread across shards, each an LRU guarded by its own mutex, so
// admissions for one user are serialized without a global lock.
type WindowLimiter struct {
	shards []*LRU[string, windowCounter]
	limits atomic.Pointer[WindowLimits]
}

// NewWindowLimiter creates a limiter tracking at most capacity users across shards.
func NewWindowLimiter(limits WindowLimits, shards, capacity int) *WindowLimiter {
	if shards < 1 {
		shards = 1
	}
	perShard := capacity / shards
	if perShard < 1 {
		perShard = 1
	}

	l := &WindowLimiter{shards: make([]*LRU[string, windowCounter], shards)}
	for i := range l.shards {
		// Counters expire an hour after their last admission, once every window has elapsed.
		l.shards[i] = NewLRU[string, windowCounter](perShard, time.Hour)
	}
	l.SetLimits(limits)
	return l
}

// SetLimits replaces the ceilings for subsequent admissions.
func (l *WindowLimiter) SetLimits(limits WindowLimits) {
	l.limits.Store(&limits)
}

// Limits returns the active ceilings.
func (l *WindowLimiter) Limits() WindowLimits {
	return *l.limits.Load()
}

// Admit expires elapsed windows, checks both ceilings and counts the request
// when admitted. Denied requests are not counted.
func (l *WindowLimiter) Admit(_ context.Context, userID string, now time.Time) ports.Admission {
	limits := l.Limits()
	var adm ports.Admission

	l.shard(userID).Update(userID, now, func(c windowCounter, _ bool) windowCounter {
		c.minute = c.minute.roll(now, time.Minute)
		c.hour = c.hour.roll(now, time.Hour)

		adm = decide(now, []windowCheck{
			{name: WindowMinute, limit: limits.PerMinute, period: time.Minute, w: c.minute},
			{name: WindowHour, limit: limits.PerHour, period: time.Hour, w: c.hour},
		})
		if adm.Allowed {
			c.minute.count++
			c.hour.count++
		}
		return c
	})
	return adm
}

// Prune drops counters whose windows have all elapsed.
func (l *WindowLimiter) Prune(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, s := range l.shards {
		removed += s.Prune(now)
	}
	return removed, nil
}

// Tracked returns the number of users with stored counters. It can exceed the
// configured capacity while every stored window is still live.
func (l *WindowLimiter) Tracked() int {
	n := 0
	for _, s := range l.shards {
		n += s.Len()
	}
	return n
}

func (l *WindowLimiter) shard(userID string) *LRU[string, windowCounter] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

// roll resets the window when its period has elapsed or it was never started.
func (w window) roll(now time.Time, period time.Duration) window {
	if w.start.IsZero() || now.Sub(w.start) >= period || now.Before(w.start) {
		return window{start: now}
	}
	return w
}

type windowCheck struct {
	name   string
	limit  int
	period time.Duration
	w      window
}

// decide admits when every bounded window has room. On denial RetryAfter is the
// time until all blocking windows have reset, which is the earliest moment a
// retry can succeed.
func decide(now time.Time, checks []windowCheck) ports.Admission {
	adm := ports.Admission{Allowed: true}
	for _, c := range checks {
		if c.limit <= 0 || c.w.count < c.limit {
			continue
		}
		wait := c.w.start.Add(c.period).Sub(now)
		if wait <= 0 {
			wait = time.Second
		}
		if adm.Allowed || wait > adm.RetryAfter {
			adm = ports.Admission{RetryAfter: wait, Limit: c.limit, Window: c.name}
		}
	}
	return adm
}

var _ ManagedLimiter = (*WindowLimiter)(nil)
