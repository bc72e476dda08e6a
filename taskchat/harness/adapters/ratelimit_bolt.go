package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var rateLimitBucket = []byte("rate_limits")

type boltCounter struct {
	MinuteStart int64 `json:"minute_start"`
	MinuteCount int   `json:"minute_count"`
	HourStart   int64 `json:"hour_start"`
	HourCount   int   `json:"hour_count"`
}

// BoltWindowLimiter keeps per-user counters in a bbolt file, so a single
// instance keeps its windows across restarts. bbolt allows one writer at a
// time, which serializes admissions.
type BoltWindowLimiter struct {
	db     *bolt.DB
	limits atomic.Pointer[WindowLimits]
	logger zerolog.Logger
}

// OpenBoltWindowLimiter opens or creates the counter file at path.
func OpenBoltWindowLimiter(path string, limits WindowLimits, logger zerolog.Logger) (*BoltWindowLimiter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create rate limit directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open rate limit store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rateLimitBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create rate limit bucket: %w", err)
	}

	l := &BoltWindowLimiter{db: db, logger: logger}
	l.SetLimits(limits)
	return l, nil
}

func (l *BoltWindowLimiter) SetLimits(limits WindowLimits) {
	l.limits.Store(&limits)
}

func (l *BoltWindowLimiter) Limits() WindowLimits {
	return *l.limits.Load()
}

// Admit applies the window check inside one bbolt write transaction.
// Store failures admit the request and log.
func (l *BoltWindowLimiter) Admit(_ context.Context, userID string, now time.Time) ports.Admission {
	limits := l.Limits()
	var adm ports.Admission

	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rateLimitBucket)
		key := []byte(userID)

		var stored boltCounter
		if v := b.Get(key); len(v) > 0 {
			if err := json.Unmarshal(v, &stored); err != nil {
				// A corrupt record restarts the user's windows.
				stored = boltCounter{}
			}
		}

		c := stored.counter()
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

		data, err := json.Marshal(fromCounter(c))
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		l.logger.Error().Err(err).Str("user_id", userID).Msg("rate limit store failed, admitting")
		return ports.Admission{Allowed: true}
	}
	return adm
}

// Prune removes users whose hour window has elapsed; their minute window has too.
func (l *BoltWindowLimiter) Prune(_ context.Context, now time.Time) (int, error) {
	removed := 0
	cutoff := now.Add(-time.Hour).UnixMicro()
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rateLimitBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var stored boltCounter
			if err := json.Unmarshal(v, &stored); err == nil && stored.HourStart > cutoff {
				return nil
			}
			stale = append(stale, append([]byte(nil), k...))
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}
	return removed, nil
}

// Close releases the bbolt file lock.
func (l *BoltWindowLimiter) Close() error {
	return l.db.Close()
}

func (b boltCounter) counter() windowCounter {
	var c windowCounter
	if b.MinuteStart != 0 {
		c.minute = window{start: time.UnixMicro(b.MinuteStart), count: b.MinuteCount}
	}
	if b.HourStart != 0 {
		c.hour = window{start: time.UnixMicro(b.HourStart), count: b.HourCount}
	}
	return c
}

func fromCounter(c windowCounter) boltCounter {
	return boltCounter{
		MinuteStart: c.minute.start.UnixMicro(),
		MinuteCount: c.minute.count,
		HourStart:   c.hour.start.UnixMicro(),
		HourCount:   c.hour.count,
	}
}

var _ ManagedLimiter = (*BoltWindowLimiter)(nil)
