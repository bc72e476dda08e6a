package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/taskchat/taskchat/db"
	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// SQLWindowLimiter keeps the minute and hour counters in the rate_limits table
// so every instance sharing the database sees the same state.
type SQLWindowLimiter struct {
	db          *sql.DB
	limits      atomic.Pointer[WindowLimits]
	busyRetries uint64
	logger      zerolog.Logger
}

func NewSQLWindowLimiter(conn *sql.DB, limits WindowLimits, logger zerolog.Logger) *SQLWindowLimiter {
	l := &SQLWindowLimiter{db: conn, busyRetries: 5, logger: logger}
	l.SetLimits(limits)
	return l
}

func (l *SQLWindowLimiter) SetLimits(limits WindowLimits) {
	l.limits.Store(&limits)
}

func (l *SQLWindowLimiter) Limits() WindowLimits {
	return *l.limits.Load()
}

var sqlBuckets = []struct {
	name   string
	period time.Duration
}{
	{WindowMinute, time.Minute},
	{WindowHour, time.Hour},
}

// Admit runs the window check in one write transaction. The reset upsert goes
// first so the transaction holds the write lock before counters are read.
// Lock contention that outlasts the busy timeout is retried; other store
// failures admit the request and log.
func (l *SQLWindowLimiter) Admit(ctx context.Context, userID string, now time.Time) ports.Admission {
	var adm ports.Admission
	b := retry.WithMaxRetries(l.busyRetries, retry.WithJitter(5*time.Millisecond, retry.NewExponential(10*time.Millisecond)))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		adm, err = l.admitTx(ctx, userID, now)
		if db.IsBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		l.logger.Error().Err(err).Str("user_id", userID).Msg("rate limit store failed, admitting")
		return ports.Admission{Allowed: true}
	}
	return adm
}

func (l *SQLWindowLimiter) admitTx(ctx context.Context, userID string, now time.Time) (ports.Admission, error) {
	limits := l.Limits()
	limitFor := map[string]int{WindowMinute: limits.PerMinute, WindowHour: limits.PerHour}

	var adm ports.Admission
	err := db.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		checks := make([]windowCheck, 0, len(sqlBuckets))
		for _, b := range sqlBuckets {
			w, err := rollBucket(ctx, tx, userID, b.name, b.period, now)
			if err != nil {
				return err
			}
			checks = append(checks, windowCheck{name: b.name, limit: limitFor[b.name], period: b.period, w: w})
		}

		adm = decide(now, checks)
		if !adm.Allowed {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE rate_limits SET count = count + 1 WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("increment counters: %w", err)
		}
		return nil
	})
	return adm, err
}

// rollBucket creates the bucket or resets it when its period has elapsed, then
// returns its current state.
func rollBucket(ctx context.Context, tx *sql.Tx, userID, bucket string, period time.Duration, now time.Time) (window, error) {
	nowMicros := now.UnixMicro()
	expiredBefore := now.Add(-period).UnixMicro()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO rate_limits (user_id, bucket, started_at, count)
		VALUES (?, ?, ?, 0)
		ON CONFLICT (user_id, bucket) DO UPDATE
		SET started_at = excluded.started_at, count = 0
		WHERE rate_limits.started_at <= ? OR rate_limits.started_at > ?
	`, userID, bucket, nowMicros, expiredBefore, nowMicros)
	if err != nil {
		return window{}, fmt.Errorf("roll %s bucket: %w", bucket, err)
	}

	var startedAt int64
	var w window
	err = tx.QueryRowContext(ctx,
		`SELECT started_at, count FROM rate_limits WHERE user_id = ? AND bucket = ?`,
		userID, bucket,
	).Scan(&startedAt, &w.count)
	if err != nil {
		return window{}, fmt.Errorf("read %s bucket: %w", bucket, err)
	}
	w.start = time.UnixMicro(startedAt)
	return w, nil
}

// Prune deletes buckets whose window has elapsed.
func (l *SQLWindowLimiter) Prune(ctx context.Context, now time.Time) (int, error) {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM rate_limits
		WHERE (bucket = ? AND started_at <= ?) OR (bucket = ? AND started_at <= ?)
	`, WindowMinute, now.Add(-time.Minute).UnixMicro(), WindowHour, now.Add(-time.Hour).UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}
	return int(n), nil
}

var _ ManagedLimiter = (*SQLWindowLimiter)(nil)
