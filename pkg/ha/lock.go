package ha

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// ErrLockHeld is returned when a lock is still held by another owner after
// all acquisition attempts.
var ErrLockHeld = errors.New("lock held by another process")

// Locker runs a function while holding a named lock.
type Locker interface {
	// WithLock executes fn while holding the lock and releases it after fn
	// returns. It retries acquisition according to the locker's options.
	WithLock(ctx context.Context, fn func() error) error
}

type options struct {
	attempts   int
	interval   time.Duration
	staleAfter time.Duration
	owner      string
}

// Option configures a Locker.
type Option func(*options)

// WithAttempts sets how many times acquisition is tried and the pause
// between tries. One attempt fails fast with ErrLockHeld.
func WithAttempts(n int, interval time.Duration) Option {
	return func(o *options) {
		if n > 0 {
			o.attempts = n
		}
		if interval >= 0 {
			o.interval = interval
		}
	}
}

// WithStaleAfter sets the age after which a table lock left by a crashed
// owner is removed. It has no effect on PostgreSQL, where the lock ends
// with its session.
func WithStaleAfter(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.staleAfter = d
		}
	}
}

// WithOwner sets the owner recorded with table locks.
func WithOwner(owner string) Option {
	return func(o *options) {
		if owner != "" {
			o.owner = owner
		}
	}
}

// NewLocker creates a Locker for name appropriate for the database dialect.
// PostgreSQL uses session advisory locks; other databases use a table-based
// fallback whose table is created immediately. A nil db yields a locker
// that just runs fn.
func NewLocker(db *gorm.DB, name string, opts ...Option) Locker {
	if db == nil {
		return noopLock{}
	}
	o := options{
		attempts:   30,
		interval:   time.Second,
		staleAfter: 5 * time.Minute,
		owner:      defaultOwner(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{
			db:   db,
			name: name,
			key:  int64(crc32.ChecksumIEEE([]byte(name))),
			opts: o,
		}
	}
	// Created up front so that concurrent callers never hit "no such table"
	// on their first WithLock call.
	if err := db.AutoMigrate(&lockRecord{}); err != nil {
		slog.Warn("failed to create lock table", "lock", name, "error", err)
	}
	return &tableLock{db: db, name: name, opts: o}
}

// Disabled returns a Locker that never locks.
func Disabled() Locker { return noopLock{} }

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

// pgAdvisoryLock holds a PostgreSQL advisory lock on a dedicated
// connection; advisory locks belong to the session that took them.
type pgAdvisoryLock struct {
	db   *gorm.DB
	name string
	key  int64
	opts options
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.name, err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("lock %s: acquire connection: %w", l.name, err)
	}
	defer conn.Close()

	err = retry(ctx, l.name, l.opts, func() (bool, error) {
		var ok bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
			return false, err
		}
		return ok, nil
	})
	if err != nil {
		return err
	}

	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.key)
	}()
	return fn()
}

// lockRecord is one held lock in the table-based fallback.
type lockRecord struct {
	ID       string    `gorm:"primaryKey;column:id;size:128"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by;size:255"`
}

func (lockRecord) TableName() string { return "harvest_locks" }

// tableLock uses insert-or-fail on a primary key so that only one owner
// holds the row. Rows older than staleAfter are removed before each try, and
// the holder refreshes locked_at while fn runs so a long run never looks
// stale.
type tableLock struct {
	db   *gorm.DB
	name string
	opts options
}

func (l *tableLock) WithLock(ctx context.Context, fn func() error) error {
	err := retry(ctx, l.name, l.opts, func() (bool, error) {
		now := time.Now()
		err := l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", l.name, now.Add(-l.opts.staleAfter)).
			Delete(&lockRecord{}).Error
		if err != nil {
			return false, fmt.Errorf("remove stale lock: %w", err)
		}

		row := lockRecord{ID: l.name, LockedAt: now, LockedBy: l.opts.owner}
		if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
			if l.held(ctx, err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	stop := l.heartbeat()
	defer func() {
		stop()
		l.db.Where("id = ? AND locked_by = ?", l.name, l.opts.owner).Delete(&lockRecord{})
	}()
	return fn()
}

// held reports whether a failed insert was a key conflict with a row
// another owner holds, as opposed to a database failure.
func (l *tableLock) held(ctx context.Context, createErr error) bool {
	if errors.Is(createErr, gorm.ErrDuplicatedKey) {
		return true
	}
	var n int64
	err := l.db.WithContext(ctx).Model(&lockRecord{}).Where("id = ?", l.name).Count(&n).Error
	return err == nil && n > 0
}

// heartbeat refreshes locked_at every third of staleAfter until stopped.
func (l *tableLock) heartbeat() (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(max(l.opts.staleAfter/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := l.db.Model(&lockRecord{}).
					Where("id = ? AND locked_by = ?", l.name, l.opts.owner).
					Update("locked_at", time.Now()).Error
				if err != nil {
					slog.Warn("failed to refresh lock", "lock", l.name, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// retry calls try until it reports the lock acquired, an error occurs, the
// attempts run out or ctx ends.
func retry(ctx context.Context, name string, o options, try func() (bool, error)) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := try()
		if err != nil {
			return fmt.Errorf("lock %s: %w", name, err)
		}
		if ok {
			return nil
		}
		if attempt >= o.attempts {
			return fmt.Errorf("%w: %s after %d attempts", ErrLockHeld, name, attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.interval):
		}
	}
}
