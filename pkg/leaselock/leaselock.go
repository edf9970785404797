// Package leaselock implements document locks shared by several processes
// as expiring leases in PostgreSQL. A holder renews its lease in the
// background; if renewal fails the lease context is cancelled with ErrLost.
package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/OFFIS-RIT/quill/pkg/logger"
)

var (
	ErrBusy = errors.New("document lease busy")
	ErrLost = errors.New("document lease lost")
)

const (
	DefaultTTL          = 2 * time.Minute
	DefaultWaitInterval = 250 * time.Millisecond
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Options tunes how leases are taken.
//
// TTL is how long a lease survives without renewal. Leases are renewed
// every RenewEvery (default TTL/2). With Wait set Lock polls every
// WaitInterval plus up to WaitJitter until the lease is free; otherwise it
// returns ErrBusy.
type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	// Owner prefixes lease tokens so the holder is visible in the table.
	Owner string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = DefaultWaitInterval
	}
	o.WaitJitter = max(o.WaitJitter, 0)
	return o
}

// Locker hands out document leases. It satisfies the indexer's DocLocker.
type Locker struct {
	db   dbConn
	opts Options
}

// Lease is a held document lock. Context is cancelled when the lease is
// released or lost.
type Lease struct {
	Key   string
	Token string

	Context context.Context

	locker *Locker
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(pool *pgxpool.Pool, opts Options) *Locker {
	return &Locker{db: pool, opts: opts.withDefaults()}
}

// Lock blocks until key is leased (or fails fast when Wait is off) and
// returns the release function. Release uses a fresh context so a lease is
// freed even when the caller's context is already done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lease, err := l.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			logger.Warn("[Lease] Failed to release document lease", "key", key, "err", err)
		}
	}, nil
}

// WithLease runs fn while holding key. fn receives the lease context.
func (l *Locker) WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context)
}

func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease key is empty")
	}
	ttlMs := l.opts.TTL.Milliseconds()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := l.opts.Owner + id

	for {
		var held string
		err := l.db.QueryRow(ctx, tryAcquireSQL, key, token, ttlMs).Scan(&held)
		switch {
		case err == nil && held != "":
			return l.start(ctx, key, token, ttlMs), nil
		case err != nil && !errors.Is(err, pgx.ErrNoRows):
			return nil, err
		}
		if !l.opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, l.opts.WaitInterval, l.opts.WaitJitter); err != nil {
			return nil, err
		}
	}
}

func (l *Locker) start(ctx context.Context, key, token string, ttlMs int64) *Lease {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	lease := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		locker:  l,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}
	go lease.renewLoop(l.opts.RenewEvery, ttlMs)
	logger.Debug("[Lease] Acquired document lease", "key", key)
	return lease
}

func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})
	_, err := l.locker.db.Exec(ctx, releaseSQL, l.Key, l.Token)
	return err
}

func (l *Lease) renewLoop(every time.Duration, ttlMs int64) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renewOnce(ttlMs); err != nil {
				logger.Warn("[Lease] Document lease lost", "key", l.Key, "err", err)
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renewOnce(ttlMs int64) error {
	for attempt := range 3 {
		renewCtx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		var held string
		err := l.locker.db.QueryRow(renewCtx, renewSQL, l.Key, l.Token, ttlMs).Scan(&held)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
		if attempt == 2 {
			return err
		}
		if err := sleepWithJitter(l.Context, 200*time.Millisecond, 0); err != nil {
			return err
		}
	}
	return ErrLost
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// The document_leases table is created by the pgvector store migrations.
const tryAcquireSQL = `
INSERT INTO document_leases (lease_key, holder, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lease_key) DO UPDATE
SET holder     = EXCLUDED.holder,
    expires_at = EXCLUDED.expires_at
WHERE document_leases.expires_at < now()
   OR document_leases.holder = EXCLUDED.holder
RETURNING lease_key;
`

const renewSQL = `
UPDATE document_leases
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lease_key = $1 AND holder = $2
RETURNING lease_key;
`

const releaseSQL = `
DELETE FROM document_leases
WHERE lease_key = $1 AND holder = $2;
`
