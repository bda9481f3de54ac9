// Package lock provides per-document mutual exclusion for reconciliation
// runs. Locks are try-locks: a held document fails fast with ErrBusy and
// the caller's scheduler retries later.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finrecon/pkg/checksum"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrBusy = errors.New("lock is held")

const unlockTimeout = 5 * time.Second

// AdvisoryLocker holds a Postgres session advisory lock on a dedicated
// pooled connection for the lifetime of the lock, so it works across
// service instances.
type AdvisoryLocker struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewAdvisoryLocker(pool *pgxpool.Pool, logger *zap.Logger) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool, logger: logger}
}

func (l *AdvisoryLocker) TryLock(ctx context.Context, documentID uuid.UUID) (func(), error) {
	key := checksum.Key64("document:" + documentID.String())

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
			defer cancel()
			if _, err := conn.Exec(uctx, "SELECT pg_advisory_unlock($1)", key); err != nil {
				// the session still owns the lock; drop it so the server frees it
				l.logger.Warn("Advisory unlock failed, closing connection",
					zap.String("document_id", documentID.String()),
					zap.Error(err),
				)
				_ = conn.Conn().Close(uctx)
			}
			conn.Release()
		})
	}, nil
}

const stripes = 64

type stripe struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

// LocalLocker is an in-process try-lock for single-instance deployments.
// The held set is striped by xxhash of the id to keep contention low.
type LocalLocker struct {
	stripes [stripes]stripe
}

func NewLocalLocker() *LocalLocker {
	l := &LocalLocker{}
	for i := range l.stripes {
		l.stripes[i].held = make(map[uuid.UUID]struct{})
	}
	return l
}

func (l *LocalLocker) TryLock(ctx context.Context, documentID uuid.UUID) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &l.stripes[xxhash.Sum64(documentID[:])%stripes]
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.held[documentID]; ok {
		return nil, ErrBusy
	}
	s.held[documentID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.held, documentID)
			s.mu.Unlock()
		})
	}, nil
}
