package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"battlelog/internal/db"
	"battlelog/internal/domain"
)

// DefaultLockTimeout bounds how long an operation waits for its session.
const DefaultLockTimeout = 5 * time.Second

// sessionLocks hands out one weight-1 semaphore per session.
type sessionLocks struct {
	mu sync.Mutex
	m  map[string]*semaphore.Weighted
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{m: map[string]*semaphore.Weighted{}}
}

func (l *sessionLocks) get(sessionID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.m[sessionID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.m[sessionID] = sem
	}
	return sem
}

func (l *sessionLocks) forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, sessionID)
}

// lock serializes work on one session. It waits at most LockTimeout and then
// reports ErrBusy. The returned context is detached from cancellation so a
// started operation always runs to commit or rollback.
func (e Engine) lock(ctx context.Context, sessionID string) (context.Context, func(), error) {
	timeout := e.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sem := e.locks.get(sessionID)
	start := time.Now()
	err := sem.Acquire(waitCtx, 1)
	lockWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger().Warn("session lock timeout", "session_id", sessionID, "timeout", timeout)
			return nil, nil, domain.ErrBusy
		}
		return nil, nil, err
	}
	return context.WithoutCancel(ctx), func() { sem.Release(1) }, nil
}

// storeErr reports a database locked by another process as ErrBusy. The
// session lock only serializes writers inside this process.
func storeErr(err error) error {
	if db.IsBusy(err) {
		return fmt.Errorf("%w: %v", domain.ErrBusy, err)
	}
	return err
}
