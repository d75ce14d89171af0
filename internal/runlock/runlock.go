// Package runlock provides exclusive, expiring locks used to keep two digest
// runs for the same frequency from overlapping.
package runlock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld is returned by Acquire when another holder owns the key.
var ErrHeld = errors.New("lock held by another runner")

// Release gives the lock back. It is safe to call after expiry.
type Release func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]localHold
	seq  uint64
	Now  func() time.Time
}

type localHold struct {
	token   uint64
	expires time.Time
}

func NewLocal() *Local {
	return &Local{held: map[string]localHold{}, Now: time.Now}
}

func (l *Local) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]localHold{}
	}
	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, ErrHeld
	}
	l.seq++
	token := l.seq
	l.held[key] = localHold{token: token, expires: now.Add(ttl)}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.held[key]; ok && h.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}

func (l *Local) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}
