// Package planlock serializes ledger mutations per payment plan.
package planlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

var ErrNotObtained = errors.New("plan lock not obtained")

// Locker hands out one exclusive scope per plan id.
type Locker interface {
	Lock(ctx context.Context, planId int) (unlock func(), err error)
}

// Local is an in-process keyed mutex. Entries are dropped once nobody holds or waits on them.
type Local struct {
	mu    sync.Mutex
	locks map[int]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[int]*entry)}
}

func (l *Local) Lock(ctx context.Context, planId int) (func(), error) {
	l.mu.Lock()
	e := l.locks[planId]
	if e == nil {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[planId] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(planId, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(planId, e)
		})
	}, nil
}

func (l *Local) release(planId int, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, planId)
	}
	l.mu.Unlock()
}

// Held reports how many plans currently have holders or waiters.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Redis serializes across instances with a redislock per plan.
// Callers inside one process still go through Local first so they queue instead of polling Redis.
type Redis struct {
	client  *redislock.Client
	local   *Local
	ttl     time.Duration
	wait    time.Duration
	logger  *logrus.Logger
	keyBase string
}

func NewRedis(client *redislock.Client, ttl time.Duration, logger *logrus.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client:  client,
		local:   NewLocal(),
		ttl:     ttl,
		wait:    ttl,
		logger:  logger,
		keyBase: "lock:plan:",
	}
}

func (r *Redis) Lock(ctx context.Context, planId int) (func(), error) {
	unlockLocal, err := r.local.Lock(ctx, planId)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s%d", r.keyBase, planId)
	obtainCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()
	lock, err := r.client.Obtain(obtainCtx, key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), int(r.wait/(100*time.Millisecond))),
	})
	if err != nil {
		unlockLocal()
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotObtained)
		}
		return nil, err
	}

	stopRefresh := keepAlive(r.ttl/2, func(ctx context.Context) error {
		return lock.Refresh(ctx, r.ttl, nil)
	}, func(err error) {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{
				"field": "planlock",
				"key":   key,
			}).Warn("failed to refresh redis lock: " + err.Error())
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			stopRefresh()
			r.release(lock, key)
			unlockLocal()
		})
	}, nil
}

func (r *Redis) release(lock *redislock.Lock, key string) {
	if rerr := lock.Release(context.Background()); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) && r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"field": "planlock",
			"key":   key,
		}).Warn("failed to release redis lock: " + rerr.Error())
	}
}

// keepAlive calls refresh every interval until the returned stop func is called.
// stop blocks until the refresh goroutine has exited.
func keepAlive(every time.Duration, refresh func(context.Context) error, onError func(error)) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := refresh(ctx); err != nil && ctx.Err() == nil {
					onError(err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
