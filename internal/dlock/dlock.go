// Package dlock provides a Redis-backed distributed lock and a
// critical-section runner around it. One lock key guards one logical
// entity ("chatroom:<id>"); the TTL is the safety net against holders
// that crash without releasing.
package dlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrLockTimeout is returned when the lock could not be acquired
	// within the configured wait budget. Callers must treat it as
	// "operation not executed" and never fall back to running the
	// protected work unsynchronized.
	ErrLockTimeout = errors.New("dlock: lock acquisition timed out")

	// ErrUnavailable is returned when Redis itself cannot be reached.
	// Acquisition fails closed: an unreachable store never grants a lock.
	ErrUnavailable = errors.New("dlock: lock store unavailable")
)

// releaseScript deletes the key only when it still holds the caller's
// owner token, so a holder whose TTL expired cannot release a lock that
// was re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Client wraps the atomic set-if-absent / compare-and-delete primitives
// of a Redis instance into an acquire/release API with owner tokens.
type Client struct {
	rdb    *redis.Client
	prefix string
}

func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, prefix: "lock:"}
}

func (c *Client) key(resource string) string {
	return c.prefix + resource
}

// Acquire attempts a single atomic SET NX PX for the resource. It
// returns false when another owner currently holds the lock and an
// error only when the store could not be consulted at all.
func (c *Client) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.key(resource), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// Release removes the lock entry only if it is still owned by owner.
// It reports whether the entry was actually removed.
func (c *Client) Release(ctx context.Context, resource, owner string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, c.rdb, []string{c.key(resource)}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return deleted == 1, nil
}

// Locker runs units of work inside a distributed critical section.
type Locker struct {
	client   *Client
	logger   *zap.SugaredLogger
	ttl      time.Duration
	wait     time.Duration
	pollStep time.Duration
}

func NewLocker(client *Client, logger *zap.SugaredLogger, ttl, wait time.Duration) *Locker {
	return &Locker{
		client:   client,
		logger:   logger,
		ttl:      ttl,
		wait:     wait,
		pollStep: 25 * time.Millisecond,
	}
}

// WithLock acquires the lock for resource, runs fn, and releases the
// lock on every exit path, including a panic inside fn. A fresh owner
// token is generated per call so a stale holder can never release a
// re-acquired lock. If the lock is not acquired within the wait budget,
// WithLock returns ErrLockTimeout without running fn.
func (l *Locker) WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	owner := uuid.NewString()

	acquired, err := l.acquireWithWait(ctx, resource, owner)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrLockTimeout, resource)
	}

	defer func() {
		// Release must not inherit a cancelled request context.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		released, relErr := l.client.Release(releaseCtx, resource, owner)
		if relErr != nil {
			l.logger.Warnw("lock release failed", "resource", resource, "error", relErr)
			return
		}
		if !released {
			// TTL expired mid-work and someone else took over.
			l.logger.Warnw("lock was no longer held at release", "resource", resource)
		}
	}()

	return fn(ctx)
}

func (l *Locker) acquireWithWait(ctx context.Context, resource, owner string) (bool, error) {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.Acquire(ctx, resource, owner, l.ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().Add(l.pollStep).After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("%w: %s", ErrLockTimeout, resource)
		case <-time.After(l.pollStep):
		}
	}
}
