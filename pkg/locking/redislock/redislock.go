// Package redislock implements locking.Provider on Redis using SET NX PX
// with a random token, released by a compare-and-delete script.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wilhg/persist/pkg/locking"
	"github.com/wilhg/persist/pkg/persistence"
)

var _ locking.Provider = (*Provider)(nil)

// Defaults applied by New for zero Options fields.
const (
	DefaultTTL           = 30 * time.Second
	DefaultRetryInterval = 25 * time.Millisecond
	DefaultPrefix        = "persist:lock:"
)

// ErrNotHeld is returned when the lock expired before release.
var ErrNotHeld = errors.New("redislock: lock not held at release")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Options struct {
	// TTL bounds how long a crashed holder can block others. A step running
	// longer than TTL loses exclusivity.
	TTL           time.Duration
	RetryInterval time.Duration
	Prefix        string
}

type Provider struct {
	client redis.UniversalClient
	opts   Options
}

func New(client redis.UniversalClient, opts Options) *Provider {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &Provider{client: client, opts: opts}
}

// Key returns the Redis key guarding id.
func (p *Provider) Key(id persistence.ID) string { return p.opts.Prefix + id.String() }

// WithLock polls SET NX until it wins or ctx is done, runs body, then
// deletes the key only if it still holds this caller's token.
func (p *Provider) WithLock(ctx context.Context, id persistence.ID, body func(context.Context) error) (err error) {
	key := p.Key(id)
	token := uuid.NewString()
	if err := p.acquire(ctx, key, token); err != nil {
		return fmt.Errorf("redislock: lock %s: %w", id, err)
	}
	defer func() {
		if relErr := p.release(context.WithoutCancel(ctx), key, token); relErr != nil && err == nil {
			err = &ReleaseError{PersistenceID: id, Err: relErr}
		}
	}()
	return body(ctx)
}

// ReleaseError reports a failed release after body returned nil. Whatever
// body wrote is durable, so the step must not be retried.
type ReleaseError struct {
	PersistenceID persistence.ID
	Err           error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("redislock: %s released after success: %v", e.PersistenceID, e.Err)
}

func (e *ReleaseError) Unwrap() error { return e.Err }

// NonRetryable marks the step as completed despite the error.
func (e *ReleaseError) NonRetryable() bool { return true }

func (p *Provider) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(p.opts.RetryInterval)
	defer ticker.Stop()
	for {
		ok, err := p.client.SetNX(ctx, key, token, p.opts.TTL).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Provider) release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, p.client, []string{key}, token).Int64()
	if err != nil {
		return fmt.Errorf("redislock: release %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
