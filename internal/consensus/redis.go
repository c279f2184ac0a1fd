package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis runs the all-reduce through a shared Redis server. Each round uses
// two keys under the launch namespace: a flag set by any rank voting true
// and an arrival counter. The flag and the increment are written in one
// transaction, so once the counter reaches the group size every vote is
// visible.
//
// Rounds restart at zero whenever a run is relaunched, so keys also carry a
// launch number. Every rank counts its own launches in Redis, and ranks that
// were started together end up with the same number. A rank that missed a
// launch never meets the others and its rounds fail with ErrTimeout.
type Redis struct {
	client  redis.UniversalClient
	runID   string
	rank    int
	size    int
	poll    time.Duration
	timeout time.Duration
	ttl     time.Duration

	mu     sync.Mutex
	launch int64
}

// launchTTL keeps launch counters well past the lifetime of round keys.
const launchTTL = 30 * 24 * time.Hour

// RedisOption configures a Redis reducer.
type RedisOption func(*Redis)

// WithPollInterval sets how often the arrival counter is polled.
func WithPollInterval(d time.Duration) RedisOption {
	return func(r *Redis) { r.poll = d }
}

// WithRoundTimeout bounds how long a rank waits for the others.
func WithRoundTimeout(d time.Duration) RedisOption {
	return func(r *Redis) { r.timeout = d }
}

// NewRedis creates the reducer of rank in a group of size ranks sharing runID.
func NewRedis(client redis.UniversalClient, runID string, rank, size int, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		runID:   runID,
		rank:    rank,
		size:    size,
		poll:    20 * time.Millisecond,
		timeout: 5 * time.Minute,
		ttl:     time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenRedis connects to the server at url (redis://...) and pings it.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (r *Redis) Rank() int { return r.rank }
func (r *Redis) Size() int { return r.size }

// Launch returns the launch number of this reducer, registering a new
// launch of the rank on first use.
func (r *Redis) Launch(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.launch > 0 {
		return r.launch, nil
	}

	key := fmt.Sprintf("meshrun:%s:rank:%d:launches", r.runID, r.rank)
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, launchTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to register launch: %w", err)
	}
	r.launch = incr.Val()
	return r.launch, nil
}

func (r *Redis) keys(launch int64, round int) (flag, count string) {
	base := fmt.Sprintf("meshrun:%s:launch:%d:consensus:%d", r.runID, launch, round)
	return base + ":flag", base + ":count"
}

func (r *Redis) AnyTrue(ctx context.Context, round int, local bool) (bool, error) {
	launch, err := r.Launch(ctx)
	if err != nil {
		return false, err
	}
	flagKey, countKey := r.keys(launch, round)

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if local {
			p.Set(ctx, flagKey, r.rank, r.ttl)
		}
		p.Incr(ctx, countKey)
		p.Expire(ctx, countKey, r.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to publish consensus vote: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		n, err := r.client.Get(waitCtx, countKey).Int()
		switch {
		case err != nil && !errors.Is(err, redis.Nil) && waitCtx.Err() == nil:
			return false, fmt.Errorf("failed to read consensus counter: %w", err)
		case err == nil && n >= r.size:
			return r.flagged(ctx, flagKey)
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, fmt.Errorf("%w: round %d, %d of %d ranks arrived", ErrTimeout, round, n, r.size)
		case <-ticker.C:
		}
	}
}

func (r *Redis) flagged(ctx context.Context, flagKey string) (bool, error) {
	exists, err := r.client.Exists(ctx, flagKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read consensus flag: %w", err)
	}
	return exists > 0, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
