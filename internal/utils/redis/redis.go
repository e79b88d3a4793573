// Package redis keeps small cross-restart validator bookkeeping: a
// monotonically increasing round counter, the last seen chain height,
// and a rolling window of recent best completions.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/tensorplex-labs/sensei/internal/config"
)

const (
	roundCounterKey    = "validator:round"
	latestBlockKey     = "validator:latest_block"
	bestCompletionsKey = "validator:best_completions"

	// bestCompletionsKeep bounds the completion window; older entries
	// are trimmed on every push.
	bestCompletionsKeep = 100
)

// RoundsCache is the Redis-backed side channel next to the validator
// loop. Everything here is best-effort bookkeeping; the loop never
// depends on a value surviving.
type RoundsCache struct {
	client rueidis.Client
}

func NewRoundsCache(cfg *config.RedisEnvConfig) (*RoundsCache, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)},
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		SelectDB:    cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}

	return &RoundsCache{client: client}, nil
}

func (r *RoundsCache) Close() {
	r.client.Close()
}

// NextRound increments and returns the global round counter. The
// counter survives restarts, so round numbers in logs stay unique
// across the validator's lifetime.
func (r *RoundsCache) NextRound(ctx context.Context) (int64, error) {
	resp := r.client.Do(ctx, r.client.B().Incr().Key(roundCounterKey).Build())
	if err := resp.Error(); err != nil {
		return 0, err
	}
	return resp.AsInt64()
}

// CacheLatestBlock stores the last seen chain height with a TTL, so
// tooling next to the validator can read its view of the chain without
// a subtensor connection of its own.
func (r *RoundsCache) CacheLatestBlock(ctx context.Context, block int64, ttl time.Duration) error {
	value := strconv.FormatInt(block, 10)
	if ttl > 0 {
		return r.client.Do(ctx, r.client.B().Set().Key(latestBlockKey).Value(value).Ex(ttl).Build()).Error()
	}
	return r.client.Do(ctx, r.client.B().Set().Key(latestBlockKey).Value(value).Build()).Error()
}

// LatestBlock reads the cached chain height. An expired or never
// written key reads as 0 with no error.
func (r *RoundsCache) LatestBlock(ctx context.Context) (int64, error) {
	resp := r.client.Do(ctx, r.client.B().Get().Key(latestBlockKey).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return 0, nil
		}
		return 0, err
	}
	raw, err := resp.ToString()
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// PushBestCompletion appends one completion to the rolling window and
// trims the window to its configured size.
func (r *RoundsCache) PushBestCompletion(ctx context.Context, completion string) error {
	if completion == "" {
		return nil
	}
	cmds := rueidis.Commands{
		r.client.B().Rpush().Key(bestCompletionsKey).Element(completion).Build(),
		r.client.B().Ltrim().Key(bestCompletionsKey).Start(-bestCompletionsKeep).Stop(-1).Build(),
	}
	for _, resp := range r.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return err
		}
	}
	return nil
}

// RecentBestCompletions returns up to n of the most recent best
// completions, oldest first.
func (r *RoundsCache) RecentBestCompletions(ctx context.Context, n int64) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	resp := r.client.Do(ctx, r.client.B().Lrange().Key(bestCompletionsKey).Start(-n).Stop(-1).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return []string{}, nil
		}
		return nil, err
	}
	vals, err := resp.AsStrSlice()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return []string{}, nil
		}
		return nil, err
	}
	return vals, nil
}
