package redis

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/tensorplex-labs/sensei/internal/config"
)

func integrationCache(t *testing.T) *RoundsCache {
	t.Helper()
	if os.Getenv("REDIS_INTEGRATION") != "1" {
		t.Skip("REDIS_INTEGRATION!=1; skipping real Redis integration test")
	}

	cfg := &config.RedisEnvConfig{RedisHost: "127.0.0.1", RedisPort: 6379}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			t.Fatalf("bad REDIS_PORT %q: %v", port, err)
		}
		cfg.RedisPort = p
	}

	cache, err := NewRoundsCache(cfg)
	if err != nil {
		t.Fatalf("NewRoundsCache: %v", err)
	}
	t.Cleanup(cache.Close)
	return cache
}

func TestRedisIntegration_RoundCounter(t *testing.T) {
	cache := integrationCache(t)
	ctx := context.Background()

	first, err := cache.NextRound(ctx)
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	second, err := cache.NextRound(ctx)
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	if second != first+1 {
		t.Fatalf("round counter not monotonic: %d then %d", first, second)
	}
}

func TestRedisIntegration_LatestBlock(t *testing.T) {
	cache := integrationCache(t)
	ctx := context.Background()

	if err := cache.CacheLatestBlock(ctx, 123456, time.Minute); err != nil {
		t.Fatalf("CacheLatestBlock: %v", err)
	}
	block, err := cache.LatestBlock(ctx)
	if err != nil {
		t.Fatalf("LatestBlock: %v", err)
	}
	if block != 123456 {
		t.Fatalf("cached block = %d, want 123456", block)
	}
}

func TestRedisIntegration_BestCompletionWindow(t *testing.T) {
	cache := integrationCache(t)
	ctx := context.Background()

	for i := 0; i < bestCompletionsKeep+10; i++ {
		if err := cache.PushBestCompletion(ctx, fmt.Sprintf("completion %d", i)); err != nil {
			t.Fatalf("PushBestCompletion: %v", err)
		}
	}

	recent, err := cache.RecentBestCompletions(ctx, bestCompletionsKeep*2)
	if err != nil {
		t.Fatalf("RecentBestCompletions: %v", err)
	}
	if len(recent) > bestCompletionsKeep {
		t.Fatalf("window holds %d entries, cap is %d", len(recent), bestCompletionsKeep)
	}
	if len(recent) == 0 || recent[len(recent)-1] != fmt.Sprintf("completion %d", bestCompletionsKeep+9) {
		t.Fatalf("window tail = %q, want the last pushed completion", recent[len(recent)-1])
	}
}
