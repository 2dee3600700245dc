package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/ledger"
)

var _ ledger.SummaryCache = (*Redis)(nil)

const defaultRedisPrefix = "stars:summary:"

// Redis stores summaries as JSON strings so several server processes share
// one cache.
type Redis struct {
	rdb    goredis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedis wraps an existing client. A zero TTL stores keys without expiry.
func NewRedis(rdb goredis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, prefix: defaultRedisPrefix}
}

// DialRedis connects to addr and verifies the server answers.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	if addr == "" {
		return nil, errors.New("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (r *Redis) Get(ctx context.Context, key string) (domain.Summary, bool, error) {
	raw, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var s domain.Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		// Treat undecodable entries as misses; the next Set overwrites them.
		return nil, false, nil
	}
	return s, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, s domain.Summary) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.prefix+key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	if err := r.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
