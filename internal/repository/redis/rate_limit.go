package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/genstudio-auth/internal/core/port"
)

// admitScript keeps one sorted set per key with microsecond scores.
//
//	KEYS[1] window key
//	ARGV[1] drop threshold, ARGV[2] now, ARGV[3] limit, ARGV[4] member, ARGV[5] ttl ms
var admitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
local admitted = 0
if count < tonumber(ARGV[3]) then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
	count = count + 1
	admitted = 1
end
if tonumber(ARGV[5]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {count, admitted, oldest[2] or ''}
`)

// SlidingWindowConfig configures the Redis sliding-window store. A zero TTL
// expires keys after the window passed to Admit.
type SlidingWindowConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// RateLimitRepository implements port.RateLimitStore on Redis sorted sets.
type RateLimitRepository struct {
	client *redis.Client
	cfg    SlidingWindowConfig
	seq    atomic.Uint64
}

func NewRateLimitRepository(client *redis.Client, cfg SlidingWindowConfig) *RateLimitRepository {
	return &RateLimitRepository{client: client, cfg: cfg}
}

// Admit records an attempt at now unless limit attempts already fall inside
// (now-window, now].
func (r *RateLimitRepository) Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (port.RateLimitWindow, error) {
	if window <= 0 || limit <= 0 {
		return port.RateLimitWindow{}, errors.New("rate limit: window and limit must be positive")
	}

	ttl := r.cfg.TTL
	if ttl < window {
		ttl = window
	}
	nowMicro := now.UnixMicro()
	member := strconv.FormatInt(nowMicro, 10) + "-" + strconv.FormatUint(r.seq.Add(1), 10)

	raw, err := admitScript.Run(ctx, r.client, []string{r.key(key)},
		strconv.FormatInt(now.Add(-window).UnixMicro(), 10),
		strconv.FormatInt(nowMicro, 10),
		limit,
		member,
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return port.RateLimitWindow{}, fmt.Errorf("redis admit attempt: %w", err)
	}
	if len(raw) != 3 {
		return port.RateLimitWindow{}, fmt.Errorf("redis admit attempt: unexpected reply %v", raw)
	}

	count, _ := raw[0].(int64)
	admitted, _ := raw[1].(int64)
	res := port.RateLimitWindow{Count: int(count), Admitted: admitted == 1}

	if score, _ := raw[2].(string); score != "" {
		micros, err := strconv.ParseFloat(score, 64)
		if err != nil {
			return port.RateLimitWindow{}, fmt.Errorf("parse oldest attempt: %w", err)
		}
		res.Oldest = time.UnixMicro(int64(micros))
	}
	return res, nil
}

func (r *RateLimitRepository) key(key string) string {
	if r.cfg.KeyPrefix == "" {
		return key
	}
	return r.cfg.KeyPrefix + ":" + key
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
