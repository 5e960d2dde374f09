package detection

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisWindowPrefix = "window/"

// RedisWindowStore keeps windows in sorted sets scored by arrival time, so
// several bot processes share one view of recent activity.
type RedisWindowStore struct {
	Client *redis.Client
}

func NewRedisWindowStore(redisURL string) (*RedisWindowStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, err
	}
	return &RedisWindowStore{Client: rdb}, nil
}

func cutoffScore(now time.Time, window time.Duration) string {
	// exclusive bound: an entry exactly one window old is expired
	return strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
}

func (s *RedisWindowStore) Add(ctx context.Context, key, id string, at time.Time, window time.Duration) ([]string, error) {
	k := redisWindowPrefix + key
	multi := s.Client.TxPipeline()
	multi.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixMilli()), Member: id})
	multi.ZRemRangeByScore(ctx, k, "-inf", cutoffScore(at, window))
	live := multi.ZRange(ctx, k, 0, -1)
	multi.PExpire(ctx, k, window)
	if _, err := multi.Exec(ctx); err != nil {
		return nil, err
	}
	return live.Val(), nil
}

func (s *RedisWindowStore) Clear(ctx context.Context, key string) error {
	return s.Client.Del(ctx, redisWindowPrefix+key).Err()
}
