package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/atmx/price-tracker/internal/model"
)

// DefaultRedisKey is the sorted set used when none is configured.
const DefaultRedisKey = "prices:btc"

// RedisStore implements Store on a Redis sorted set scored by timestamp.
// Each member is the JSON encoding of one sample, so replacing a timestamp
// removes the old member by score before adding the new one.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	logger zerolog.Logger
}

// NewRedisClient parses url, connects and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opt.Addr, err)
	}
	return rdb, nil
}

// NewRedisStore creates a Redis-backed store on the sorted set key.
func NewRedisStore(rdb *redis.Client, key string, logger zerolog.Logger) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{
		rdb:    rdb,
		key:    key,
		logger: logger.With().Str("component", "redis_store").Str("key", key).Logger(),
	}
}

func (s *RedisStore) Insert(ctx context.Context, sample model.Sample) error {
	member, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample %d: %w", sample.Timestamp, err)
	}
	score := strconv.FormatInt(sample.Timestamp, 10)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, s.key, score, score)
		pipe.ZAdd(ctx, s.key, redis.Z{Score: float64(sample.Timestamp), Member: string(member)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert sample %d: %w", sample.Timestamp, err)
	}
	return nil
}

func (s *RedisStore) FetchAll(ctx context.Context) []model.Sample {
	members, err := s.rdb.ZRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		s.logger.Error().Err(err).Msg("fetch all samples failed")
		return []model.Sample{}
	}

	samples := make([]model.Sample, 0, len(members))
	for _, m := range members {
		var sample model.Sample
		if err := json.Unmarshal([]byte(m), &sample); err != nil {
			s.logger.Warn().Err(err).Str("member", m).Msg("skipping undecodable member")
			continue
		}
		samples = append(samples, sample)
	}
	return samples
}

func (s *RedisStore) DeleteByTimestamp(ctx context.Context, ts int64) error {
	score := strconv.FormatInt(ts, 10)
	removed, err := s.rdb.ZRemRangeByScore(ctx, s.key, score, score).Result()
	if err != nil {
		return fmt.Errorf("delete sample %d: %w", ts, err)
	}
	s.logger.Debug().Int64("removed", removed).Int64("timestamp", ts).Msg("deleted samples")
	return nil
}
