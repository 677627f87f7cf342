package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"medical-dictation-service/internal/observability/metrics"
)

// RedisStore keeps session state and results in Redis so that restarts
// do not lose in-flight dictations.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func NewRedis(cfg RedisConfig, log zerolog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
		log:    log.With().Str("component", "redis_store").Logger(),
	}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.client.Set(ctx, s.key(key), value, ttl).Err()
	metrics.DefaultMetrics.RecordStoreOp("put", err)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Redis SET failed")
	}
	return err
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.DefaultMetrics.RecordStoreOp("get", nil)
		return nil, ErrNotFound
	}
	metrics.DefaultMetrics.RecordStoreOp("get", err)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Redis GET failed")
		return nil, err
	}
	return val, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	err := s.client.Del(ctx, s.key(key)).Err()
	metrics.DefaultMetrics.RecordStoreOp("delete", err)
	return err
}

// Increment bumps a counter and refreshes its TTL. Used for per-source
// session accounting that must survive process restarts.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, s.key(key))
	pipe.Expire(ctx, s.key(key), ttl)
	_, err := pipe.Exec(ctx)
	metrics.DefaultMetrics.RecordStoreOp("increment", err)
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
