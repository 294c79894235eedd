package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps each session in a Redis hash under signon:session:<sid>.
// The hash TTL is refreshed on every write, giving idle-based expiry without
// a sweeper.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig selects the Redis backend. Password and DB override whatever
// the URL carries when set.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// NewRedisStore connects to Redis using a redis:// URL and verifies the
// connection with a ping.
func NewRedisStore(ctx context.Context, rc RedisConfig, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(rc.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if rc.Password != "" {
		opts.Password = rc.Password
	}
	if rc.DB != 0 {
		opts.DB = rc.DB
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Client exposes the underlying connection for health checks.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func sessionKey(sid string) string {
	return "signon:session:" + sid
}

// Set stores a value in the session hash and refreshes its TTL.
func (s *RedisStore) Set(ctx context.Context, sid, key string, value []byte) error {
	redisKey := sessionKey(sid)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisKey, key, value)
	pipe.Expire(ctx, redisKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write session value: %w", err)
	}
	return nil
}

// Get returns the value under key, or ErrNoValue.
func (s *RedisStore) Get(ctx context.Context, sid, key string) ([]byte, error) {
	value, err := s.client.HGet(ctx, sessionKey(sid), key).Bytes()
	if err == redis.Nil {
		return nil, ErrNoValue
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session value: %w", err)
	}
	return value, nil
}

// Delete removes a single key from the session hash.
func (s *RedisStore) Delete(ctx context.Context, sid, key string) error {
	if err := s.client.HDel(ctx, sessionKey(sid), key).Err(); err != nil {
		return fmt.Errorf("failed to delete session value: %w", err)
	}
	return nil
}

// Destroy removes the session hash entirely.
func (s *RedisStore) Destroy(ctx context.Context, sid string) error {
	if err := s.client.Del(ctx, sessionKey(sid)).Err(); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
