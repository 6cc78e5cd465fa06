package session

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hyperjump/lectern/internal/config"
)

const (
	keyPrefix  = "lectern:session:"
	counterKey = keyPrefix + "counter"
)

// RedisStore keeps each session as a Redis list of formatted messages, trimmed to the
// history window and expiring after a period without activity.
type RedisStore struct {
	client     *goredis.Client
	maxHistory int
	ttl        time.Duration
}

// NewRedisStore connects to cfg.RedisAddr and checks the connection.
func NewRedisStore(cfg config.SessionConfig) (*RedisStore, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis session backend needs session.redis_addr")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisStoreWithClient(client, cfg.MaxHistory, time.Duration(cfg.TTLMinutes)*time.Minute), nil
}

// NewRedisStoreWithClient uses an existing client. A ttl <= 0 disables expiry.
func NewRedisStoreWithClient(client *goredis.Client, maxHistory int, ttl time.Duration) *RedisStore {
	if maxHistory <= 0 {
		maxHistory = 2
	}
	return &RedisStore{client: client, maxHistory: maxHistory, ttl: ttl}
}

func messagesKey(id string) string { return keyPrefix + id + ":messages" }
func metaKey(id string) string     { return keyPrefix + id + ":meta" }

// Create starts a session with ID "session_<n>" from a shared counter.
func (s *RedisStore) Create(ctx context.Context) (string, error) {
	n, err := s.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate session id: %w", err)
	}
	id := fmt.Sprintf("session_%d", n)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, metaKey(id), time.Now().Unix(), s.ttl)
		pipe.Del(ctx, messagesKey(id))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// AddExchange appends both messages, trims the list and refreshes the expiry.
func (s *RedisStore) AddExchange(ctx context.Context, id, user, assistant string) error {
	limit := int64(s.maxHistory * 2)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.RPush(ctx, messagesKey(id), message{"User", user}.String(), message{"Assistant", assistant}.String())
		p.LTrim(ctx, messagesKey(id), -limit, -1)
		p.Set(ctx, metaKey(id), time.Now().Unix(), s.ttl)
		if s.ttl > 0 {
			p.Expire(ctx, messagesKey(id), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}
	return nil
}

// History implements Store.
func (s *RedisStore) History(ctx context.Context, id string) (string, error) {
	exists, err := s.client.Exists(ctx, metaKey(id)).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read session: %w", err)
	}
	if exists == 0 {
		return "", ErrNotFound
	}
	lines, err := s.client.LRange(ctx, messagesKey(id), 0, -1).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read history: %w", err)
	}
	return formatHistory(lines), nil
}

// Clear deletes a session.
func (s *RedisStore) Clear(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, metaKey(id), messagesKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error { return s.client.Close() }
