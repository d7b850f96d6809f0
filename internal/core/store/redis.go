package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/pagegate/pagegate/internal/config"
)

// RedisStore keeps credentials in a single hash, <prefix>:credentials.
type RedisStore struct {
	client *redis.Client
	key    string
}

// OpenRedis connects to the configured server and verifies it answers.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis store: %w", err)
	}
	return NewRedisStore(client, cfg.Prefix), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = config.AppName
	}
	return &RedisStore{client: client, key: prefix + ":credentials"}
}

// Key returns the hash key holding the credentials.
func (r *RedisStore) Key() string {
	return r.key
}

func (r *RedisStore) GetCredential(ctx context.Context, resourceID string) (string, bool, error) {
	credential, err := r.client.HGet(ctx, r.key, strings.TrimSpace(resourceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("fetch credential: %w", err)
	}
	return credential, credential != "", nil
}

func (r *RedisStore) PutCredentials(ctx context.Context, credentials map[string]string) error {
	values := make(map[string]any, len(credentials))
	for id, credential := range credentials {
		id = strings.TrimSpace(id)
		if id == "" || credential == "" {
			continue
		}
		values[id] = credential
	}
	if len(values) == 0 {
		return nil
	}
	if err := r.client.HSet(ctx, r.key, values).Err(); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

func (r *RedisStore) ListCredentials(ctx context.Context) (map[string]string, error) {
	return r.QueryCredentials(ctx, CredentialQuery{All: true})
}

func (r *RedisStore) QueryCredentials(ctx context.Context, q CredentialQuery) (map[string]string, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return filterCredentials(all, q)
}

func (r *RedisStore) ForgetCredentials(ctx context.Context, q CredentialQuery) (int64, error) {
	selected, err := r.QueryCredentials(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(selected) == 0 {
		return 0, nil
	}
	fields := make([]string, 0, len(selected))
	for id := range selected {
		fields = append(fields, id)
	}
	removed, err := r.client.HDel(ctx, r.key, fields...).Result()
	if err != nil {
		return 0, fmt.Errorf("forget credentials: %w", err)
	}
	return removed, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
