package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLease bounds how long a crashed run can keep an input locked.
const DefaultLease = 30 * time.Minute

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key. Defaults to "bq-ingest:".
	Prefix string
	// Lease is the lock expiry. Defaults to DefaultLease.
	Lease time.Duration
}

// RedisStore keeps checkpoints in Redis:
//
//	<prefix>checkpoint:<input>  raw checkpoint value
//	<prefix>lock:<input>        lease token (SET NX PX)
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	lease  time.Duration
}

// NewRedisStore connects to Redis.
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreWithClient(client, opts)
}

// NewRedisStoreWithClient wraps an existing client. Addr, Password and DB in
// opts are ignored.
func NewRedisStoreWithClient(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "bq-ingest:"
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	return &RedisStore{client: client, prefix: prefix, lease: lease}
}

func (s *RedisStore) key(kind, input string) string {
	return s.prefix + kind + ":" + input
}

// Load returns the stored checkpoint or fallback when the key is absent.
func (s *RedisStore) Load(ctx context.Context, input, fallback string) (string, error) {
	val, err := s.client.Get(ctx, s.key("checkpoint", input)).Result()
	if errors.Is(err, redis.Nil) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get checkpoint for %s: %w", input, err)
	}
	return val, nil
}

// Save overwrites the checkpoint for input. The key never expires.
func (s *RedisStore) Save(ctx context.Context, input, value string) error {
	if err := s.client.Set(ctx, s.key("checkpoint", input), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set checkpoint for %s: %w", input, err)
	}
	return nil
}

// Lock takes a lease on input. The lease expires on its own if the run dies.
func (s *RedisStore) Lock(ctx context.Context, input string) (func(context.Context) error, error) {
	key := s.key("lock", input)
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, token, s.lease).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", input, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, s.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock for %s: %w", input, err)
		}
		return nil
	}, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
