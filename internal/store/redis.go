package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash that holds all session records.
const DefaultRedisKey = "trackpoll:sessions"

const redisConnectTimeout = 5 * time.Second

// RedisOptions configures a [RedisStore].
type RedisOptions struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password is the AUTH password. Empty disables authentication.
	Password string

	// DB selects the logical database.
	DB int

	// Key is the hash holding session records. Defaults to [DefaultRedisKey].
	Key string
}

// RedisStore is a [Store] backed by a single Redis hash.
//
// Each session is one hash field (the session ID) whose value is the JSON
// encoded [Record]. Keeping all sessions in one hash makes GetAll a single
// HGETALL rather than a keyspace SCAN.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection with PING.
//
// Returns an error if Addr is empty or the server is unreachable within
// five seconds. Call [RedisStore.Close] to release the connection pool.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	key := opts.Key
	if key == "" {
		key = DefaultRedisKey
	}

	rdb := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStoreFromClient(rdb, key), nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps
// ownership of connection setup; Close still closes the client.
func NewRedisStoreFromClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Key returns the name of the Redis hash in use.
func (r *RedisStore) Key() string {
	return r.key
}

// Get returns the record stored for id.
func (r *RedisStore) Get(ctx context.Context, id string) (Record, bool, error) {
	val, err := r.client.HGet(ctx, r.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("redis hget failed: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return Record{}, false, fmt.Errorf("unmarshal session %q: %w", id, err)
	}
	return rec, true, nil
}

// Set stores rec as one hash field.
func (r *RedisStore) Set(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session %q: %w", rec.ID, err)
	}
	if err := r.client.HSet(ctx, r.key, rec.ID, data).Err(); err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

// Remove deletes the hash field for id.
func (r *RedisStore) Remove(ctx context.Context, id string) error {
	if err := r.client.HDel(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("redis hdel failed: %w", err)
	}
	return nil
}

// GetAll returns every record in the hash.
//
// Fields that fail to decode are skipped rather than failing the whole read,
// so one corrupt entry cannot block restoration of the rest.
func (r *RedisStore) GetAll(ctx context.Context) (map[string]Record, error) {
	vals, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	out := make(map[string]Record, len(vals))
	for id, val := range vals {
		var rec Record
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			continue
		}
		rec.ID = id
		out[id] = rec
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
