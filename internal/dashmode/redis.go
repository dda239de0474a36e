package dashmode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the override when no key is given.
const DefaultRedisKey = "homedash:dashboard_mode"

// RedisClient is the subset of *redis.Client used by RedisStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps the override in Redis with a TTL matching its expiry, so
// several dashboard instances share one mode.
type RedisStore struct {
	client RedisClient
	key    string
	now    func() time.Time
}

// NewRedisStore uses key, or DefaultRedisKey when empty.
func NewRedisStore(client RedisClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, now: time.Now}
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (r *RedisStore) Save(ctx context.Context, st State) error {
	ttl := st.Until.Sub(r.now())
	if st.Until.IsZero() || ttl <= 0 {
		return r.client.Del(ctx, r.key).Err()
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("dashmode: redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context) (State, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("dashmode: redis get: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("dashmode: decode: %w", err)
	}
	return st, true, nil
}
