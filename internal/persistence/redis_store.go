package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/statebox/pkg/api"
)

// RedisStore is a Store backed by Redis. It uses a simple key structure:
//
//	<prefix>val:<key>      => raw payload string
//	<prefix>chg:<key>      => pub/sub channel carrying redisChange messages
//
// The value write and the change publication run in one MULTI/EXEC block
// so subscribers never see a change before the value is readable.
type RedisStore struct {
	client *redis.Client
	prefix string
	origin string
}

var _ Store = (*RedisStore)(nil)

type redisChange struct {
	Origin string  `json:"origin"`
	Value  *string `json:"value"`
}

// NewRedisStore creates a RedisStore view with its own origin.
// prefix is optional but recommended (e.g. "statebox:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "statebox:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		origin: newOrigin(),
	}
}

// Tab returns another view over the same client and prefix with a new origin.
func (s *RedisStore) Tab() *RedisStore {
	return &RedisStore{client: s.client, prefix: s.prefix, origin: newOrigin()}
}

func (s *RedisStore) keyValue(key string) string {
	return s.prefix + "val:" + key
}

func (s *RedisStore) keyChannel(key string) string {
	return s.prefix + "chg:" + key
}

func (s *RedisStore) Origin() string {
	return s.origin
}

func (s *RedisStore) Load(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.keyValue(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Store(ctx context.Context, key, value string) error {
	return s.write(ctx, key, &value)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.write(ctx, key, nil)
}

func (s *RedisStore) write(ctx context.Context, key string, value *string) error {
	msg, err := json.Marshal(redisChange{Origin: s.origin, Value: value})
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	if value != nil {
		pipe.Set(ctx, s.keyValue(key), *value, 0)
	} else {
		pipe.Del(ctx, s.keyValue(key))
	}
	pipe.Publish(ctx, s.keyChannel(key), msg)
	_, err = pipe.Exec(ctx)
	return err
}

// Watch subscribes to the key's change channel. It returns once the
// subscription is confirmed by the server.
func (s *RedisStore) Watch(ctx context.Context, key string, fn func(api.Change)) (func(), error) {
	sub := s.client.Subscribe(ctx, s.keyChannel(key))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var c redisChange
				if err := json.Unmarshal([]byte(m.Payload), &c); err != nil {
					continue
				}
				if c.Origin == s.origin || ctx.Err() != nil {
					continue
				}
				fn(api.Change{Key: key, Value: c.Value, Origin: c.Origin})
			}
		}
	}()

	return cancel, nil
}
