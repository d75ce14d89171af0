package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = rueidis.NewLuaScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`)

// Redis is a Locker shared by every process pointed at the same server.
type Redis struct {
	client rueidis.Client
	prefix string
}

func NewRedisClient(addr string) (rueidis.Client, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

func NewRedis(client rueidis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	full := r.key(key)
	token := uuid.NewString()
	cmd := r.client.B().Set().Key(full).Value(token).Nx().PxMilliseconds(ttl.Milliseconds()).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("acquire %s: %w", full, err)
	}
	return func(ctx context.Context) error {
		return releaseScript.Exec(ctx, r.client, []string{full}, []string{token}).Error()
	}, nil
}

func (r *Redis) Close() {
	r.client.Close()
}
