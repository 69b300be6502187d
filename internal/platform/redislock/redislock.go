// Package redislock implements short-lived mutual exclusion keys on Redis.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/tool"
)

const keyPrefix = "webhook:lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// NewClient builds a client from redis.url. It does not ping: the lock store
// is allowed to be down at startup.
func NewClient(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func Key(name string) string { return keyPrefix + name }

// Acquire sets the lock key if absent. The returned token must be passed to Release.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := tool.NewToken()
	ok, err := l.client.SetNX(ctx, Key(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis set nx %s: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the lock if it is still owned by token.
func (l *Locker) Release(ctx context.Context, name, token string) error {
	if token == "" {
		return nil
	}
	err := releaseScript.Run(ctx, l.client, []string{Key(name)}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release %s: %w", name, err)
	}
	return nil
}

func registerClose(lc fx.Lifecycle, l *zap.SugaredLogger, client *redis.Client) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			l.Infow("closing redis client")
			return client.Close()
		},
	})
}

var Module = fx.Options(
	fx.Provide(
		NewClient,
		func(c *redis.Client) redis.UniversalClient { return c },
		New,
	),
	fx.Invoke(registerClose),
)
