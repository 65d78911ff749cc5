// Package redis provides a Redis-backed implementation of
// identity.TokenCache so multiple workers can share acquired tokens
// instead of each contacting the identity endpoint.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/cloudward/azkit-go/identity"
	"github.com/cloudward/azkit-go/pipeline"
)

// Config for the Redis token cache. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all cache keys. ENV: TOKEN_CACHE_KEY_PREFIX
	KeyPrefix string `env:"TOKEN_CACHE_KEY_PREFIX,default=azkit:tokens:"`
	// Client overrides the connection entirely when set.
	Client redis.UniversalClient
}

// Cache implements identity.TokenCache on Redis. Entries carry a TTL
// equal to the token's remaining lifetime, so Redis expires them in
// lockstep with the tokens themselves.
type Cache struct {
	client    redis.UniversalClient
	keyPrefix string
	ownClient bool
	now       func() time.Time
}

// New creates a cache from Config.
func New(cfg Config) (*Cache, error) {
	client := cfg.Client
	own := false
	if client == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
		own = true
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "azkit:tokens:"
	}
	return &Cache{client: client, keyPrefix: prefix, ownClient: own, now: time.Now}, nil
}

// NewFromEnv builds a Cache using envdecode to populate Config.
func NewFromEnv() (*Cache, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

type entry struct {
	Token     string    `json:"token"`
	ExpiresOn time.Time `json:"expires_on"`
}

func (c *Cache) key(k string) string { return c.keyPrefix + k }

func (c *Cache) Get(ctx context.Context, key string) (pipeline.AccessToken, bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return pipeline.AccessToken{}, false, nil
	}
	if err != nil {
		return pipeline.AccessToken{}, false, err
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return pipeline.AccessToken{}, false, err
	}
	if !c.now().Before(e.ExpiresOn) {
		return pipeline.AccessToken{}, false, nil
	}
	return pipeline.AccessToken{Token: e.Token, ExpiresOn: e.ExpiresOn}, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, token pipeline.AccessToken) error {
	ttl := token.ExpiresOn.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry{Token: token.Token, ExpiresOn: token.ExpiresOn})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

// Close closes the Redis client if the cache created it.
func (c *Cache) Close() error {
	if c.ownClient {
		return c.client.Close()
	}
	return nil
}

var _ identity.TokenCache = (*Cache)(nil)
