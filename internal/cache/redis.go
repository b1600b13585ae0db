package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lilsandesh/NeoShare/internal/metrics"
	"github.com/lilsandesh/NeoShare/internal/retry"
)

var errNotFound = errors.New("cache key not found")

// kv is the raw backend surface the retry loop drives. Factored out of
// Client so tests can exercise retry behavior without a live server.
type kv interface {
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	get(ctx context.Context, key string) ([]byte, error)
	close() error
}

type redisKV struct {
	c *redis.Client
}

func (r redisKV) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r redisKV) get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errNotFound
	}
	return b, err
}

func (r redisKV) close() error { return r.c.Close() }

// Client is the Redis-backed Cache. Transient failures are retried per the
// configured policy; a miss is terminal and never retried.
type Client struct {
	kv      kv
	policy  retry.Policy
	log     *slog.Logger
	metrics *metrics.Metrics
	ttl     time.Duration
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func NewClient(cfg Config, log *slog.Logger, m *metrics.Metrics) *Client {
	if log == nil {
		log = slog.Default()
	}
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newClient(redisKV{c: rc}, log, m)
}

func newClient(backend kv, log *slog.Logger, m *metrics.Metrics) *Client {
	policy := retry.CachePolicy()
	policy.Retryable = func(err error) bool { return !errors.Is(err, errNotFound) }
	return &Client{
		kv:      backend,
		policy:  policy,
		log:     log,
		metrics: m,
		ttl:     MirrorTTL,
	}
}

func (c *Client) Set(ctx context.Context, key string, value []byte) bool {
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return c.kv.set(ctx, key, value, c.ttl)
	})
	if err != nil {
		c.metrics.Inc(metrics.CacheMirrorFailures)
		c.log.Warn("cache set failed", "key", key, "err", err)
		return false
	}
	return true
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool) {
	var out []byte
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		b, err := c.kv.get(ctx, key)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if errors.Is(err, errNotFound) {
		return nil, false
	}
	if err != nil {
		c.metrics.Inc(metrics.CacheMirrorFailures)
		c.log.Warn("cache get failed", "key", key, "err", err)
		return nil, false
	}
	return out, true
}

func (c *Client) Close() error { return c.kv.close() }

// Shared instance management. The relay initializes the cache once at
// startup; code that runs before Init, or in deployments without a cache,
// sees a Noop.
var (
	sharedMu sync.Mutex
	shared   *Client
)

// Init creates the shared client on first call and returns the existing one
// on later calls.
func Init(cfg Config, log *slog.Logger, m *metrics.Metrics) *Client {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = NewClient(cfg, log, m)
	}
	return shared
}

// Shared returns the process-wide cache, or a Noop when Init has not run.
func Shared() Cache {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		return Noop{}
	}
	return shared
}

// Close tears down the shared client. Safe to call without a prior Init.
func Close() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		return nil
	}
	err := shared.Close()
	shared = nil
	if err != nil {
		return fmt.Errorf("closing cache client: %w", err)
	}
	return nil
}
