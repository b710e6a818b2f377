package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisBreakerDuration = 30 * time.Second
	redisPingTimeout     = 2 * time.Second
)

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// redisTarget identifies the Redis settings a backend was dialed with.
type redisTarget struct {
	addr     string
	password string
	prefix   string
	db       int
}

func targetOf(cfg SettingsConfig) redisTarget {
	return redisTarget{addr: cfg.RedisAddr, password: cfg.RedisPassword, prefix: cfg.RedisPrefix, db: cfg.RedisDB}
}

type redisBackend struct {
	target  redisTarget
	client  *redis.Client
	limiter Limiter
}

// Manager applies the current settings to every check. It uses Redis when
// enabled and reachable, and the in-process limiter otherwise.
type Manager struct {
	settings SettingsProvider
	clock    func() time.Time
	dial     RedisClientFactory
	memory   Limiter
	breaker  *breaker

	mu      sync.Mutex
	backend *redisBackend
}

// NewManager constructs a Manager. A nil settings provider disables limiting.
func NewManager(settings SettingsProvider, clock func() time.Time, dial RedisClientFactory) *Manager {
	if settings == nil {
		settings = StaticSettings(SettingsConfig{})
	}
	if clock == nil {
		clock = time.Now
	}
	if dial == nil {
		dial = redis.NewClient
	}
	return &Manager{
		settings: settings,
		clock:    clock,
		dial:     dial,
		memory:   NewMemoryLimiter(),
		breaker:  newBreaker(redisBreakerDuration),
	}
}

// Limit returns the configured per-second limit; 0 means unlimited.
func (m *Manager) Limit() int {
	if m == nil {
		return 0
	}
	return normalizeSettings(m.settings()).Limit
}

// Allow checks key against the current limit.
func (m *Manager) Allow(ctx context.Context, key string) (Result, error) {
	if m == nil || key == "" {
		return Result{Allowed: true}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := normalizeSettings(m.settings())
	if cfg.Limit <= 0 {
		return Result{Allowed: true}, nil
	}
	now := m.clock()

	if !cfg.RedisEnabled {
		m.release()
	} else if !m.breaker.Open(now) {
		limiter, errConnect := m.connect(ctx, cfg)
		if errConnect == nil {
			result, errAllow := limiter.Allow(ctx, key, cfg.Limit, now)
			if errAllow == nil {
				return result, nil
			}
			errConnect = errAllow
		}
		m.breaker.Trip(errConnect, now)
	}
	return m.memory.Allow(ctx, key, cfg.Limit, now)
}

// Close releases the Redis client, if any.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	return m.release()
}

// connect returns a limiter for cfg, redialing when the Redis settings changed.
func (m *Manager) connect(ctx context.Context, cfg SettingsConfig) (Limiter, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}
	target := targetOf(cfg)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backend != nil {
		if m.backend.target == target {
			return m.backend.limiter, nil
		}
		_ = m.backend.client.Close()
		m.backend = nil
	}

	client := m.dial(&redis.Options{Addr: target.addr, Password: target.password, DB: target.db})
	ctxPing, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.backend = &redisBackend{target: target, client: client, limiter: NewRedisLimiter(client, target.prefix)}
	return m.backend.limiter, nil
}

func (m *Manager) release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend == nil {
		return nil
	}
	errClose := m.backend.client.Close()
	m.backend = nil
	return errClose
}
