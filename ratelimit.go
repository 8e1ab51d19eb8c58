package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter decides whether a request identified by key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
	Close() error
}

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// memoryRateLimiter keeps one token bucket per key.
type memoryRateLimiter struct {
	limiters       map[string]*limiterEntry
	mu             sync.RWMutex
	limitPerMinute int
	stop           chan struct{}
	once           sync.Once
}

func NewMemoryRateLimiter(limitPerMinute int) *memoryRateLimiter {
	rl := &memoryRateLimiter{
		limiters:       make(map[string]*limiterEntry),
		limitPerMinute: limitPerMinute,
		stop:           make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *memoryRateLimiter) getLimiter(key string) *rate.Limiter {
	now := time.Now()
	rl.mu.RLock()
	e, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		e, exists = rl.limiters[key]
		if !exists {
			e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.limitPerMinute)/60, rl.limitPerMinute)}
			rl.limiters[key] = e
		}
		e.lastSeen = now
		rl.mu.Unlock()
		return e.limiter
	}

	rl.mu.Lock()
	e.lastSeen = now
	rl.mu.Unlock()
	return e.limiter
}

func (rl *memoryRateLimiter) Allow(_ context.Context, key string) bool {
	if rl.limitPerMinute <= 0 {
		return true
	}
	return rl.getLimiter(key).Allow()
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(limiterIdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			rl.sweep(now)
		case <-rl.stop:
			return
		}
	}
}

func (rl *memoryRateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, e := range rl.limiters {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(rl.limiters, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() error {
	rl.once.Do(func() { close(rl.stop) })
	return nil
}

// redisRateLimiter is a fixed one-minute window shared by every instance.
// Redis errors let the request through; the limiter protects against
// brute force and is not part of the authorization decision.
type redisRateLimiter struct {
	client         *redis.Client
	logger         *slog.Logger
	prefix         string
	limitPerMinute int
	timeout        time.Duration
}

func NewRedisRateLimiter(ctx context.Context, addr, password string, db, limitPerMinute int, logger *slog.Logger) (*redisRateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisRateLimiter{
		client:         client,
		logger:         logger,
		prefix:         "decodeauth:ratelimit:",
		limitPerMinute: limitPerMinute,
		timeout:        250 * time.Millisecond,
	}, nil
}

func (rl *redisRateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.limitPerMinute <= 0 {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	window := time.Now().Unix() / 60
	redisKey := rl.prefix + key + ":" + strconv.FormatInt(window, 10)
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Error("redis rate limiter error", "key", key, "error", err)
		return true
	}
	return incr.Val() <= int64(rl.limitPerMinute)
}

func (rl *redisRateLimiter) Close() error {
	return rl.client.Close()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return host
}

// RateLimit middleware enforces per-client-IP limits on credential endpoints.
func (a *App) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if !a.Limiter.Allow(r.Context(), "ip:"+ip) {
			a.Logger.WarnContext(r.Context(), "rate limit exceeded", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
