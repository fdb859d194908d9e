package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/iota-uz/iota-attest/pkg/composables"
	"github.com/iota-uz/iota-attest/pkg/httpapi"
)

type RateLimitConfig struct {
	RequestsPerPeriod int
	Period            time.Duration
	Store             limiter.Store
	// KeyFunc defaults to the client IP resolved by WithLogger.
	KeyFunc func(r *http.Request) string
}

func NewMemoryStore() limiter.Store {
	return memory.NewStore()
}

// NewRedisStore accepts either a redis:// URL or a bare host:port.
func NewRedisStore(redisURL string) (limiter.Store, error) {
	client := redis.NewClient(RedisOptions(redisURL))
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: "attest:ratelimit",
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit redis store: %w", err)
	}
	return store, nil
}

// RedisOptions parses a redis:// URL, falling back to treating the value as an address.
func RedisOptions(redisURL string) *redis.Options {
	if strings.Contains(redisURL, "://") {
		if opts, err := redis.ParseURL(redisURL); err == nil {
			return opts
		}
	}
	return &redis.Options{Addr: redisURL}
}

func clientIP(r *http.Request) string {
	if ip, ok := composables.UseIP(r.Context()); ok && ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func RateLimit(cfg RateLimitConfig) mux.MiddlewareFunc {
	if cfg.Period == 0 {
		cfg.Period = time.Second
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	instance := limiter.New(cfg.Store, limiter.Rate{
		Period: cfg.Period,
		Limit:  int64(cfg.RequestsPerPeriod),
	})
	mw := stdlib.NewMiddleware(instance,
		stdlib.WithKeyGetter(cfg.KeyFunc),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			_ = httpapi.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests",
				map[string]string{"request_id": composables.UseRequestID(r.Context())})
		}),
	)
	return mw.Handler
}
