package httpmiddleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdempotencyHeader carries the client-chosen request key.
const IdempotencyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 255

// IdempotencyStore records keys that have been seen.
type IdempotencyStore interface {
	// Acquire records key for ttl. It reports false when the key is
	// already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release forgets key so it can be retried.
	Release(ctx context.Context, key string) error
}

// RedisIdempotencyStore keeps keys in Redis with SET NX.
type RedisIdempotencyStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisIdempotencyStore returns a store writing keys under prefix.
func NewRedisIdempotencyStore(rdb redis.UniversalClient, prefix string) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb, prefix: prefix}
}

// Acquire implements IdempotencyStore.
func (s *RedisIdempotencyStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.prefix+key, "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "setnx")
	}
	return ok, nil
}

// Release implements IdempotencyStore.
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}

// IdempotencyConfig configures the Idempotency middleware.
type IdempotencyConfig struct {
	Store IdempotencyStore
	// TTL is how long a successful key blocks repeats.
	TTL time.Duration
	// Scope namespaces keys, typically by the authenticated caller. Nil means
	// a single global namespace.
	Scope func(*http.Request) string
}

// Idempotency rejects a request with 409 Conflict when its Idempotency-Key
// was already used inside the TTL. Requests without the header pass through.
// When the first attempt does not succeed, or panics, the key is released so
// the client may retry. Store failures are logged and the request proceeds.
func Idempotency(cfg IdempotencyConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				writeError(w, http.StatusBadRequest, "idempotency key is too long")
				return
			}
			if cfg.Scope != nil {
				key = cfg.Scope(r) + ":" + key
			}

			ctx := r.Context()
			lg := zctx.From(ctx)

			acquired, err := cfg.Store.Acquire(ctx, key, cfg.TTL)
			if err != nil {
				lg.Warn("Idempotency store unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				writeError(w, http.StatusConflict, "duplicate request")
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			completed := false
			// Runs while a panic unwinds too, before Recovery writes the 500.
			defer func() {
				if completed && rec.status < http.StatusMultipleChoices {
					return
				}
				if err := cfg.Store.Release(context.WithoutCancel(ctx), key); err != nil {
					lg.Warn("Release idempotency key", zap.Error(err))
				}
			}()

			next.ServeHTTP(rec, r)
			completed = true
		})
	}
}
