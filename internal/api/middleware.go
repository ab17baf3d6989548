package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/observability"
	"amm-ledger/internal/storage"
)

type ctxKey struct{}

// userFrom returns the authenticated user stored by authenticate.
func userFrom(ctx context.Context) *domain.User {
	u, _ := ctx.Value(ctxKey{}).(*domain.User)
	return u
}

// authenticate verifies an HS256 bearer token and resolves its subject,
// a user public id, to the caller's row.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeFailure(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}
		if len(s.secret) == 0 {
			writeFailure(w, http.StatusUnauthorized, "authentication is not configured")
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.Subject == "" {
			writeFailure(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		u, err := s.users.UserByPublicID(r.Context(), claims.Subject)
		if errors.Is(err, storage.ErrNotFound) {
			writeFailure(w, http.StatusUnauthorized, "unknown user")
			return
		}
		if err != nil {
			s.logger.Error("resolve token subject", zap.Error(err))
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

const (
	limiterIdleTTL  = 10 * time.Minute
	maxLimiterUsers = 10_000
)

// rateLimiter bounds mutating requests per user. Buckets idle for the TTL
// are dropped, and at most size users are tracked (least recent first out).
type rateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[int64, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return newBoundedRateLimiter(rps, burst, maxLimiterUsers, limiterIdleTTL)
}

func newBoundedRateLimiter(rps float64, burst, size int, ttl time.Duration) *rateLimiter {
	return &rateLimiter{
		limiters: expirable.NewLRU[int64, *rate.Limiter](size, nil, ttl),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *rateLimiter) limiter(userID int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters.Get(userID)
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
	}
	// re-adding restarts the idle clock
	rl.limiters.Add(userID, l)
	return l
}

// handler must run after authenticate.
func (rl *rateLimiter) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := userFrom(r.Context())
		if u != nil && !rl.limiter(u.ID).Allow() {
			writeFailure(w, http.StatusTooManyRequests, "too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument counts requests by route pattern and status class.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordHTTPRequest(route, status)
	})
}
