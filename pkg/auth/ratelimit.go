package auth

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter enforces a per-actor request rate. Actors without an
// authenticated principal are keyed by remote address.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewLimiter creates a per-actor limiter allowing rps requests per second
// with the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *Limiter) limiterFor(actor string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[actor]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[actor] = lim
	}
	return lim
}

// Allow reports whether the actor may proceed.
func (l *Limiter) Allow(actor string) bool {
	return l.limiterFor(actor).Allow()
}

// RateLimitMiddleware enforces per-actor rate limiting at the HTTP layer.
// A nil Limiter disables limiting (dev mode).
func RateLimitMiddleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}

			actor := r.RemoteAddr
			if p, err := GetPrincipal(r.Context()); err == nil {
				actor = p.GetID()
			}

			if !l.Allow(actor) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
