package web

import (
	"net/http"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/JonMunkholm/geoimport/internal/logging"
	"github.com/JonMunkholm/geoimport/internal/web/middleware"
)

// newRateLimit limits each client IP to perMinute requests per minute.
// Every call gets its own store, so limits on nested routes add up rather
// than share a budget.
func newRateLimit(perMinute int64) func(http.Handler) http.Handler {
	instance := limiter.New(memory.NewStore(), limiter.Rate{
		Period: time.Minute,
		Limit:  perMinute,
	})

	mw := stdlib.NewMiddleware(instance,
		stdlib.WithKeyGetter(middleware.ClientIP),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			logging.FromContext(r.Context()).Error("rate limiter failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, "rate limiter unavailable")
		}),
	)
	return mw.Handler
}
