package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/geoimport/internal/core"
	"github.com/JonMunkholm/geoimport/internal/web/middleware"
)

// WithRequestMetadata adds the client IP and User-Agent to ctx for session
// logs.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, middleware.ClientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	return ctx
}
