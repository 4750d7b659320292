package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/geoimport/internal/config"
	"github.com/JonMunkholm/geoimport/internal/core"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-Key"

// APIKeyAuth resolves the X-API-Key header to a login and stores it as the
// session principal. A request without a key passes through anonymously
// unless RequireAPIKey is set; a request with an unknown key is always
// rejected.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	keys := cfg.APIKeyLogins()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				if cfg.RequireAPIKey {
					slog.Warn("auth: missing API key",
						"path", r.URL.Path,
						"method", r.Method,
						"remote_addr", r.RemoteAddr,
					)
					http.Error(w, `{"error":"missing API key","code":"AUTH_MISSING_KEY"}`, http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			login, ok := lookupKey(apiKey, keys)
			if !ok {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				http.Error(w, `{"error":"invalid API key","code":"AUTH_INVALID_KEY"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(core.ContextWithPrincipal(r.Context(), login)))
		})
	}
}

// lookupKey compares key against every configured key in constant time and
// returns the login of the match.
func lookupKey(key string, keys map[string]string) (string, bool) {
	var login string
	found := 0
	for valid, l := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			login = l
			found = 1
		}
	}
	return login, found == 1
}
