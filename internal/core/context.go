package core

import "context"

type contextKey string

const (
	ctxKeyPrincipal contextKey = "import_principal"
	ctxKeyIPAddress contextKey = "import_ip"
	ctxKeyUserAgent contextKey = "import_ua"
)

// ContextWithPrincipal stores the authenticated login.
func ContextWithPrincipal(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, login)
}

// PrincipalFromContext returns the authenticated login, or "" when the
// request is anonymous.
func PrincipalFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyPrincipal).(string); ok {
		return v
	}
	return ""
}

// ContextWithIPAddress adds the client IP for session logs.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// ContextWithUserAgent adds the client User-Agent for session logs.
func ContextWithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

// IPAddressFromContext returns the client IP, or "" outside HTTP requests.
func IPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

// UserAgentFromContext returns the client User-Agent.
func UserAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}
