package auth

import (
	"context"
	"net/http"
	"strings"
)

// Principal is the authenticated user attached to a request context.
// It is the full credential-store row, re-fetched on every request, so
// a user deleted after token issuance is unauthenticated even with a
// structurally valid token.
type Principal struct {
	ID        int64
	Email     string
	Name      string
	Role      string
	CompanyID *int64
}

type contextKey string

const principalContextKey contextKey = "finsight.principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalContextKey)
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// BearerToken extracts the token from an Authorization header of the
// form "Bearer <token>". Empty string when the header is missing or
// not bearer-shaped.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}
