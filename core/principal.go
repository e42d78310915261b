package core

import (
	"context"

	"github.com/gin-gonic/gin"
)

// Principal is the resolved caller of a single request.
type Principal struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the principal currently holds role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFrom returns the principal attached by the request authenticator, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

func principalFromGin(c *gin.Context) (Principal, bool) {
	return PrincipalFrom(c.Request.Context())
}
