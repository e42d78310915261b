package core

import (
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Access is the authentication state a path requires.
type Access int

const (
	AccessPublic Access = iota
	AccessAuthenticated
)

// AccessRule binds a path pattern to the access it requires.
//
// Pattern forms: an exact path ("/healthz"), a path.Match glob per segment
// ("/api/users/*/photo"), or a prefix ending in "/**" that matches the prefix
// itself and everything below it ("/api/auth/**"). "/**" matches every path.
type AccessRule struct {
	Pattern string
	Access  Access
}

// DefaultAccessRules is the table used by NewRouter. Order matters.
func DefaultAccessRules() []AccessRule {
	return []AccessRule{
		{Pattern: "/healthz", Access: AccessPublic},
		{Pattern: "/metrics", Access: AccessPublic},
		{Pattern: "/api/auth/**", Access: AccessPublic},
		{Pattern: "/**", Access: AccessAuthenticated},
	}
}

func matchPattern(pattern, p string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		if prefix == "" {
			return true
		}
		return p == prefix || strings.HasPrefix(p, prefix+"/")
	}
	if pattern == p {
		return true
	}
	ok, err := path.Match(pattern, p)
	return err == nil && ok
}

// requiredAccess returns the access of the first matching rule. ok is false
// when no rule matches.
func requiredAccess(rules []AccessRule, p string) (Access, bool) {
	for _, r := range rules {
		if matchPattern(r.Pattern, p) {
			return r.Access, true
		}
	}
	return AccessAuthenticated, false
}

// AuthorizationGate rejects requests to non-public paths that carry no
// principal. A path matching no rule is treated as requiring authentication.
func AuthorizationGate(rules []AccessRule, metrics *Metrics, log logrus.FieldLogger) gin.HandlerFunc {
	table := append([]AccessRule(nil), rules...)
	return func(c *gin.Context) {
		access, _ := requiredAccess(table, path.Clean("/"+c.Request.URL.Path))
		if access == AccessPublic {
			c.Next()
			return
		}
		if _, ok := principalFromGin(c); ok {
			c.Next()
			return
		}
		metrics.observeDenial(c.Request.Method)
		abortWithError(c, log, ErrUnauthenticated)
	}
}
