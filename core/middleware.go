package core

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	bearerPrefix    = "Bearer "
)

// OriginRefererMiddleware validates Origin/Referer against allowed list and sets CORS headers.
func OriginRefererMiddleware(cfg Config) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.ToLower(o)] = struct{}{}
	}

	isAllowed := func(origin string) bool {
		if origin == "" {
			// Non-browser clients and same-origin navigation send no Origin.
			return true
		}
		if len(allowed) == 0 {
			return false
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		referer := c.GetHeader("Referer")
		if origin == "" && referer != "" {
			if u, err := url.Parse(referer); err == nil && u.Host != "" {
				origin = u.Scheme + "://" + u.Host
			}
		}

		// Preflight handling
		if c.Request.Method == http.MethodOptions && origin != "" {
			if !isAllowed(origin) {
				respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
				c.Abort()
				return
			}
			setCORSHeaders(c, origin)
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}

		if !isAllowed(origin) {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
			c.Abort()
			return
		}
		if origin != "" {
			setCORSHeaders(c, origin)
		}
		c.Next()
	}
}

func setCORSHeaders(c *gin.Context, origin string) {
	c.Header("Access-Control-Allow-Origin", origin)
	c.Header("Vary", "Origin")
	c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
	c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	c.Header("Access-Control-Expose-Headers", requestIDHeader)
}

// RequestIDMiddleware propagates X-Request-ID or assigns a fresh UUID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RequestLogger writes one structured entry per request and records HTTP metrics.
func RequestLogger(log logrus.FieldLogger, metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		if metrics != nil {
			metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(latency.Seconds())
		}

		fields := logrus.Fields{
			"request_id": requestIDFrom(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
		}
		if p, ok := principalFromGin(c); ok {
			fields["subject"] = p.Subject
		}
		entry := log.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

// RequestAuthenticator resolves the bearer token of each request into a Principal.
// A missing or unusable credential is never an error here; the request simply
// proceeds without a principal and the AuthorizationGate decides.
type RequestAuthenticator struct {
	tokens  *TokenCodec
	creds   CredentialStore
	metrics *Metrics
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewRequestAuthenticator(tokens *TokenCodec, creds CredentialStore, metrics *Metrics, log logrus.FieldLogger) *RequestAuthenticator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RequestAuthenticator{
		tokens:  tokens,
		creds:   creds,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

// Resolve maps an Authorization header value to a principal. The second result
// names the outcome for metrics.
func (a *RequestAuthenticator) Resolve(ctx context.Context, authorization string) (*Principal, string) {
	token, ok := bearerToken(authorization)
	if !ok {
		return nil, "anonymous"
	}

	subject, err := a.tokens.ParseAndVerify(token, a.now())
	if err != nil {
		kind := tokenErrorKind(err)
		a.log.WithField("reason", kind).Debug("bearer token rejected")
		return nil, "invalid_token_" + kind
	}

	cred, err := a.creds.FindCredential(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			a.log.WithField("subject", subject).Debug("token subject no longer exists")
			return nil, "unknown_subject"
		}
		a.log.WithField("subject", subject).WithError(err).Warn("credential lookup failed during request authentication")
		return nil, "store_error"
	}

	roles := append([]string(nil), cred.Roles...)
	return &Principal{Subject: cred.Username, Roles: roles}, "authenticated"
}

// Handler attaches the resolved principal to the request context.
func (a *RequestAuthenticator) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, outcome := a.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		a.metrics.observeAuthOutcome(outcome)
		if p != nil {
			c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), *p))
		}
		c.Next()
	}
}
