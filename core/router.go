package core

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RouterDeps carries the collaborators NewRouter wires into handlers.
// Auth, Requests, Users, Details and Photos are required. Limiter, Metrics,
// Probes, Rules and Logger are optional.
type RouterDeps struct {
	Auth     AuthService
	Requests *RequestAuthenticator
	Users    *UserService
	Details  *DetailsService
	Photos   *PhotoService
	Limiter  LoginLimiter
	Metrics  *Metrics
	Probes   map[string]Probe
	Rules    []AccessRule
	Logger   logrus.FieldLogger
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, deps RouterDeps) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	registerValidators()

	startedAt := time.Now()
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	rules := deps.Rules
	if rules == nil {
		rules = DefaultAccessRules()
	}

	r := gin.New()
	r.Use(gin.Recovery())

	// origin/CORS -> request id -> access log -> authentication -> authorization
	r.Use(OriginRefererMiddleware(cfg))
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, deps.Metrics))
	r.Use(deps.Requests.Handler())
	r.Use(AuthorizationGate(rules, deps.Metrics, log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		api.POST("/auth/login", loginHandler(deps, log))

		api.GET("/users/me", func(c *gin.Context) {
			p, ok := requireLogin(c)
			if !ok {
				return
			}
			c.JSON(http.StatusOK, gin.H{"username": p.Subject, "roles": p.Roles})
		})

		registerUserRoutes(api, cfg, deps, log)

		admin := api.Group("/admin", AdminOnly())
		admin.GET("/system/status", func(c *gin.Context) {
			st := CollectSystemStatus(c.Request.Context(), deps.Probes, startedAt)
			status := http.StatusOK
			if !st.Healthy() {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, st)
		})
	}

	return r, nil
}

func (d RouterDeps) validate() error {
	var missing []string
	if d.Auth == nil {
		missing = append(missing, "Auth")
	}
	if d.Requests == nil {
		missing = append(missing, "Requests")
	}
	if d.Users == nil {
		missing = append(missing, "Users")
	}
	if d.Details == nil {
		missing = append(missing, "Details")
	}
	if d.Photos == nil {
		missing = append(missing, "Photos")
	}
	if len(missing) > 0 {
		return fmt.Errorf("router: missing required dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}

func loginHandler(deps RouterDeps, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, log, bindError(err))
			return
		}

		if deps.Limiter != nil {
			allowed, err := deps.Limiter.Allow(c.Request.Context(), c.ClientIP())
			if err != nil {
				log.WithError(err).Warn("login rate limiter unavailable; allowing attempt")
			}
			if !allowed {
				deps.Metrics.observeLogin("rate_limited")
				writeError(c, log, ErrTooManyRequests)
				return
			}
		}

		token, err := deps.Auth.Authenticate(c.Request.Context(), req)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				deps.Metrics.observeLogin("invalid_credentials")
			} else {
				deps.Metrics.observeLogin("error")
			}
			writeError(c, log, err)
			return
		}
		deps.Metrics.observeLogin("success")
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// requireLogin returns the request principal or writes 401.
func requireLogin(c *gin.Context) (Principal, bool) {
	p, ok := principalFromGin(c)
	if !ok {
		abortWithError(c, nil, ErrUnauthenticated)
		return Principal{}, false
	}
	return p, true
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

func parsePagination(pageStr, perPageStr string) (int, int, error) {
	page := 1
	perPage := defaultPerPage
	if strings.TrimSpace(pageStr) != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, validationError("page must be a positive integer")
		}
		page = p
	}
	if strings.TrimSpace(perPageStr) != "" {
		p, err := strconv.Atoi(perPageStr)
		if err != nil || p <= 0 {
			return 0, 0, validationError("per_page must be a positive integer")
		}
		if p > maxPerPage {
			p = maxPerPage
		}
		perPage = p
	}
	return page, perPage, nil
}

func calcTotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
