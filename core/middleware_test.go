package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Bearer    ", "", false},
		{"bearer abc", "", false},
		{"Basic YWxhZGRpbjo=", "", false},
		{"Bearer abc", "abc", true},
		{"Bearer  abc ", "abc", true},
	}
	for _, tc := range cases {
		got, ok := bearerToken(tc.header)
		assert.Equal(t, tc.ok, ok, "header %q", tc.header)
		assert.Equal(t, tc.token, got, "header %q", tc.header)
	}
}

func TestRequestAuthenticatorResolve(t *testing.T) {
	store := newMemStore()
	_, err := store.Create(context.Background(), "alice", "digest", []int64{1, 2})
	require.NoError(t, err)
	tokens := newTestCodec(t, time.Hour)
	ra := NewRequestAuthenticator(tokens, store, nil, quietLogger())
	ra.now = func() time.Time { return tokenEpoch }

	good, err := tokens.Issue("alice", tokenEpoch)
	require.NoError(t, err)
	ghost, err := tokens.Issue("ghost", tokenEpoch)
	require.NoError(t, err)
	stale, err := tokens.Issue("alice", tokenEpoch.Add(-2*time.Hour))
	require.NoError(t, err)

	p, outcome := ra.Resolve(context.Background(), "Bearer "+good)
	require.NotNil(t, p)
	assert.Equal(t, "authenticated", outcome)
	assert.Equal(t, "alice", p.Subject)
	assert.ElementsMatch(t, []string{RoleUser, RoleAdmin}, p.Roles)

	rejected := []struct{ header, outcome string }{
		{"", "anonymous"},
		{"Token " + good, "anonymous"},
		{"Bearer garbage", "invalid_token_malformed"},
		{"Bearer " + stale, "invalid_token_expired"},
		{"Bearer " + flipSignatureBit(t, good, 3), "invalid_token_bad_signature"},
		{"Bearer " + ghost, "unknown_subject"},
	}
	for _, tc := range rejected {
		p, outcome := ra.Resolve(context.Background(), tc.header)
		assert.Nil(t, p, "header %q", tc.header)
		assert.Equal(t, tc.outcome, outcome, "header %q", tc.header)
	}

	store.credErr = errors.New("db down")
	p, outcome = ra.Resolve(context.Background(), "Bearer "+good)
	assert.Nil(t, p)
	assert.Equal(t, "store_error", outcome)
}

func TestRequestAuthenticatorUsesCurrentRoles(t *testing.T) {
	store := newMemStore()
	u, err := store.Create(context.Background(), "alice", "digest", []int64{1, 2})
	require.NoError(t, err)
	tokens := newTestCodec(t, time.Hour)
	ra := NewRequestAuthenticator(tokens, store, nil, nil)
	tok, err := tokens.Issue("alice", time.Now())
	require.NoError(t, err)

	_, err = store.Update(context.Background(), u.ID, UserUpdate{Username: "alice", RoleIDs: []int64{1}})
	require.NoError(t, err)

	p, _ := ra.Resolve(context.Background(), "Bearer "+tok)
	require.NotNil(t, p)
	assert.False(t, p.HasRole(RoleAdmin))
	assert.True(t, p.HasRole(RoleUser))
}

func TestRequestAuthenticatorHandlerRecordsOutcome(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newMemStore()
	tokens := newTestCodec(t, time.Hour)
	metrics := NewMetrics()
	ra := NewRequestAuthenticator(tokens, store, metrics, quietLogger())

	r := gin.New()
	r.Use(ra.Handler())
	var seen bool
	r.GET("/probe", func(c *gin.Context) {
		_, seen = principalFromGin(c)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code, "authentication never rejects by itself")
	assert.False(t, seen)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestAuthOutcomes.WithLabelValues("invalid_token_malformed")))
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/id", func(c *gin.Context) { c.String(http.StatusOK, requestIDFrom(c)) })

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Body.String())
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))

	for _, incoming := range []string{"", strings.Repeat("x", 129)} {
		req = httptest.NewRequest(http.MethodGet, "/id", nil)
		if incoming != "" {
			req.Header.Set("X-Request-ID", incoming)
		}
		w = httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Len(t, w.Body.String(), 36, "fresh uuid expected")
		assert.Equal(t, w.Body.String(), w.Header().Get("X-Request-ID"))
	}
}

func TestOriginMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(OriginRefererMiddleware(Config{AllowedOrigins: []string{"https://app.example"}}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(method, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/x", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send(http.MethodGet, "").Code)

	w := send(http.MethodGet, "https://app.example")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	assert.Equal(t, http.StatusForbidden, send(http.MethodGet, "https://evil.example").Code)
	assert.Equal(t, http.StatusNoContent, send(http.MethodOptions, "https://app.example").Code)
	assert.Equal(t, http.StatusForbidden, send(http.MethodOptions, "https://evil.example").Code)
}
