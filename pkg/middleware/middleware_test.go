package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/p2p-usdt-api/internal/auth"
	"github.com/stretchr/testify/assert"
)

type stubValidator map[string]string

func (s stubValidator) ValidateToken(token string) (*auth.Claims, error) {
	wallet, ok := s[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return &auth.Claims{Wallet: wallet}, nil
}

func newRouter(allowQuery bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/v1/p2p/orders/:id", JWTAuth(stubValidator{"good": "TWALLET"}, allowQuery), func(c *gin.Context) {
		c.String(http.StatusOK, auth.WalletFromContext(c))
	})
	return router
}

func TestJWTAuth(t *testing.T) {
	tests := []struct {
		name       string
		allowQuery bool
		header     string
		query      string
		wantCode   int
	}{
		{name: "bearer header", header: "Bearer good", wantCode: http.StatusOK},
		{name: "lowercase scheme", header: "bearer good", wantCode: http.StatusOK},
		{name: "missing header", wantCode: http.StatusUnauthorized},
		{name: "malformed header", header: "good", wantCode: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer bad", wantCode: http.StatusUnauthorized},
		{name: "query token allowed", allowQuery: true, query: "?token=good", wantCode: http.StatusOK},
		{name: "query token refused", query: "?token=good", wantCode: http.StatusUnauthorized},
		{name: "invalid query token", allowQuery: true, query: "?token=bad", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/p2p/orders/ORD_1"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newRouter(tt.allowQuery).ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "TWALLET", w.Body.String())
			}
		})
	}
}

func TestRateLimitAuthEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/v1/auth/challenge", RateLimit(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/challenge", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	// limits are per client
	assert.Equal(t, http.StatusOK, call("10.0.0.2"))
}

func TestRateLimitKeysByWallet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.PUT("/api/v1/p2p/offers/:id/status", func(c *gin.Context) {
		c.Set(auth.ContextWalletKey, c.GetHeader("X-Wallet"))
	}, RateLimit(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	call := func(wallet string) int {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/p2p/offers/OFR_1/status", nil)
		req.Header.Set("X-Wallet", wallet)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	// write burst is five
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, call("TWALLETA"))
	}
	assert.Equal(t, http.StatusTooManyRequests, call("TWALLETA"))
	assert.Equal(t, http.StatusOK, call("TWALLETB"))
}

func TestRateLimitIgnoresUnlistedPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", RateLimit(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
