package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blnkfinance/intake/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/", func(c *gin.Context) { c.JSON(http.StatusOK, "server running...") })
	r.GET("/imports", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	return r
}

func serve(r *gin.Engine, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{Secure: true, SecretKey: "master-key"},
	})
	r := newRouter(SecretKeyAuthMiddleware())

	tests := []struct {
		name         string
		path         string
		key          string
		expectedCode int
	}{
		{name: "Valid key", path: "/imports", key: "master-key", expectedCode: http.StatusOK},
		{name: "Invalid key", path: "/imports", key: "wrong", expectedCode: http.StatusUnauthorized},
		{name: "Missing key", path: "/imports", expectedCode: http.StatusUnauthorized},
		{name: "Root path is open", path: "/", expectedCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := map[string]string{}
			if tt.key != "" {
				header[KeyHeader] = tt.key
			}
			resp := serve(r, tt.path, header)
			assert.Equal(t, tt.expectedCode, resp.Code)
		})
	}
}

func TestSecretKeyAuthMiddlewareWithoutSecret(t *testing.T) {
	config.MockConfig(&config.Configuration{Server: config.ServerConfig{Secure: true}})
	r := newRouter(SecretKeyAuthMiddleware())

	resp := serve(r, "/imports", map[string]string{KeyHeader: "anything"})
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	rps := 1.0
	burst := 2
	conf := &config.Configuration{RateLimit: config.RateLimitConfig{RequestsPerSecond: &rps, Burst: &burst}}
	config.MockConfig(conf)
	r := newRouter(RateLimitMiddleware(conf))

	codes := make([]int, 0, 4)
	for n := 0; n < 4; n++ {
		codes = append(codes, serve(r, "/imports", map[string]string{"X-Forwarded-For": "10.0.0.1"}).Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	conf := &config.Configuration{}
	config.MockConfig(conf)
	r := newRouter(RateLimitMiddleware(conf))

	for n := 0; n < 10; n++ {
		assert.Equal(t, http.StatusOK, serve(r, "/imports", nil).Code)
	}
}
