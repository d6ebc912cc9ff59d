package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/health", 200, ""))
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/metrics", 500, ""))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel("/api/v1/orders", 502, "gateway_error"))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/webhooks/:provider", 400, "invalid_signature"))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/webhooks/:provider", 400, "validation_error"))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/api/v1/orders", 404, "not_found"))
}

func TestGinMiddlewareEchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
