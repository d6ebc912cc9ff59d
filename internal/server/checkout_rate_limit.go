package server

import (
	"context"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/copydesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/copydesk/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	rateLimitReasonUserRate    = "user-rate"
	rateLimitReasonConcurrency = "checkout-concurrency"
)

// CheckoutRateLimit throttles session creation per user and allows one
// checkout per user at a time. Redis failures fail open.
func (s *Server) CheckoutRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.checkoutLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)
		userID := userIDFromContext(c).String()

		result, err := s.checkoutLimiter.AllowUser(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("checkout rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			retry := int(math.Ceil(result.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			denyCheckoutRateLimit(c, endpoint, rateLimitReasonUserRate, retry, s.obsMetrics)
			return
		}

		token, locked, err := s.checkoutLimiter.TryLockUser(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("checkout concurrency lock failed", zap.Error(err))
			c.Next()
			return
		}
		if !locked {
			denyCheckoutRateLimit(c, endpoint, rateLimitReasonConcurrency, 1, s.obsMetrics)
			return
		}
		defer func() {
			if err := s.checkoutLimiter.ReleaseUser(context.WithoutCancel(ctx), userID, token); err != nil {
				logger.FromContext(ctx).Warn("checkout concurrency unlock failed", zap.Error(err))
			}
		}()

		c.Next()
	}
}

func denyCheckoutRateLimit(c *gin.Context, endpoint, reason string, retryAfter int, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("checkout rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := c.FullPath()
	if endpoint == "" {
		endpoint = c.Request.URL.Path
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
