package server

import (
	"crypto/subtle"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/copydesk/internal/observability/context"
)

const (
	HeaderUserID        = "X-User-ID"
	HeaderInternalToken = "X-Internal-Token"
	HeaderCorrelationID = "X-Correlation-ID"
	contextUserIDKey    = "user_id"
)

// UserRequired resolves the caller from X-User-ID. Identity is asserted by
// the gateway in front of the service; there is no session handling here.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := snowflake.ParseString(raw)
		if err != nil || userID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithUserID(c.Request.Context(), userID.String())
		if cid := strings.TrimSpace(c.GetHeader(HeaderCorrelationID)); cid != "" {
			ctx = obscontext.WithCorrelationID(ctx, cid)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

// InternalTokenRequired guards the fulfillment callbacks with a shared token.
// An unset token closes the routes.
func (s *Server) InternalTokenRequired() gin.HandlerFunc {
	expected := strings.TrimSpace(s.cfg.InternalAPIToken)
	return func(c *gin.Context) {
		got := strings.TrimSpace(c.GetHeader(HeaderInternalToken))
		if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func userIDFromContext(c *gin.Context) snowflake.ID {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0
	}
	id, _ := value.(snowflake.ID)
	return id
}
