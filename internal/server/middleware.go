package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tableside/internal/auditcontext"
	"github.com/smallbiznis/tableside/internal/auth/token"
	obscontext "github.com/smallbiznis/tableside/internal/observability/context"
	"github.com/smallbiznis/tableside/internal/observability/logger"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
	"go.uber.org/zap"
)

const (
	contextRestaurantIDKey = "restaurant_id"
	contextUserIDKey       = "user_id"

	rateLimitReasonPlacement = "order-placement"
)

// AuthRequired verifies the bearer token and puts the caller on the request
// context. Sockets may pass the token as the access_token query value.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := token.FromRequest(c.GetHeader("Authorization"), c.Query("access_token"))
		identity, err := s.verifier.Verify(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		restaurantID := identity.RestaurantID.String()
		actor := identity.Actor

		ctx := c.Request.Context()
		ctx = restaurantctx.WithRestaurantID(ctx, identity.RestaurantID.Int64())
		ctx = restaurantctx.WithActor(ctx, actor)
		ctx = obscontext.WithRestaurantID(ctx, restaurantID)
		ctx = obscontext.WithActor(ctx, string(actor.Role), actor.UserID)
		ctx = auditcontext.WithActor(ctx, "user", actor.UserID)
		c.Request = c.Request.WithContext(ctx)

		c.Set(contextRestaurantIDKey, restaurantID)
		c.Set(contextUserIDKey, actor.UserID)
		c.Next()
	}
}

// PlacementRateLimit spends one token from the caller's order placement
// bucket. It is a no-op when Redis is not configured.
func (s *Server) PlacementRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.guard.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		restaurantID := c.GetString(contextRestaurantIDKey)
		endpoint := normalizeRateLimitEndpoint(c)

		result, err := s.guard.AllowPlacement(ctx, restaurantID, c.GetString(contextUserIDKey))
		if err != nil {
			logger.FromContext(ctx).Warn("order placement rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("order placement rate limit exceeded",
				zap.String("reason", rateLimitReasonPlacement),
				zap.String("endpoint", endpoint),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, restaurantID, endpoint, rateLimitReasonPlacement)

			c.Header("Retry-After", retryAfterSeconds(result.RetryAfter))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonPlacement)
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, restaurantID, endpoint)
		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(d.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
