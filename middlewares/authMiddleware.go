package middlewares

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/tuition_backend/appctx"
)

// AuthMiddleware puts the bearer token's user and institution on the request context.
// Requests without a token pass through anonymously; an invalid token is rejected.
// The optional X-Season-Id header scopes audit entries to a season.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if v := strings.TrimSpace(c.GetHeader("X-Season-Id")); v != "" {
			if seasonId, err := strconv.Atoi(v); err == nil && seasonId > 0 {
				ctx = appctx.Set(ctx, appctx.ContextKeySeasonId, seasonId)
			}
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}
		raw, found := strings.CutPrefix(auth, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		claims, err := validateToken(secret, strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx = appctx.SetActor(ctx, claims.UserId, claims.UserName)
		if claims.InstitutionId > 0 {
			ctx = appctx.Set(ctx, appctx.ContextKeyInstitutionId, claims.InstitutionId)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
