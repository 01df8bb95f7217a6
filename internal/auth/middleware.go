package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"calc-tracker/internal/apperr"
	"calc-tracker/internal/respond"
)

const userIDKey = "auth.user_id"

// Middleware rejects requests without a valid bearer token and stores the
// token's user ID in the gin context.
func Middleware(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respond.Error(c, apperr.Unauthorized("missing authorization header"))
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			respond.Error(c, apperr.Unauthorized("invalid authorization header"))
			return
		}

		claims, err := svc.ParseToken(parts[1])
		if err != nil {
			respond.Error(c, err)
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

func UserIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// SetUserID stores id as the authenticated user. Handlers under test use it
// in place of Middleware.
func SetUserID(c *gin.Context, id uuid.UUID) {
	c.Set(userIDKey, id)
}
