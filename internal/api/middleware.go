package api

import (
	"net/http"
	"strings"

	"repair-shop-service/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const actorKey = "actor"

// authenticate verifies the bearer token and stores the actor in the context
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			abort(c, http.StatusUnauthorized, "authorization header must be Bearer {token}")
			return
		}

		claims, err := h.tokens.Verify(parts[1])
		if err != nil {
			h.logger.Debug("Rejected token", zap.Error(err))
			abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		c.Set(actorKey, claims.Actor())
		c.Next()
	}
}

// requireRoles lets the request through only for the listed roles
func requireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(c *gin.Context) {
		if !allowed[actorFrom(c).Role] {
			abort(c, http.StatusForbidden, "you do not have permission to perform this action")
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{}
}
