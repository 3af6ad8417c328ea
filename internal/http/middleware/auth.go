package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/interface/http/response"
)

// ContextActorKey - ключ gin.Context, под которым лежит valueobject.Actor.
const ContextActorKey = "actor"

// ActorParser извлекает инициатора запроса из access-токена.
type ActorParser interface {
	ParseActor(token string) (valueobject.Actor, error)
}

// AuthMiddleware проверяет Bearer-токен и кладёт Actor в контекст.
func AuthMiddleware(tokens ActorParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			response.Unauthorized(c, "требуется авторизация")
			return
		}

		actor, err := tokens.ParseActor(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			response.Unauthorized(c, "токен невалиден")
			return
		}

		c.Set(ContextActorKey, actor)
		c.Next()
	}
}

// RequireRole пропускает только перечисленные роли.
func RequireRole(roles ...valueobject.ActorRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok {
			response.Unauthorized(c, "требуется авторизация")
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "недостаточно прав")
	}
}

func CurrentActor(c *gin.Context) (valueobject.Actor, bool) {
	raw, exists := c.Get(ContextActorKey)
	if !exists {
		return valueobject.Actor{}, false
	}
	actor, ok := raw.(valueobject.Actor)
	return actor, ok
}
