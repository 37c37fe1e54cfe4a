package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/ruxplay/rulet-front-sub000/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const ContextUserIDKey = "user_id"

func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func GetUserIDFromGinContext(c *gin.Context) (int64, error) {
	// Get user_id from middleware
	userIDAny, ok := c.Get(ContextUserIDKey)
	if !ok {
		return 0, logger.WrapError(errors.New("user_id not in GIN context"), "")
	}

	userIDInt, ok := userIDAny.(int64)
	if !ok {
		return 0, logger.WrapError(errors.New("unable to cast user_id value to int"), "")
	}

	return userIDInt, nil
}

// GetTokenFromAuthorizationHeader accepts both "Bearer <token>" and a bare
// token. Websocket upgrade requests carry the token in the "token" query
// parameter instead, since browsers cannot set headers there.
func GetTokenFromAuthorizationHeader(c *gin.Context) (string, error) {
	if c.IsWebsocket() {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", logger.WrapError(errors.New("missing token query parameter"), "")
	}

	header := c.GetHeader("Authorization")
	if header == "" {
		return "", logger.WrapError(errors.New("missing Authorization header"), "")
	}
	return strings.TrimPrefix(header, "Bearer "), nil
}
