package middleware

import (
	"errors"

	"github.com/ruxplay/rulet-front-sub000/internal/models"
	"github.com/ruxplay/rulet-front-sub000/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := GetTokenFromAuthorizationHeader(c)
		if err != nil {
			logger.Error("%v", err)
			c.AbortWithStatus(400)
			return
		}

		userID, tokenType, err := TokenCheck(token, JWTkey)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				c.AbortWithStatus(401)
				return
			}
			logger.Error("%v", err)
			c.AbortWithStatus(400)
			return
		}

		if tokenType != TokenAccess {
			c.AbortWithStatus(401)
			return
		}

		// check if user in database
		exists, err := models.CheckIfUserExistsByID(userID)
		if err != nil {
			logger.Error("%v", err)
			c.AbortWithStatus(500)
			return
		}

		if exists {
			c.Set(ContextUserIDKey, userID)
			c.Next()
			return
		} else {
			c.JSON(401, gin.H{"error": "User not authorized"})
			c.Abort()
			return
		}
	}
}
