package service

import (
	"time"

	"github.com/ruxplay/rulet-front-sub000/internal/middleware"
	"github.com/ruxplay/rulet-front-sub000/internal/models"
	"github.com/ruxplay/rulet-front-sub000/pkg/logger"

	"github.com/gin-gonic/gin"
)

const AccessExpiration = 10

type Token struct {
	AccessToken string `json:"access_token"`
}

type Login struct {
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

func AuthLogin(c *gin.Context) {
	var req Login
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Failed to bind request: %v", err)
		c.JSON(400, gin.H{"error": "Invalid data"})
		return
	}

	user, err := models.GetUserWithPassword(req.Nickname)
	if err != nil {
		logger.Error("Failed get password: %v", err)
		c.JSON(400, gin.H{"error": "Invalid data"})
		return
	}

	if !middleware.ComparePasswords(user.Password, req.Password) {
		c.JSON(400, gin.H{"error": "Invalid data"})
		return
	}

	BaseAuth(c, user)
}

func BaseAuth(c *gin.Context, user *models.User) {
	tmCreate := time.Now().Unix()
	accessExpiration := tmCreate + int64(AccessExpiration*60*60)

	access, err := middleware.TokenNew(middleware.JWTkey, user.ID, accessExpiration, middleware.TokenAccess)
	if err != nil {
		logger.Error(err.Error())
		c.AbortWithStatus(500)
		return
	}

	token := Token{
		AccessToken: access,
	}

	c.JSON(200, token)
}
