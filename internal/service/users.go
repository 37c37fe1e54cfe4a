package service

import (
	"errors"

	"github.com/ruxplay/rulet-front-sub000/cmd/db"
	"github.com/ruxplay/rulet-front-sub000/internal/middleware"
	"github.com/ruxplay/rulet-front-sub000/internal/models"
	"github.com/ruxplay/rulet-front-sub000/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SignupBalance is credited to every new account so it can take seats
// right away. Deposits are handled outside this service.
var SignupBalance = decimal.NewFromInt(3000)

type signUpInput struct {
	Nickname string `json:"nickname" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=6,max=64"`
	AvatarID int    `json:"avatar_id" validate:"required,min=1,max=100"`
}

func SignUp(c *gin.Context) {
	var input signUpInput

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(400, gin.H{"error": "Unable to unmarshal body"})
		return
	}
	if err := validate.Struct(input); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	exists, err := models.CheckIfUserExistsByNickname(input.Nickname)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}
	if exists {
		c.JSON(409, gin.H{"error": "User with this nickname already exists"})
		return
	}

	hashed, err := middleware.HashPassword(input.Password)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	user := models.User{
		Nickname: input.Nickname,
		AvatarID: input.AvatarID,
		Password: hashed,
		Balance:  SignupBalance,
	}

	err = db.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return logger.WrapError(err, "")
		}
		return nil
	})
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	BaseAuth(c, &user)
}

func GetUser(c *gin.Context) {
	var user models.User
	var err error

	user.ID, err = middleware.GetUserIDFromGinContext(c)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	err = db.DB.First(&user, user.ID).Error
	if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(404, gin.H{"error": "User not found"})
		return
	} else if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	c.JSON(200, user)
}

// Auth reports whether the presented access token maps to a known user.
func Auth(c *gin.Context) {
	userID, err := middleware.GetUserIDFromGinContext(c)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	exists, err := models.CheckIfUserExistsByID(userID)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	if exists {
		c.Status(200)
	} else {
		c.Status(401)
	}
}

// GetUserWinnings returns the caller's prize history, newest first.
func GetUserWinnings(c *gin.Context) {
	userID, err := middleware.GetUserIDFromGinContext(c)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	user, err := models.GetUserByID(userID)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	var winnings []models.Winning
	err = db.DB.Order("created_at DESC").Limit(100).
		Find(&winnings, "username = ?", user.Nickname).Error
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	if len(winnings) == 0 {
		c.JSON(404, winnings)
		return
	}

	c.JSON(200, winnings)
}
