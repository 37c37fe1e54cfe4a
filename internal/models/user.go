package models

import (
	"time"

	"github.com/ruxplay/rulet-front-sub000/cmd/db"
	"github.com/ruxplay/rulet-front-sub000/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

type User struct {
	ID        int64  `gorm:"primaryKey,autoIncrement" json:"id"`
	Nickname  string `gorm:"uniqueIndex;not null" json:"nickname" validate:"required,min=3,max=32"`
	AvatarID  int    `json:"avatar_id"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2)" json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	Password  string          `json:"-"`
}

func (u *User) Validate() error {
	return validate.Struct(u)
}

func CheckIfUserExistsByID(userID int64) (bool, error) {
	var exists bool
	err := db.DB.Model(&User{}).
		Select("count(*) > 0").
		Where("id = ?", userID).
		Scan(&exists).Error
	if err != nil {
		return true, logger.WrapError(err, "")
	}

	return exists, nil
}

func CheckIfUserExistsByNickname(nn string) (bool, error) {
	var exists bool

	err := db.DB.Model(&User{}).
		Select("count(*) > 0").
		Where("nickname = ?", nn).
		Scan(&exists).Error
	if err != nil {
		return true, logger.WrapError(err, "")
	}

	return exists, nil
}

func GetUserByID(userID int64) (*User, error) {
	var user User
	if err := db.DB.First(&user, userID).Error; err != nil {
		return nil, logger.WrapError(err, "")
	}
	return &user, nil
}

func GetUserWithPassword(nickname string) (*User, error) {
	var user User

	err := db.DB.
		Where("nickname = ?", nickname).
		First(&user).Error
	if err != nil {
		return nil, logger.WrapError(err, "")
	}

	return &user, nil
}
