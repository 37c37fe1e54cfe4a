package models

import (
	"errors"

	"github.com/ruxplay/rulet-front-sub000/pkg/logger"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUserNotFound        = errors.New("user not found")
)

// DebitBalanceTx takes amount from the user's balance inside the given
// transaction. On ErrInsufficientBalance nothing is changed. The row is
// locked for the rest of the transaction so a seat record created next to
// the debit commits or rolls back together with it.
func DebitBalanceTx(tx *gorm.DB, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	var user User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("nickname = ?", username).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, logger.WrapError(err, "")
	}

	if user.Balance.LessThan(amount) {
		return user.Balance, ErrInsufficientBalance
	}

	user.Balance = user.Balance.Sub(amount)
	if err := tx.Model(&User{}).Where("id = ?", user.ID).
		Update("balance", user.Balance).Error; err != nil {
		return decimal.Zero, logger.WrapError(err, "")
	}

	return user.Balance, nil
}

// CreditBalanceTx adds amount to the user's balance inside the given
// transaction and returns the new balance.
func CreditBalanceTx(tx *gorm.DB, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	var user User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("nickname = ?", username).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, logger.WrapError(err, "")
	}

	user.Balance = user.Balance.Add(amount)
	if err := tx.Model(&User{}).Where("id = ?", user.ID).
		Update("balance", user.Balance).Error; err != nil {
		return decimal.Zero, logger.WrapError(err, "")
	}

	return user.Balance, nil
}
