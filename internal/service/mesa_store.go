package service

import (
	"time"

	"github.com/ruxplay/rulet-front-sub000/cmd/db"
	"github.com/ruxplay/rulet-front-sub000/internal/models"
	"github.com/ruxplay/rulet-front-sub000/internal/models/mesa"
	"github.com/ruxplay/rulet-front-sub000/pkg/logger"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// mesaStore backs the engine with postgres. Debits, credits and the rows
// describing them always share one gorm transaction, so a reader can never
// see a debited stake without its seat or a paid prize without its
// winning record.
type mesaStore struct{}

func (mesaStore) OpenMesa(tier mesa.Tier, stake decimal.Decimal, now time.Time) (int64, error) {
	rec := models.MesaRecord{
		Tier:      string(tier),
		Status:    string(mesa.StatusOpen),
		Stake:     stake,
		CreatedAt: now,
	}
	if err := db.DB.Create(&rec).Error; err != nil {
		return 0, logger.WrapError(err, "")
	}
	return rec.ID, nil
}

func (mesaStore) PlaceBet(mesaID int64, username string, seatIndex int, stake decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	var newBalance decimal.Decimal

	err := db.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		newBalance, err = models.DebitBalanceTx(tx, username, stake)
		if err != nil {
			return err
		}

		bet := models.MesaBet{
			MesaID:    mesaID,
			Username:  username,
			SeatIndex: seatIndex,
			Amount:    stake,
			CreatedAt: now,
		}
		if err := tx.Create(&bet).Error; err != nil {
			return logger.WrapError(err, "")
		}

		if err := tx.Model(&models.MesaRecord{}).
			Where("id = ?", mesaID).
			UpdateColumn("filled_count", gorm.Expr("filled_count + 1")).Error; err != nil {
			return logger.WrapError(err, "")
		}

		return nil
	})

	return newBalance, err
}

func (mesaStore) MarkStatus(mesaID int64, status mesa.Status) error {
	err := db.DB.Model(&models.MesaRecord{}).
		Where("id = ?", mesaID).
		Update("status", string(status)).Error
	if err != nil {
		return logger.WrapError(err, "")
	}
	return nil
}

func (mesaStore) CloseMesa(mesaID int64, w *mesa.Winners, now time.Time) (map[string]decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal)

	err := db.DB.Transaction(func(tx *gorm.DB) error {
		for _, winner := range w.Awarded() {
			newBalance, err := models.CreditBalanceTx(tx, winner.Username, winner.Prize)
			if err != nil {
				return err
			}
			balances[winner.Username] = newBalance

			win := models.Winning{
				Username:  winner.Username,
				MesaID:    mesaID,
				Amount:    winner.Prize,
				CreatedAt: now,
			}
			if err := tx.Create(&win).Error; err != nil {
				return logger.WrapError(err, "")
			}

			if err := tx.Model(&models.MesaBet{}).
				Where("mesa_id = ? AND seat_index = ?", mesaID, winner.Seat).
				Update("prize", winner.Prize).Error; err != nil {
				return logger.WrapError(err, "")
			}
		}

		winningSeat := w.WinningSeat
		updates := map[string]interface{}{
			"status":       string(mesa.StatusClosed),
			"winning_seat": &winningSeat,
			"submitted_by": w.SubmittedBy,
			"total_staked": w.Totals.TotalStaked,
			"house_amount": w.HouseAmount,
			"closed_at":    now,
		}
		if err := tx.Model(&models.MesaRecord{}).
			Where("id = ?", mesaID).
			Updates(updates).Error; err != nil {
			return logger.WrapError(err, "")
		}

		return nil
	})

	return balances, err
}

func (mesaStore) IsResolved(mesaID int64) (bool, error) {
	var resolved bool
	err := db.DB.Model(&models.MesaRecord{}).
		Select("count(*) > 0").
		Where("id = ? AND status = ?", mesaID, string(mesa.StatusClosed)).
		Scan(&resolved).Error
	if err != nil {
		return false, logger.WrapError(err, "")
	}
	return resolved, nil
}
