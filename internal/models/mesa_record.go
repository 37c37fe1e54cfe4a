package models

import (
	"time"

	"github.com/ruxplay/rulet-front-sub000/cmd/db"
	"github.com/ruxplay/rulet-front-sub000/pkg/logger"

	"github.com/shopspring/decimal"
)

// MesaRecord is the append-only persisted form of a mesa. A row is created
// when the mesa opens and finalized exactly once when it closes; closed
// rows are never mutated again and exist for history/reporting.
type MesaRecord struct {
	ID          int64  `gorm:"primaryKey,autoIncrement" json:"id"`
	Tier        string `gorm:"index;not null" json:"tier"`
	Status      string `gorm:"index" json:"status"`
	Stake       decimal.Decimal `gorm:"type:decimal(20,2)" json:"stake"`
	FilledCount int             `json:"filled_count"`
	WinningSeat *int            `json:"winning_seat,omitempty"`
	SubmittedBy string          `json:"submitted_by,omitempty"`
	TotalStaked decimal.Decimal `gorm:"type:decimal(20,2)" json:"total_staked"`
	HouseAmount decimal.Decimal `gorm:"type:decimal(20,2)" json:"house_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
}

// MesaBet is one committed seat on one mesa.
type MesaBet struct {
	ID        int64  `gorm:"primaryKey,autoIncrement" json:"id"`
	MesaID    int64  `gorm:"index;not null" json:"mesa_id"`
	Username  string `gorm:"index;not null" json:"username"`
	SeatIndex int    `json:"seat_index"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	Prize     decimal.Decimal `gorm:"type:decimal(20,2)" json:"prize"`
	CreatedAt time.Time       `json:"created_at"`
}

type Winning struct {
	ID        int64           `json:"id" gorm:"primaryKey"`
	Username  string          `json:"username" gorm:"index"`
	MesaID    int64           `json:"mesa_id" gorm:"index"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(20,2)"`
	CreatedAt time.Time       `json:"created_at"`
}

// GetClosedMesas returns recent closed mesas, newest first.
func GetClosedMesas(tier string, limit int) ([]MesaRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	q := db.DB.Where("status = ?", "closed")
	if tier != "" {
		q = q.Where("tier = ?", tier)
	}

	var records []MesaRecord
	if err := q.Order("closed_at desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, logger.WrapError(err, "")
	}
	return records, nil
}

// GetMesaBets returns the seats recorded for one mesa.
func GetMesaBets(mesaID int64) ([]MesaBet, error) {
	var bets []MesaBet
	if err := db.DB.Where("mesa_id = ?", mesaID).
		Order("seat_index asc").Find(&bets).Error; err != nil {
		return nil, logger.WrapError(err, "")
	}
	return bets, nil
}
