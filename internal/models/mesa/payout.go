package mesa

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payout split. Each secondary winner takes 8.85%; whatever share has no
// occupied seat behind it stays with the house, together with the rounding
// remainder, so the four amounts always sum to the total staked.
var (
	mainShare      = decimal.RequireFromString("0.70")
	secondaryShare = decimal.RequireFromString("0.0885")
)

// Winner is one paid seat.
type Winner struct {
	Seat       int             `json:"seat"`        // 0-based index
	SeatNumber int             `json:"seat_number"` // 1-based for display
	Username   string          `json:"username"`
	Stake      decimal.Decimal `json:"stake"`
	Prize      decimal.Decimal `json:"prize"`
}

// Totals carries the aggregate amounts of one resolution.
type Totals struct {
	TotalStaked    decimal.Decimal `json:"total_staked"`
	MainPrize      decimal.Decimal `json:"main_prize"`
	SecondaryPrize decimal.Decimal `json:"secondary_prize"`
	HouseCut       decimal.Decimal `json:"house_cut"`
	Percentages    Percentages     `json:"percentages"`
}

// Percentages of the fixed split, for display.
type Percentages struct {
	Main      string `json:"main"`
	Secondary string `json:"secondary"`
	House     string `json:"house"`
}

// Winners is the immutable result attached to a closed mesa.
type Winners struct {
	WinningSeat int             `json:"winning_seat"`
	Main        *Winner         `json:"main"`
	Left        *Winner         `json:"left"`
	Right       *Winner         `json:"right"`
	Totals      Totals          `json:"totals"`
	HouseAmount decimal.Decimal `json:"house_amount"`
	SubmittedBy string          `json:"submitted_by"`
	ResolvedAt  time.Time       `json:"resolved_at"`
}

// Awarded returns the winners that actually get paid.
func (w *Winners) Awarded() []*Winner {
	var out []*Winner
	for _, v := range []*Winner{w.Main, w.Left, w.Right} {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// ComputeWinners is a pure function of the seats, the winning seat and the
// per-seat stake. Prizes are rounded half-up to 2 decimal places; the house
// amount is derived by subtraction so that
// main + left + right + house == totalStaked holds exactly.
func ComputeWinners(seats [NumSeats]*Seat, winningSeat int, stakePerSeat decimal.Decimal) Winners {
	filled := 0
	for _, s := range seats {
		if s != nil {
			filled++
		}
	}
	total := stakePerSeat.Mul(decimal.NewFromInt(int64(filled)))

	// Round half-up: shopspring's Round is half-away-from-zero, which is
	// half-up for the non-negative amounts used here.
	mainPrize := total.Mul(mainShare).Round(2)
	secondaryPrize := total.Mul(secondaryShare).Round(2)

	w := Winners{
		WinningSeat: winningSeat,
		Totals: Totals{
			TotalStaked:    total,
			MainPrize:      mainPrize,
			SecondaryPrize: secondaryPrize,
			Percentages: Percentages{
				Main:      "70",
				Secondary: "8.85",
				House:     "12.3",
			},
		},
	}

	leftSeat := (winningSeat - 1 + NumSeats) % NumSeats
	rightSeat := (winningSeat + 1) % NumSeats

	awarded := decimal.Zero
	if s := seats[winningSeat]; s != nil {
		w.Main = &Winner{
			Seat:       winningSeat,
			SeatNumber: winningSeat + 1,
			Username:   s.Username,
			Stake:      s.Stake,
			Prize:      mainPrize,
		}
		awarded = awarded.Add(mainPrize)
	}
	if s := seats[leftSeat]; s != nil {
		w.Left = &Winner{
			Seat:       leftSeat,
			SeatNumber: leftSeat + 1,
			Username:   s.Username,
			Stake:      s.Stake,
			Prize:      secondaryPrize,
		}
		awarded = awarded.Add(secondaryPrize)
	}
	if s := seats[rightSeat]; s != nil {
		w.Right = &Winner{
			Seat:       rightSeat,
			SeatNumber: rightSeat + 1,
			Username:   s.Username,
			Stake:      s.Stake,
			Prize:      secondaryPrize,
		}
		awarded = awarded.Add(secondaryPrize)
	}

	w.HouseAmount = total.Sub(awarded)
	w.Totals.HouseCut = w.HouseAmount
	return w
}
