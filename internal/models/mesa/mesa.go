package mesa

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// NumSeats is the fixed size of every mesa. Seat indexes are 0-based
// internally and displayed 1-based.
const NumSeats = 15

// Tier selects the fixed stake of a mesa.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
)

var tierStakes = map[Tier]decimal.Decimal{
	TierA: decimal.NewFromInt(150),
	TierB: decimal.NewFromInt(300),
}

var ErrUnknownTier = errors.New("unknown stake tier")

// Tiers returns every configured tier in a stable order.
func Tiers() []Tier {
	return []Tier{TierA, TierB}
}

// Stake returns the fixed stake amount of the tier.
func (t Tier) Stake() decimal.Decimal {
	return tierStakes[t]
}

func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierA, TierB:
		return Tier(s), nil
	}
	return "", ErrUnknownTier
}

// Status of a mesa. Forward-only: open -> spin_pending -> spinning -> closed.
type Status string

const (
	StatusOpen        Status = "open"
	StatusSpinPending Status = "spin_pending"
	StatusSpinning    Status = "spinning"
	StatusClosed      Status = "closed"
)

var (
	ErrMesaNotOpen     = errors.New("mesa is not open for bets")
	ErrInvalidSeat     = errors.New("seat index out of range")
	ErrSeatTaken       = errors.New("seat already taken")
	ErrAlreadyBet      = errors.New("user already holds a seat on this mesa")
	ErrInvalidStake    = errors.New("stake does not match the mesa tier")
	ErrMesaNotEligible = errors.New("mesa is not awaiting a spin result")
	ErrAlreadyResolved = errors.New("mesa already resolved")
)

// Seat holds a single committed bet.
type Seat struct {
	Username string          `json:"username"`
	Stake    decimal.Decimal `json:"stake"`
	PlacedAt time.Time       `json:"placed_at"`
}

// Mesa is the authoritative state of one table. It is not safe for
// concurrent use by itself; the engine serializes all access per tier.
type Mesa struct {
	ID          int64
	Tier        Tier
	Status      Status
	Seats       [NumSeats]*Seat
	FilledCount int
	CreatedAt   time.Time
	ClosedAt    time.Time
	Winners     *Winners
}

// New returns an empty open mesa for the tier.
func New(id int64, tier Tier, now time.Time) *Mesa {
	return &Mesa{
		ID:        id,
		Tier:      tier,
		Status:    StatusOpen,
		CreatedAt: now,
	}
}

// CanPlace reports whether a bet would be accepted right now, without
// mutating anything. The engine runs it before touching the ledger so a
// debit never happens for a bet that cannot land.
func (m *Mesa) CanPlace(username string, seatIndex int, stake decimal.Decimal) error {
	if seatIndex < 0 || seatIndex >= NumSeats {
		return ErrInvalidSeat
	}
	// Occupancy is checked before lifecycle state: the loser of a race for
	// the last seat gets ErrSeatTaken even though the winner's bet already
	// advanced the mesa to spin_pending.
	if m.Seats[seatIndex] != nil {
		return ErrSeatTaken
	}
	if m.Status != StatusOpen {
		return ErrMesaNotOpen
	}
	if !stake.Equal(m.Tier.Stake()) {
		return ErrInvalidStake
	}
	for _, s := range m.Seats {
		if s != nil && s.Username == username {
			return ErrAlreadyBet
		}
	}
	return nil
}

// PlaceSeat commits one bet into one seat. All preconditions are checked
// here so the caller can treat the whole call as a single atomic step.
// When the 15th seat fills, the mesa advances to spin_pending in the same
// call; the returned flag reports that transition.
func (m *Mesa) PlaceSeat(username string, seatIndex int, stake decimal.Decimal, now time.Time) (full bool, err error) {
	if err := m.CanPlace(username, seatIndex, stake); err != nil {
		return false, err
	}

	m.Seats[seatIndex] = &Seat{Username: username, Stake: stake, PlacedAt: now}
	m.FilledCount++

	if m.FilledCount == NumSeats {
		m.Status = StatusSpinPending
		return true, nil
	}
	return false, nil
}

// BeginSpin moves the mesa from spin_pending to spinning. The grace timer
// in the engine is the only caller.
func (m *Mesa) BeginSpin() error {
	if m.Status != StatusSpinPending {
		return ErrMesaNotEligible
	}
	m.Status = StatusSpinning
	return nil
}

// Resolve accepts the winning seat, computes the payout split and closes
// the mesa. Exactly one call can succeed; any later call sees status
// closed and gets ErrAlreadyResolved.
func (m *Mesa) Resolve(winningSeat int, submittedBy string, now time.Time) (*Winners, error) {
	if winningSeat < 0 || winningSeat >= NumSeats {
		return nil, ErrInvalidSeat
	}
	switch m.Status {
	case StatusSpinning:
	case StatusClosed:
		return nil, ErrAlreadyResolved
	default:
		return nil, ErrMesaNotEligible
	}

	w := ComputeWinners(m.Seats, winningSeat, m.Tier.Stake())
	w.SubmittedBy = submittedBy
	w.ResolvedAt = now

	m.Winners = &w
	m.Status = StatusClosed
	m.ClosedAt = now
	return m.Winners, nil
}

// SeatSnapshot is the wire form of one seat slot.
type SeatSnapshot struct {
	SeatNumber int    `json:"seat_number"` // 1-based for display
	Username   string `json:"username,omitempty"`
	Stake      string `json:"stake,omitempty"`
	PlacedAt   string `json:"placed_at,omitempty"`
	Taken      bool   `json:"taken"`
}

// Snapshot is an immutable copy of a mesa, safe to hand to readers and
// marshal for broadcast.
type Snapshot struct {
	ID          int64          `json:"id"`
	Tier        Tier           `json:"tier"`
	Status      Status         `json:"status"`
	Stake       string         `json:"stake"`
	Seats       []SeatSnapshot `json:"seats"`
	FilledCount int            `json:"filled_count"`
	CreatedAt   time.Time      `json:"created_at"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"`
	Winners     *Winners       `json:"winners,omitempty"`
}

// Snapshot copies the mesa state. Must be called under the same
// serialization discipline as mutations.
func (m *Mesa) Snapshot() Snapshot {
	snap := Snapshot{
		ID:          m.ID,
		Tier:        m.Tier,
		Status:      m.Status,
		Stake:       m.Tier.Stake().StringFixed(2),
		Seats:       make([]SeatSnapshot, NumSeats),
		FilledCount: m.FilledCount,
		CreatedAt:   m.CreatedAt,
		Winners:     m.Winners,
	}
	if m.Status == StatusClosed {
		closedAt := m.ClosedAt
		snap.ClosedAt = &closedAt
	}
	for i, s := range m.Seats {
		snap.Seats[i] = SeatSnapshot{SeatNumber: i + 1}
		if s != nil {
			snap.Seats[i].Username = s.Username
			snap.Seats[i].Stake = s.Stake.StringFixed(2)
			snap.Seats[i].PlacedAt = s.PlacedAt.UTC().Format(time.RFC3339)
			snap.Seats[i].Taken = true
		}
	}
	return snap
}
