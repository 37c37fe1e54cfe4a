package mesa

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/ruxplay/rulet-front-sub000/pkg/logger"

	"github.com/shopspring/decimal"
)

var ErrNoActiveMesa = errors.New("no active mesa for this tier")

// Store is the persistence + ledger boundary of the engine. Every call is
// one logical transaction: either all of its effects land or none do.
type Store interface {
	// OpenMesa appends a fresh open-mesa row and returns its id.
	OpenMesa(tier Tier, stake decimal.Decimal, now time.Time) (int64, error)
	// PlaceBet debits the user and records the seat atomically, returning
	// the balance after the debit. Must report ErrInsufficientBalance (or
	// an equivalent the caller maps) without partial effect.
	PlaceBet(mesaID int64, username string, seatIndex int, stake decimal.Decimal, now time.Time) (decimal.Decimal, error)
	// MarkStatus records a pure status transition.
	MarkStatus(mesaID int64, status Status) error
	// CloseMesa credits every awarded prize, records the winners and marks
	// the row closed, all in one transaction. Returns the winners' new
	// balances keyed by username.
	CloseMesa(mesaID int64, w *Winners, now time.Time) (map[string]decimal.Decimal, error)
	// IsResolved reports whether a mesa no longer held in memory was
	// already closed, for late result submissions.
	IsResolved(mesaID int64) (bool, error)
}

// Event is one broadcastable state change. Username, when set, scopes the
// event to that user; otherwise it goes to every subscriber of the tier.
type Event struct {
	Type     string                 `json:"type"`
	Tier     Tier                   `json:"tier"`
	MesaID   int64                  `json:"mesa_id"`
	Username string                 `json:"-"`
	Mesa     *Snapshot              `json:"mesa,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Event types, in the per-mesa order subscribers observe them.
const (
	EventSnapshot    = "mesa.snapshot"
	EventUpdated     = "mesa.updated"
	EventBetPlaced   = "bet.placed"
	EventBalance     = "balance.updated"
	EventSpinPending = "mesa.spin_pending"
	EventSpinning    = "mesa.spinning"
	EventClosed      = "mesa.closed"
)

// EventSink receives events in publish order. Publish is called while the
// tier is locked, so implementations must never block; slow consumers have
// to buffer or drop on their side.
type EventSink interface {
	Publish(ev Event)
}

// Config carries the engine timers. Zero values fall back to defaults.
type Config struct {
	// GraceDelay is the spin_pending -> spinning pause.
	GraceDelay time.Duration
	// ResultTimeout bounds the wait for a spin result before the engine
	// force-closes with a pseudo-random seat.
	ResultTimeout time.Duration
	// Cooldown is how long a closed mesa stays current before its
	// successor opens.
	Cooldown time.Duration
}

const (
	DefaultGraceDelay    = 5 * time.Second
	DefaultResultTimeout = 60 * time.Second
	DefaultCooldown      = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.GraceDelay <= 0 {
		c.GraceDelay = DefaultGraceDelay
	}
	if c.ResultTimeout <= 0 {
		c.ResultTimeout = DefaultResultTimeout
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

// Engine owns the active mesa of every tier and serializes all mutations
// per tier. Contention on one tier never delays the other.
type Engine struct {
	store Store
	sinks []EventSink
	cfg   Config

	tables map[Tier]*table
}

type table struct {
	mu      sync.Mutex
	current *Mesa

	graceTimer    *time.Timer
	resultTimer   *time.Timer
	cooldownTimer *time.Timer
}

func NewEngine(store Store, cfg Config, sinks ...EventSink) *Engine {
	e := &Engine{
		store:  store,
		sinks:  sinks,
		cfg:    cfg.withDefaults(),
		tables: make(map[Tier]*table),
	}
	for _, tier := range Tiers() {
		e.tables[tier] = &table{}
	}
	return e
}

// Stop cancels all pending timers. Bets and results arriving afterwards
// still work; only the automatic transitions stop firing.
func (e *Engine) Stop() {
	for _, t := range e.tables {
		t.mu.Lock()
		stopTimer(&t.graceTimer)
		stopTimer(&t.resultTimer)
		stopTimer(&t.cooldownTimer)
		t.mu.Unlock()
	}
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (e *Engine) publish(ev Event) {
	for _, s := range e.sinks {
		s.Publish(ev)
	}
}

// Current returns a snapshot of the tier's active mesa.
func (e *Engine) Current(tier Tier) (Snapshot, error) {
	t, ok := e.tables[tier]
	if !ok {
		return Snapshot{}, ErrUnknownTier
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return Snapshot{}, ErrNoActiveMesa
	}
	return t.current.Snapshot(), nil
}

// Attach runs fn under the tier's serialization lock with a snapshot of
// the current mesa (nil when none is open). No event for the tier can be
// published while fn runs, so a sink can enqueue the snapshot and start
// receiving live events without a gap between the two.
func (e *Engine) Attach(tier Tier, fn func(snap *Snapshot)) {
	t, ok := e.tables[tier]
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var snap *Snapshot
	if t.current != nil {
		s := t.current.Snapshot()
		snap = &s
	}
	fn(snap)
}

// PlaceBet validates and commits one bet. The ledger debit and the seat
// write belong to the same logical step: the debit runs only after every
// seat precondition holds, and both happen under the tier lock so no
// reader can observe one without the other.
func (e *Engine) PlaceBet(tier Tier, username string, seatIndex int) (Snapshot, decimal.Decimal, error) {
	t, ok := e.tables[tier]
	if !ok {
		return Snapshot{}, decimal.Zero, ErrUnknownTier
	}
	stake := tier.Stake()
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	// The very first bet of a tier creates the mesa lazily.
	if t.current == nil {
		if err := e.openLocked(t, tier, now); err != nil {
			return Snapshot{}, decimal.Zero, err
		}
	}
	m := t.current

	if err := m.CanPlace(username, seatIndex, stake); err != nil {
		return Snapshot{}, decimal.Zero, err
	}

	newBalance, err := e.store.PlaceBet(m.ID, username, seatIndex, stake, now)
	if err != nil {
		return Snapshot{}, decimal.Zero, err
	}

	full, err := m.PlaceSeat(username, seatIndex, stake, now)
	if err != nil {
		// The debit committed but the seat cannot land. This cannot happen
		// while the preconditions above hold; treat it as a consistency
		// violation and log loudly. Recovery is forward-only.
		logger.Error("mesa %d: seat write failed after debit of %s for %s: %v",
			m.ID, stake, username, err)
		return Snapshot{}, decimal.Zero, err
	}

	snap := m.Snapshot()
	e.publish(Event{Type: EventBetPlaced, Tier: tier, MesaID: m.ID, Username: username,
		Data: map[string]interface{}{"seat_number": seatIndex + 1, "amount": stake.StringFixed(2)}})
	e.publish(Event{Type: EventBalance, Tier: tier, MesaID: m.ID, Username: username,
		Data: map[string]interface{}{"balance": newBalance.StringFixed(2)}})
	e.publish(Event{Type: EventUpdated, Tier: tier, MesaID: m.ID, Mesa: &snap})

	if full {
		if err := e.store.MarkStatus(m.ID, StatusSpinPending); err != nil {
			logger.Error("mesa %d: failed to record spin_pending: %v", m.ID, err)
		}
		pending := m.Snapshot()
		e.publish(Event{Type: EventSpinPending, Tier: tier, MesaID: m.ID, Mesa: &pending})

		mesaID := m.ID
		t.graceTimer = time.AfterFunc(e.cfg.GraceDelay, func() {
			e.beginSpin(tier, mesaID)
		})
	}

	return snap, newBalance, nil
}

// beginSpin runs when the grace period elapses.
func (e *Engine) beginSpin(tier Tier, mesaID int64) {
	t := e.tables[tier]

	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.current
	if m == nil || m.ID != mesaID || m.Status != StatusSpinPending {
		return // stale timer
	}

	if err := m.BeginSpin(); err != nil {
		return
	}
	if err := e.store.MarkStatus(m.ID, StatusSpinning); err != nil {
		logger.Error("mesa %d: failed to record spinning: %v", m.ID, err)
	}

	snap := m.Snapshot()
	e.publish(Event{Type: EventSpinning, Tier: tier, MesaID: m.ID, Mesa: &snap})

	t.resultTimer = time.AfterFunc(e.cfg.ResultTimeout, func() {
		e.forceClose(tier, mesaID)
	})
}

// SubmitResult accepts the externally supplied winning seat. Exactly one
// submission per mesa wins; every later one gets ErrAlreadyResolved.
func (e *Engine) SubmitResult(mesaID int64, winningSeat int, submittedBy string) (*Winners, error) {
	if winningSeat < 0 || winningSeat >= NumSeats {
		return nil, ErrInvalidSeat
	}

	for tier, t := range e.tables {
		t.mu.Lock()
		if t.current != nil && t.current.ID == mesaID {
			w, err := e.resolveLocked(t, tier, winningSeat, submittedBy)
			t.mu.Unlock()
			return w, err
		}
		t.mu.Unlock()
	}

	// Not held in memory anymore: either an old mesa (late retry) or an
	// id this process never issued.
	resolved, err := e.store.IsResolved(mesaID)
	if err != nil {
		return nil, err
	}
	if resolved {
		return nil, ErrAlreadyResolved
	}
	return nil, ErrMesaNotEligible
}

// forceClose fires when no result arrived within the bound. The table must
// never stay stuck: a pseudo-random seat closes it and the anomaly is
// logged.
func (e *Engine) forceClose(tier Tier, mesaID int64) {
	t := e.tables[tier]

	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.current
	if m == nil || m.ID != mesaID || m.Status != StatusSpinning {
		return // result arrived in time, or stale timer
	}

	seat := rand.Intn(NumSeats)
	logger.Warn("mesa %d (%s): no spin result within %s, force-closing with seat %d",
		mesaID, tier, e.cfg.ResultTimeout, seat+1)

	if _, err := e.resolveLocked(t, tier, seat, "system:timeout"); err != nil {
		logger.Error("mesa %d: force close failed: %v", mesaID, err)
	}
}

// resolveLocked performs the single spinning -> closed transition: winners
// computed and attached, every prize credited, then the close broadcast.
// Winner balances are updated (and their balance events published) before
// mesa.closed becomes visible. Caller holds t.mu.
func (e *Engine) resolveLocked(t *table, tier Tier, winningSeat int, submittedBy string) (*Winners, error) {
	m := t.current
	now := time.Now()

	w, err := m.Resolve(winningSeat, submittedBy, now)
	if err != nil {
		return nil, err
	}
	stopTimer(&t.resultTimer)
	stopTimer(&t.graceTimer)

	balances, err := e.store.CloseMesa(m.ID, w, now)
	if err != nil {
		// The in-memory transition is already visible and is never rolled
		// back; log loudly and proceed forward-only.
		logger.Error("mesa %d: failed to persist close/credits: %v", m.ID, err)
	}

	for _, winner := range w.Awarded() {
		data := map[string]interface{}{"prize": winner.Prize.StringFixed(2)}
		if b, ok := balances[winner.Username]; ok {
			data["balance"] = b.StringFixed(2)
		}
		e.publish(Event{Type: EventBalance, Tier: tier, MesaID: m.ID,
			Username: winner.Username, Data: data})
	}

	snap := m.Snapshot()
	e.publish(Event{Type: EventClosed, Tier: tier, MesaID: m.ID, Mesa: &snap})

	mesaID := m.ID
	t.cooldownTimer = time.AfterFunc(e.cfg.Cooldown, func() {
		e.openNext(tier, mesaID)
	})

	return w, nil
}

// openNext replaces a closed mesa after the cooldown. The successor never
// shares seat state with its predecessor.
func (e *Engine) openNext(tier Tier, closedID int64) {
	t := e.tables[tier]

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil || t.current.ID != closedID || t.current.Status != StatusClosed {
		return // stale timer
	}

	if err := e.openLocked(t, tier, time.Now()); err != nil {
		logger.Error("mesa (%s): failed to open successor: %v, retrying in %s",
			tier, err, e.cfg.Cooldown)
		t.cooldownTimer = time.AfterFunc(e.cfg.Cooldown, func() {
			e.openNext(tier, closedID)
		})
		return
	}

	snap := t.current.Snapshot()
	e.publish(Event{Type: EventUpdated, Tier: tier, MesaID: t.current.ID, Mesa: &snap})
}

// openLocked installs a fresh mesa as the tier's current one. Caller holds
// t.mu.
func (e *Engine) openLocked(t *table, tier Tier, now time.Time) error {
	id, err := e.store.OpenMesa(tier, tier.Stake(), now)
	if err != nil {
		return err
	}
	t.current = New(id, tier, now)
	logger.Info("mesa %d (%s) opened", id, tier)
	return nil
}
