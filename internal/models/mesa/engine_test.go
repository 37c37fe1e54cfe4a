package mesa

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	balances map[string]decimal.Decimal
	statuses map[int64]Status
	resolved map[int64]bool
	debits   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances: make(map[string]decimal.Decimal),
		statuses: make(map[int64]Status),
		resolved: make(map[int64]bool),
	}
}

func (f *fakeStore) fund(username string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[username] = decimal.NewFromInt(amount)
}

func (f *fakeStore) balance(username string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[username]
}

func (f *fakeStore) OpenMesa(tier Tier, stake decimal.Decimal, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.statuses[f.nextID] = StatusOpen
	return f.nextID, nil
}

var errNoFunds = errors.New("insufficient balance")

func (f *fakeStore) PlaceBet(mesaID int64, username string, seatIndex int, stake decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[username]
	if !ok || bal.LessThan(stake) {
		return decimal.Zero, errNoFunds
	}
	f.balances[username] = bal.Sub(stake)
	f.debits++
	return f.balances[username], nil
}

func (f *fakeStore) MarkStatus(mesaID int64, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[mesaID] = status
	return nil
}

func (f *fakeStore) CloseMesa(mesaID int64, w *Winners, now time.Time) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]decimal.Decimal)
	for _, winner := range w.Awarded() {
		f.balances[winner.Username] = f.balances[winner.Username].Add(winner.Prize)
		out[winner.Username] = f.balances[winner.Username]
	}
	f.statuses[mesaID] = StatusClosed
	f.resolved[mesaID] = true
	return out, nil
}

func (f *fakeStore) IsResolved(mesaID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved[mesaID], nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *fakeSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *fakeSink) ofType(typ string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (s *fakeSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func fastConfig() Config {
	return Config{
		GraceDelay:    20 * time.Millisecond,
		ResultTimeout: 80 * time.Millisecond,
		Cooldown:      20 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fundUsers(store *fakeStore, n int, amount int64) {
	for i := 0; i < n; i++ {
		store.fund(fmt.Sprintf("user%d", i), amount)
	}
}

func fillMesa(t *testing.T, e *Engine, tier Tier) Snapshot {
	t.Helper()
	var snap Snapshot
	for i := 0; i < NumSeats; i++ {
		var err error
		snap, _, err = e.PlaceBet(tier, fmt.Sprintf("user%d", i), i)
		if err != nil {
			t.Fatalf("seat %d: %v", i, err)
		}
	}
	return snap
}

func TestCurrentBeforeFirstBet(t *testing.T) {
	e := NewEngine(newFakeStore(), fastConfig(), &fakeSink{})
	defer e.Stop()

	if _, err := e.Current(TierA); !errors.Is(err, ErrNoActiveMesa) {
		t.Errorf("err = %v, want ErrNoActiveMesa", err)
	}
	if _, err := e.Current("C"); !errors.Is(err, ErrUnknownTier) {
		t.Errorf("err = %v, want ErrUnknownTier", err)
	}
}

func TestPlaceBetCreatesMesaLazilyAndDebits(t *testing.T) {
	store := newFakeStore()
	store.fund("alice", 1000)
	sink := &fakeSink{}
	e := NewEngine(store, fastConfig(), sink)
	defer e.Stop()

	snap, newBalance, err := e.PlaceBet(TierA, "alice", 4)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if snap.FilledCount != 1 || !snap.Seats[4].Taken {
		t.Errorf("snapshot = %+v", snap)
	}
	if !newBalance.Equal(decimal.NewFromInt(850)) {
		t.Errorf("balance = %s, want 850", newBalance)
	}

	if _, err := e.Current(TierA); err != nil {
		t.Errorf("current after first bet: %v", err)
	}

	// One bet yields bet.placed + balance.updated (user scoped) + mesa.updated.
	if got := len(sink.ofType(EventBetPlaced)); got != 1 {
		t.Errorf("bet.placed events = %d, want 1", got)
	}
	if ev := sink.ofType(EventBalance); len(ev) != 1 || ev[0].Username != "alice" {
		t.Errorf("balance events = %+v", ev)
	}
}

func TestPlaceBetInsufficientBalanceLeavesSeatEmpty(t *testing.T) {
	store := newFakeStore()
	store.fund("poor", 10)
	e := NewEngine(store, fastConfig(), &fakeSink{})
	defer e.Stop()

	if _, _, err := e.PlaceBet(TierA, "poor", 0); !errors.Is(err, errNoFunds) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}

	snap, err := e.Current(TierA)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if snap.FilledCount != 0 || snap.Seats[0].Taken {
		t.Errorf("failed debit left a seat written: %+v", snap.Seats[0])
	}
}

func TestConcurrentBetsNoDoubleSeats(t *testing.T) {
	store := newFakeStore()
	fundUsers(store, 40, 1000)
	sink := &fakeSink{}
	e := NewEngine(store, Config{GraceDelay: time.Hour, ResultTimeout: time.Hour, Cooldown: time.Hour}, sink)
	defer e.Stop()

	// 40 users race over 15 seats, several per seat.
	var wg sync.WaitGroup
	var okCount int32
	var okMu sync.Mutex
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := e.PlaceBet(TierA, fmt.Sprintf("user%d", i), i%NumSeats)
			if err == nil {
				okMu.Lock()
				okCount++
				okMu.Unlock()
				return
			}
			if !errors.Is(err, ErrSeatTaken) && !errors.Is(err, ErrMesaNotOpen) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if okCount != NumSeats {
		t.Errorf("successful bets = %d, want %d", okCount, NumSeats)
	}
	if store.debits != NumSeats {
		t.Errorf("ledger debits = %d, want %d", store.debits, NumSeats)
	}

	snap, err := e.Current(TierA)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	seen := make(map[string]bool)
	filled := 0
	for _, s := range snap.Seats {
		if !s.Taken {
			continue
		}
		filled++
		if seen[s.Username] {
			t.Errorf("user %s holds two seats", s.Username)
		}
		seen[s.Username] = true
	}
	if filled != snap.FilledCount {
		t.Errorf("filled count %d != actual %d", snap.FilledCount, filled)
	}

	// Exactly one fill transition, no matter how the 15th bet raced.
	if got := len(sink.ofType(EventSpinPending)); got != 1 {
		t.Errorf("spin_pending events = %d, want 1", got)
	}
}

func TestLastSeatRace(t *testing.T) {
	store := newFakeStore()
	fundUsers(store, 14, 1000)
	store.fund("racer1", 1000)
	store.fund("racer2", 1000)
	sink := &fakeSink{}
	e := NewEngine(store, Config{GraceDelay: time.Hour, ResultTimeout: time.Hour, Cooldown: time.Hour}, sink)
	defer e.Stop()

	for i := 0; i < NumSeats-1; i++ {
		if _, _, err := e.PlaceBet(TierA, fmt.Sprintf("user%d", i), i); err != nil {
			t.Fatalf("seat %d: %v", i, err)
		}
	}

	errs := make(chan error, 2)
	for _, name := range []string{"racer1", "racer2"} {
		go func(name string) {
			_, _, err := e.PlaceBet(TierA, name, NumSeats-1)
			errs <- err
		}(name)
	}
	err1, err2 := <-errs, <-errs

	if (err1 == nil) == (err2 == nil) {
		t.Fatalf("exactly one racer must win: %v / %v", err1, err2)
	}
	lost := err1
	if lost == nil {
		lost = err2
	}
	if !errors.Is(lost, ErrSeatTaken) {
		t.Errorf("loser error = %v, want ErrSeatTaken", lost)
	}

	snap, _ := e.Current(TierA)
	if snap.Status != StatusSpinPending {
		t.Errorf("status = %s, want spin_pending", snap.Status)
	}
	if got := len(sink.ofType(EventSpinPending)); got != 1 {
		t.Errorf("spin_pending events = %d, want 1", got)
	}
}

func TestBetOnJustFilledMesaReportsSeatTaken(t *testing.T) {
	store := newFakeStore()
	fundUsers(store, NumSeats, 1000)
	store.fund("late", 1000)
	e := NewEngine(store, Config{GraceDelay: time.Hour, ResultTimeout: time.Hour, Cooldown: time.Hour}, &fakeSink{})
	defer e.Stop()

	fillMesa(t, e, TierA)

	// The mesa is spin_pending now; a serialized bet on an occupied seat
	// must still report the seat.
	if _, _, err := e.PlaceBet(TierA, "late", NumSeats-1); !errors.Is(err, ErrSeatTaken) {
		t.Errorf("bet on taken seat of filled mesa: err = %v, want ErrSeatTaken", err)
	}
	if got := store.balance("late"); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("loser balance = %s, want untouched 1000", got)
	}
}

func TestLifecycleResolutionAndSuccessor(t *testing.T) {
	store := newFakeStore()
	fundUsers(store, NumSeats, 1000)
	sink := &fakeSink{}
	e := NewEngine(store, fastConfig(), sink)
	defer e.Stop()

	snap := fillMesa(t, e, TierA)
	firstID := snap.ID

	waitFor(t, "spinning", func() bool {
		cur, err := e.Current(TierA)
		return err == nil && cur.Status == StatusSpinning
	})
	if got := len(sink.ofType(EventSpinning)); got != 1 {
		t.Errorf("spinning events = %d, want 1", got)
	}

	w, err := e.SubmitResult(firstID, 7, "operator")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if w.Main == nil || w.Main.Username != "user7" {
		t.Fatalf("main = %+v, want user7", w.Main)
	}

	// Winner credit: 1000 - 150 + 1575.
	if got := store.balance("user7"); !got.Equal(decimal.NewFromInt(2425)) {
		t.Errorf("winner balance = %s, want 2425", got)
	}

	// Duplicate submission, different seat: no effect.
	if _, err := e.SubmitResult(firstID, 3, "operator-retry"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("duplicate submit err = %v, want ErrAlreadyResolved", err)
	}
	cur, _ := e.Current(TierA)
	if cur.Winners == nil || cur.Winners.WinningSeat != 7 {
		t.Errorf("winners reflect %+v, want seat 7", cur.Winners)
	}

	// Winner balance events precede mesa.closed.
	events := sink.all()
	closedIdx, balanceIdx := -1, -1
	for i, ev := range events {
		if ev.Type == EventClosed && ev.MesaID == firstID {
			closedIdx = i
		}
		if ev.Type == EventBalance && ev.Username == "user7" && ev.MesaID == firstID && ev.Data["prize"] != nil {
			balanceIdx = i
		}
	}
	if closedIdx == -1 || balanceIdx == -1 || balanceIdx > closedIdx {
		t.Errorf("balance.updated at %d, mesa.closed at %d; want balance first", balanceIdx, closedIdx)
	}

	// After the cooldown a fresh empty mesa replaces the closed one.
	waitFor(t, "successor mesa", func() bool {
		cur, err := e.Current(TierA)
		return err == nil && cur.ID != firstID
	})
	cur, _ = e.Current(TierA)
	if cur.Status != StatusOpen || cur.FilledCount != 0 {
		t.Errorf("successor = %+v, want empty open mesa", cur)
	}
	for _, s := range cur.Seats {
		if s.Taken {
			t.Errorf("successor shares seat state: %+v", s)
		}
	}

	// A late retry against the replaced mesa still reads as resolved.
	if _, err := e.SubmitResult(firstID, 1, "late"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("late submit err = %v, want ErrAlreadyResolved", err)
	}
}

func TestSubmitResultValidation(t *testing.T) {
	store := newFakeStore()
	fundUsers(store, NumSeats, 1000)
	e := NewEngine(store, Config{GraceDelay: time.Hour, ResultTimeout: time.Hour, Cooldown: time.Hour}, &fakeSink{})
	defer e.Stop()

	if _, err := e.SubmitResult(99, 3, "op"); !errors.Is(err, ErrMesaNotEligible) {
		t.Errorf("unknown mesa err = %v, want ErrMesaNotEligible", err)
	}

	snap, _, err := e.PlaceBet(TierA, "user0", 0)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := e.SubmitResult(snap.ID, -1, "op"); !errors.Is(err, ErrInvalidSeat) {
		t.Errorf("invalid seat err = %v, want ErrInvalidSeat", err)
	}
	// Open mesa is not awaiting a result.
	if _, err := e.SubmitResult(snap.ID, 3, "op"); !errors.Is(err, ErrMesaNotEligible) {
		t.Errorf("open mesa err = %v, want ErrMesaNotEligible", err)
	}
}

func TestResultTimeoutForcesClose(t *testing.T) {
	store := newFakeStore()
	fundUsers(store, NumSeats, 1000)
	sink := &fakeSink{}
	e := NewEngine(store, Config{
		GraceDelay:    10 * time.Millisecond,
		ResultTimeout: 40 * time.Millisecond,
		Cooldown:      time.Hour,
	}, sink)
	defer e.Stop()

	snap := fillMesa(t, e, TierA)

	waitFor(t, "forced close", func() bool {
		cur, err := e.Current(TierA)
		return err == nil && cur.Status == StatusClosed
	})

	cur, _ := e.Current(TierA)
	if cur.Winners == nil {
		t.Fatal("forced close attached no winners")
	}
	if cur.Winners.SubmittedBy != "system:timeout" {
		t.Errorf("submitted by = %q, want system:timeout", cur.Winners.SubmittedBy)
	}
	if cur.ID != snap.ID {
		t.Errorf("closed mesa id = %d, want %d", cur.ID, snap.ID)
	}

	// All fifteen stakes are accounted for between prizes and house.
	sum := cur.Winners.HouseAmount
	for _, v := range cur.Winners.Awarded() {
		sum = sum.Add(v.Prize)
	}
	if !sum.Equal(decimal.NewFromInt(2250)) {
		t.Errorf("prizes + house = %s, want 2250", sum)
	}
}

func TestTiersDoNotShareState(t *testing.T) {
	store := newFakeStore()
	store.fund("alice", 1000)
	store.fund("bob", 1000)
	e := NewEngine(store, Config{GraceDelay: time.Hour, ResultTimeout: time.Hour, Cooldown: time.Hour}, &fakeSink{})
	defer e.Stop()

	if _, _, err := e.PlaceBet(TierA, "alice", 0); err != nil {
		t.Fatalf("tier A: %v", err)
	}
	// Same user, same seat index, other tier: allowed.
	if _, _, err := e.PlaceBet(TierB, "alice", 0); err != nil {
		t.Fatalf("tier B: %v", err)
	}

	a, _ := e.Current(TierA)
	b, _ := e.Current(TierB)
	if a.ID == b.ID {
		t.Errorf("tiers share a mesa id: %d", a.ID)
	}
	if a.Stake == b.Stake {
		t.Errorf("tier stakes equal: %s", a.Stake)
	}
}
