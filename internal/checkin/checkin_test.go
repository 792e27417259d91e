package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/driftledger/internal/clock"
	"github.com/hitoshi/driftledger/internal/model"
	"github.com/hitoshi/driftledger/internal/repository"
)

var baseTime = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

// --- モック ---

type mockRecorder struct {
	mu      sync.Mutex
	claimed int
	skipped int
	tokens  int64
}

func (m *mockRecorder) RecordCheckIn(claimed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if claimed {
		m.claimed++
	} else {
		m.skipped++
	}
}

func (m *mockRecorder) RecordTokensAwarded(source string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens += amount
}

// --- ヘルパー ---

func newTestEngine(t *testing.T) (*Engine, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	return NewEngine(store, clock.NewFake(baseTime), time.UTC, nil), store
}

func registerPlayer(t *testing.T, store repository.Store, id model.PlayerID) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(tx repository.Tx) error {
		_, err := tx.InsertPlayerIfAbsent(context.Background(), &model.Player{ID: id, RegisteredAt: baseTime, LastActiveAt: baseTime})
		return err
	})
	if err != nil {
		t.Fatalf("registerPlayer failed: %v", err)
	}
}

func mustDate(t *testing.T, s string) model.Date {
	t.Helper()
	d, err := model.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}

// --- テスト ---

// TestCheckIn_IdempotentPerDay は同日2回目のチェックインでボーナスが付与されないことを検証する。
func TestCheckIn_IdempotentPerDay(t *testing.T) {
	engine, store := newTestEngine(t)
	registerPlayer(t, store, 1)
	today := mustDate(t, "2024-05-10")

	first, err := engine.CheckIn(context.Background(), 1, today)
	if err != nil {
		t.Fatalf("1回目のCheckIn returned error: %v", err)
	}
	if !first.Claimed || first.Bonus != DailyBonus {
		t.Errorf("1回目 = %+v, want Claimed=true Bonus=%d", first, DailyBonus)
	}

	second, err := engine.CheckIn(context.Background(), 1, today)
	if err != nil {
		t.Fatalf("2回目のCheckIn returned error: %v", err)
	}
	if second.Claimed || second.Bonus != 0 {
		t.Errorf("2回目 = %+v, want Claimed=false Bonus=0", second)
	}

	p, _ := store.Player(1)
	if p.Tokens != 5 {
		t.Errorf("tokens = %d, want 5", p.Tokens)
	}
	if got := store.CheckInCount(1); got != 1 {
		t.Errorf("CheckInCount = %d, want 1", got)
	}
}

// TestCheckIn_ConcurrentCallsAwardOnce は同時実行でもボーナスが1回だけ付与されることを検証する。
func TestCheckIn_ConcurrentCallsAwardOnce(t *testing.T) {
	engine, store := newTestEngine(t)
	registerPlayer(t, store, 1)
	today := mustDate(t, "2024-05-10")

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.CheckIn(context.Background(), 1, today)
			if err != nil {
				t.Errorf("CheckIn returned error: %v", err)
				return
			}
			if res.Claimed {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if claimed != 1 {
		t.Errorf("claimed = %d, want 1", claimed)
	}
	p, _ := store.Player(1)
	if p.Tokens != 5 {
		t.Errorf("tokens = %d, want 5", p.Tokens)
	}
}

func TestCheckIn_NextDayAwardsAgain(t *testing.T) {
	engine, store := newTestEngine(t)
	registerPlayer(t, store, 1)

	for _, day := range []string{"2024-05-10", "2024-05-11"} {
		if _, err := engine.CheckIn(context.Background(), 1, mustDate(t, day)); err != nil {
			t.Fatalf("CheckIn(%s) returned error: %v", day, err)
		}
	}

	p, _ := store.Player(1)
	if p.Tokens != 10 {
		t.Errorf("tokens = %d, want 10", p.Tokens)
	}
}

func TestCheckIn_UnknownPlayer(t *testing.T) {
	engine, store := newTestEngine(t)

	_, err := engine.CheckIn(context.Background(), 404, mustDate(t, "2024-05-10"))
	if !errors.Is(err, model.ErrPlayerNotFound) {
		t.Fatalf("error = %v, want ErrPlayerNotFound", err)
	}
	if got := store.CheckInCount(404); got != 0 {
		t.Errorf("CheckInCount = %d, want 0", got)
	}
}

// TestCheckIn_TokenFailureRollsBackCheckIn はボーナス付与に失敗した場合にチェックインも残らないことを検証する。
func TestCheckIn_TokenFailureRollsBackCheckIn(t *testing.T) {
	engine, store := newTestEngine(t)
	registerPlayer(t, store, 1)

	store.SetFault(func(op string, id model.PlayerID) error {
		if op == "AddTokens" {
			return errors.New("write failed")
		}
		return nil
	})

	if _, err := engine.CheckIn(context.Background(), 1, mustDate(t, "2024-05-10")); err == nil {
		t.Fatal("expected error when AddTokens fails")
	}
	store.SetFault(nil)

	if got := store.CheckInCount(1); got != 0 {
		t.Errorf("CheckInCount = %d, want 0", got)
	}

	// 障害解消後は同日でも付与できる
	res, err := engine.CheckIn(context.Background(), 1, mustDate(t, "2024-05-10"))
	if err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if !res.Claimed {
		t.Error("retry should claim the bonus")
	}
}

func TestCheckIn_RecordsMetrics(t *testing.T) {
	store := repository.NewMemoryStore()
	rec := &mockRecorder{}
	engine := NewEngine(store, clock.NewFake(baseTime), time.UTC, rec)
	registerPlayer(t, store, 1)
	today := mustDate(t, "2024-05-10")

	_, _ = engine.CheckIn(context.Background(), 1, today)
	_, _ = engine.CheckIn(context.Background(), 1, today)

	if rec.claimed != 1 || rec.skipped != 1 || rec.tokens != 5 {
		t.Errorf("recorder = %+v, want claimed=1 skipped=1 tokens=5", rec)
	}
}

// TestConsecutiveDays_StopsAtGap は欠けた日でストリークが途切れることを検証する。
func TestConsecutiveDays_StopsAtGap(t *testing.T) {
	engine, store := newTestEngine(t)
	registerPlayer(t, store, 1)
	today := mustDate(t, "2024-05-10")

	// today-0 .. today-4 は連続、today-5 は欠け、today-6 はチェックイン済み
	for _, offset := range []int{0, 1, 2, 3, 4, 6} {
		if _, err := engine.CheckIn(context.Background(), 1, today.AddDays(-offset)); err != nil {
			t.Fatalf("CheckIn returned error: %v", err)
		}
	}

	got, err := engine.ConsecutiveDays(context.Background(), 1, today, DefaultMaxLookback)
	if err != nil {
		t.Fatalf("ConsecutiveDays returned error: %v", err)
	}
	if got != 5 {
		t.Errorf("ConsecutiveDays = %d, want 5", got)
	}
}

func TestConsecutiveDays_ZeroWithoutToday(t *testing.T) {
	engine, store := newTestEngine(t)
	registerPlayer(t, store, 1)
	today := mustDate(t, "2024-05-10")

	for _, offset := range []int{1, 2, 3} {
		_, _ = engine.CheckIn(context.Background(), 1, today.AddDays(-offset))
	}

	got, err := engine.ConsecutiveDays(context.Background(), 1, today, DefaultMaxLookback)
	if err != nil {
		t.Fatalf("ConsecutiveDays returned error: %v", err)
	}
	if got != 0 {
		t.Errorf("ConsecutiveDays = %d, want 0", got)
	}
}

func TestConsecutiveDays_CappedByLookback(t *testing.T) {
	engine, store := newTestEngine(t)
	registerPlayer(t, store, 1)
	today := mustDate(t, "2024-05-10")

	for offset := 0; offset < 40; offset++ {
		_, _ = engine.CheckIn(context.Background(), 1, today.AddDays(-offset))
	}

	tests := []struct {
		lookback int
		want     int
	}{
		{DefaultMaxLookback, 30},
		{7, 7},
		{0, DefaultMaxLookback},
	}
	for _, tt := range tests {
		got, err := engine.ConsecutiveDays(context.Background(), 1, today, tt.lookback)
		if err != nil {
			t.Fatalf("ConsecutiveDays returned error: %v", err)
		}
		if got != tt.want {
			t.Errorf("ConsecutiveDays(lookback=%d) = %d, want %d", tt.lookback, got, tt.want)
		}
	}
}

// TestConsecutiveDays_AcrossMonthBoundary は月をまたいだ連続日を数えることを検証する。
func TestConsecutiveDays_AcrossMonthBoundary(t *testing.T) {
	engine, store := newTestEngine(t)
	registerPlayer(t, store, 1)

	for _, day := range []string{"2024-02-28", "2024-02-29", "2024-03-01"} {
		_, _ = engine.CheckIn(context.Background(), 1, mustDate(t, day))
	}

	got, _ := engine.ConsecutiveDays(context.Background(), 1, mustDate(t, "2024-03-01"), DefaultMaxLookback)
	if got != 3 {
		t.Errorf("ConsecutiveDays = %d, want 3", got)
	}
}

func TestToday_UsesReferenceTimezone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	engine := NewEngine(repository.NewMemoryStore(), clock.New(), tokyo, nil)

	// UTC 2024-05-10 16:30 は JST 2024-05-11 01:30
	now := time.Date(2024, 5, 10, 16, 30, 0, 0, time.UTC)
	if got := engine.Today(now).String(); got != "2024-05-11" {
		t.Errorf("Today = %s, want 2024-05-11", got)
	}
}
