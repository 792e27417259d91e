package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/driftledger/internal/model"
)

func seedPlayer(t *testing.T, s Store, id model.PlayerID, points int64, registeredAt time.Time) {
	t.Helper()
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		_, err := tx.InsertPlayerIfAbsent(context.Background(), &model.Player{
			ID: id, Points: points, RegisteredAt: registeredAt, LastActiveAt: registeredAt,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seedPlayer(%d) failed: %v", id, err)
	}
}

// checkTouchKeepsNames は空の表示名でのTouchPlayerが保存済みの名前を消さないことを検証する。
func checkTouchKeepsNames(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	err := s.WithinTx(ctx, func(tx Tx) error {
		_, err := tx.InsertPlayerIfAbsent(ctx, &model.Player{
			ID: 7, Username: "drifter", FirstName: "Ana", LastName: "Souza",
			RegisteredAt: base, LastActiveAt: base,
		})
		if err != nil {
			return err
		}
		if err := tx.TouchPlayer(ctx, 7, model.DisplayName{}, base.Add(time.Hour)); err != nil {
			return err
		}
		return tx.TouchPlayer(ctx, 7, model.DisplayName{LastName: "Lima"}, base.Add(2*time.Hour))
	})
	if err != nil {
		t.Fatalf("WithinTx returned error: %v", err)
	}

	var p *model.Player
	_ = s.WithinTx(ctx, func(tx Tx) error {
		var err error
		p, err = tx.GetPlayer(ctx, 7)
		return err
	})
	if p == nil {
		t.Fatal("player 7 should exist")
	}
	if p.Username != "drifter" || p.FirstName != "Ana" || p.LastName != "Lima" {
		t.Errorf("names = (%q, %q, %q), want (drifter, Ana, Lima)", p.Username, p.FirstName, p.LastName)
	}
	if !p.LastActiveAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("LastActiveAt = %v, want %v", p.LastActiveAt, base.Add(2*time.Hour))
	}
}

func TestMemoryStore_TouchPlayer_KeepsStoredNames(t *testing.T) {
	checkTouchKeepsNames(t, NewMemoryStore())
}

func TestMemoryStore_WithinTx_RollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedPlayer(t, s, 1, 0, base)

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		if _, err := tx.AddPoints(context.Background(), 1, 500); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx error = %v, want boom", err)
	}

	p, _ := s.Player(1)
	if p.Points != 0 {
		t.Errorf("ロールバック後のPoints = %d, want 0", p.Points)
	}
}

// ロールバックされた追記が、後続のトランザクションで見えないことを検証する。
func TestMemoryStore_RolledBackAppendIsNotVisible(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedPlayer(t, s, 1, 0, base)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.InsertSession(ctx, &model.GameSession{PlayerID: 1, Score: 900, RecordedAt: base}); err != nil {
			return err
		}
		if err := tx.InsertNotificationAttempt(ctx, &model.NotificationAttempt{ID: "a", PlayerID: 1, CreatedAt: base}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx error = %v, want boom", err)
	}

	var id int64
	err = s.WithinTx(ctx, func(tx Tx) error {
		var err error
		id, err = tx.InsertSession(ctx, &model.GameSession{PlayerID: 1, Score: 120, RecordedAt: base})
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx returned error: %v", err)
	}
	if id != 1 {
		t.Errorf("session id = %d, want 1", id)
	}

	var best int64
	_ = s.WithinTx(ctx, func(tx Tx) error {
		var err error
		best, err = tx.MaxScore(ctx, 1)
		return err
	})
	if best != 120 {
		t.Errorf("MaxScore = %d, want 120", best)
	}
	if got := s.SessionCount(1); got != 1 {
		t.Errorf("SessionCount = %d, want 1", got)
	}
	if got := len(s.NotificationAttempts()); got != 0 {
		t.Errorf("NotificationAttempts = %d, want 0", got)
	}
}

func TestMemoryStore_CommitFault_ReturnsStoreUnavailable(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedPlayer(t, s, 1, 0, base)

	s.SetFault(func(op string, id model.PlayerID) error {
		if op == "commit" {
			return errors.New("disk full")
		}
		return nil
	})

	err := s.WithinTx(context.Background(), func(tx Tx) error {
		_, err := tx.AddTokens(context.Background(), 1, 5)
		return err
	})
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Fatalf("WithinTx error = %v, want ErrStoreUnavailable", err)
	}

	p, _ := s.Player(1)
	if p.Tokens != 0 {
		t.Errorf("コミット失敗後のTokens = %d, want 0", p.Tokens)
	}
}

func TestMemoryStore_InsertCheckIn_UniquePerDay(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedPlayer(t, s, 7, 0, base)
	day, _ := model.ParseDate("2024-05-01")

	var first, second bool
	_ = s.WithinTx(context.Background(), func(tx Tx) error {
		var err error
		first, err = tx.InsertCheckIn(context.Background(), &model.CheckIn{PlayerID: 7, CheckDate: day, CreatedAt: base})
		if err != nil {
			return err
		}
		second, err = tx.InsertCheckIn(context.Background(), &model.CheckIn{PlayerID: 7, CheckDate: day, CreatedAt: base})
		return err
	})

	if !first || second {
		t.Errorf("InsertCheckIn = (%v, %v), want (true, false)", first, second)
	}
	if got := s.CheckInCount(7); got != 1 {
		t.Errorf("CheckInCount = %d, want 1", got)
	}
}

func TestMemoryStore_InsertCheckIn_UnknownPlayer(t *testing.T) {
	s := NewMemoryStore()
	day, _ := model.ParseDate("2024-05-01")

	err := s.WithinTx(context.Background(), func(tx Tx) error {
		_, err := tx.InsertCheckIn(context.Background(), &model.CheckIn{PlayerID: 99, CheckDate: day})
		return err
	})
	if !errors.Is(err, model.ErrPlayerNotFound) {
		t.Errorf("error = %v, want ErrPlayerNotFound", err)
	}
}

func TestMemoryStore_TopPlayers_OrdersByPointsThenRegistration(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedPlayer(t, s, 3, 100, base.Add(2*time.Hour))
	seedPlayer(t, s, 1, 100, base.Add(1*time.Hour))
	seedPlayer(t, s, 2, 300, base.Add(3*time.Hour))
	seedPlayer(t, s, 4, 50, base)

	var got []*model.Player
	_ = s.WithinTx(context.Background(), func(tx Tx) error {
		var err error
		got, err = tx.TopPlayers(context.Background(), 3)
		return err
	})

	want := []model.PlayerID{2, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("len(TopPlayers) = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("TopPlayers[%d].ID = %d, want %d", i, got[i].ID, id)
		}
	}
}

func TestMemoryStore_InsertPayoutIfAbsent_RejectsDuplicatePositionAndPlayer(t *testing.T) {
	s := NewMemoryStore()
	period, _ := model.ParseDate("2024-05-01")

	results := make([]bool, 0, 3)
	_ = s.WithinTx(context.Background(), func(tx Tx) error {
		for _, p := range []*model.Payout{
			{Period: period, Position: 1, PlayerID: 10, Tokens: 50},
			{Period: period, Position: 1, PlayerID: 11, Tokens: 50},
			{Period: period, Position: 2, PlayerID: 10, Tokens: 45},
		} {
			ok, err := tx.InsertPayoutIfAbsent(context.Background(), p)
			if err != nil {
				return err
			}
			results = append(results, ok)
		}
		return nil
	})

	want := []bool{true, false, false}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("InsertPayoutIfAbsent[%d] = %v, want %v", i, results[i], want[i])
		}
	}
	if got := len(s.Payouts(period)); got != 1 {
		t.Errorf("len(Payouts) = %d, want 1", got)
	}
}

func TestMemoryStore_StartDistribution_KeepsExistingMarker(t *testing.T) {
	s := NewMemoryStore()
	period, _ := model.ParseDate("2024-05-01")
	base := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	var first, second *model.Distribution
	_ = s.WithinTx(context.Background(), func(tx Tx) error {
		first, _ = tx.StartDistribution(context.Background(), &model.Distribution{Period: period, RunID: "run-a", StartedAt: base})
		return tx.CompleteDistribution(context.Background(), period, base.Add(time.Minute))
	})
	_ = s.WithinTx(context.Background(), func(tx Tx) error {
		second, _ = tx.StartDistribution(context.Background(), &model.Distribution{Period: period, RunID: "run-b", StartedAt: base.Add(time.Hour)})
		return nil
	})

	if first.RunID != "run-a" || second.RunID != "run-a" {
		t.Errorf("RunID = (%s, %s), want run-a both", first.RunID, second.RunID)
	}
	if !second.Completed() {
		t.Error("2回目のStartDistributionは完了済みマーカーを返すべき")
	}
}

func TestMemoryStore_ConcurrentAddPoints(t *testing.T) {
	s := NewMemoryStore()
	seedPlayer(t, s, 1, 0, time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithinTx(context.Background(), func(tx Tx) error {
				_, err := tx.AddPoints(context.Background(), 1, 10)
				return err
			})
		}()
	}
	wg.Wait()

	p, _ := s.Player(1)
	if p.Points != 500 {
		t.Errorf("Points = %d, want 500", p.Points)
	}
}

func TestMemoryStore_DeleteNotificationsBefore(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	_ = s.WithinTx(context.Background(), func(tx Tx) error {
		_ = tx.InsertNotificationAttempt(context.Background(), &model.NotificationAttempt{ID: "a", CreatedAt: base.AddDate(0, 0, -40)})
		return tx.InsertNotificationAttempt(context.Background(), &model.NotificationAttempt{ID: "b", CreatedAt: base})
	})

	n, err := s.DeleteNotificationsBefore(context.Background(), base.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("DeleteNotificationsBefore returned error: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if got := s.NotificationAttempts(); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("remaining = %+v, want only b", got)
	}
}
