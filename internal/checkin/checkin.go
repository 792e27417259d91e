// Package checkin は日次チェックインとログインストリークの計算を提供する。
package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/driftledger/internal/clock"
	"github.com/hitoshi/driftledger/internal/metrics"
	"github.com/hitoshi/driftledger/internal/model"
	"github.com/hitoshi/driftledger/internal/repository"
)

const (
	// DailyBonus は1日1回のチェックインで付与されるトークン数。
	DailyBonus int64 = 5

	// DefaultMaxLookback はストリーク計算で遡る最大日数。
	DefaultMaxLookback = 30
)

// Recorder はチェックイン結果を計上するインターフェース。
type Recorder interface {
	RecordCheckIn(claimed bool)
	RecordTokensAwarded(source string, amount int64)
}

// Result はチェックインの結果。
type Result struct {
	Claimed bool
	Bonus   int64
	Date    model.Date
}

// Engine は日次チェックインエンジン。
type Engine struct {
	store    repository.Store
	clock    clock.Clock
	loc      *time.Location
	recorder Recorder
}

// NewEngine はEngineを生成する。locは暦日判定の基準タイムゾーン（nilの場合はUTC）。
// recorderはnilでもよい。
func NewEngine(store repository.Store, clk clock.Clock, loc *time.Location, recorder Recorder) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		store:    store,
		clock:    clk,
		loc:      loc,
		recorder: recorder,
	}
}

// Today は基準タイムゾーンにおけるnowの暦日を返す。
func (e *Engine) Today(now time.Time) model.Date {
	return model.DateOf(now, e.loc)
}

// Location は基準タイムゾーンを返す。
func (e *Engine) Location() *time.Location {
	return e.loc
}

// CheckIn はtodayのチェックインを記録し、その日初めてであればボーナスを付与する。
// チェックインの挿入とトークン付与は同一トランザクションで行うため、
// 同一プレイヤー・同一日の同時呼び出しでもボーナスは1回だけ付与される。
func (e *Engine) CheckIn(ctx context.Context, playerID model.PlayerID, today model.Date) (*Result, error) {
	result := &Result{Date: today}

	err := e.store.WithinTx(ctx, func(tx repository.Tx) error {
		inserted, err := tx.InsertCheckIn(ctx, &model.CheckIn{
			PlayerID:  playerID,
			CheckDate: today,
			CreatedAt: e.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		if _, err := tx.AddTokens(ctx, playerID, DailyBonus); err != nil {
			return err
		}
		result.Claimed = true
		result.Bonus = DailyBonus
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("チェックインに失敗しました: %w", err)
	}

	if e.recorder != nil {
		e.recorder.RecordCheckIn(result.Claimed)
		e.recorder.RecordTokensAwarded(metrics.SourceCheckIn, result.Bonus)
	}
	if result.Claimed {
		slog.Info("デイリーボーナスを付与しました",
			slog.String("player_id", playerID.String()),
			slog.String("date", today.String()),
			slog.Int64("bonus", result.Bonus),
		)
	}

	return result, nil
}

// ConsecutiveDays はtodayから遡って連続してチェックインしている日数を返す。
// todayにチェックインが無い場合は0を返す。maxLookbackが0以下の場合は DefaultMaxLookback を使う。
func (e *Engine) ConsecutiveDays(ctx context.Context, playerID model.PlayerID, today model.Date, maxLookback int) (int, error) {
	var streak int
	err := e.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		streak, err = Streak(ctx, tx, playerID, today, maxLookback)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ストリークの取得に失敗しました: %w", err)
	}
	return streak, nil
}

// Streak はトランザクション内でストリークを数える。
// 1日ずつ遡り、最初に欠けた日またはmaxLookback日に達した時点で止める。
func Streak(ctx context.Context, tx repository.CheckInTx, playerID model.PlayerID, today model.Date, maxLookback int) (int, error) {
	if maxLookback <= 0 {
		maxLookback = DefaultMaxLookback
	}

	streak := 0
	for i := 0; i < maxLookback; i++ {
		ok, err := tx.HasCheckIn(ctx, playerID, today.AddDays(-i))
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		streak++
	}
	return streak, nil
}
