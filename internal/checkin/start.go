package checkin

import (
	"context"
	"time"

	"github.com/hitoshi/driftledger/internal/model"
)

// Registrar はプレイヤーの登録・最終アクティブ日時の更新を行うインターフェース。
type Registrar interface {
	EnsurePlayer(ctx context.Context, id model.PlayerID, name model.DisplayName) (*model.Player, bool, error)
}

// StartResult は/start操作の結果。
type StartResult struct {
	Player  *model.Player
	Created bool
	CheckIn *Result
	Streak  int
}

// Starter はプレイヤー登録、チェックイン、ストリーク計算をまとめて行う。
type Starter struct {
	registrar Registrar
	engine    *Engine
}

// NewStarter はStarterを生成する。
func NewStarter(registrar Registrar, engine *Engine) *Starter {
	return &Starter{
		registrar: registrar,
		engine:    engine,
	}
}

// Start はプレイヤーを登録（または最終アクティブ日時を更新）し、当日のチェックインを行う。
// 返却するPlayerのTokensには今回のボーナスを反映する。
func (s *Starter) Start(ctx context.Context, id model.PlayerID, name model.DisplayName, now time.Time) (*StartResult, error) {
	player, created, err := s.registrar.EnsurePlayer(ctx, id, name)
	if err != nil {
		return nil, err
	}

	today := s.engine.Today(now)
	checkIn, err := s.engine.CheckIn(ctx, id, today)
	if err != nil {
		return nil, err
	}
	player.Tokens += checkIn.Bonus

	streak, err := s.engine.ConsecutiveDays(ctx, id, today, DefaultMaxLookback)
	if err != nil {
		return nil, err
	}

	return &StartResult{
		Player:  player,
		Created: created,
		CheckIn: checkIn,
		Streak:  streak,
	}, nil
}
