// Package score はゲームセッションの記録とスコア集計を提供する。
package score

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/driftledger/internal/metrics"
	"github.com/hitoshi/driftledger/internal/model"
	"github.com/hitoshi/driftledger/internal/repository"
)

const (
	// PointsPerToken はトークン1枚に換算されるスコア。
	PointsPerToken = 100
	// MaxScore は1セッションで受け付ける最大スコア。これを超えるスコアは書き込み前に拒否する。
	MaxScore int64 = 1_000_000_000
)

// Recorder はセッション記録を計上するインターフェース。
type Recorder interface {
	RecordSession(score int64)
	RecordTokensAwarded(source string, amount int64)
}

// Result はセッション記録の結果。
type Result struct {
	SessionID    int64
	TokensEarned int64
	TotalPoints  int64
	TotalTokens  int64
}

// Ledger はスコア台帳のサービス層。
type Ledger struct {
	store    repository.Store
	recorder Recorder
}

// NewLedger はLedgerを生成する。recorderはnilでもよい。
func NewLedger(store repository.Store, recorder Recorder) *Ledger {
	return &Ledger{
		store:    store,
		recorder: recorder,
	}
}

// TokensForScore はスコアに対して付与されるトークン数を返す（100点ごとに1枚、端数切り捨て）。
func TokensForScore(score int64) int64 {
	return score / PointsPerToken
}

// RecordSession はゲームセッションを記録し、pointsとtokensを加算する。
// セッションの追記と残高の更新は同一トランザクションで行い、途中で失敗した場合は何も残らない。
// scoreが負、または MaxScore を超える場合は書き込み前に model.ErrInvalidScore を返す。
func (l *Ledger) RecordSession(ctx context.Context, playerID model.PlayerID, score int64, now time.Time) (*Result, error) {
	if score < 0 {
		return nil, model.NewInvalidScoreError(fmt.Sprintf("score must be non-negative, got %d", score))
	}
	if score > MaxScore {
		return nil, model.NewInvalidScoreError(fmt.Sprintf("score must not exceed %d, got %d", MaxScore, score))
	}

	result := &Result{TokensEarned: TokensForScore(score)}
	err := l.store.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := tx.LockPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		if p == nil {
			return model.NewPlayerNotFoundError(playerID)
		}
		result.TotalTokens = p.Tokens

		result.SessionID, err = tx.InsertSession(ctx, &model.GameSession{
			PlayerID:   playerID,
			Score:      score,
			RecordedAt: now,
		})
		if err != nil {
			return err
		}

		result.TotalPoints, err = tx.AddPoints(ctx, playerID, score)
		if err != nil {
			return err
		}

		if result.TokensEarned > 0 {
			result.TotalTokens, err = tx.AddTokens(ctx, playerID, result.TokensEarned)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ゲームセッションの記録に失敗しました: %w", err)
	}

	if l.recorder != nil {
		l.recorder.RecordSession(score)
		l.recorder.RecordTokensAwarded(metrics.SourceSession, result.TokensEarned)
	}
	slog.Info("ゲームセッションを記録しました",
		slog.String("player_id", playerID.String()),
		slog.Int64("session_id", result.SessionID),
		slog.Int64("score", score),
		slog.Int64("tokens_earned", result.TokensEarned),
	)

	return result, nil
}

// BestScore はプレイヤーの最高スコアを返す。セッションが無い場合は0を返す。
func (l *Ledger) BestScore(ctx context.Context, playerID model.PlayerID) (int64, error) {
	var best int64
	err := l.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		best, err = tx.MaxScore(ctx, playerID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("最高スコアの取得に失敗しました: %w", err)
	}
	return best, nil
}
