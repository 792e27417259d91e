// Package ranking はポイントに基づく順位計算を提供する。
package ranking

import (
	"context"
	"fmt"

	"github.com/hitoshi/driftledger/internal/model"
	"github.com/hitoshi/driftledger/internal/repository"
)

// MaxTopN はTopNで一度に取得できる最大件数。
const MaxTopN = 100

// Entry はランキングの1行。Positionは1始まり。
type Entry struct {
	Position    int
	PlayerID    model.PlayerID
	DisplayName string
	Points      int64
}

// Service はランキングのサービス層。読み取り専用で、照会のたびに最新の状態から計算する。
type Service struct {
	store repository.Store
}

// NewService はServiceを生成する。
func NewService(store repository.Store) *Service {
	return &Service{store: store}
}

// RankOf はプレイヤーの順位（自分より厳密に多いポイントを持つプレイヤー数 + 1）を返す。
// 同点のプレイヤーは同順位になる。
func (s *Service) RankOf(ctx context.Context, playerID model.PlayerID) (int, error) {
	var rank int
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		if p == nil {
			return model.NewPlayerNotFoundError(playerID)
		}

		above, err := tx.CountPlayersAbove(ctx, p.Points)
		if err != nil {
			return err
		}
		rank = above + 1
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("順位の取得に失敗しました: %w", err)
	}
	return rank, nil
}

// TopN はポイント上位n件を返す。同点は登録日時の早い順、さらにIDの昇順で並べる。
// nが0以下の場合は空のスライスを返す。nは MaxTopN で頭打ちにする。
func (s *Service) TopN(ctx context.Context, n int) ([]Entry, error) {
	entries := []Entry{}
	if n <= 0 {
		return entries, nil
	}
	if n > MaxTopN {
		n = MaxTopN
	}

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		players, err := tx.TopPlayers(ctx, n)
		if err != nil {
			return err
		}
		entries = Entries(players)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ランキングの取得に失敗しました: %w", err)
	}
	return entries, nil
}

// Entries は並び順どおりのプレイヤー一覧をランキング行に変換する。
func Entries(players []*model.Player) []Entry {
	entries := make([]Entry, 0, len(players))
	for i, p := range players {
		entries = append(entries, Entry{
			Position:    i + 1,
			PlayerID:    p.ID,
			DisplayName: p.Name(),
			Points:      p.Points,
		})
	}
	return entries
}
