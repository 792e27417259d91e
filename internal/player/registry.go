// Package player はプレイヤーの登録とプロフィール照会を提供する。
package player

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/driftledger/internal/checkin"
	"github.com/hitoshi/driftledger/internal/clock"
	"github.com/hitoshi/driftledger/internal/model"
	"github.com/hitoshi/driftledger/internal/repository"
	"github.com/hitoshi/driftledger/internal/security"
)

// Profile はプレイヤーのプロフィール情報。
type Profile struct {
	Player    *model.Player
	Rank      int
	BestScore int64
	Streak    int
}

// Registry はプレイヤー登録のサービス層。
type Registry struct {
	store     repository.Store
	sanitizer security.NameSanitizer
	clock     clock.Clock
	loc       *time.Location
}

// NewRegistry はRegistryの新しいインスタンスを生成する。
// locはストリーク計算に使う基準タイムゾーン（nilの場合はUTC）。
func NewRegistry(store repository.Store, sanitizer security.NameSanitizer, clk clock.Clock, loc *time.Location) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	return &Registry{
		store:     store,
		sanitizer: sanitizer,
		clock:     clk,
		loc:       loc,
	}
}

// EnsurePlayer はプレイヤーが未登録であれば作成し、登録済みであれば最終アクティブ日時を更新する。
// 表示名は空でない項目だけを上書きし、名前を伴わない呼び出しでは保存済みの名前を保つ。
// points/tokensは変更しない。新規作成した場合は2番目の戻り値がtrueになる。
func (r *Registry) EnsurePlayer(ctx context.Context, id model.PlayerID, name model.DisplayName) (*model.Player, bool, error) {
	name = r.sanitizeName(name)
	now := r.clock.Now()

	var (
		player  *model.Player
		created bool
	)
	err := r.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		created, err = tx.InsertPlayerIfAbsent(ctx, &model.Player{
			ID:           id,
			Username:     name.Username,
			FirstName:    name.FirstName,
			LastName:     name.LastName,
			RegisteredAt: now,
			LastActiveAt: now,
		})
		if err != nil {
			return err
		}
		if !created {
			if err := tx.TouchPlayer(ctx, id, name, now); err != nil {
				return err
			}
		}

		player, err = tx.GetPlayer(ctx, id)
		if err != nil {
			return err
		}
		if player == nil {
			return model.NewPlayerNotFoundError(id)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("プレイヤーの登録に失敗しました: %w", err)
	}

	if created {
		slog.Info("プレイヤーを登録しました",
			slog.String("player_id", id.String()),
		)
	}

	return player, created, nil
}

// Profile はプレイヤーのプロフィールを1つのトランザクション内で取得する。
// 未登録の場合は model.ErrPlayerNotFound を返す。
func (r *Registry) Profile(ctx context.Context, id model.PlayerID) (*Profile, error) {
	today := model.DateOf(r.clock.Now(), r.loc)

	profile := &Profile{}
	err := r.store.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetPlayer(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return model.NewPlayerNotFoundError(id)
		}
		profile.Player = p

		above, err := tx.CountPlayersAbove(ctx, p.Points)
		if err != nil {
			return err
		}
		profile.Rank = above + 1

		profile.BestScore, err = tx.MaxScore(ctx, id)
		if err != nil {
			return err
		}

		profile.Streak, err = checkin.Streak(ctx, tx, id, today, checkin.DefaultMaxLookback)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}

	return profile, nil
}

func (r *Registry) sanitizeName(name model.DisplayName) model.DisplayName {
	if r.sanitizer == nil {
		return name
	}
	return model.DisplayName{
		Username:  r.sanitizer.Sanitize(name.Username),
		FirstName: r.sanitizer.Sanitize(name.FirstName),
		LastName:  r.sanitizer.Sanitize(name.LastName),
	}
}

var _ checkin.Registrar = (*Registry)(nil)
