// Package repository は台帳データの永続化インターフェースと実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/driftledger/internal/model"
)

// Store は台帳ストアのインターフェース。
// 各エンジンコンポーネントに明示的に注入し、プロセス全体で共有する暗黙の接続は持たない。
type Store interface {
	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合（またはpanicした場合）はロールバックし、成功時はコミットする。
	// トランザクションの開始・コミットに失敗した場合は model.ErrStoreUnavailable を返す。
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}

// Tx はトランザクション内で利用できる台帳操作の集合。
type Tx interface {
	PlayerTx
	CheckInTx
	SessionTx
	RewardTx
	NotificationTx
}

// PlayerTx はプレイヤー集計の読み書き操作。
type PlayerTx interface {
	// GetPlayer は指定IDのプレイヤーを取得する。見つからない場合はnilを返す。
	GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error)

	// LockPlayer はプレイヤー行を排他ロックして取得する（SELECT ... FOR UPDATE）。
	// 見つからない場合はnilを返す。
	LockPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error)

	// InsertPlayerIfAbsent はプレイヤーが存在しない場合のみ作成する。
	// 作成した場合はtrueを返す。
	InsertPlayerIfAbsent(ctx context.Context, p *model.Player) (bool, error)

	// TouchPlayer は最終アクティブ日時を更新し、表示名は空でない項目だけを上書きする。points/tokensは変更しない。
	TouchPlayer(ctx context.Context, id model.PlayerID, name model.DisplayName, at time.Time) error

	// AddPoints はpointsにdeltaを加算し、加算後の値を返す。
	// プレイヤーが存在しない場合は model.ErrPlayerNotFound を返す。
	AddPoints(ctx context.Context, id model.PlayerID, delta int64) (int64, error)

	// AddTokens はtokensにdeltaを加算し、加算後の値を返す。
	// プレイヤーが存在しない場合は model.ErrPlayerNotFound を返す。
	AddTokens(ctx context.Context, id model.PlayerID, delta int64) (int64, error)

	// CountPlayersAbove はpointsが指定値より厳密に大きいプレイヤー数を返す。
	CountPlayersAbove(ctx context.Context, points int64) (int, error)

	// TopPlayers はpoints降順、登録日時昇順、ID昇順で最大limit件のプレイヤーを返す。
	TopPlayers(ctx context.Context, limit int) ([]*model.Player, error)
}

// CheckInTx は日次チェックインの操作。
type CheckInTx interface {
	// InsertCheckIn はチェックインを挿入する。同一キーが既に存在する場合は何もせずfalseを返す。
	// 判定は一意制約によって行い、事前の存在確認は行わない。
	InsertCheckIn(ctx context.Context, c *model.CheckIn) (bool, error)

	// HasCheckIn は指定日のチェックインが存在するかを返す。
	HasCheckIn(ctx context.Context, id model.PlayerID, date model.Date) (bool, error)
}

// SessionTx はゲームセッションログの操作。
type SessionTx interface {
	// InsertSession はゲームセッションを追記し、採番されたIDを返す。
	InsertSession(ctx context.Context, s *model.GameSession) (int64, error)

	// MaxScore はプレイヤーの最高スコアを返す。セッションが無い場合は0を返す。
	MaxScore(ctx context.Context, id model.PlayerID) (int64, error)
}

// RewardTx は日次報酬配布の操作。
type RewardTx interface {
	// StartDistribution は期間マーカーが無ければ作成し、現在のマーカーを返す。
	StartDistribution(ctx context.Context, d *model.Distribution) (*model.Distribution, error)

	// GetDistribution は指定期間の配布マーカーを取得する。見つからない場合はnilを返す。
	GetDistribution(ctx context.Context, period model.Date) (*model.Distribution, error)

	// CompleteDistribution は期間マーカーに完了日時を記録する。
	CompleteDistribution(ctx context.Context, period model.Date, at time.Time) error

	// InsertPayoutIfAbsent は報酬記録を挿入する。
	// 同一期間で順位またはプレイヤーが既に記録済みの場合は何もせずfalseを返す。
	InsertPayoutIfAbsent(ctx context.Context, p *model.Payout) (bool, error)

	// MarkPayoutNotified は報酬通知の送信完了日時を記録する。
	MarkPayoutNotified(ctx context.Context, period model.Date, id model.PlayerID, at time.Time) error
}

// NotificationTx は通知送信履歴の操作。
type NotificationTx interface {
	// InsertNotificationAttempt は通知の送信試行を記録する。
	InsertNotificationAttempt(ctx context.Context, a *model.NotificationAttempt) error
}
