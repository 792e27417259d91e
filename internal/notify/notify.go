// Package notify はプレイヤーへのベストエフォート通知を提供する。
// 通知は台帳の確定後に送信され、失敗しても台帳の状態には影響しない。
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/driftledger/internal/model"
)

// Sender はプレイヤーにテキストメッセージを送信するインターフェース。
type Sender interface {
	Send(ctx context.Context, playerID model.PlayerID, text string) error
}

// RewardMessage は日次ランキング報酬の通知本文を返す。positionは1始まり。
func RewardMessage(tokens int64, position int) string {
	return fmt.Sprintf("Congratulations! You received %d tokens for placing #%d in the daily ranking.", tokens, position)
}

// LogSender は通知をログに出力するだけのSender。
// Botトークンが設定されていない環境で使用する。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send は通知内容をログに出力する。
func (s *LogSender) Send(ctx context.Context, playerID model.PlayerID, text string) error {
	s.logger.Info("通知を送信しました（ログ出力のみ）",
		slog.String("player_id", playerID.String()),
		slog.String("text", text),
	)
	return nil
}

var _ Sender = (*LogSender)(nil)
