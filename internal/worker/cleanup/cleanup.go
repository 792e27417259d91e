// Package cleanup は通知ログの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過したnotification_logの行を日次バッチで削除する。
// 台帳（ポイント・トークン・報酬記録）は削除対象にしない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/driftledger/internal/clock"
)

// DefaultRetentionDays は通知ログの保持日数のデフォルト値。
const DefaultRetentionDays = 30

// Pruner は通知ログの削除を抽象化するインターフェース。
// repository.PostgresStore と repository.MemoryStore が実装する。
type Pruner interface {
	DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した通知ログの自動削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	pruner        Pruner
	clock         clock.Clock
	logger        *slog.Logger
	RetentionDays int // 通知ログの保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合は DefaultRetentionDays を使用する。
func NewCleanupJob(pruner Pruner, clk clock.Clock, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		pruner:        pruner,
		clock:         clk,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Cutoff は削除対象の境界時刻（これより前の通知ログを削除する）を返す。
func (j *CleanupJob) Cutoff() time.Time {
	return j.clock.Now().AddDate(0, 0, -j.RetentionDays)
}

// Run は保持期間を超過した通知ログを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.Cutoff()

	deletedCount, err := j.pruner.DeleteNotificationsBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("通知ログクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("通知ログクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("通知ログクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はintervalごとにRunを実行する。コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 起動直後に1回実行
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
