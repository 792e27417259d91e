// Package reward はランキング上位者への日次トークン配布を提供する。
package reward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/driftledger/internal/clock"
	"github.com/hitoshi/driftledger/internal/metrics"
	"github.com/hitoshi/driftledger/internal/model"
	"github.com/hitoshi/driftledger/internal/notify"
	"github.com/hitoshi/driftledger/internal/ranking"
	"github.com/hitoshi/driftledger/internal/repository"
)

const (
	// RewardedPlayers は1回の配布で報酬を受け取る上位プレイヤー数。
	RewardedPlayers = 10
	// BaseReward は1位の報酬トークン数。
	BaseReward int64 = 50
	// RewardStep は順位が1つ下がるごとに減る報酬トークン数。
	RewardStep int64 = 5
	// DefaultNotifyTimeout は1件の通知送信に許容する時間。
	DefaultNotifyTimeout = 5 * time.Second
)

// RewardFor は0始まりの順位iに対する報酬 max(0, 50 - 5*i) を返す。
func RewardFor(i int) int64 {
	r := BaseReward - RewardStep*int64(i)
	if r < 0 {
		return 0
	}
	return r
}

// Ranker はランキング上位の取得に使うインターフェース。
type Ranker interface {
	TopN(ctx context.Context, n int) ([]ranking.Entry, error)
}

// Recorder は配布結果を計上するインターフェース。
type Recorder interface {
	RecordTokensAwarded(source string, amount int64)
	RecordDistributionRun(outcome string, duration time.Duration)
	RecordNotificationFailure(kind string)
}

// PayoutResult は1プレイヤー分の配布結果。Positionは1始まり。
type PayoutResult struct {
	Position int
	PlayerID model.PlayerID
	Tokens   int64
	Credited bool
	Notified bool
}

// Report は配布1回分の実行結果。
type Report struct {
	Period               model.Date
	RunID                string
	AlreadyCompleted     bool
	Resumed              bool
	Payouts              []PayoutResult
	Credited             int
	Skipped              int
	NotificationFailures int
}

// Distributor は日次報酬配布を実行する。
type Distributor struct {
	store         repository.Store
	ranker        Ranker
	sender        notify.Sender
	clock         clock.Clock
	loc           *time.Location
	logger        *slog.Logger
	recorder      Recorder
	notifyTimeout time.Duration
}

// Option はDistributorの任意設定。
type Option func(*Distributor)

// WithRecorder はメトリクスの計上先を設定する。
func WithRecorder(r Recorder) Option {
	return func(d *Distributor) { d.recorder = r }
}

// WithNotifyTimeout は1件の通知送信のタイムアウトを設定する。
func WithNotifyTimeout(timeout time.Duration) Option {
	return func(d *Distributor) {
		if timeout > 0 {
			d.notifyTimeout = timeout
		}
	}
}

// NewDistributor はDistributorを生成する。locは配布期間（暦日）判定の基準タイムゾーン。
func NewDistributor(
	store repository.Store,
	ranker Ranker,
	sender notify.Sender,
	clk clock.Clock,
	loc *time.Location,
	logger *slog.Logger,
	opts ...Option,
) *Distributor {
	if loc == nil {
		loc = time.UTC
	}
	d := &Distributor{
		store:         store,
		ranker:        ranker,
		sender:        sender,
		clock:         clk,
		loc:           loc,
		logger:        logger,
		notifyTimeout: DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DistributeDailyRewards はnowの暦日を配布期間として上位プレイヤーにトークンを配布する。
//
// 期間ごとの配布マーカーと報酬記録の一意制約により、同じ期間に対して何度呼ばれても
// 各プレイヤーへの加算は1回だけになる。途中で中断された配布は次回の呼び出しで再開される。
// 通知はプレイヤーごとのトランザクションのコミット後に送信し、失敗しても配布は継続する。
func (d *Distributor) DistributeDailyRewards(ctx context.Context, now time.Time) (*Report, error) {
	start := d.clock.Now()
	period := model.DateOf(now, d.loc)
	report := &Report{Period: period}

	runID := uuid.New().String()
	marker, err := d.startDistribution(ctx, period, runID, now)
	if err != nil {
		d.recordRun(metrics.OutcomeFailed, start)
		return report, err
	}
	report.RunID = marker.RunID

	if marker.Completed() {
		report.AlreadyCompleted = true
		d.logger.Info("この期間の報酬配布は完了済みです",
			slog.String("period", period.String()),
			slog.String("run_id", marker.RunID),
		)
		d.recordRun(metrics.OutcomeAlreadyCompleted, start)
		return report, nil
	}
	if marker.RunID != runID {
		report.Resumed = true
		d.logger.Info("中断された報酬配布を再開します",
			slog.String("period", period.String()),
			slog.String("run_id", marker.RunID),
		)
	}

	entries, err := d.ranker.TopN(ctx, RewardedPlayers)
	if err != nil {
		d.recordRun(metrics.OutcomeFailed, start)
		return report, fmt.Errorf("配布対象の取得に失敗しました: %w", err)
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			d.logger.Warn("報酬配布を中断しました",
				slog.String("period", period.String()),
				slog.Int("position", i+1),
			)
			d.recordRun(metrics.OutcomeInterrupted, start)
			return report, fmt.Errorf("報酬配布が中断されました: %w", err)
		}

		result := PayoutResult{Position: i + 1, PlayerID: entry.PlayerID, Tokens: RewardFor(i)}

		credited, err := d.credit(ctx, period, i, entry.PlayerID, result.Tokens)
		if err != nil {
			d.recordRun(metrics.OutcomeFailed, start)
			return report, err
		}
		result.Credited = credited

		if !credited {
			report.Skipped++
			report.Payouts = append(report.Payouts, result)
			continue
		}
		report.Credited++
		if d.recorder != nil {
			d.recorder.RecordTokensAwarded(metrics.SourceDistribution, result.Tokens)
		}

		if err := d.notify(ctx, period, result); err != nil {
			report.NotificationFailures++
		} else {
			result.Notified = true
		}
		report.Payouts = append(report.Payouts, result)
	}

	err = d.store.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.CompleteDistribution(ctx, period, d.clock.Now())
	})
	if err != nil {
		d.recordRun(metrics.OutcomeFailed, start)
		return report, fmt.Errorf("配布マーカーの完了に失敗しました: %w", err)
	}

	d.logger.Info("報酬配布が完了しました",
		slog.String("period", period.String()),
		slog.String("run_id", report.RunID),
		slog.Int("credited", report.Credited),
		slog.Int("skipped", report.Skipped),
		slog.Int("notification_failures", report.NotificationFailures),
	)
	d.recordRun(metrics.OutcomeCompleted, start)
	return report, nil
}

// startDistribution は配布マーカーを作成する。既に存在する場合は既存のマーカーを返す。
func (d *Distributor) startDistribution(ctx context.Context, period model.Date, runID string, now time.Time) (*model.Distribution, error) {
	var marker *model.Distribution
	err := d.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		marker, err = tx.StartDistribution(ctx, &model.Distribution{
			Period:    period,
			RunID:     runID,
			StartedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("配布マーカーの作成に失敗しました: %w", err)
	}
	return marker, nil
}

// credit は報酬記録の挿入とトークン加算を1トランザクションで行う。
// 同じ期間で既に記録済みの順位またはプレイヤーであればfalseを返す。
func (d *Distributor) credit(ctx context.Context, period model.Date, position int, playerID model.PlayerID, tokens int64) (bool, error) {
	var inserted bool
	err := d.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		inserted, err = tx.InsertPayoutIfAbsent(ctx, &model.Payout{
			Period:     period,
			Position:   position,
			PlayerID:   playerID,
			Tokens:     tokens,
			CreditedAt: d.clock.Now(),
		})
		if err != nil || !inserted {
			return err
		}
		if tokens > 0 {
			_, err = tx.AddTokens(ctx, playerID, tokens)
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("報酬の加算に失敗しました: %w", err)
	}
	return inserted, nil
}

// notify は確定済みの報酬をプレイヤーに通知し、送信試行を記録する。
// 戻り値のエラーは通知失敗を表すだけで、配布は継続する。
func (d *Distributor) notify(ctx context.Context, period model.Date, result PayoutResult) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.notifyTimeout)
	defer cancel()

	sendErr := d.sender.Send(sendCtx, result.PlayerID, notify.RewardMessage(result.Tokens, result.Position))
	now := d.clock.Now()

	attempt := &model.NotificationAttempt{
		ID:        uuid.New().String(),
		PlayerID:  result.PlayerID,
		Kind:      model.NotificationKindDailyReward,
		Success:   sendErr == nil,
		CreatedAt: now,
	}
	if sendErr != nil {
		attempt.ErrorMessage = sendErr.Error()
	}

	err := d.store.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertNotificationAttempt(ctx, attempt); err != nil {
			return err
		}
		if sendErr != nil {
			return nil
		}
		return tx.MarkPayoutNotified(ctx, period, result.PlayerID, now)
	})
	if err != nil {
		d.logger.Error("通知結果の記録に失敗しました",
			slog.String("player_id", result.PlayerID.String()),
			slog.String("error", err.Error()),
		)
	}

	if sendErr != nil {
		failure := model.NewNotificationFailedError(result.PlayerID, sendErr)
		d.logger.Warn("報酬の通知に失敗しました",
			slog.String("player_id", result.PlayerID.String()),
			slog.Int("position", result.Position),
			slog.String("code", failure.Code),
			slog.String("error", sendErr.Error()),
		)
		if d.recorder != nil {
			d.recorder.RecordNotificationFailure(string(model.NotificationKindDailyReward))
		}
		return failure
	}
	return nil
}

func (d *Distributor) recordRun(outcome string, start time.Time) {
	if d.recorder != nil {
		d.recorder.RecordDistributionRun(outcome, d.clock.Now().Sub(start))
	}
}

// IsInterrupted はエラーが配布の中断によるものかを返す。
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
