// Package distribution は日次報酬配布のバックグラウンド実行を提供する。
// 基準タイムゾーンの指定時刻に1日1回配布を起動し、期間ごとのロックで重複実行を防ぐ。
package distribution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/driftledger/internal/clock"
	"github.com/hitoshi/driftledger/internal/model"
	"github.com/hitoshi/driftledger/internal/reward"
)

const (
	// DefaultLockTTL は配布ロックの有効期間。配布1回の所要時間より十分長くする。
	DefaultLockTTL = 10 * time.Minute

	lockKeyPrefix = "driftledger:distribution:"
)

// Runner は報酬配布の実行インターフェース。
type Runner interface {
	DistributeDailyRewards(ctx context.Context, now time.Time) (*reward.Report, error)
}

// TimeOfDay は1日のうちの時刻（時・分）。
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay は "HH:MM" 形式の時刻をパースする。
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("配布時刻 %q のパースに失敗しました: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// String は "HH:MM" 形式で返す。
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Scheduler は日次報酬配布のスケジューラ。
type Scheduler struct {
	runner  Runner
	locker  Locker
	clock   clock.Clock
	loc     *time.Location
	at      TimeOfDay
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewScheduler はSchedulerを生成する。lockerがnilの場合はLocalLockを使用する。
func NewScheduler(
	runner Runner,
	locker Locker,
	clk clock.Clock,
	loc *time.Location,
	at TimeOfDay,
	logger *slog.Logger,
) *Scheduler {
	if locker == nil {
		locker = NewLocalLock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		runner:  runner,
		locker:  locker,
		clock:   clk,
		loc:     loc,
		at:      at,
		lockTTL: DefaultLockTTL,
		logger:  logger,
	}
}

// NextRun はnowより後で最初に訪れる配布時刻を返す。
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.loc)
	next := s.scheduledOn(local)
	if !next.After(local) {
		next = s.scheduledOn(local.AddDate(0, 0, 1))
	}
	return next
}

// scheduledOn はdayの暦日における配布時刻を返す。
func (s *Scheduler) scheduledOn(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, s.at.Hour, s.at.Minute, 0, 0, s.loc)
}

// Start はコンテキストがキャンセルされるまで、毎日配布時刻に配布を実行する。
// 起動時点で当日の配布時刻を過ぎている場合は、起動直後に1回実行する。
func (s *Scheduler) Start(ctx context.Context) {
	now := s.clock.Now()
	s.logger.Info("報酬配布スケジューラを開始しました",
		slog.String("distribution_time", s.at.String()),
		slog.String("timezone", s.loc.String()),
	)

	if !now.In(s.loc).Before(s.scheduledOn(now.In(s.loc))) {
		s.run(ctx, now)
	}

	last := now
	for {
		now = s.clock.Now()
		if now.Before(last) {
			now = last
		}
		next := s.NextRun(now)
		timer := time.NewTimer(next.Sub(s.clock.Now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("報酬配布スケジューラを停止しました")
			return
		case <-timer.C:
			s.run(ctx, next)
			last = next
		}
	}
}

// RunOnce は現在時刻の期間について配布を1回実行する。
func (s *Scheduler) RunOnce(ctx context.Context) (*reward.Report, error) {
	return s.runLocked(ctx, s.clock.Now())
}

func (s *Scheduler) run(ctx context.Context, at time.Time) {
	if _, err := s.runLocked(ctx, at); err != nil {
		s.logger.Error("報酬配布の実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// runLocked は期間ロックを取得してから配布を実行する。
// 他のレプリカがロックを保持している場合は何もせず (nil, nil) を返す。
func (s *Scheduler) runLocked(ctx context.Context, at time.Time) (*reward.Report, error) {
	period := model.DateOf(at, s.loc)
	key := lockKeyPrefix + period.String()

	release, ok, err := s.locker.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Info("他のワーカーが配布を実行中のためスキップします",
			slog.String("period", period.String()),
		)
		return nil, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			s.logger.Warn("配布ロックの解放に失敗しました",
				slog.String("period", period.String()),
				slog.String("error", err.Error()),
			)
		}
	}()

	return s.runner.DistributeDailyRewards(ctx, at)
}
