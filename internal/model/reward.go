// Package model はドメインモデルを定義する。
package model

import "time"

// Distribution は日次報酬配布の期間マーカー。
// 同一期間の二重配布を防ぐため、Periodを主キーとして1件だけ作成される。
type Distribution struct {
	Period      Date
	RunID       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Completed は配布が最後まで完了しているかを返す。
func (d *Distribution) Completed() bool {
	return d.CompletedAt != nil
}

// Payout は配布期間内の1プレイヤー分の報酬記録。
// (Period, Position) と (Period, PlayerID) はそれぞれ一意。
type Payout struct {
	Period     Date
	Position   int
	PlayerID   PlayerID
	Tokens     int64
	CreditedAt time.Time
	NotifiedAt *time.Time
}

// NotificationKind は通知の種別。
type NotificationKind string

const (
	// NotificationKindDailyReward は日次ランキング報酬の通知。
	NotificationKindDailyReward NotificationKind = "daily_reward"
)

// NotificationAttempt はベストエフォート通知の送信試行記録。
type NotificationAttempt struct {
	ID           string
	PlayerID     PlayerID
	Kind         NotificationKind
	Success      bool
	ErrorMessage string
	CreatedAt    time.Time
}
