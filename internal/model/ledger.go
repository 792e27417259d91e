// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// GameSession は受理済みのゲームスコア1件を表す。
// 追記専用で、作成後に更新・削除されることはない。
type GameSession struct {
	ID         int64
	PlayerID   PlayerID
	Score      int64
	RecordedAt time.Time
}

// CheckIn はプレイヤーの日次チェックインを表す。
// (PlayerID, CheckDate) の組はストアの一意制約で1件に限定される。
type CheckIn struct {
	PlayerID  PlayerID
	CheckDate Date
	CreatedAt time.Time
}

// Date は基準タイムゾーンにおける暦日を表す。
// 比較可能な値型のため、マップのキーとしても使用できる。
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// DateOf は時刻tを指定タイムゾーンの暦日に変換する。
// locがnilの場合はUTCとして扱う。
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate は "2006-01-02" 形式の文字列を暦日に変換する。
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t, time.UTC), nil
}

// AddDays はn日後（負の場合はn日前）の暦日を返す。月末・年末をまたいでも正しく繰り上がる。
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n), time.UTC)
}

// Time は暦日のUTC 0時を返す。
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Before はdがoより前の日付かを返す。
func (d Date) Before(o Date) bool {
	return d.Time().Before(o.Time())
}

// IsZero は未設定の日付かを返す。
func (d Date) IsZero() bool {
	return d == Date{}
}

// String は "2006-01-02" 形式の文字列を返す。PostgreSQLのDATE型パラメータとしても使用する。
func (d Date) String() string {
	return d.Time().Format(dateLayout)
}
