// Package clock は現在時刻の取得を抽象化する。
// エンジンは暦日の判定に時刻を使うため、テストでは固定時刻を注入する。
package clock

import (
	"sync"
	"time"
)

// Clock は現在時刻を返すインターフェース。
type Clock interface {
	Now() time.Time
}

// Real はシステム時刻を返すClock。
type Real struct{}

// New はシステム時刻を返すClockを生成する。
func New() Real {
	return Real{}
}

// Now は現在のシステム時刻を返す。
func (Real) Now() time.Time {
	return time.Now()
}

// Fake はテスト用の手動で進めるClock。複数goroutineから安全に利用できる。
type Fake struct {
	mu      sync.Mutex
	current time.Time
}

// NewFake は指定時刻に固定されたFakeを生成する。
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now は現在の固定時刻を返す。
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Advance は時刻をdだけ進める。
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// Set は時刻をtに設定する。
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

var (
	_ Clock = Real{}
	_ Clock = (*Fake)(nil)
)
