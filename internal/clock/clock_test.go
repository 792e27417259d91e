package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceAndSet(t *testing.T) {
	start := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	f := NewFake(start)

	f.Advance(2 * time.Minute)
	if got := f.Now(); !got.Equal(start.Add(2 * time.Minute)) {
		t.Errorf("Now() after Advance = %v", got)
	}

	f.Set(start)
	if got := f.Now(); !got.Equal(start) {
		t.Errorf("Now() after Set = %v, want %v", got, start)
	}
}

func TestReal_Now(t *testing.T) {
	before := time.Now()
	got := New().Now()
	if got.Before(before) {
		t.Errorf("Real.Now() = %v is before %v", got, before)
	}
}
