package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDateOf_UsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// UTC 2024-03-31 20:00 は JST では 2024-04-01
	ts := time.Date(2024, 3, 31, 20, 0, 0, 0, time.UTC)

	if got := DateOf(ts, time.UTC); got.String() != "2024-03-31" {
		t.Errorf("DateOf(UTC) = %s, want 2024-03-31", got)
	}
	if got := DateOf(ts, tokyo); got.String() != "2024-04-01" {
		t.Errorf("DateOf(JST) = %s, want 2024-04-01", got)
	}
}

func TestDate_AddDays_CrossesMonthAndYear(t *testing.T) {
	tests := []struct {
		from string
		n    int
		want string
	}{
		{"2024-03-01", -1, "2024-02-29"},
		{"2024-01-01", -1, "2023-12-31"},
		{"2023-12-31", 1, "2024-01-01"},
		{"2024-05-10", 0, "2024-05-10"},
	}

	for _, tt := range tests {
		d, err := ParseDate(tt.from)
		if err != nil {
			t.Fatalf("ParseDate(%q) returned error: %v", tt.from, err)
		}
		if got := d.AddDays(tt.n).String(); got != tt.want {
			t.Errorf("%s.AddDays(%d) = %s, want %s", tt.from, tt.n, got, tt.want)
		}
	}
}

func TestParsePlayerID(t *testing.T) {
	if id, err := ParsePlayerID("123456789"); err != nil || id != 123456789 {
		t.Errorf("ParsePlayerID(123456789) = %d, %v", id, err)
	}
	for _, in := range []string{"", "abc", "0", "-5"} {
		if _, err := ParsePlayerID(in); err == nil {
			t.Errorf("ParsePlayerID(%q) はエラーを返すべき", in)
		}
	}
}

func TestPlayer_Name_Fallbacks(t *testing.T) {
	tests := []struct {
		p    Player
		want string
	}{
		{Player{Username: "drifter", FirstName: "Ana"}, "drifter"},
		{Player{FirstName: "Ana"}, "Ana"},
		{Player{}, "Player"},
	}
	for _, tt := range tests {
		if got := tt.p.Name(); got != tt.want {
			t.Errorf("Name() = %q, want %q", got, tt.want)
		}
	}
}

func TestAPIError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewInvalidScoreError("negative"))

	if !errors.Is(err, ErrInvalidScore) {
		t.Error("errors.Is(err, ErrInvalidScore) = false, want true")
	}
	if errors.Is(err, ErrPlayerNotFound) {
		t.Error("errors.Is(err, ErrPlayerNotFound) = true, want false")
	}
}

func TestAPIError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreUnavailableError(cause)

	if !errors.Is(err, cause) {
		t.Error("StoreUnavailable は原因エラーをUnwrapできるべき")
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Error("errors.Is(err, ErrStoreUnavailable) = false, want true")
	}
}
