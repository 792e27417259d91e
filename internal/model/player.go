// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strconv"
	"time"
)

// PlayerID は外部（Telegram等）で払い出された安定したプレイヤー識別子。
type PlayerID int64

// ParsePlayerID は文字列表現のプレイヤーIDを解析する。
// 正の整数以外はエラーを返す。
func ParsePlayerID(s string) (PlayerID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid player id %q: %w", s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid player id %q: must be positive", s)
	}
	return PlayerID(v), nil
}

// String はプレイヤーIDの10進表現を返す。
func (id PlayerID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Player は登録済みプレイヤーの集計状態を表す。
// Points と Tokens は定義済みの操作（チェックインボーナス、ゲームセッション、
// 報酬配布）によってのみ増加し、直接設定されることはない。
type Player struct {
	ID           PlayerID
	Username     string
	FirstName    string
	LastName     string
	Points       int64
	Tokens       int64
	RegisteredAt time.Time
	LastActiveAt time.Time
}

// DisplayName はプレイヤーの表示名パーツ。
type DisplayName struct {
	Username  string
	FirstName string
	LastName  string
}

// Name はランキング等に表示する名前を返す。
// ユーザー名、名の順に採用し、どちらも空なら "Player" を返す。
func (p *Player) Name() string {
	switch {
	case p.Username != "":
		return p.Username
	case p.FirstName != "":
		return p.FirstName
	default:
		return "Player"
	}
}
