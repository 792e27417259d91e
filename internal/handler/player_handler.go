package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/driftledger/internal/checkin"
	"github.com/hitoshi/driftledger/internal/clock"
	"github.com/hitoshi/driftledger/internal/model"
	"github.com/hitoshi/driftledger/internal/player"
)

// StarterInterface はプレイヤー登録とデイリーチェックインをまとめて行うサービスインターフェース。
type StarterInterface interface {
	Start(ctx context.Context, id model.PlayerID, name model.DisplayName, now time.Time) (*checkin.StartResult, error)
}

// ProfileServiceInterface はプロフィール取得のサービスインターフェース。
type ProfileServiceInterface interface {
	Profile(ctx context.Context, id model.PlayerID) (*player.Profile, error)
}

// PlayerHandler はプレイヤー関連のHTTPハンドラー。
type PlayerHandler struct {
	starter  StarterInterface
	profiles ProfileServiceInterface
	clock    clock.Clock
}

// NewPlayerHandler はPlayerHandlerを生成する。
func NewPlayerHandler(starter StarterInterface, profiles ProfileServiceInterface, clk clock.Clock) *PlayerHandler {
	return &PlayerHandler{
		starter:  starter,
		profiles: profiles,
		clock:    clk,
	}
}

// Start はプレイヤーを登録し、当日のチェックインを行う。
// POST /api/start
// 新規登録は201、既存プレイヤーは200を返す。同日2回目以降もエラーにはならない。
func (h *PlayerHandler) Start(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	result, err := h.starter.Start(r.Context(), identity.PlayerID, identity.Name, h.clock.Now())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toStartResponse(result))
}

// Profile はプレイヤーのポイント、トークン、順位、ベストスコア、ストリークを返す。
// GET /api/profile
func (h *PlayerHandler) Profile(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	profile, err := h.profiles.Profile(r.Context(), identity.PlayerID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}
