package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/driftledger/internal/clock"
	"github.com/hitoshi/driftledger/internal/model"
	"github.com/hitoshi/driftledger/internal/score"
)

// RegistrarInterface はプレイヤーの登録・最終アクティブ日時の更新を行うサービスインターフェース。
type RegistrarInterface interface {
	EnsurePlayer(ctx context.Context, id model.PlayerID, name model.DisplayName) (*model.Player, bool, error)
}

// LedgerServiceInterface はゲームセッション記録のサービスインターフェース。
type LedgerServiceInterface interface {
	RecordSession(ctx context.Context, playerID model.PlayerID, score int64, now time.Time) (*score.Result, error)
}

// SessionHandler はスコア送信のHTTPハンドラー。
type SessionHandler struct {
	registrar RegistrarInterface
	ledger    LedgerServiceInterface
	clock     clock.Clock
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(registrar RegistrarInterface, ledger LedgerServiceInterface, clk clock.Clock) *SessionHandler {
	return &SessionHandler{
		registrar: registrar,
		ledger:    ledger,
		clock:     clk,
	}
}

// recordSessionRequest は POST /api/sessions のリクエストボディ。
type recordSessionRequest struct {
	Score *json.Number `json:"score"`
}

// RecordSession はゲームセッションのスコアを記録する。
// POST /api/sessions  {"score": 250}
func (h *SessionHandler) RecordSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req recordSessionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError("リクエストボディが不正です"))
		return
	}
	if req.Score == nil {
		handleServiceError(w, model.NewInvalidRequestError("scoreは必須です"))
		return
	}
	value, err := req.Score.Int64()
	if err != nil {
		handleServiceError(w, model.NewInvalidScoreError("整数ではありません"))
		return
	}

	h.record(w, r, identity.PlayerID, identity.Name, value)
}

// WebAppData はMini Appから送信されたペイロードを解釈し、ゲーム完了であればスコアを記録する。
// POST /api/webapp-data  {"action": "game_completed", "score": 250}
func (h *SessionHandler) WebAppData(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handleServiceError(w, model.NewInvalidRequestError("リクエストボディが大きすぎます"))
			return
		}
		handleServiceError(w, model.NewInvalidRequestError("リクエストボディの読み取りに失敗しました"))
		return
	}

	value, err := score.ParseWebAppData(raw)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.record(w, r, identity.PlayerID, identity.Name, value)
}

func (h *SessionHandler) record(w http.ResponseWriter, r *http.Request, id model.PlayerID, name model.DisplayName, value int64) {
	// 負のスコアはプレイヤー登録より前に拒否する
	if value < 0 {
		handleServiceError(w, model.NewInvalidScoreError("負のスコアは記録できません"))
		return
	}

	if _, _, err := h.registrar.EnsurePlayer(r.Context(), id, name); err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.ledger.RecordSession(r.Context(), id, value, h.clock.Now())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(value, result))
}
