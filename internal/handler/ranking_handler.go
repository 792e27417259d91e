package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/driftledger/internal/model"
	"github.com/hitoshi/driftledger/internal/ranking"
)

// defaultRankingLimit はlimit未指定時のランキング件数。
const defaultRankingLimit = 10

// RankingServiceInterface はランキング取得のサービスインターフェース。
type RankingServiceInterface interface {
	TopN(ctx context.Context, n int) ([]ranking.Entry, error)
}

// RankingHandler はランキングのHTTPハンドラー。
type RankingHandler struct {
	service RankingServiceInterface
}

// NewRankingHandler はRankingHandlerを生成する。
func NewRankingHandler(service RankingServiceInterface) *RankingHandler {
	return &RankingHandler{service: service}
}

// TopN はポイント上位のプレイヤー一覧を返す。
// GET /api/ranking?limit=10  (1..100)
func (h *RankingHandler) TopN(w http.ResponseWriter, r *http.Request) {
	limit := defaultRankingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > ranking.MaxTopN {
			handleServiceError(w, model.NewInvalidRequestError("limitは1から100の整数で指定してください"))
			return
		}
		limit = v
	}

	entries, err := h.service.TopN(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRankingResponse(entries))
}
