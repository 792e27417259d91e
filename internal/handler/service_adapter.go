package handler

import (
	"time"

	"github.com/hitoshi/driftledger/internal/checkin"
	"github.com/hitoshi/driftledger/internal/model"
	"github.com/hitoshi/driftledger/internal/player"
	"github.com/hitoshi/driftledger/internal/ranking"
	"github.com/hitoshi/driftledger/internal/score"
)

// playerResponse はプレイヤー情報のJSONレスポンス。
type playerResponse struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Points       int64     `json:"points"`
	Tokens       int64     `json:"tokens"`
	RegisteredAt time.Time `json:"registered_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// checkInResponse はチェックイン結果のJSONレスポンス。
type checkInResponse struct {
	Claimed bool   `json:"claimed"`
	Bonus   int64  `json:"bonus"`
	Date    string `json:"date"`
}

// startResponse は POST /api/start のJSONレスポンス。
type startResponse struct {
	Player  playerResponse  `json:"player"`
	Created bool            `json:"created"`
	CheckIn checkInResponse `json:"check_in"`
	Streak  int             `json:"streak"`
}

// profileResponse は GET /api/profile のJSONレスポンス。
type profileResponse struct {
	Player    playerResponse `json:"player"`
	Rank      int            `json:"rank"`
	BestScore int64          `json:"best_score"`
	Streak    int            `json:"streak"`
}

// sessionResponse はスコア送信のJSONレスポンス。
type sessionResponse struct {
	SessionID    int64 `json:"session_id"`
	Score        int64 `json:"score"`
	TokensEarned int64 `json:"tokens_earned"`
	TotalPoints  int64 `json:"total_points"`
	TotalTokens  int64 `json:"total_tokens"`
}

// rankingEntryResponse はランキング1行のJSONレスポンス。
type rankingEntryResponse struct {
	Position    int    `json:"position"`
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Points      int64  `json:"points"`
}

// rankingResponse は GET /api/ranking のJSONレスポンス。
type rankingResponse struct {
	Entries []rankingEntryResponse `json:"entries"`
}

func toPlayerResponse(p *model.Player) playerResponse {
	return playerResponse{
		ID:           p.ID.String(),
		DisplayName:  p.Name(),
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Points:       p.Points,
		Tokens:       p.Tokens,
		RegisteredAt: p.RegisteredAt,
		LastActiveAt: p.LastActiveAt,
	}
}

func toStartResponse(r *checkin.StartResult) startResponse {
	resp := startResponse{
		Player:  toPlayerResponse(r.Player),
		Created: r.Created,
		Streak:  r.Streak,
	}
	if r.CheckIn != nil {
		resp.CheckIn = checkInResponse{
			Claimed: r.CheckIn.Claimed,
			Bonus:   r.CheckIn.Bonus,
			Date:    r.CheckIn.Date.String(),
		}
	}
	return resp
}

func toProfileResponse(p *player.Profile) profileResponse {
	return profileResponse{
		Player:    toPlayerResponse(p.Player),
		Rank:      p.Rank,
		BestScore: p.BestScore,
		Streak:    p.Streak,
	}
}

func toSessionResponse(s int64, r *score.Result) sessionResponse {
	return sessionResponse{
		SessionID:    r.SessionID,
		Score:        s,
		TokensEarned: r.TokensEarned,
		TotalPoints:  r.TotalPoints,
		TotalTokens:  r.TotalTokens,
	}
}

func toRankingResponse(entries []ranking.Entry) rankingResponse {
	resp := rankingResponse{Entries: make([]rankingEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, rankingEntryResponse{
			Position:    e.Position,
			PlayerID:    e.PlayerID.String(),
			DisplayName: e.DisplayName,
			Points:      e.Points,
		})
	}
	return resp
}
