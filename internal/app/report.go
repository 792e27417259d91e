package app

import (
	"encoding/json"
	"io"

	"github.com/hitoshi/driftledger/internal/reward"
)

// payoutOutput は配布結果1件の出力形式。
type payoutOutput struct {
	Position int    `json:"position"`
	PlayerID string `json:"player_id"`
	Tokens   int64  `json:"tokens"`
	Credited bool   `json:"credited"`
	Notified bool   `json:"notified"`
}

// reportOutput は distribute サブコマンドの出力形式。
type reportOutput struct {
	Status               string         `json:"status"`
	Period               string         `json:"period"`
	RunID                string         `json:"run_id"`
	Resumed              bool           `json:"resumed"`
	Credited             int            `json:"credited"`
	Skipped              int            `json:"skipped"`
	NotificationFailures int            `json:"notification_failures"`
	Payouts              []payoutOutput `json:"payouts"`
}

func toReportOutput(r *reward.Report) reportOutput {
	out := reportOutput{
		Status:               "completed",
		Period:               r.Period.String(),
		RunID:                r.RunID,
		Resumed:              r.Resumed,
		Credited:             r.Credited,
		Skipped:              r.Skipped,
		NotificationFailures: r.NotificationFailures,
		Payouts:              make([]payoutOutput, 0, len(r.Payouts)),
	}
	if r.AlreadyCompleted {
		out.Status = "already_completed"
	}
	for _, p := range r.Payouts {
		out.Payouts = append(out.Payouts, payoutOutput{
			Position: p.Position,
			PlayerID: p.PlayerID.String(),
			Tokens:   p.Tokens,
			Credited: p.Credited,
			Notified: p.Notified,
		})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
