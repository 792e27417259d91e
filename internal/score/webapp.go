package score

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hitoshi/driftledger/internal/model"
)

// ActionGameCompleted はMini Appがゲーム終了時に送信するアクション名。
const ActionGameCompleted = "game_completed"

// webAppPayload はMini Appから送信されるJSONペイロード。
type webAppPayload struct {
	Action string          `json:"action"`
	Score  json.RawMessage `json:"score"`
}

// ParseWebAppData はMini Appのペイロード {"action":"game_completed","score":N} からスコアを取り出す。
// scoreはJSON数値（小数部は切り捨て）または整数文字列を受け付ける。
// 未対応のアクションは model.ErrUnsupportedAction、数値でない・負・MaxScore超のスコアは model.ErrInvalidScore を返す。
func ParseWebAppData(raw []byte) (int64, error) {
	var payload webAppPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, model.NewInvalidRequestError(err.Error())
	}

	if payload.Action != ActionGameCompleted {
		return 0, model.NewUnsupportedActionError(payload.Action)
	}

	return parseScore(payload.Score)
}

// parseScore はJSON値をスコアとして解釈する。
func parseScore(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, model.NewInvalidScoreError("score is missing")
	}

	var score int64
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, model.NewInvalidScoreError(err.Error())
		}
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, model.NewInvalidScoreError(fmt.Sprintf("not an integer: %q", s))
		}
		score = v
	} else {
		// 数値は小数部を切り捨てる
		v, err := strconv.ParseFloat(string(raw), 64)
		if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, model.NewInvalidScoreError(fmt.Sprintf("not a number: %s", raw))
		}
		if math.Abs(v) > float64(MaxScore) {
			return 0, model.NewInvalidScoreError(fmt.Sprintf("score out of range: %s", raw))
		}
		if iv, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			score = iv
		} else {
			score = int64(v)
		}
	}

	if score < 0 {
		return 0, model.NewInvalidScoreError(fmt.Sprintf("score must be non-negative, got %d", score))
	}
	if score > MaxScore {
		return 0, model.NewInvalidScoreError(fmt.Sprintf("score must not exceed %d, got %d", MaxScore, score))
	}
	return score, nil
}
