// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, player, ledger, system
	Action   string // ユーザー向け対処方法

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, model.ErrInvalidScore) のように番兵エラーと比較できる。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// 定義済みエラーコード
const (
	ErrCodeStoreUnavailable   = "STORE_UNAVAILABLE"
	ErrCodeInvalidScore       = "INVALID_SCORE"
	ErrCodePlayerNotFound     = "PLAYER_NOT_FOUND"
	ErrCodeNotificationFailed = "NOTIFICATION_DELIVERY_FAILED"
	ErrCodeUnsupportedAction  = "UNSUPPORTED_ACTION"
	ErrCodeInvalidPlayerID    = "INVALID_PLAYER_ID"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
)

// errors.Is での比較用の番兵エラー。
var (
	ErrStoreUnavailable   = &APIError{Code: ErrCodeStoreUnavailable}
	ErrInvalidScore       = &APIError{Code: ErrCodeInvalidScore}
	ErrPlayerNotFound     = &APIError{Code: ErrCodePlayerNotFound}
	ErrNotificationFailed = &APIError{Code: ErrCodeNotificationFailed}
	ErrUnsupportedAction  = &APIError{Code: ErrCodeUnsupportedAction}
)

// NewStoreUnavailableError はトランザクションの開始・確定に失敗した場合のエラーを生成する。
func NewStoreUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "台帳ストアを利用できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}

// NewInvalidScoreError は負数や数値でないスコアが送信された場合のエラーを生成する。
func NewInvalidScoreError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidScore,
		Message:  fmt.Sprintf("無効なスコアです: %s", reason),
		Category: "validation",
		Action:   "0以上の整数スコアを送信してください。",
	}
}

// NewPlayerNotFoundError は未登録プレイヤーへの照会時のエラーを生成する。
func NewPlayerNotFoundError(id PlayerID) *APIError {
	return &APIError{
		Code:     ErrCodePlayerNotFound,
		Message:  fmt.Sprintf("プレイヤーが登録されていません: %s", id),
		Category: "player",
		Action:   "/start で登録してください。",
	}
}

// NewNotificationFailedError は通知の配信に失敗した場合のエラーを生成する。
// 台帳の状態には影響しないため、呼び出し元はログに記録して処理を継続する。
func NewNotificationFailedError(id PlayerID, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationFailed,
		Message:  fmt.Sprintf("通知の配信に失敗しました: %s", id),
		Category: "system",
		Action:   "対応は不要です。",
		cause:    cause,
	}
}

// NewUnsupportedActionError はMini Appから未対応のアクションが送信された場合のエラーを生成する。
func NewUnsupportedActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedAction,
		Message:  fmt.Sprintf("未対応のアクションです: %q", action),
		Category: "validation",
		Action:   "action には game_completed を指定してください。",
	}
}

// NewInvalidPlayerIDError はプレイヤー識別ヘッダーが不正な場合のエラーを生成する。
func NewInvalidPlayerIDError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPlayerID,
		Message:  "プレイヤーIDが指定されていないか、不正です。",
		Category: "player",
		Action:   "X-Player-ID ヘッダーに正の整数を指定してください。",
	}
}

// NewInvalidRequestError はリクエストボディを解析できない場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストを解析できません: %s", reason),
		Category: "validation",
		Action:   "JSON形式のリクエストボディを送信してください。",
	}
}
