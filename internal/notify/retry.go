package notify

import (
	"context"
	"time"
)

// deliveryResult はBot APIのHTTPステータスに基づく送信結果の分類。
type deliveryResult int

const (
	// deliveryOK は送信成功（200）。
	deliveryOK deliveryResult = iota
	// deliveryPermanent は再送しても成功しない失敗（ブロック、チャット不在など 400/401/403/404）。
	deliveryPermanent
	// deliveryRetry は時間をおいて再送する失敗（429/5xx）。
	deliveryRetry
)

const (
	// defaultMaxAttempts は1件の通知に対する最大送信回数。
	defaultMaxAttempts = 3
	// defaultRetryDelay は再送の初回待機時間。
	defaultRetryDelay = 500 * time.Millisecond
	// maxRetryDelay は再送待機時間の上限。
	maxRetryDelay = 5 * time.Second
)

// classifyStatus はHTTPステータスコードを送信結果に分類する。
func classifyStatus(statusCode int) deliveryResult {
	switch {
	case statusCode == 200:
		return deliveryOK
	case statusCode == 429:
		return deliveryRetry
	case statusCode >= 500:
		return deliveryRetry
	default:
		return deliveryPermanent
	}
}

// retryDelay は再送までの待機時間を返す。
// Bot APIがretry_after（秒）を返した場合はそれを優先し、それ以外は初回baseから2倍ずつ増やす。
func retryDelay(base time.Duration, attempt int, retryAfterSec int) time.Duration {
	if retryAfterSec > 0 {
		d := time.Duration(retryAfterSec) * time.Second
		if d > maxRetryDelay {
			return maxRetryDelay
		}
		return d
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// sleep はdだけ待機する。コンテキストが先に終了した場合はそのエラーを返す。
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
