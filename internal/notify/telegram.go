package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/driftledger/internal/model"
)

const (
	// DefaultBaseURL はTelegram Bot APIのベースURL。
	DefaultBaseURL = "https://api.telegram.org"
	// maxResponseBytes は読み取るレスポンスボディの上限。
	maxResponseBytes = 64 * 1024
)

// sendMessageRequest はBot APIのsendMessageリクエスト。
type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// apiResponse はBot APIの共通レスポンス。
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// TelegramSender はTelegram Bot APIのsendMessageで通知を送信するSender。
// 送信レートはlimiterで制限し、429/5xxと通信エラーはコンテキストの期限内で再送する。
type TelegramSender struct {
	httpClient  *http.Client
	logger      *slog.Logger
	limiter     *rate.Limiter
	baseURL     string
	token       string
	maxAttempts int
	retryDelay  time.Duration
}

// NewTelegramSender はTelegramSenderを生成する。
// httpClientにはSSRF防止機能付きのクライアントを渡すこと。ratePerSecが0以下の場合は制限しない。
func NewTelegramSender(httpClient *http.Client, logger *slog.Logger, baseURL, token string, ratePerSec float64) *TelegramSender {
	limit := rate.Inf
	burst := 1
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
		burst = int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &TelegramSender{
		httpClient:  httpClient,
		logger:      logger,
		limiter:     rate.NewLimiter(limit, burst),
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
}

// Send はプレイヤーのチャットにメッセージを送信する。
// 一時的な失敗は最大maxAttempts回まで再送する。ブロックなどの恒久的な失敗は再送しない。
// Botトークンを含むURLはエラーメッセージやログに出力しない。
func (s *TelegramSender) Send(ctx context.Context, playerID model.PlayerID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: int64(playerID), Text: text})
	if err != nil {
		return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	var (
		lastErr    error
		retryAfter int
	)
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, retryDelay(s.retryDelay, attempt-1, retryAfter)); err != nil {
				return lastErr
			}
		}

		var result deliveryResult
		result, retryAfter, lastErr = s.sendOnce(ctx, playerID, body)
		switch {
		case result == deliveryOK:
			return nil
		case result == deliveryPermanent, ctx.Err() != nil:
			return lastErr
		}

		if attempt+1 < s.maxAttempts {
			s.logger.Info("Bot APIへの送信を再試行します",
				slog.String("player_id", playerID.String()),
				slog.Int("attempt", attempt+1),
				slog.String("error", lastErr.Error()),
			)
		}
	}
	return lastErr
}

// sendOnce はsendMessageを1回呼び出し、結果の分類とretry_after（秒）を返す。
func (s *TelegramSender) sendOnce(ctx context.Context, playerID model.PlayerID, body []byte) (deliveryResult, int, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return deliveryPermanent, 0, fmt.Errorf("送信レート制限の待機に失敗しました: %w", err)
	}

	endpoint := s.baseURL + "/bot" + s.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return deliveryPermanent, 0, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", redact(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "driftledger/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		err = redact(err)
		s.logger.Warn("Bot APIの呼び出しに失敗しました",
			slog.String("player_id", playerID.String()),
			slog.String("error", err.Error()),
		)
		return deliveryRetry, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return deliveryRetry, 0, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	result := classifyStatus(resp.StatusCode)

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return result, 0, fmt.Errorf("Bot APIがステータス %d を返しました", resp.StatusCode)
		}
		return deliveryPermanent, 0, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	if result == deliveryOK && apiResp.OK {
		return deliveryOK, 0, nil
	}
	if result == deliveryOK {
		result = deliveryPermanent
	}

	s.logger.Warn("Bot APIがエラーを返しました",
		slog.String("player_id", playerID.String()),
		slog.Int("http_status", resp.StatusCode),
		slog.String("description", apiResp.Description),
	)
	return result, apiResp.Parameters.RetryAfter, fmt.Errorf("Bot APIがステータス %d を返しました: %s", resp.StatusCode, apiResp.Description)
}

// redact はURLを含むエラーから内側のエラーだけを取り出す。
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s request failed: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

var _ Sender = (*TelegramSender)(nil)
