package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/driftledger/internal/clock"
	"github.com/hitoshi/driftledger/internal/middleware"
	"github.com/hitoshi/driftledger/internal/model"
)

// --- テストヘルパー ---

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testClock() *clock.Fake {
	return clock.NewFake(testNow)
}

// withIdentity はリクエストにプレイヤー識別情報を注入する。
func withIdentity(r *http.Request, id model.PlayerID, username string) *http.Request {
	ctx := middleware.ContextWithIdentity(r.Context(), middleware.Identity{
		PlayerID: id,
		Name:     model.DisplayName{Username: username},
	})
	return r.WithContext(ctx)
}

// decodeError はエラーレスポンスのボディをデコードする。
func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// mockPinger はPingerのモック実装。
type mockPinger struct {
	pingFn func(ctx context.Context) error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func TestRequireIdentity_MissingReturns401(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	w := httptest.NewRecorder()

	if _, ok := requireIdentity(w, req); ok {
		t.Fatal("requireIdentity should fail without identity")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeInvalidPlayerID {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidPlayerID)
	}
}

func TestHandleServiceError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid score", model.NewInvalidScoreError("negative"), http.StatusBadRequest, model.ErrCodeInvalidScore},
		{"not found", model.NewPlayerNotFoundError(42), http.StatusNotFound, model.ErrCodePlayerNotFound},
		{"store unavailable", model.NewStoreUnavailableError(context.DeadlineExceeded), http.StatusServiceUnavailable, model.ErrCodeStoreUnavailable},
		{"unsupported action", model.NewUnsupportedActionError("jump"), http.StatusBadRequest, model.ErrCodeUnsupportedAction},
		{"unknown", context.Canceled, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handleServiceError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeError(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantBody   string
	}{
		{"ok", nil, http.StatusOK, "ok"},
		{"unavailable", context.DeadlineExceeded, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(&mockPinger{pingFn: func(ctx context.Context) error {
				if _, ok := ctx.Deadline(); !ok {
					t.Error("Ping should be called with a deadline")
				}
				return tt.pingErr
			}})

			w := httptest.NewRecorder()
			h(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status field = %q, want %q", body["status"], tt.wantBody)
			}
		})
	}
}
