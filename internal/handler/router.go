package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/driftledger/internal/clock"
	"github.com/hitoshi/driftledger/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.HTTPStatusRecorder

	// サービス
	Starter   StarterInterface
	Profiles  ProfileServiceInterface
	Registrar RegistrarInterface
	Ledger    LedgerServiceInterface
	Ranking   RankingServiceInterface
	Store     Pinger
	Clock     clock.Clock

	// GET /metrics のハンドラー。nilの場合はルートを登録しない。
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → PlayerIdentity → RateLimit(General)
//
// /health と /metrics は識別ヘッダー不要のためPlayerIdentityの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	playerHandler := NewPlayerHandler(deps.Starter, deps.Profiles, clk)
	sessionHandler := NewSessionHandler(deps.Registrar, deps.Ledger, clk)
	rankingHandler := NewRankingHandler(deps.Ranking)

	// --- 識別不要のルート ---
	r.Get("/health", NewHealthHandler(deps.Store))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- プレイヤー識別が必要なルート ---
	// ミドルウェアスタック: PlayerIdentity → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewPlayerIdentityMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/api/start", playerHandler.Start)
		r.Get("/api/profile", playerHandler.Profile)
		r.Get("/api/ranking", rankingHandler.TopN)

		// スコア送信（送信専用レート制限を追加）
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.SessionMiddleware())
			r.Post("/api/sessions", sessionHandler.RecordSession)
			r.Post("/api/webapp-data", sessionHandler.WebAppData)
		})
	})

	return r
}
