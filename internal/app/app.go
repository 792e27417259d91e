// Package app はサブコマンドごとの依存関係の組み立てと起動処理を提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/driftledger/internal/checkin"
	"github.com/hitoshi/driftledger/internal/clock"
	"github.com/hitoshi/driftledger/internal/config"
	"github.com/hitoshi/driftledger/internal/database"
	"github.com/hitoshi/driftledger/internal/handler"
	"github.com/hitoshi/driftledger/internal/logger"
	"github.com/hitoshi/driftledger/internal/metrics"
	"github.com/hitoshi/driftledger/internal/middleware"
	"github.com/hitoshi/driftledger/internal/notify"
	"github.com/hitoshi/driftledger/internal/player"
	"github.com/hitoshi/driftledger/internal/ranking"
	"github.com/hitoshi/driftledger/internal/repository"
	"github.com/hitoshi/driftledger/internal/reward"
	"github.com/hitoshi/driftledger/internal/score"
	"github.com/hitoshi/driftledger/internal/security"
	"github.com/hitoshi/driftledger/internal/worker/cleanup"
	"github.com/hitoshi/driftledger/internal/worker/distribution"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
	cleanupInterval = 24 * time.Hour
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if level := logger.ParseLevel(cfg.LogLevel); level != slog.LevelInfo {
		log = logger.SetupDefault(w, level)
	}

	return cfg, log, nil
}

// ledgerStore は台帳ストアと通知ログの削除を兼ねるストア。
type ledgerStore interface {
	repository.Store
	cleanup.Pruner
}

// components は各サブコマンドで共有する依存関係。
type components struct {
	cfg       *config.Config
	logger    *slog.Logger
	clock     clock.Clock
	store     ledgerStore
	registry  *prometheus.Registry
	collector *metrics.Collector

	players *player.Registry
	starter *checkin.Starter
	ledger  *score.Ledger
	ranking *ranking.Service

	closers []func() error
}

// buildComponents はストアを開き、ドメインサービスを組み立てる。
func buildComponents(ctx context.Context, cfg *config.Config, log *slog.Logger) (*components, error) {
	c := &components{
		cfg:      cfg,
		logger:   log,
		clock:    clock.New(),
		registry: prometheus.NewRegistry(),
	}

	// 1. ストア
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory ledger store; data is lost on exit and not shared between processes")
		c.store = repository.NewMemoryStore()
	default:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("database connection established")
		c.store = repository.NewPostgresStore(db)
		c.closers = append(c.closers, db.Close)
	}

	// 2. メトリクス
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.collector = metrics.NewCollector(c.registry)

	// 3. ドメインサービス
	c.players = player.NewRegistry(c.store, security.NewNameSanitizer(), c.clock, cfg.Location)
	engine := checkin.NewEngine(c.store, c.clock, cfg.Location, c.collector)
	c.starter = checkin.NewStarter(c.players, engine)
	c.ledger = score.NewLedger(c.store, c.collector)
	c.ranking = ranking.NewService(c.store)

	return c, nil
}

// Close は開いた接続を逆順に閉じる。
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// newSender は通知送信者を生成する。ボットトークンが未設定の場合はログ出力のみ行う。
func (c *components) newSender() (notify.Sender, error) {
	if !c.cfg.NotificationsEnabled() {
		c.logger.Warn("TELEGRAM_BOT_TOKEN is not set; reward notifications are logged only")
		return notify.NewLogSender(c.logger), nil
	}

	guard := security.NewOutboundGuard()
	if err := guard.ValidateBaseURL(c.cfg.TelegramAPIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_API_BASE_URL: %w", err)
	}
	return notify.NewTelegramSender(
		guard.NewSafeClient(c.cfg.NotifyTimeout),
		c.logger,
		c.cfg.TelegramAPIBaseURL,
		c.cfg.TelegramBotToken,
		c.cfg.NotifyRatePerSec,
	), nil
}

// newScheduler は報酬配布器と配布スケジューラを組み立てる。
// REDIS_URLが設定されている場合はRedisロックでレプリカ間の重複実行を防ぐ。
func (c *components) newScheduler(ctx context.Context) (*distribution.Scheduler, error) {
	at, err := distribution.ParseTimeOfDay(c.cfg.DistributionTime)
	if err != nil {
		return nil, err
	}

	sender, err := c.newSender()
	if err != nil {
		return nil, err
	}

	distributor := reward.NewDistributor(
		c.store, c.ranking, sender, c.clock, c.cfg.Location, c.logger,
		reward.WithRecorder(c.collector),
		reward.WithNotifyTimeout(c.cfg.NotifyTimeout),
	)

	var locker distribution.Locker
	if c.cfg.RedisURL != "" {
		client, err := distribution.NewRedisClient(ctx, c.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, client.Close)
		locker = distribution.NewRedisLock(client)
		c.logger.Info("distribution lock uses redis")
	}

	return distribution.NewScheduler(distributor, locker, c.clock, c.cfg.Location, at, c.logger), nil
}

// newRouter はAPIサーバーのルーターを組み立てる。
func (c *components) newRouter(limiter *middleware.RateLimiter) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Logger:            c.logger,
		CORSAllowedOrigin: c.cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		StatusRecorder:    c.collector,

		Starter:   c.starter,
		Profiles:  c.players,
		Registrar: c.players,
		Ledger:    c.ledger,
		Ranking:   c.ranking,
		Store:     c.store,
		Clock:     c.clock,

		MetricsHandler: metrics.Handler(c.registry),
	})
}

// runServe はAPIサーバーモードで起動する。
// コンテキストがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSessions))
	defer limiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      c.newRouter(limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 日次報酬配布スケジューラと通知ログのクリーンアップジョブを実行する。
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	scheduler, err := c.newScheduler(ctx)
	if err != nil {
		return err
	}

	cleanupJob := cleanup.NewCleanupJob(c.store, c.clock, log, cfg.NotificationLogRetentionDays)

	log.Info("worker starting",
		slog.String("distribution_time", cfg.DistributionTime),
		slog.String("timezone", cfg.LedgerTimezone),
		slog.Int("notification_log_retention_days", cfg.NotificationLogRetentionDays),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	done := make(chan struct{})
	go func() {
		defer close(done)
		cleanupJob.Start(ctx, cleanupInterval)
	}()

	// 配布スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx)
	<-done

	log.Info("worker stopped gracefully")
	return nil
}

// runDistribute は現在の期間の報酬配布を1回だけ実行し、結果をwに書き出す。
func runDistribute(ctx context.Context, cfg *config.Config, log *slog.Logger, w io.Writer) error {
	c, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	scheduler, err := c.newScheduler(ctx)
	if err != nil {
		return err
	}

	report, err := scheduler.RunOnce(ctx)
	if err != nil {
		if reward.IsInterrupted(err) {
			log.Warn("distribution interrupted; the next run resumes it")
		}
		return fmt.Errorf("distribution failed: %w", err)
	}
	if report == nil {
		return writeJSON(w, map[string]string{"status": "skipped", "reason": "distribution lock is held by another worker"})
	}
	return writeJSON(w, toReportOutput(report))
}

// migrateOptions は migrate サブコマンドのフラグ。
type migrateOptions struct {
	// Down が1以上の場合は直近のマイグレーションをその件数だけロールバックする。
	Down int
	// Status がtrueの場合は適用せずに現在のバージョンだけを出力する。
	Status bool
}

// runMigrate はデータベースマイグレーションを実行し、実行後のスキーマバージョンをwに出力する。
// serveと同じ database.Open の接続プールを使う。
func runMigrate(ctx context.Context, cfg *config.Config, log *slog.Logger, opts migrateOptions, w io.Writer) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.StoreDriverPostgres)
	}
	if opts.Down < 0 {
		return fmt.Errorf("--down must be positive, got %d", opts.Down)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	m, err := database.NewMigrator(ctx, db)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer m.Close()

	switch {
	case opts.Status:
	case opts.Down > 0:
		log.Info("rolling back database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
			slog.Int("steps", opts.Down),
		)
		if err := m.Down(opts.Down); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	default:
		log.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		if err := m.Up(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Info("database migrations completed successfully")
	}

	v, err := m.Version()
	if err != nil {
		return err
	}
	if v.Dirty {
		log.Warn("schema is dirty; fix the failed migration before retrying",
			slog.Uint64("version", uint64(v.Version)),
		)
	}
	return writeJSON(w, v)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
