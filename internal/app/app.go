// Package app はアプリケーションの起動とワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/nitterpost/internal/config"
	"github.com/hitoshi/nitterpost/internal/database"
	"github.com/hitoshi/nitterpost/internal/feedsource"
	"github.com/hitoshi/nitterpost/internal/handler"
	"github.com/hitoshi/nitterpost/internal/ingest"
	"github.com/hitoshi/nitterpost/internal/logger"
	"github.com/hitoshi/nitterpost/internal/metrics"
	"github.com/hitoshi/nitterpost/internal/middleware"
	"github.com/hitoshi/nitterpost/internal/model"
	"github.com/hitoshi/nitterpost/internal/repository"
	"github.com/hitoshi/nitterpost/internal/security"
	fetchpkg "github.com/hitoshi/nitterpost/internal/worker/fetch"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// fetchStack はフェッチに関わる依存一式。serveとworkerで共有する。
type fetchStack struct {
	scheduler    *fetchpkg.Scheduler
	orchestrator *fetchpkg.Orchestrator
	collector    *metrics.Collector
	registry     *prometheus.Registry
}

// buildFetchStack はスケジューラとオーケストレータの依存関係をワイヤリングする。
func buildFetchStack(cfg *config.Config, db *sql.DB) *fetchStack {
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	cfgRepo := repository.NewPostgresSubscriptionConfigRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)

	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	source := feedsource.NewHTTPSource(ssrfGuard, slog.Default(), cfg.FetchMaxSize)
	pipeline := ingest.NewPipeline(postRepo, sanitizer, slog.Default())

	// 環境変数のフェッチ設定をデフォルトポリシーに反映する。
	// 購読ごとの永続化設定と呼び出し時の上書きはこの上に適用される。
	defaults := model.DefaultFetchConfig()
	defaults.Timeout = cfg.FetchTimeout
	defaults.MaxItems = cfg.FetchMaxItems
	defaults.RetryCount = cfg.FetchRetryCount
	defaults.UserAgent = cfg.FetchUserAgent

	orchestrator := fetchpkg.NewOrchestrator(
		subRepo, cfgRepo, source, pipeline, collector, slog.Default(), defaults,
	)
	scheduler := fetchpkg.NewScheduler(subRepo, orchestrator, collector, slog.Default())

	return &fetchStack{
		scheduler:    scheduler,
		orchestrator: orchestrator,
		collector:    collector,
		registry:     registry,
	}
}

// runServe は管理APIサーバーモードで起動する。
// DB接続を開き、スケジューラを初期化・起動し、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. フェッチスタックのワイヤリング
	stack := buildFetchStack(cfg, db)

	// 3. スケジューラの起動と一括初期化
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack.scheduler.Start(ctx)
	if err := stack.scheduler.Initialize(ctx); err != nil {
		// 初期化の失敗は起動を妨げない。APIから再初期化できる。
		slog.Error("scheduler initialization failed",
			slog.String("error", err.Error()),
		)
	}

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: rateLimiter,
		Gatherer:    stack.registry,
		DB:          db,
		Scheduler:   stack.scheduler,
		Fetcher:     stack.orchestrator,
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")

	// タイマーを先に止めてから、実行中のリクエストを完了させる
	stack.scheduler.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// HTTPサーバーを持たず、スケジューラのみを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. フェッチスタックのワイヤリング
	stack := buildFetchStack(cfg, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. スケジューラの起動と一括初期化
	stack.scheduler.Start(ctx)
	if err := stack.scheduler.Initialize(ctx); err != nil {
		return fmt.Errorf("scheduler initialization failed: %w", err)
	}

	status := stack.scheduler.GetStatus()
	slog.Info("worker starting",
		slog.Int("task_count", status.TaskCount),
	)

	// シグナルを受信するまでブロックする
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down worker...")
	cancel()
	stack.scheduler.Shutdown()

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
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
