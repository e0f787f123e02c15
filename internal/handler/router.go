package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/nitterpost/internal/metrics"
	"github.com/hitoshi/nitterpost/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter
	Gatherer    prometheus.Gatherer

	DB        Pinger
	Scheduler SchedulerServiceInterface
	Fetcher   FetchServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// /health と /metrics はレート制限の外に配置する（監視系からの定期アクセスのため）。
// 外部フィードへのI/Oを伴うエンドポイントにはフェッチ専用のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	healthHandler := NewHealthHandler(deps.DB)
	schedulerHandler := NewSchedulerHandler(deps.Scheduler)
	fetchHandler := NewFetchHandler(deps.Fetcher)

	// --- 監視系ルート（レート制限なし） ---
	r.Get("/health", healthHandler.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	// --- 管理APIルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/scheduler", func(r chi.Router) {
			r.Get("/", schedulerHandler.GetStatus)
			r.Post("/initialize", schedulerHandler.Initialize)
			r.Get("/tasks/{id}", schedulerHandler.GetTaskStatus)
		})

		r.Route("/api/subscriptions/{id}", func(r chi.Router) {
			// POST /api/subscriptions/{id}/fetch - 手動フェッチ（フェッチ専用レート制限を追加）
			r.With(deps.RateLimiter.FetchMiddleware()).Post("/fetch", fetchHandler.FetchSubscription)
			r.Put("/schedule", schedulerHandler.UpdateSchedule)
		})

		// GET /api/test-feed - 診断フェッチ（保存なし、フェッチ専用レート制限を追加）
		r.With(deps.RateLimiter.FetchMiddleware()).Get("/api/test-feed", fetchHandler.TestFeed)
	})

	return r
}
