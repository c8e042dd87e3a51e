package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/visadesk/internal/metrics"
	"github.com/hitoshi/visadesk/internal/middleware"
	"github.com/hitoshi/visadesk/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	IdentityResolver   middleware.IdentityResolver
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Logger             *slog.Logger
	StatusObserver     middleware.StatusObserver

	// 運用エンドポイント
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer

	// ビザ申請
	VisaService VisaServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS → Auth → RateLimit(General)
//
// Recovery を Logging の内側に置き、panicも500としてログとメトリクスに残す。
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	visaHandler := NewVisaHandler(deps.VisaService)
	adminOnly := middleware.RequireRole(model.RoleAdmin)

	// --- 認証が必要なルート ---
	r.Route("/api/v1/visas", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.IdentityResolver))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		// 新規申請には専用のレート制限を追加
		if deps.RateLimiter != nil {
			r.With(deps.RateLimiter.SubmitMiddleware()).Post("/", visaHandler.Submit)
		} else {
			r.Post("/", visaHandler.Submit)
		}
		r.Get("/", visaHandler.ListMine)

		// 管理者ルートは /{id} より先に登録する
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminOnly)
			r.Get("/all", visaHandler.AdminListAll)
			r.Put("/{id}/status", visaHandler.AdminDecide)
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", visaHandler.GetOne)
			r.Put("/", visaHandler.UpdateFields)
			r.Delete("/", visaHandler.Delete)
		})
	})

	return r
}
