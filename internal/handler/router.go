package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/fitsync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	CronSecret  string
	RateLimiter *middleware.RateLimiter
	DB          Pinger
	Metrics     http.Handler

	Sync   SyncRunner
	Users  UserServiceInterface
	Linker LinkerInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders
//	  /api/*: RateLimit → BearerAuth
//
// OAuthコールバックはプロバイダーからのリダイレクトで呼ばれるため、
// 共有シークレットではなく署名付きstateで保護する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.NotFound(middleware.WriteNotFound)
	r.MethodNotAllowed(middleware.WriteMethodNotAllowed)

	syncHandler := NewSyncHandler(deps.Sync)
	adminHandler := NewAdminHandler(deps.Users, deps.Linker)

	// --- 認証不要のルート ---
	r.Get("/health", HealthHandler(deps.DB))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	r.Get("/oauth/{provider}/callback", adminHandler.Callback)

	// --- 共有シークレットが必要なルート ---
	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewBearerAuthMiddleware(deps.CronSecret))

		r.Get("/cron/sync", syncHandler.Trigger)
		r.Post("/cron/sync", syncHandler.Trigger)

		r.Route("/admin/users", func(r chi.Router) {
			r.Post("/", adminHandler.CreateUser)
			r.Post("/{userID}/connect/{provider}", adminHandler.Connect)
			r.Put("/{userID}/otf-credentials", adminHandler.SetClassCredentials)
		})
	})

	return r
}
