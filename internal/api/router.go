package api

import (
	"context"
	"net/http"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/api/handlers"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/api/middleware"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/security"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/auth"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// RouterConfig зависимости и настройки маршрутизатора
type RouterConfig struct {
	SyncService  handlers.SyncServiceInterface
	Broker       interfaces.MessagingPort
	CommandTopic string
	Logger       interfaces.LoggerPort

	CORSAllowedOrigins []string
	RateLimitPerMinute int

	// Аутентификация: если KeycloakClient задан, запросы проверяются через
	// Keycloak, иначе через сервисный JWT
	KeycloakClient *auth.KeycloakClient
	JWTManager     *security.JWTManager

	// ReadyCheck проверка готовности зависимостей для /ready
	ReadyCheck func(ctx context.Context) error
}

// SetupRouter настраивает маршрутизатор
func SetupRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 1000
	}

	// Глобальные middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(middleware.Tracing)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Metrics)
	r.Use(middleware.RateLimiter(cfg.RateLimitPerMinute))

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r.Method(http.MethodGet, "/ready", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadyCheck != nil {
			if err := cfg.ReadyCheck(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		// Аутентификация: Keycloak или сервисный JWT
		if cfg.KeycloakClient != nil {
			r.Use(auth.AuthMiddleware(cfg.KeycloakClient, cfg.Logger))
		} else if cfg.JWTManager != nil {
			r.Use(middleware.JWTAuth(cfg.JWTManager))
		}
		r.Use(middleware.Tenant)

		marketplaceHandler := handlers.NewMarketplaceHandler(cfg.SyncService, cfg.Broker, cfg.CommandTopic, cfg.Logger)

		// Маршруты для маркетплейсов
		r.Route("/marketplaces", func(r chi.Router) {
			// Реестр поддерживаемых маркетплейсов
			r.Get("/", marketplaceHandler.ListMarketplaces)

			// Операции с ценами сейчас есть только у Wildberries
			r.Route("/wb/prices", func(r chi.Router) {
				r.Get("/", marketplaceHandler.FetchPrices)
				r.With(auth.RequireAnyRole("admin", "manager")).Post("/", marketplaceHandler.PushPrices)
				r.Get("/log", marketplaceHandler.ListPriceLog)
			})

			// Операции с конкретным маркетплейсом
			r.Route("/{source}", func(r chi.Router) {
				// Диагностика подключения к API
				r.Get("/status", marketplaceHandler.CheckConnection)

				// Запуск синхронизации листингов
				r.With(auth.RequireAnyRole("admin", "manager")).Post("/sync", marketplaceHandler.TriggerSync)

				// История запусков синхронизации
				r.Get("/sync-runs", marketplaceHandler.ListSyncRuns)

				// Снимки листингов
				r.Get("/listings", marketplaceHandler.ListListings)
				r.Get("/listings/{externalKey}", marketplaceHandler.GetListing)
			})
		})
	})

	return r
}
