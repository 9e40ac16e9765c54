package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/config"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/cache"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/storage"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/api"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/ozon"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/wb"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/security"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/utils"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/auth"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/tx"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	log.Info("Инициализация сервиса",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	postgresCon, err := utils.GenerateConnectionString(
		cfg.Postgres.Host,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
		cfg.Postgres.Port,
		cfg.Postgres.PoolSize,
		cfg.Postgres.Timeout,
	)
	if err != nil {
		fmt.Printf("Ошибка инициализации строки подключения базы: %v\n", err)
		os.Exit(1)
	}

	// Пул соединений общий для хранилища и менеджера транзакций
	pool, err := pgxpool.New(ctx, postgresCon)
	if err != nil {
		log.Fatal("Ошибка создания пула соединений PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer pool.Close()

	db, err := postgres.NewPostgresStorageWithPool(ctx, pool)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Хранилище инициализировано")

	testCtx, testCancel := context.WithTimeout(ctx, 5*time.Second)
	defer testCancel()

	cacheClient, err := cache.NewRedisCache(ctx, cache.Settings{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,

		PoolSize:        cfg.Redis.PoolSize,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		MaxRetries:      cfg.Redis.MaxRetries,
		MinRetryBackoff: cfg.Redis.MinRetryBackoff,
		MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,

		DialTimeout:        cfg.Redis.ConnectTimeout,
		ReadTimeout:        cfg.Redis.ReadTimeout,
		WriteTimeout:       cfg.Redis.WriteTimeout,
		PoolTimeout:        cfg.Redis.PoolTimeout,
		IdleTimeout:        cfg.Redis.IdleTimeout,
		IdleCheckFrequency: cfg.Redis.IdleCheckFreq,
	})
	if err != nil {
		log.Fatal("Ошибка инициализации кэша", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	if err := checkRedisConnection(testCtx, cacheClient); err != nil {
		log.Fatal("Ошибка подключения к Redis",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Соединение с Redis проверено")

	messagingClient, err := messaging.NewKafkaMessaging(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		cfg.Kafka.DeadLetterTopic,
		log,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer messagingClient.Close()
	log.Info("Система обмена сообщениями инициализирована")

	txManager := tx.NewTxManager(pool, log)

	syncService := services.NewSyncService(
		db,
		cacheClient,
		messagingClient,
		txManager,
		log,
		buildGatewayOptions(cfg, log)...,
	)
	log.Info("Сервис синхронизации инициализирован")

	// Аутентификация: Keycloak, если включен, иначе сервисный JWT
	var keycloakClient *auth.KeycloakClient
	var jwtManager *security.JWTManager

	if cfg.Security.Keycloak.Enabled {
		keycloakClient, err = auth.NewKeycloakClient(cfg.Security.Keycloak.GetKeycloakConfig())
		if err != nil {
			log.Fatal("Ошибка инициализации Keycloak", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		log.Info("Клиент Keycloak инициализирован")
	} else {
		jwtManager, err = security.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.JWTExpiration)
		if err != nil {
			log.Fatal("Ошибка инициализации JWT", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		log.Info("Сервисный JWT менеджер инициализирован")
	}

	router := api.SetupRouter(api.RouterConfig{
		SyncService:        syncService,
		Broker:             messagingClient,
		CommandTopic:       cfg.Kafka.CommandTopic,
		Logger:             log,
		CORSAllowedOrigins: cfg.Security.CORSAllowOrigins,
		RateLimitPerMinute: cfg.Security.RateLimitPerMinute,
		KeycloakClient:     keycloakClient,
		JWTManager:         jwtManager,
		ReadyCheck: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	})
	log.Info("Маршрутизатор настроен")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Сервер запущен", interfaces.LogField{Key: "address", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Ошибка запуска сервера", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatal("Ошибка при graceful shutdown", interfaces.LogField{Key: "error", Value: err.Error()})
		}

		log.Info("HTTP сервер остановлен")

		log.Info("Закрытие соединений с зависимостями...")

		if err := messagingClient.Close(); err != nil {
			log.Error("Ошибка при закрытии Kafka",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		if err := cacheClient.Close(); err != nil {
			log.Error("Ошибка при закрытии Redis",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		if err := db.Close(); err != nil {
			log.Error("Ошибка при закрытии БД",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		close(done)
	}()

	// Ожидаем завершения работы
	<-done
	log.Info("Сервер корректно завершил работу")
}

// buildGatewayOptions собирает опции сервиса синхронизации из конфигурации.
// Шлюз подключается только при заполненных учетных данных
func buildGatewayOptions(cfg *config.Config, log interfaces.LoggerPort) []services.SyncOption {
	opts := []services.SyncOption{
		services.WithEventsTopic(cfg.Kafka.EventsTopic),
		services.WithPageLimit(cfg.Sync.PageLimit),
		services.WithCacheTTL(cfg.Sync.CacheTTL),
		services.WithLockTTL(cfg.Sync.LockTTL),
	}

	if cfg.Wildberries.Token != "" {
		wbOpts := []wb.Option{
			wb.WithTimeouts(cfg.Wildberries.ConnectTimeout, cfg.Wildberries.ReadTimeout),
			wb.WithMaxRetries(cfg.Wildberries.MaxRetries),
			wb.WithBackoffFactor(cfg.Wildberries.BackoffFactor),
			wb.WithMaxPages(cfg.Wildberries.MaxPages),
		}
		if cfg.Wildberries.RateLimitRPS > 0 {
			wbOpts = append(wbOpts, wb.WithRateLimit(cfg.Wildberries.RateLimitRPS, cfg.Wildberries.RateLimitBurst))
		}

		wbClient, err := wb.NewClient(wb.Config{
			BaseURL:        cfg.Wildberries.BaseURL,
			ContentBaseURL: cfg.Wildberries.ContentBaseURL,
		}, cfg.Wildberries.Token, log, wbOpts...)
		if err != nil {
			log.Fatal("Ошибка инициализации шлюза Wildberries",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		opts = append(opts, services.WithWildberries(wbClient))
		log.Info("Шлюз Wildberries инициализирован")
	} else {
		log.Warn("Токен Wildberries не задан, шлюз отключен")
	}

	if cfg.Ozon.ClientID != "" && cfg.Ozon.APIKey != "" {
		ozonClient, err := ozon.NewClient(ozon.Config{
			BaseURL:  cfg.Ozon.BaseURL,
			ClientID: cfg.Ozon.ClientID,
			APIKey:   cfg.Ozon.APIKey,
		}, log,
			ozon.WithTimeout(cfg.Ozon.Timeout),
			ozon.WithMaxRetries(cfg.Ozon.MaxRetries),
			ozon.WithMaxPages(cfg.Ozon.MaxPages),
		)
		if err != nil {
			log.Fatal("Ошибка инициализации шлюза Ozon",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		opts = append(opts, services.WithOzon(ozonClient))
		log.Info("Шлюз Ozon инициализирован")
	} else {
		log.Warn("Учетные данные Ozon не заданы, шлюз отключен")
	}

	return opts
}

// checkRedisConnection проверяет соединение с Redis циклом запись-чтение-удаление
func checkRedisConnection(ctx context.Context, cacheClient interfaces.CachePort) error {
	testKey := "test:connection"
	testValue := []byte("test-value")

	// Попытка записи в Redis
	if err := cacheClient.Set(ctx, testKey, testValue, 10*time.Second); err != nil {
		return fmt.Errorf("ошибка записи в Redis: %w", err)
	}

	// Попытка чтения из Redis
	value, err := cacheClient.Get(ctx, testKey)
	if err != nil {
		return fmt.Errorf("ошибка чтения из Redis: %w", err)
	}

	// Проверка значения
	if string(value) != string(testValue) {
		return fmt.Errorf("некорректное значение из Redis: получено %s, ожидалось %s",
			string(value), string(testValue))
	}

	// Удаление тестового ключа
	if err := cacheClient.Delete(ctx, testKey); err != nil {
		return fmt.Errorf("ошибка удаления из Redis: %w", err)
	}

	return nil
}
