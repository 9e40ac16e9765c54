package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/config"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/cache"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/storage"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/ozon"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/wb"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/utils"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	base "github.com/athebyme/gomarket-platform/marketplace-service/pkg/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/tx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Метрики для Prometheus
var (
	commandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_commands_processed_total",
		Help: "Общее количество обработанных команд синхронизации",
	}, []string{"command", "status"})

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_command_duration_seconds",
		Help:    "Длительность обработки команд синхронизации",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	syncEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_sync_events_total",
		Help: "События жизненного цикла синхронизаций по маркетплейсам",
	}, []string{"event_type", "source"})

	activeHandlers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active_handlers",
		Help: "Количество команд, обрабатываемых в данный момент",
	})
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
	log.Info("Инициализация воркера",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName + "-worker"},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	// Запускаем HTTP сервер для метрик если они включены
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
			})

			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Info("Запуск HTTP сервера для метрик",
				interfaces.LogField{Key: "addr", Value: addr})

			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("Ошибка запуска HTTP сервера для метрик",
					interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	// Генерируем строку подключения к PostgreSQL
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
		log.Fatal("Ошибка генерации строки подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	// Пул соединений общий для хранилища и менеджера транзакций
	pool, err := pgxpool.New(ctx, postgresCon)
	if err != nil {
		log.Fatal("Ошибка создания пула соединений PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	repo, err := postgres.NewPostgresStorageWithPool(ctx, pool)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer repo.Close()
	log.Info("Хранилище инициализировано")

	// Инициализируем кэш
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
		log.Fatal("Ошибка инициализации кэша",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	// Инициализируем систему обмена сообщениями
	messagingClient, err := messaging.NewKafkaMessaging(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		cfg.Kafka.DeadLetterTopic,
		log,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer messagingClient.Close()
	log.Info("Система обмена сообщениями инициализирована")

	ensureTopics(ctx, messagingClient, cfg, log)

	txManager := tx.NewTxManager(pool, log)

	// Воркер выполняет синхронизации сам, поэтому сервису нужны шлюзы
	syncService := services.NewSyncService(repo, cacheClient, messagingClient, txManager, log,
		buildGatewayOptions(cfg, log)...)
	log.Info("Сервис синхронизации инициализирован")

	// Каналы для сигналов и завершения
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	// Подписываемся на команды и события синхронизации
	subscribeToSyncCommands(ctx, messagingClient, syncService, cfg.Kafka.CommandTopic, log, &wg)
	subscribeToSyncEvents(ctx, messagingClient, cfg.Kafka.EventsTopic, cfg.Kafka.GroupID+"-events", log, &wg)

	// Обработка сигналов завершения
	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")
		cancel()
		wg.Wait()
		close(done)
	}()

	log.Info("Воркер запущен и готов к обработке команд")
	<-done
	log.Info("Воркер корректно завершил работу")
}

// ensureTopics создает рабочие темы Kafka, если их еще нет. Отсутствие прав
// на создание тем не фатально: в управляемых кластерах темы заводят заранее
func ensureTopics(ctx context.Context, client *messaging.KafkaMessaging, cfg *config.Config, log interfaces.LoggerPort) {
	for _, topic := range []string{cfg.Kafka.CommandTopic, cfg.Kafka.EventsTopic, cfg.Kafka.DeadLetterTopic} {
		if err := client.CreateTopic(ctx, topic, 3, 1); err != nil {
			log.Warn("Не удалось создать топик Kafka",
				interfaces.LogField{Key: "topic", Value: topic},
				interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}
}

// Подписка на команды синхронизации
func subscribeToSyncCommands(ctx context.Context, messagingClient interfaces.MessagingPort,
	syncService *services.SyncService, topic string,
	logger interfaces.LoggerPort, wg *sync.WaitGroup) {

	commandHandler := func(ctx context.Context, msg *interfaces.Message) error {
		startTime := time.Now()
		activeHandlers.Inc()
		defer activeHandlers.Dec()

		logger.InfoWithContext(ctx, "Получена команда синхронизации",
			interfaces.LogField{Key: "message_id", Value: msg.ID},
			interfaces.LogField{Key: "topic", Value: msg.Topic},
		)

		var command base.SyncCommand
		if err := json.Unmarshal(msg.Value, &command); err != nil {
			logger.ErrorWithContext(ctx, "Ошибка декодирования команды",
				interfaces.LogField{Key: "error", Value: err.Error()})
			commandsProcessed.WithLabelValues("unknown", "error").Inc()
			return err
		}

		// Добавляем tenant_id и sync_id в контекст
		cmdCtx := context.WithValue(ctx, "tenant_id", command.TenantID)
		if command.SyncID != "" {
			cmdCtx = context.WithValue(cmdCtx, "sync_id", command.SyncID)
		}
		var err error

		// Обрабатываем команду в зависимости от типа
		switch command.CommandType {
		case messaging.CommandSyncListings:
			var run *models.SyncRun
			run, err = syncService.SyncListings(cmdCtx, command.TenantID, command.Source, command.SyncID)
			if errors.Is(err, utils.ErrSyncAlreadyRunning) {
				// Повторный триггер того же маркетплейса не считается сбоем
				logger.WarnWithContext(cmdCtx, "Синхронизация уже выполняется, команда пропущена",
					interfaces.LogField{Key: "source", Value: command.Source})
				commandsProcessed.WithLabelValues(command.CommandType, "skipped").Inc()
				return nil
			}
			if err == nil {
				logger.InfoWithContext(cmdCtx, "Синхронизация листингов завершена",
					interfaces.LogField{Key: "source", Value: run.Source},
					interfaces.LogField{Key: "listings", Value: run.Listings},
					interfaces.LogField{Key: "inserted", Value: run.Inserted},
					interfaces.LogField{Key: "updated", Value: run.Updated},
				)
			}

		case messaging.CommandPushPrices:
			var updates []wb.PriceUpdate
			var dryRun bool
			updates, dryRun, err = priceUpdatesFromPayload(command.Payload)
			if err == nil {
				var result *wb.PriceUpdateResult
				result, err = syncService.PushPrices(cmdCtx, command.TenantID, updates, wb.UpdateOptions{DryRun: dryRun})
				if err == nil {
					logger.InfoWithContext(cmdCtx, "Цены отправлены",
						interfaces.LogField{Key: "count", Value: len(result.Payload)},
						interfaces.LogField{Key: "dry_run", Value: result.DryRun},
					)
				}
			}

		case messaging.CommandCheckConnection:
			var report *models.ConnectionReport
			report, err = syncService.CheckConnection(cmdCtx, command.Source)
			if err == nil {
				logger.InfoWithContext(cmdCtx, "Проверка подключения выполнена",
					interfaces.LogField{Key: "source", Value: report.Source},
					interfaces.LogField{Key: "status", Value: report.Status},
				)
			}

		default:
			logger.WarnWithContext(ctx, "Неизвестный тип команды",
				interfaces.LogField{Key: "command_type", Value: command.CommandType})
			commandsProcessed.WithLabelValues(command.CommandType, "unknown").Inc()
			return nil
		}

		if err != nil {
			logger.ErrorWithContext(cmdCtx, "Ошибка обработки команды",
				interfaces.LogField{Key: "command_type", Value: command.CommandType},
				interfaces.LogField{Key: "error", Value: err.Error()})
			commandsProcessed.WithLabelValues(command.CommandType, "error").Inc()
			return err
		}

		duration := time.Since(startTime).Seconds()
		commandDuration.WithLabelValues(command.CommandType).Observe(duration)
		commandsProcessed.WithLabelValues(command.CommandType, "success").Inc()

		logger.InfoWithContext(cmdCtx, "Команда успешно обработана",
			interfaces.LogField{Key: "command_type", Value: command.CommandType},
			interfaces.LogField{Key: "duration", Value: duration},
		)

		return nil
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		unsubscribe, err := messagingClient.Subscribe(ctx, topic, commandHandler)
		if err != nil {
			logger.Error("Ошибка подписки на команды синхронизации",
				interfaces.LogField{Key: "error", Value: err.Error()})
			return
		}
		defer unsubscribe()

		logger.Info("Подписка на команды синхронизации установлена",
			interfaces.LogField{Key: "topic", Value: topic})

		<-ctx.Done()
		logger.Info("Отмена подписки на команды синхронизации")
	}()
}

// Подписка на события синхронизации. Обработчик ведет журнал аудита и
// метрики; отдельная группа потребителей не мешает ребалансировке команд
func subscribeToSyncEvents(ctx context.Context, messagingClient interfaces.MessagingPort,
	topic, groupID string, logger interfaces.LoggerPort, wg *sync.WaitGroup) {

	eventHandler := func(ctx context.Context, msg *interfaces.Message) error {
		var event base.SyncEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.ErrorWithContext(ctx, "Ошибка декодирования события",
				interfaces.LogField{Key: "error", Value: err.Error()},
				interfaces.LogField{Key: "message_id", Value: msg.ID},
			)
			return err
		}

		syncEvents.WithLabelValues(event.EventType, event.Source).Inc()

		evtCtx := context.WithValue(ctx, "tenant_id", event.TenantID)
		if event.SyncID != "" {
			evtCtx = context.WithValue(evtCtx, "sync_id", event.SyncID)
		}

		switch event.EventType {
		case messaging.ListingsSyncStartedEvent:
			logger.InfoWithContext(evtCtx, "Синхронизация листингов запущена",
				interfaces.LogField{Key: "source", Value: event.Source},
			)

		case messaging.ListingsSyncCompletedEvent:
			logger.InfoWithContext(evtCtx, "Синхронизация листингов завершена",
				interfaces.LogField{Key: "source", Value: event.Source},
				interfaces.LogField{Key: "listings", Value: event.Listings},
				interfaces.LogField{Key: "inserted", Value: event.Inserted},
				interfaces.LogField{Key: "updated", Value: event.Updated},
			)

		case messaging.ListingsSyncFailedEvent:
			// Сам сбой уже залогирован сервисом, здесь только аудит
			logger.WarnWithContext(evtCtx, "Синхронизация листингов провалилась",
				interfaces.LogField{Key: "source", Value: event.Source},
				interfaces.LogField{Key: "error", Value: event.Error},
			)

		case messaging.PricesPushedEvent:
			logger.InfoWithContext(evtCtx, "Цены отправлены на маркетплейс",
				interfaces.LogField{Key: "source", Value: event.Source},
				interfaces.LogField{Key: "dry_run", Value: event.DryRun},
			)

		default:
			logger.WarnWithContext(ctx, "Неизвестный тип события",
				interfaces.LogField{Key: "event_type", Value: event.EventType},
			)
			return nil
		}

		return nil
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		unsubscribe, err := messagingClient.SubscribeGroup(ctx, topic, groupID, eventHandler)
		if err != nil {
			logger.Error("Ошибка подписки на события синхронизации",
				interfaces.LogField{Key: "error", Value: err.Error()})
			return
		}
		defer unsubscribe()

		logger.Info("Подписка на события синхронизации установлена",
			interfaces.LogField{Key: "topic", Value: topic},
			interfaces.LogField{Key: "group_id", Value: groupID})

		<-ctx.Done()
		logger.Info("Отмена подписки на события синхронизации")
	}()
}

// priceUpdatesFromPayload извлекает записи обновления цен и флаг dry_run из
// полезной нагрузки команды push_prices
func priceUpdatesFromPayload(payload map[string]interface{}) ([]wb.PriceUpdate, bool, error) {
	raw, ok := payload["updates"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, false, fmt.Errorf("команда push_prices не содержит обновлений цен")
	}

	updates := make([]wb.PriceUpdate, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, false, fmt.Errorf("неверный формат записи обновления цены: %T", item)
		}
		updates = append(updates, wb.PriceUpdate(entry))
	}

	dryRun, _ := payload["dry_run"].(bool)
	return updates, dryRun, nil
}

// buildGatewayOptions собирает опции сервиса синхронизации из конфигурации.
// Шлюзы без учетных данных не создаются
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
