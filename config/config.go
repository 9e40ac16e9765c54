package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config содержит все настройки сервиса
type Config struct {
	AppName  string
	Version  string
	LogLevel string
	ENV      string

	Server struct {
		Host            string
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
	}

	Postgres struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
		SSLMode  string
		Timeout  time.Duration
		PoolSize int // размер пула соединений
	}

	Redis struct {
		Host              string
		Port              int
		Password          string
		DB                int
		PoolSize          int           // размер пула соединений
		MinIdleConns      int           // минимальное количество неактивных соединений
		ConnectTimeout    time.Duration // таймаут соединения
		ReadTimeout       time.Duration // таймаут чтения
		WriteTimeout      time.Duration // таймаут записи
		PoolTimeout       time.Duration // таймаут ожидания соединения из пула
		IdleTimeout       time.Duration // таймаут неактивного соединения
		IdleCheckFreq     time.Duration // частота проверки неактивных соединений
		MaxRetries        int           // максимальное количество повторных попыток
		MinRetryBackoff   time.Duration // минимальное время между повторными попытками
		MaxRetryBackoff   time.Duration // максимальное время между повторными попытками
	}

	Kafka struct {
		Brokers         []string `mapstructure:"brokers"`
		GroupID         string   `mapstructure:"group_id"`
		CommandTopic    string   `mapstructure:"command_topic"`
		EventsTopic     string   `mapstructure:"events_topic"`
		DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
	}

	Metrics struct {
		Enabled bool
		Port    int `mapstructure:"port"`
	}

	Security struct {
		JWTSecret          string
		JWTIssuer          string
		JWTExpiration      time.Duration
		CORSAllowOrigins   []string
		RateLimitPerMinute int
		Keycloak           KeycloakConfig `mapstructure:"keycloak"`
	}

	// Wildberries настройки шлюза Wildberries API. Пустой токен означает,
	// что шлюз не конфигурируется
	Wildberries struct {
		Token          string
		BaseURL        string
		ContentBaseURL string
		MaxRetries     int
		BackoffFactor  float64
		ConnectTimeout time.Duration
		ReadTimeout    time.Duration
		RateLimitRPS   float64
		RateLimitBurst int
		MaxPages       int
	}

	// Ozon настройки шлюза Ozon Seller API. Шлюз конфигурируется только
	// при заполненной паре ClientID/APIKey
	Ozon struct {
		ClientID   string
		APIKey     string
		BaseURL    string
		Timeout    time.Duration
		MaxRetries int
		MaxPages   int
	}

	// Sync настройки сервиса синхронизации
	Sync struct {
		PageLimit int           // размер страницы выгрузки карточек
		CacheTTL  time.Duration // срок жизни кэша листингов
		LockTTL   time.Duration // срок жизни блокировки синхронизации
	}
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	configFile := "config"
	if configPath != "" {
		configFile = configPath
	}

	var cfg Config

	// Настройка Viper
	viper.SetConfigName(configFile)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("../config")
	viper.AddConfigPath("../../config")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Чтение конфигурационного файла
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// Продолжаем, если файл не найден, будем использовать только переменные окружения
	}

	// Установка значений по умолчанию
	setDefaults()

	// Привязка переменных окружения
	bindEnvVariables()

	// Чтение конфигурации в структуру
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации конфигурации: %w", err)
	}

	// Получаем окружение
	cfg.ENV = viper.GetString("env")
	if cfg.ENV == "" {
		cfg.ENV = "development"
		if envVar := os.Getenv("APP_ENV"); envVar != "" {
			cfg.ENV = envVar
		}
	}

	return &cfg, nil
}

// setDefaults устанавливает значения по умолчанию
func setDefaults() {
	// Основные настройки
	viper.SetDefault("appName", "marketplace-service")
	viper.SetDefault("version", "1.0.0")
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("env", "development")

	// Настройки сервера
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", "10s")
	viper.SetDefault("server.writeTimeout", "10s")
	viper.SetDefault("server.shutdownTimeout", "5s")

	// Настройки Postgres
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.dbname", "marketplace")
	viper.SetDefault("postgres.sslmode", "disable")
	viper.SetDefault("postgres.timeout", "5s")
	viper.SetDefault("postgres.poolSize", 10)

	// Настройки Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolSize", 10)
	viper.SetDefault("redis.minIdleConns", 2)
	viper.SetDefault("redis.connectTimeout", "1s")
	viper.SetDefault("redis.readTimeout", "1s")
	viper.SetDefault("redis.writeTimeout", "1s")
	viper.SetDefault("redis.poolTimeout", "4s")
	viper.SetDefault("redis.idleTimeout", "300s")
	viper.SetDefault("redis.idleCheckFreq", "60s")
	viper.SetDefault("redis.maxRetries", 3)
	viper.SetDefault("redis.minRetryBackoff", "8ms")
	viper.SetDefault("redis.maxRetryBackoff", "512ms")

	// Настройки Kafka
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "marketplace-service")
	viper.SetDefault("kafka.command_topic", "marketplace-sync-commands")
	viper.SetDefault("kafka.events_topic", "marketplace-sync-events")
	viper.SetDefault("kafka.dead_letter_topic", "marketplace-sync-dlq")

	// Настройки метрик
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	// Настройки безопасности
	viper.SetDefault("security.jwtSecret", "")
	viper.SetDefault("security.jwtIssuer", "marketplace-service")
	viper.SetDefault("security.jwtExpiration", "60m")
	viper.SetDefault("security.corsAllowOrigins", []string{"*"})
	viper.SetDefault("security.rateLimitPerMinute", 1000)
	viper.SetDefault("security.keycloak.enabled", false)
	viper.SetDefault("security.keycloak.server_url", "")
	viper.SetDefault("security.keycloak.realm", "gomarket")
	viper.SetDefault("security.keycloak.client_id", "marketplace-service")
	viper.SetDefault("security.keycloak.client_secret", "")

	// Настройки шлюза Wildberries
	viper.SetDefault("wildberries.token", "")
	viper.SetDefault("wildberries.baseURL", "")
	viper.SetDefault("wildberries.contentBaseURL", "")
	viper.SetDefault("wildberries.maxRetries", 3)
	viper.SetDefault("wildberries.backoffFactor", 0.8)
	viper.SetDefault("wildberries.connectTimeout", "10s")
	viper.SetDefault("wildberries.readTimeout", "60s")
	viper.SetDefault("wildberries.rateLimitRPS", 0)
	viper.SetDefault("wildberries.rateLimitBurst", 0)
	viper.SetDefault("wildberries.maxPages", 10000)

	// Настройки шлюза Ozon
	viper.SetDefault("ozon.clientID", "")
	viper.SetDefault("ozon.apiKey", "")
	viper.SetDefault("ozon.baseURL", "")
	viper.SetDefault("ozon.timeout", "30s")
	viper.SetDefault("ozon.maxRetries", 3)
	viper.SetDefault("ozon.maxPages", 1000)

	// Настройки синхронизации
	viper.SetDefault("sync.pageLimit", 100)
	viper.SetDefault("sync.cacheTTL", "5m")
	viper.SetDefault("sync.lockTTL", "10m")
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables() {
	// Основные настройки
	viper.BindEnv("appName", "APP_NAME")
	viper.BindEnv("version", "APP_VERSION")
	viper.BindEnv("logLevel", "LOG_LEVEL")
	viper.BindEnv("env", "APP_ENV")

	// Настройки сервера
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.readTimeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.writeTimeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.shutdownTimeout", "SERVER_SHUTDOWN_TIMEOUT")

	// Настройки Postgres
	viper.BindEnv("postgres.host", "POSTGRES_HOST")
	viper.BindEnv("postgres.port", "POSTGRES_PORT")
	viper.BindEnv("postgres.user", "POSTGRES_USER")
	viper.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	viper.BindEnv("postgres.dbname", "POSTGRES_DBNAME")
	viper.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	viper.BindEnv("postgres.timeout", "POSTGRES_TIMEOUT")
	viper.BindEnv("postgres.poolSize", "POSTGRES_POOL_SIZE")

	// Настройки Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.poolSize", "REDIS_POOL_SIZE")
	viper.BindEnv("redis.minIdleConns", "REDIS_MIN_IDLE_CONNS")
	viper.BindEnv("redis.connectTimeout", "REDIS_CONNECT_TIMEOUT")
	viper.BindEnv("redis.readTimeout", "REDIS_READ_TIMEOUT")
	viper.BindEnv("redis.writeTimeout", "REDIS_WRITE_TIMEOUT")
	viper.BindEnv("redis.poolTimeout", "REDIS_POOL_TIMEOUT")
	viper.BindEnv("redis.idleTimeout", "REDIS_IDLE_TIMEOUT")
	viper.BindEnv("redis.idleCheckFreq", "REDIS_IDLE_CHECK_FREQ")
	viper.BindEnv("redis.maxRetries", "REDIS_MAX_RETRIES")
	viper.BindEnv("redis.minRetryBackoff", "REDIS_MIN_RETRY_BACKOFF")
	viper.BindEnv("redis.maxRetryBackoff", "REDIS_MAX_RETRY_BACKOFF")

	// Настройки Kafka
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	viper.BindEnv("kafka.command_topic", "KAFKA_COMMAND_TOPIC")
	viper.BindEnv("kafka.events_topic", "KAFKA_EVENTS_TOPIC")
	viper.BindEnv("kafka.dead_letter_topic", "KAFKA_DEAD_LETTER_TOPIC")

	// Настройки метрик
	viper.BindEnv("metrics.enabled", "METRICS_ENABLED")
	viper.BindEnv("metrics.port", "METRICS_PORT")

	// Настройки безопасности
	viper.BindEnv("security.jwtSecret", "JWT_SECRET")
	viper.BindEnv("security.jwtIssuer", "JWT_ISSUER")
	viper.BindEnv("security.jwtExpiration", "JWT_EXPIRATION")
	viper.BindEnv("security.corsAllowOrigins", "CORS_ALLOW_ORIGINS")
	viper.BindEnv("security.rateLimitPerMinute", "RATE_LIMIT_PER_MINUTE")
	viper.BindEnv("security.keycloak.enabled", "KEYCLOAK_ENABLED")
	viper.BindEnv("security.keycloak.server_url", "KEYCLOAK_SERVER_URL")
	viper.BindEnv("security.keycloak.realm", "KEYCLOAK_REALM")
	viper.BindEnv("security.keycloak.client_id", "KEYCLOAK_CLIENT_ID")
	viper.BindEnv("security.keycloak.client_secret", "KEYCLOAK_CLIENT_SECRET")

	// Настройки шлюза Wildberries
	viper.BindEnv("wildberries.token", "WB_API_TOKEN")
	viper.BindEnv("wildberries.baseURL", "WB_BASE_URL")
	viper.BindEnv("wildberries.contentBaseURL", "WB_CONTENT_BASE_URL")
	viper.BindEnv("wildberries.maxRetries", "WB_MAX_RETRIES")
	viper.BindEnv("wildberries.backoffFactor", "WB_BACKOFF_FACTOR")
	viper.BindEnv("wildberries.connectTimeout", "WB_CONNECT_TIMEOUT")
	viper.BindEnv("wildberries.readTimeout", "WB_READ_TIMEOUT")
	viper.BindEnv("wildberries.rateLimitRPS", "WB_RATE_LIMIT_RPS")
	viper.BindEnv("wildberries.rateLimitBurst", "WB_RATE_LIMIT_BURST")
	viper.BindEnv("wildberries.maxPages", "WB_MAX_PAGES")

	// Настройки шлюза Ozon
	viper.BindEnv("ozon.clientID", "OZON_CLIENT_ID")
	viper.BindEnv("ozon.apiKey", "OZON_API_KEY")
	viper.BindEnv("ozon.baseURL", "OZON_BASE_URL")
	viper.BindEnv("ozon.timeout", "OZON_TIMEOUT")
	viper.BindEnv("ozon.maxRetries", "OZON_MAX_RETRIES")
	viper.BindEnv("ozon.maxPages", "OZON_MAX_PAGES")

	// Настройки синхронизации
	viper.BindEnv("sync.pageLimit", "SYNC_PAGE_LIMIT")
	viper.BindEnv("sync.cacheTTL", "SYNC_CACHE_TTL")
	viper.BindEnv("sync.lockTTL", "SYNC_LOCK_TTL")
}
