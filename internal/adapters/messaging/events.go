package messaging

// Темы Kafka сервиса. Команды приходят от операторского API и внешних
// систем, события публикуются для подписчиков (аналитика, уведомления).
const (
	TopicSyncCommands = "marketplace-sync-commands"
	TopicSyncEvents   = "marketplace-sync-events"

	// DefaultDeadLetterTopic тема для сообщений, обработчик которых
	// вернул ошибку.
	DefaultDeadLetterTopic = "marketplace-sync-dlq"
)

type KafkaEvent = string

// События жизненного цикла синхронизации листингов.
const (
	ListingsSyncStartedEvent   KafkaEvent = "listings_sync_started"
	ListingsSyncCompletedEvent KafkaEvent = "listings_sync_completed"
	ListingsSyncFailedEvent    KafkaEvent = "listings_sync_failed"
	PricesPushedEvent          KafkaEvent = "prices_pushed"
)

// Команды, которые воркер принимает из TopicSyncCommands.
const (
	CommandSyncListings    = "sync_listings"
	CommandPushPrices      = "push_prices"
	CommandCheckConnection = "check_connection"
)
