package models

// SyncCommand представляет команду управления синхронизацией маркетплейса.
// Команды приходят из Kafka от других сервисов платформы или от API
type SyncCommand struct {
	CommandType string                 `json:"command_type"` // "sync_listings", "push_prices", "check_connection"
	TenantID    string                 `json:"tenant_id"`
	Source      string                 `json:"source"`  // Код маркетплейса: "WB", "OZON"
	SyncID      string                 `json:"sync_id,omitempty"` // ID запуска, если задан инициатором
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// SyncEvent представляет событие жизненного цикла синхронизации для Kafka
type SyncEvent struct {
	EventType  string `json:"event_type"`
	TenantID   string `json:"tenant_id"`
	Source     string `json:"source"`
	SyncID     string `json:"sync_id,omitempty"`
	Listings   int    `json:"listings,omitempty"`  // Сколько карточек выгружено
	Inserted   int    `json:"inserted,omitempty"`  // Сколько снапшотов создано
	Updated    int    `json:"updated,omitempty"`   // Сколько снапшотов обновлено
	DryRun     bool   `json:"dry_run,omitempty"`   // Для событий отправки цен
	Error      string `json:"error,omitempty"`
	OccurredAt int64  `json:"occurred_at"` // Unix timestamp
}
