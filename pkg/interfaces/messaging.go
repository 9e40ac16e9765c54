package interfaces

import (
	"context"
	"time"
)

// Message представляет сообщение в системе
type Message struct {
	ID          string            `json:"id"`           // Уникальный ID сообщения
	Topic       string            `json:"topic"`        // Тема сообщения
	Key         string            `json:"key"`          // Ключ сообщения (опционально)
	Value       []byte            `json:"value"`        // Содержимое сообщения
	Headers     map[string]string `json:"headers"`      // Заголовки сообщения
	TenantID    string            `json:"tenant_id"`    // ID арендатора (для многоарендности)
	PublishedAt time.Time         `json:"published_at"` // Время публикации
}

// MessageHandler определяет функцию обработчика сообщений
type MessageHandler func(ctx context.Context, msg *Message) error

// ConsumerConfig содержит настройки для подписчика на сообщения
type ConsumerConfig struct {
	GroupID            string        // ID группы потребителей
	AutoCommit         bool          // Автоматически подтверждать полученные сообщения
	AutoCommitInterval time.Duration // Интервал автоматического подтверждения
	MaxPollRecords     int           // Максимальное число сообщений за один запрос
	PollTimeout        time.Duration // Таймаут для опроса новых сообщений
	TenantID           string        // ID арендатора (для многоарендности)
}

// MessagingPort определяет интерфейс брокера сообщений.
// Через него сервис публикует события синхронизаций и получает команды.
type MessagingPort interface {
	// Publish отправляет сообщение в указанную тему
	Publish(ctx context.Context, topic string, message []byte) error

	// PublishForTenant отправляет сообщение с ключом арендатора,
	// чтобы события одного арендатора попадали в одну партицию
	PublishForTenant(ctx context.Context, topic string, message []byte, tenantID string) error

	// Subscribe подписывается на тему с групповым ID по умолчанию
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (func() error, error)

	// SubscribeGroup подписывается на тему в составе указанной группы потребителей
	SubscribeGroup(ctx context.Context, topic string, groupID string, handler MessageHandler) (func() error, error)

	// Close закрывает соединение с брокером
	Close() error
}
