package interfaces

import (
	"context"
)

// StoragePort определяет базовый интерфейс постоянного хранилища.
// Конкретные репозитории (снимки листингов, журналы синхронизаций)
// расширяют его своими методами.
type StoragePort interface {
	// BeginTx начинает новую транзакцию и возвращает контекст,
	// в котором она сохранена
	BeginTx(ctx context.Context) (context.Context, error)

	// CommitTx фиксирует транзакцию из контекста
	CommitTx(ctx context.Context) error

	// RollbackTx откатывает транзакцию из контекста
	RollbackTx(ctx context.Context) error

	// Close закрывает соединение с хранилищем
	Close() error
}
