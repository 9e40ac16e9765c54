package models

import (
	"encoding/json"
	"time"
)

// Типы внешних ключей листинга. Ключ показывает, по какому идентификатору
// маркетплейса запись сопоставляется при повторных синхронизациях.
const (
	ExternalKeyTypeWBNmID        = "WB:nm_id"
	ExternalKeyTypeOzonProductID = "OZON:product_id"
	ExternalKeyTypeOzonOfferID   = "OZON:offer_id"
)

// ListingSnapshot представляет снимок листинга маркетплейса на момент
// синхронизации. Нормализованные поля (цена, остаток, изображения)
// извлечены из сырого ответа, сам ответ сохраняется в Extra.
type ListingSnapshot struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id"`
	Source          string `json:"source"`
	ExternalKey     string `json:"external_key"`
	ExternalKeyType string `json:"external_key_type"`

	// Идентификаторы конкретных маркетплейсов. NMID заполняется для
	// Wildberries, ProductID/OfferID/SKU - для Ozon.
	NMID      int64  `json:"nm_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	OfferID   string `json:"offer_id,omitempty"`
	SKU       string `json:"sku,omitempty"`

	Title string `json:"title"`
	Brand string `json:"brand,omitempty"`

	// Price и Stock - указатели: nil означает, что маркетплейс не отдал
	// значение, а не ноль.
	Price *float64 `json:"price,omitempty"`
	Stock *int64   `json:"stock,omitempty"`

	ImageURLs []string        `json:"image_urls,omitempty"`
	Extra     json.RawMessage `json:"extra,omitempty"`

	SyncID    string    `json:"sync_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Статусы запуска синхронизации.
const (
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// SyncRun представляет один запуск синхронизации листингов маркетплейса
type SyncRun struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Source   string `json:"source"`
	Status   string `json:"status"`

	// Счетчики результата: сколько листингов получено от маркетплейса
	// и как они легли в хранилище
	Listings int `json:"listings"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`

	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// PriceUpdateLog представляет запись журнала отправки цен на маркетплейс.
// Записи с DryRun=true в API маркетплейса не уходили.
type PriceUpdateLog struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Source   string `json:"source"`

	NMID     int64  `json:"nm_id"`
	Price    int64  `json:"price"`
	Discount *int64 `json:"discount,omitempty"`
	DryRun   bool   `json:"dry_run"`

	PushedAt time.Time `json:"pushed_at"`
}

// ConnectionReport результат проверки доступа к API маркетплейса
type ConnectionReport struct {
	Source  string      `json:"source"`
	Status  string      `json:"status"`
	Details interface{} `json:"details,omitempty"`
}
