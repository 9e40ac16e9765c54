package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/storage"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/ozon"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/wb"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/utils"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	base "github.com/athebyme/gomarket-platform/marketplace-service/pkg/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/tx"
	"github.com/google/uuid"
)

// WildberriesGateway операции Wildberries API, которые использует сервис
// синхронизации
type WildberriesGateway interface {
	FetchAllCards(ctx context.Context, limit int) ([]wb.Card, error)
	FetchPrices(ctx context.Context, query wb.PricesQuery) (json.RawMessage, error)
	UpdatePrices(ctx context.Context, updates []wb.PriceUpdate, opts wb.UpdateOptions) (*wb.PriceUpdateResult, error)
	CheckConnection(ctx context.Context) (*wb.ConnectionStatus, error)
}

// OzonGateway операции Ozon Seller API, которые использует сервис
// синхронизации
type OzonGateway interface {
	FetchProductList(ctx context.Context, limit int, visibility string) ([]ozon.Product, error)
	FetchProductInfoList(ctx context.Context, limit int, visibility string) ([]ozon.Product, error)
	CheckConnection(ctx context.Context) (*ozon.ConnectionStatus, error)
}

// SyncService предоставляет бизнес-логику синхронизации листингов
// маркетплейсов: выгрузку карточек, нормализацию, сохранение снимков,
// отправку цен и диагностику подключений
type SyncService struct {
	storage    postgres.ListingStoragePort
	cache      interfaces.CachePort
	messaging  interfaces.MessagingPort
	txManager  tx.TxManager
	wbClient   WildberriesGateway
	ozonClient OzonGateway
	log        interfaces.LoggerPort

	eventsTopic string
	pageLimit   int
	cacheTTL    time.Duration
	lockTTL     time.Duration
}

// SyncOption настраивает SyncService
type SyncOption func(*SyncService)

// WithWildberries подключает шлюз Wildberries. Без него операции по
// Wildberries возвращают ErrGatewayNotConfigured
func WithWildberries(gateway WildberriesGateway) SyncOption {
	return func(s *SyncService) {
		s.wbClient = gateway
	}
}

// WithOzon подключает шлюз Ozon
func WithOzon(gateway OzonGateway) SyncOption {
	return func(s *SyncService) {
		s.ozonClient = gateway
	}
}

// WithEventsTopic переопределяет тему Kafka для событий синхронизации
func WithEventsTopic(topic string) SyncOption {
	return func(s *SyncService) {
		if topic != "" {
			s.eventsTopic = topic
		}
	}
}

// WithPageLimit задает размер страницы при выгрузке карточек из API
func WithPageLimit(limit int) SyncOption {
	return func(s *SyncService) {
		if limit > 0 {
			s.pageLimit = limit
		}
	}
}

// WithCacheTTL задает срок жизни кэша списков листингов
func WithCacheTTL(ttl time.Duration) SyncOption {
	return func(s *SyncService) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithLockTTL задает срок жизни блокировки синхронизации
func WithLockTTL(ttl time.Duration) SyncOption {
	return func(s *SyncService) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// NewSyncService создает новый экземпляр SyncService
func NewSyncService(
	storage postgres.ListingStoragePort,
	cache interfaces.CachePort,
	broker interfaces.MessagingPort,
	txManager tx.TxManager,
	log interfaces.LoggerPort,
	opts ...SyncOption,
) *SyncService {
	service := &SyncService{
		storage:     storage,
		cache:       cache,
		messaging:   broker,
		txManager:   txManager,
		log:         log,
		eventsTopic: messaging.TopicSyncEvents,
		pageLimit:   100,
		cacheTTL:    5 * time.Minute,
		lockTTL:     10 * time.Minute,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service
}

// SyncListings выгружает листинги маркетплейса, нормализует их и сохраняет
// снимки. Параллельные синхронизации одного маркетплейса для арендатора
// блокируются через кэш. Если syncID пуст, генерируется новый
func (s *SyncService) SyncListings(ctx context.Context, tenantID, source, syncID string) (*models.SyncRun, error) {
	source = base.NormalizeSource(source)
	if !base.IsSupportedSource(source) {
		return nil, utils.ErrUnsupportedSource
	}
	if err := s.requireGateway(source); err != nil {
		return nil, err
	}

	lockKey := "sync:lock:" + source
	locked, err := s.cache.LockWithTenant(ctx, lockKey, tenantID, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !locked {
		return nil, utils.ErrSyncAlreadyRunning
	}
	defer func() {
		if err := s.cache.UnlockWithTenant(ctx, lockKey, tenantID); err != nil {
			s.log.WarnWithContext(ctx, "не удалось освободить блокировку синхронизации",
				logField("source", source), logField("error", err.Error()))
		}
	}()

	if syncID == "" {
		syncID = uuid.New().String()
	}

	run := &models.SyncRun{
		ID:        syncID,
		TenantID:  tenantID,
		Source:    source,
		Status:    models.SyncStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.storage.SaveSyncRun(ctx, run, tenantID); err != nil {
		return nil, fmt.Errorf("failed to save sync run: %w", err)
	}

	s.publishEvent(ctx, &base.SyncEvent{
		EventType:  messaging.ListingsSyncStartedEvent,
		TenantID:   tenantID,
		Source:     source,
		SyncID:     syncID,
		OccurredAt: time.Now().Unix(),
	})

	s.log.InfoWithContext(ctx, "синхронизация листингов запущена",
		logField("source", source), logField("sync_id", syncID))

	snapshots, err := s.fetchSnapshots(ctx, tenantID, source, syncID)
	if err != nil {
		return nil, s.failRun(ctx, run, tenantID, err)
	}

	run.Listings = len(snapshots)

	// Снимки и итог запуска сохраняются в одной транзакции
	err = s.txManager.Do(ctx, func(txCtx context.Context) error {
		inserted, updated, err := s.storage.SaveListings(txCtx, snapshots, tenantID)
		if err != nil {
			return fmt.Errorf("failed to save listings: %w", err)
		}

		now := time.Now().UTC()
		run.Inserted = inserted
		run.Updated = updated
		run.Status = models.SyncStatusCompleted
		run.FinishedAt = &now

		if err := s.storage.SaveSyncRun(txCtx, run, tenantID); err != nil {
			return fmt.Errorf("failed to save sync run: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, s.failRun(ctx, run, tenantID, err)
	}

	// Снимки изменились - сбрасываем кэш листингов
	s.invalidateListingCache(ctx, tenantID)

	s.publishEvent(ctx, &base.SyncEvent{
		EventType:  messaging.ListingsSyncCompletedEvent,
		TenantID:   tenantID,
		Source:     source,
		SyncID:     syncID,
		Listings:   run.Listings,
		Inserted:   run.Inserted,
		Updated:    run.Updated,
		OccurredAt: time.Now().Unix(),
	})

	s.log.InfoWithContext(ctx, "синхронизация листингов завершена",
		logField("source", source),
		logField("sync_id", syncID),
		logField("listings", run.Listings),
		logField("inserted", run.Inserted),
		logField("updated", run.Updated))

	return run, nil
}

// requireGateway проверяет, что шлюз маркетплейса сконфигурирован
func (s *SyncService) requireGateway(source string) error {
	switch source {
	case base.SourceWildberries:
		if s.wbClient == nil {
			return utils.ErrGatewayNotConfigured
		}
	case base.SourceOzon:
		if s.ozonClient == nil {
			return utils.ErrGatewayNotConfigured
		}
	default:
		return utils.ErrUnsupportedSource
	}
	return nil
}

// fetchSnapshots выгружает и нормализует листинги источника. Каждому
// снимку проставляется ID запуска
func (s *SyncService) fetchSnapshots(ctx context.Context, tenantID, source, syncID string) ([]*models.ListingSnapshot, error) {
	switch source {
	case base.SourceWildberries:
		cards, err := s.wbClient.FetchAllCards(ctx, s.pageLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch wildberries cards: %w", err)
		}

		snapshots := make([]*models.ListingSnapshot, 0, len(cards))
		skipped := 0
		for _, card := range cards {
			snapshot, ok := NormalizeWBCard(tenantID, card)
			if !ok {
				skipped++
				continue
			}
			snapshot.SyncID = syncID
			snapshots = append(snapshots, snapshot)
		}

		if skipped > 0 {
			s.log.WarnWithContext(ctx, "карточки без nmId пропущены",
				logField("skipped", skipped), logField("sync_id", syncID))
		}

		return snapshots, nil

	case base.SourceOzon:
		listItems, err := s.ozonClient.FetchProductList(ctx, s.pageLimit, ozon.VisibilityAll)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch ozon product list: %w", err)
		}
		infoItems, err := s.ozonClient.FetchProductInfoList(ctx, s.pageLimit, ozon.VisibilityAll)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch ozon product info: %w", err)
		}

		snapshots := MergeOzonProducts(tenantID, listItems, infoItems)
		for _, snapshot := range snapshots {
			snapshot.SyncID = syncID
		}

		return snapshots, nil
	}

	return nil, utils.ErrUnsupportedSource
}

// failRun помечает запуск как проваленный, публикует событие и возвращает
// исходную ошибку
func (s *SyncService) failRun(ctx context.Context, run *models.SyncRun, tenantID string, cause error) error {
	now := time.Now().UTC()
	run.Status = models.SyncStatusFailed
	run.Error = cause.Error()
	run.FinishedAt = &now

	if err := s.storage.SaveSyncRun(ctx, run, tenantID); err != nil {
		s.log.ErrorWithContext(ctx, "не удалось сохранить проваленный запуск синхронизации",
			logField("sync_id", run.ID), logField("error", err.Error()))
	}

	s.publishEvent(ctx, &base.SyncEvent{
		EventType:  messaging.ListingsSyncFailedEvent,
		TenantID:   tenantID,
		Source:     run.Source,
		SyncID:     run.ID,
		Error:      cause.Error(),
		OccurredAt: time.Now().Unix(),
	})

	s.log.ErrorWithContext(ctx, "синхронизация листингов провалилась",
		logField("source", run.Source),
		logField("sync_id", run.ID),
		logField("error", cause.Error()))

	return cause
}

// listingsPage кэшируемая страница списка листингов
type listingsPage struct {
	Items []*models.ListingSnapshot `json:"items"`
	Total int                       `json:"total"`
}

// listingsCacheKey строит ключ кэша страницы. Карта фильтров сериализуется
// с сортировкой ключей, поэтому хэш стабилен
func listingsCacheKey(filters map[string]interface{}, page, pageSize int) string {
	data, _ := json.Marshal(filters)
	h := fnv.New32a()
	h.Write(data)
	return fmt.Sprintf("listings:%d:%d:%x", page, pageSize, h.Sum32())
}

// ListListings возвращает страницу снимков листингов с фильтрацией.
// Результат кэшируется; кэш сбрасывается после каждой синхронизации
func (s *SyncService) ListListings(ctx context.Context, tenantID string, filter *models.ListingFilter, page, pageSize int) ([]*models.ListingSnapshot, int, error) {
	if filter == nil {
		filter = &models.ListingFilter{}
	}
	if filter.Source != "" {
		filter.Source = base.NormalizeSource(filter.Source)
		if !base.IsSupportedSource(filter.Source) {
			return nil, 0, utils.ErrUnsupportedSource
		}
	}

	filterMap := filter.ToMap()
	cacheKey := listingsCacheKey(filterMap, page, pageSize)

	if data, err := s.cache.GetWithTenant(ctx, cacheKey, tenantID); err == nil {
		var cached listingsPage
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached.Items, cached.Total, nil
		}
	} else if !errors.Is(err, interfaces.ErrCacheMiss) {
		s.log.WarnWithContext(ctx, "не удалось прочитать кэш листингов",
			logField("error", err.Error()))
	}

	listings, total, err := s.storage.ListListings(ctx, tenantID, filterMap, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list listings: %w", err)
	}

	if data, err := json.Marshal(listingsPage{Items: listings, Total: total}); err == nil {
		if err := s.cache.SetWithTenant(ctx, cacheKey, data, tenantID, s.cacheTTL); err != nil {
			s.log.WarnWithContext(ctx, "не удалось сохранить листинги в кэш",
				logField("error", err.Error()))
		}
	}

	return listings, total, nil
}

// GetListing возвращает снимок листинга по внешнему ключу маркетплейса.
// Если листинг не найден, возвращается ErrListingNotFound
func (s *SyncService) GetListing(ctx context.Context, tenantID, source, externalKey string) (*models.ListingSnapshot, error) {
	source = base.NormalizeSource(source)
	if !base.IsSupportedSource(source) {
		return nil, utils.ErrUnsupportedSource
	}

	cacheKey := "listing:" + source + ":" + externalKey
	if data, err := s.cache.GetWithTenant(ctx, cacheKey, tenantID); err == nil {
		var cached models.ListingSnapshot
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}

	listing, err := s.storage.GetListing(ctx, tenantID, source, externalKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	if listing == nil {
		return nil, utils.ErrListingNotFound
	}

	if data, err := json.Marshal(listing); err == nil {
		if err := s.cache.SetWithTenant(ctx, cacheKey, data, tenantID, s.cacheTTL); err != nil {
			s.log.WarnWithContext(ctx, "не удалось сохранить листинг в кэш",
				logField("error", err.Error()))
		}
	}

	return listing, nil
}

// ListSyncRuns возвращает последние запуски синхронизаций
func (s *SyncService) ListSyncRuns(ctx context.Context, tenantID, source string, limit int) ([]*models.SyncRun, error) {
	if source != "" {
		source = base.NormalizeSource(source)
		if !base.IsSupportedSource(source) {
			return nil, utils.ErrUnsupportedSource
		}
	}

	runs, err := s.storage.ListSyncRuns(ctx, tenantID, source, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}

	return runs, nil
}

// FetchPrices возвращает цены кабинета Wildberries без разбора. Ошибки
// шлюза не заворачиваются, чтобы вызывающий код видел их классификацию
func (s *SyncService) FetchPrices(ctx context.Context, query wb.PricesQuery) (json.RawMessage, error) {
	if s.wbClient == nil {
		return nil, utils.ErrGatewayNotConfigured
	}
	return s.wbClient.FetchPrices(ctx, query)
}

// PushPrices нормализует и отправляет записи цен в Wildberries. Результат
// записывается в журнал; событие публикуется только для реальной отправки
func (s *SyncService) PushPrices(ctx context.Context, tenantID string, updates []wb.PriceUpdate, opts wb.UpdateOptions) (*wb.PriceUpdateResult, error) {
	if s.wbClient == nil {
		return nil, utils.ErrGatewayNotConfigured
	}

	result, err := s.wbClient.UpdatePrices(ctx, updates, opts)
	if err != nil {
		return nil, err
	}

	entries := priceLogEntries(tenantID, result)
	if len(entries) > 0 {
		if err := s.storage.SavePriceLog(ctx, entries, tenantID); err != nil {
			s.log.ErrorWithContext(ctx, "не удалось сохранить журнал отправки цен",
				logField("entries", len(entries)), logField("error", err.Error()))
		}
	}

	if !result.DryRun {
		s.publishEvent(ctx, &base.SyncEvent{
			EventType:  messaging.PricesPushedEvent,
			TenantID:   tenantID,
			Source:     base.SourceWildberries,
			Listings:   len(result.Payload),
			OccurredAt: time.Now().Unix(),
		})

		s.log.InfoWithContext(ctx, "цены отправлены в Wildberries",
			logField("records", len(result.Payload)))
	}

	return result, nil
}

// priceLogEntries собирает записи журнала из нормализованного пакета.
// Канонические nmId и price после нормализации всегда int64
func priceLogEntries(tenantID string, result *wb.PriceUpdateResult) []*models.PriceUpdateLog {
	entries := make([]*models.PriceUpdateLog, 0, len(result.Payload))
	now := time.Now().UTC()

	for _, record := range result.Payload {
		nmID, ok := record["nmId"].(int64)
		if !ok {
			continue
		}
		price, ok := record["price"].(int64)
		if !ok {
			continue
		}

		entry := &models.PriceUpdateLog{
			TenantID: tenantID,
			Source:   base.SourceWildberries,
			NMID:     nmID,
			Price:    price,
			DryRun:   result.DryRun,
			PushedAt: now,
		}
		if discount, ok := record["discount"].(int64); ok {
			entry.Discount = &discount
		}

		entries = append(entries, entry)
	}

	return entries
}

// ListPriceLog возвращает последние записи журнала отправки цен
func (s *SyncService) ListPriceLog(ctx context.Context, tenantID string, limit int) ([]*models.PriceUpdateLog, error) {
	entries, err := s.storage.ListPriceLog(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list price log: %w", err)
	}
	return entries, nil
}

// CheckConnection проверяет доступность API маркетплейса и возвращает
// диагностику подключения
func (s *SyncService) CheckConnection(ctx context.Context, source string) (*models.ConnectionReport, error) {
	source = base.NormalizeSource(source)

	switch source {
	case base.SourceWildberries:
		if s.wbClient == nil {
			return nil, utils.ErrGatewayNotConfigured
		}
		status, err := s.wbClient.CheckConnection(ctx)
		if err != nil {
			return nil, err
		}
		return &models.ConnectionReport{Source: source, Status: status.Status, Details: status}, nil

	case base.SourceOzon:
		if s.ozonClient == nil {
			return nil, utils.ErrGatewayNotConfigured
		}
		status, err := s.ozonClient.CheckConnection(ctx)
		if err != nil {
			return nil, err
		}
		return &models.ConnectionReport{Source: source, Status: status.Status, Details: status}, nil
	}

	return nil, utils.ErrUnsupportedSource
}

// invalidateListingCache сбрасывает кэшированные списки и отдельные
// листинги арендатора
func (s *SyncService) invalidateListingCache(ctx context.Context, tenantID string) {
	for _, pattern := range []string{"listings:*", "listing:*"} {
		if err := s.cache.DeleteByPatternWithTenant(ctx, pattern, tenantID); err != nil {
			s.log.WarnWithContext(ctx, "не удалось сбросить кэш листингов",
				logField("pattern", pattern), logField("error", err.Error()))
		}
	}
}

// publishEvent публикует событие синхронизации в Kafka. Ошибки публикации
// не прерывают основную операцию
func (s *SyncService) publishEvent(ctx context.Context, event *base.SyncEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		s.log.ErrorWithContext(ctx, "не удалось сериализовать событие синхронизации",
			logField("event_type", event.EventType), logField("error", err.Error()))
		return
	}

	if err := s.messaging.PublishForTenant(ctx, s.eventsTopic, data, event.TenantID); err != nil {
		s.log.ErrorWithContext(ctx, "не удалось опубликовать событие синхронизации",
			logField("event_type", event.EventType),
			logField("topic", s.eventsTopic),
			logField("error", err.Error()))
	}
}

// logField сокращение для структурированного поля лога.
func logField(key string, value interface{}) interfaces.LogField {
	return interfaces.LogField{Key: key, Value: value}
}
