package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/ozon"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/wb"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/utils"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	base "github.com/athebyme/gomarket-platform/marketplace-service/pkg/models"
	pkgutils "github.com/athebyme/gomarket-platform/marketplace-service/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

// SyncServiceInterface определяет операции сервиса синхронизации,
// которые использует API
type SyncServiceInterface interface {
	ListListings(ctx context.Context, tenantID string, filter *models.ListingFilter, page, pageSize int) ([]*models.ListingSnapshot, int, error)
	GetListing(ctx context.Context, tenantID, source, externalKey string) (*models.ListingSnapshot, error)
	ListSyncRuns(ctx context.Context, tenantID, source string, limit int) ([]*models.SyncRun, error)
	FetchPrices(ctx context.Context, query wb.PricesQuery) (json.RawMessage, error)
	PushPrices(ctx context.Context, tenantID string, updates []wb.PriceUpdate, opts wb.UpdateOptions) (*wb.PriceUpdateResult, error)
	ListPriceLog(ctx context.Context, tenantID string, limit int) ([]*models.PriceUpdateLog, error)
	CheckConnection(ctx context.Context, source string) (*models.ConnectionReport, error)
}

// MarketplaceHandler обработчик запросов операторского API маркетплейсов
type MarketplaceHandler struct {
	syncService  SyncServiceInterface
	broker       interfaces.MessagingPort
	commandTopic string
	logger       interfaces.LoggerPort
}

// NewMarketplaceHandler создает новый обработчик маркетплейсов. Команды
// синхронизации публикуются в commandTopic и выполняются воркером
func NewMarketplaceHandler(
	syncService SyncServiceInterface,
	broker interfaces.MessagingPort,
	commandTopic string,
	logger interfaces.LoggerPort,
) *MarketplaceHandler {
	if commandTopic == "" {
		commandTopic = messaging.TopicSyncCommands
	}
	return &MarketplaceHandler{
		syncService:  syncService,
		broker:       broker,
		commandTopic: commandTopic,
		logger:       logger,
	}
}

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// ListMarketplaces обрабатывает запрос на получение реестра маркетплейсов
func (h *MarketplaceHandler) ListMarketplaces(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    base.Marketplaces(),
	})
}

// CheckConnection обрабатывает запрос на диагностику подключения к API
// маркетплейса
func (h *MarketplaceHandler) CheckConnection(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	report, err := h.syncService.CheckConnection(r.Context(), source)
	if err != nil {
		h.renderServiceError(w, r, err, "Ошибка проверки подключения к маркетплейсу")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    report,
	})
}

// TriggerSync обрабатывает запрос на запуск синхронизации листингов.
// Синхронизация выполняется асинхронно: команда публикуется в Kafka,
// а её выполнение берет на себя воркер
func (h *MarketplaceHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	source := base.NormalizeSource(chi.URLParam(r, "source"))
	if !base.IsSupportedSource(source) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "unsupported_source",
			Code:    http.StatusBadRequest,
			Message: "Маркетплейс не поддерживается",
		})
		return
	}

	tenantID, ok := tenantFromContext(r)
	if !ok {
		h.renderTenantMissing(w, r)
		return
	}

	syncID := uuid.New().String()
	command := base.SyncCommand{
		CommandType: messaging.CommandSyncListings,
		TenantID:    tenantID,
		Source:      source,
		SyncID:      syncID,
	}

	data, err := json.Marshal(command)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка сериализации команды синхронизации",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка постановки синхронизации в очередь",
		})
		return
	}

	if err := h.broker.PublishForTenant(r.Context(), h.commandTopic, data, tenantID); err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка публикации команды синхронизации",
			interfaces.LogField{Key: "topic", Value: h.commandTopic},
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка постановки синхронизации в очередь",
		})
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, response{
		Success: true,
		Data: map[string]interface{}{
			"sync_id": syncID,
			"source":  source,
			"status":  "queued",
		},
	})
}

// ListSyncRuns обрабатывает запрос на получение истории запусков
// синхронизации маркетплейса
func (h *MarketplaceHandler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	tenantID, ok := tenantFromContext(r)
	if !ok {
		h.renderTenantMissing(w, r)
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 || limit > 200 {
		limit = 50
	}

	runs, err := h.syncService.ListSyncRuns(r.Context(), tenantID, source, limit)
	if err != nil {
		h.renderServiceError(w, r, err, "Ошибка получения истории синхронизаций")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    runs,
	})
}

// ListListings обрабатывает запрос на получение списка снимков листингов
func (h *MarketplaceHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	tenantID, ok := tenantFromContext(r)
	if !ok {
		h.renderTenantMissing(w, r)
		return
	}

	// Получаем параметры пагинации
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err := strconv.Atoi(r.URL.Query().Get("page_size"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	// Собираем фильтр из параметров запроса
	filter := &models.ListingFilter{Source: source}

	if brand := r.URL.Query().Get("brand"); brand != "" {
		filter.Brand = brand
	}

	if syncID := r.URL.Query().Get("sync_id"); syncID != "" {
		filter.SyncID = syncID
	}

	if minPrice := r.URL.Query().Get("min_price"); minPrice != "" {
		if price, err := strconv.ParseFloat(minPrice, 64); err == nil {
			filter.MinPrice = price
		}
	}

	if maxPrice := r.URL.Query().Get("max_price"); maxPrice != "" {
		if price, err := strconv.ParseFloat(maxPrice, 64); err == nil {
			filter.MaxPrice = price
		}
	}

	if inStock := r.URL.Query().Get("in_stock"); inStock != "" {
		if value, err := strconv.ParseBool(inStock); err == nil {
			filter.InStock = &value
		}
	}

	if updatedAfter := r.URL.Query().Get("updated_after"); updatedAfter != "" {
		if ts, err := strconv.ParseInt(updatedAfter, 10, 64); err == nil {
			filter.UpdatedAfter = ts
		}
	}

	if query := r.URL.Query().Get("q"); query != "" {
		filter.SearchQuery = query
	}

	listings, total, err := h.syncService.ListListings(r.Context(), tenantID, filter, page, pageSize)
	if err != nil {
		h.renderServiceError(w, r, err, "Ошибка получения списка листингов")
		return
	}

	// Создаем пагинацию
	pagination := pkgutils.NewPagination(page, pageSize, "updated_at", true)
	pagination.SetTotal(int64(total))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    listings,
		Meta: map[string]interface{}{
			"pagination": pagination,
		},
	})
}

// GetListing обрабатывает запрос на получение снимка листинга по внешнему
// ключу маркетплейса
func (h *MarketplaceHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	externalKey := chi.URLParam(r, "externalKey")
	if externalKey == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Внешний ключ листинга не указан",
		})
		return
	}

	tenantID, ok := tenantFromContext(r)
	if !ok {
		h.renderTenantMissing(w, r)
		return
	}

	listing, err := h.syncService.GetListing(r.Context(), tenantID, source, externalKey)
	if err != nil {
		h.renderServiceError(w, r, err, "Ошибка получения листинга")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    listing,
	})
}

// FetchPrices обрабатывает запрос на получение среза цен из кабинета
// Wildberries. Ответ API отдается как есть
func (h *MarketplaceHandler) FetchPrices(w http.ResponseWriter, r *http.Request) {
	query := wb.PricesQuery{}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if value, err := strconv.Atoi(limit); err == nil && value > 0 {
			query.Limit = value
		}
	}

	if offset := r.URL.Query().Get("offset"); offset != "" {
		if value, err := strconv.Atoi(offset); err == nil && value > 0 {
			query.Offset = value
		}
	}

	if rawIDs := r.URL.Query().Get("nm_ids"); rawIDs != "" {
		for _, part := range strings.Split(rawIDs, ",") {
			if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
				query.NMIDs = append(query.NMIDs, id)
			}
		}
	}

	prices, err := h.syncService.FetchPrices(r.Context(), query)
	if err != nil {
		h.renderServiceError(w, r, err, "Ошибка получения цен")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    prices,
	})
}

// pushPricesRequest тело запроса на обновление цен
type pushPricesRequest struct {
	Updates []wb.PriceUpdate `json:"updates"`
	DryRun  bool             `json:"dry_run,omitempty"`
}

// PushPrices обрабатывает запрос на отправку цен в Wildberries. При
// dry_run записи нормализуются и возвращаются без отправки
func (h *MarketplaceHandler) PushPrices(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r)
	if !ok {
		h.renderTenantMissing(w, r)
		return
	}

	var req pushPricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Некорректный формат данных",
		})
		return
	}

	if len(req.Updates) == 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "validation_error",
			Code:    http.StatusBadRequest,
			Message: "Список обновлений цен пуст",
		})
		return
	}

	// Параметр запроса dry_run имеет приоритет над телом
	dryRun := req.DryRun
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			dryRun = value
		}
	}

	result, err := h.syncService.PushPrices(r.Context(), tenantID, req.Updates, wb.UpdateOptions{DryRun: dryRun})
	if err != nil {
		h.renderServiceError(w, r, err, "Ошибка отправки цен")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    result,
	})
}

// ListPriceLog обрабатывает запрос на получение журнала отправки цен
func (h *MarketplaceHandler) ListPriceLog(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r)
	if !ok {
		h.renderTenantMissing(w, r)
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 100
	}

	entries, err := h.syncService.ListPriceLog(r.Context(), tenantID, limit)
	if err != nil {
		h.renderServiceError(w, r, err, "Ошибка получения журнала цен")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    entries,
	})
}

// tenantFromContext извлекает ID арендатора, положенный middleware
func tenantFromContext(r *http.Request) (string, bool) {
	tenantID, ok := r.Context().Value("tenant_id").(string)
	return tenantID, ok && tenantID != ""
}

// renderTenantMissing отвечает ошибкой отсутствующего арендатора
func (h *MarketplaceHandler) renderTenantMissing(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, errorResponse{
		Error:   "bad_request",
		Code:    http.StatusBadRequest,
		Message: "ID тенанта не указан",
	})
}

// renderServiceError сопоставляет ошибки доменного сервиса и шлюзов
// маркетплейсов со статусами HTTP
func (h *MarketplaceHandler) renderServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, utils.ErrUnsupportedSource):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "unsupported_source",
			Code:    http.StatusBadRequest,
			Message: "Маркетплейс не поддерживается",
		})
		return

	case errors.Is(err, utils.ErrGatewayNotConfigured):
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, errorResponse{
			Error:   "gateway_not_configured",
			Code:    http.StatusServiceUnavailable,
			Message: "Шлюз маркетплейса не сконфигурирован",
		})
		return

	case errors.Is(err, utils.ErrSyncAlreadyRunning):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, errorResponse{
			Error:   "sync_already_running",
			Code:    http.StatusConflict,
			Message: "Синхронизация этого маркетплейса уже выполняется",
		})
		return

	case errors.Is(err, utils.ErrListingNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errorResponse{
			Error:   "not_found",
			Code:    http.StatusNotFound,
			Message: "Листинг не найден",
		})
		return
	}

	// Сообщения ошибок шлюзов самодостаточны и предназначены оператору,
	// поэтому отдаются как есть
	if status, code, ok := classifyGatewayError(err); ok {
		render.Status(r, status)
		render.JSON(w, r, errorResponse{
			Error:   code,
			Code:    status,
			Message: err.Error(),
		})
		return
	}

	h.logger.ErrorWithContext(r.Context(), fallback,
		interfaces.LogField{Key: "error", Value: err.Error()})
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, errorResponse{
		Error:   "internal_error",
		Code:    http.StatusInternalServerError,
		Message: fallback,
	})
}

// classifyGatewayError распознает типизированные ошибки шлюзов WB и Ozon
func classifyGatewayError(err error) (int, string, bool) {
	var wbErr *wb.Error
	if errors.As(err, &wbErr) {
		kind := wbErr.Kind.String()
		return gatewayErrorStatus(kind), "gateway_" + kind, true
	}

	var ozonErr *ozon.Error
	if errors.As(err, &ozonErr) {
		kind := ozonErr.Kind.String()
		return gatewayErrorStatus(kind), "gateway_" + kind, true
	}

	return 0, "", false
}

// gatewayErrorStatus сопоставляет вид ошибки шлюза со статусом ответа.
// Ошибки авторизации и сети отдаются как 502: проблема не в запросе
// оператора, а в связке сервиса с маркетплейсом
func gatewayErrorStatus(kind string) int {
	switch kind {
	case "configuration":
		return http.StatusBadRequest
	case "rate_limited":
		return http.StatusTooManyRequests
	case "not_found":
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
