package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/api/handlers"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/wb"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/security"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService минимальная реализация SyncServiceInterface для проверки
// маршрутизации
type stubService struct{}

func (s *stubService) ListListings(context.Context, string, *models.ListingFilter, int, int) ([]*models.ListingSnapshot, int, error) {
	return nil, 0, nil
}

func (s *stubService) GetListing(context.Context, string, string, string) (*models.ListingSnapshot, error) {
	return &models.ListingSnapshot{ID: "l-1"}, nil
}

func (s *stubService) ListSyncRuns(context.Context, string, string, int) ([]*models.SyncRun, error) {
	return nil, nil
}

func (s *stubService) FetchPrices(context.Context, wb.PricesQuery) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (s *stubService) PushPrices(context.Context, string, []wb.PriceUpdate, wb.UpdateOptions) (*wb.PriceUpdateResult, error) {
	return &wb.PriceUpdateResult{}, nil
}

func (s *stubService) ListPriceLog(context.Context, string, int) ([]*models.PriceUpdateLog, error) {
	return nil, nil
}

func (s *stubService) CheckConnection(context.Context, string) (*models.ConnectionReport, error) {
	return &models.ConnectionReport{Status: "ok"}, nil
}

// stubBroker брокер, который всегда принимает сообщения
type stubBroker struct {
	published int
}

func (b *stubBroker) Publish(context.Context, string, []byte) error { return nil }

func (b *stubBroker) PublishForTenant(context.Context, string, []byte, string) error {
	b.published++
	return nil
}

func (b *stubBroker) Subscribe(context.Context, string, interfaces.MessageHandler) (func() error, error) {
	return func() error { return nil }, nil
}

func (b *stubBroker) SubscribeGroup(context.Context, string, string, interfaces.MessageHandler) (func() error, error) {
	return func() error { return nil }, nil
}

func (b *stubBroker) Close() error { return nil }

func newTestRouter(t *testing.T) (http.Handler, *security.JWTManager, *stubBroker) {
	t.Helper()

	manager, err := security.NewJWTManager("router-test-secret", "marketplace-service", time.Hour)
	require.NoError(t, err)

	broker := &stubBroker{}
	router := SetupRouter(RouterConfig{
		SyncService:        &stubService{},
		Broker:             broker,
		Logger:             logger.NewNopLogger(),
		CORSAllowedOrigins: []string{"*"},
		JWTManager:         manager,
	})

	return router, manager, broker
}

func authRequest(t *testing.T, manager *security.JWTManager, method, target string, roles []string) *http.Request {
	t.Helper()

	token, err := manager.Generate("user-1", "tenant-1", roles)
	require.NoError(t, err)

	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestRouterHealthWithoutAuth(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRouterReadyCheckFailure(t *testing.T) {
	manager, err := security.NewJWTManager("router-test-secret", "marketplace-service", time.Hour)
	require.NoError(t, err)

	router := SetupRouter(RouterConfig{
		SyncService: &stubService{},
		Broker:      &stubBroker{},
		Logger:      logger.NewNopLogger(),
		JWTManager:  manager,
		ReadyCheck: func(ctx context.Context) error {
			return errors.New("postgres is down")
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterMetricsExposed(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRouterRequiresAuth(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/marketplaces", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterListMarketplaces(t *testing.T) {
	router, manager, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, manager, http.MethodGet, "/api/v1/marketplaces", []string{"viewer"}))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterTriggerSyncWithRole(t *testing.T) {
	router, manager, broker := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, manager, http.MethodPost, "/api/v1/marketplaces/wb/sync", []string{"admin"}))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, broker.published)
}

func TestRouterTriggerSyncForbiddenWithoutRole(t *testing.T) {
	router, manager, broker := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, manager, http.MethodPost, "/api/v1/marketplaces/wb/sync", []string{"viewer"}))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, broker.published)
}

func TestRouterSourceStatusRoute(t *testing.T) {
	router, manager, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, manager, http.MethodGet, "/api/v1/marketplaces/wb/status", []string{"viewer"}))

	// Статический маршрут /wb/prices не должен перекрывать {source}/status
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterPricesRoute(t *testing.T) {
	router, manager, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, manager, http.MethodGet, "/api/v1/marketplaces/wb/prices", []string{"viewer"}))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterListingsRoute(t *testing.T) {
	router, manager, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, manager, http.MethodGet, "/api/v1/marketplaces/ozon/listings?page=1", []string{"viewer"}))

	assert.Equal(t, http.StatusOK, rec.Code)
}
