package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/tx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ListingStorageInterface определяет интерфейс взаимодействия с хранилищем PostgreSQL
type ListingStorageInterface interface {
	// Снимки листингов
	// SaveListings сохраняет партию снимков и возвращает, сколько строк
	// вставлено и сколько обновлено
	SaveListings(ctx context.Context, listings []*models.ListingSnapshot, tenantID string) (int, int, error)
	GetListing(ctx context.Context, tenantID, source, externalKey string) (*models.ListingSnapshot, error)
	ListListings(ctx context.Context, tenantID string, filters map[string]interface{}, page, pageSize int) ([]*models.ListingSnapshot, int, error)

	// Запуски синхронизаций
	SaveSyncRun(ctx context.Context, run *models.SyncRun, tenantID string) error
	ListSyncRuns(ctx context.Context, tenantID, source string, limit int) ([]*models.SyncRun, error)

	// Журнал отправки цен
	SavePriceLog(ctx context.Context, entries []*models.PriceUpdateLog, tenantID string) error
	ListPriceLog(ctx context.Context, tenantID string, limit int) ([]*models.PriceUpdateLog, error)
}

// ListingStoragePort полный порт хранилища: методы данных плюс управление
// транзакциями и соединением
type ListingStoragePort interface {
	ListingStorageInterface

	BeginTx(ctx context.Context) (context.Context, error)

	CommitTx(ctx context.Context) error

	RollbackTx(ctx context.Context) error

	Close() error
}

// ListingStorage реализация порта хранилища для PostgreSQL
type ListingStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage создает новый экземпляр ListingStorage
func NewPostgresStorage(ctx context.Context, connectionString string) (*ListingStorage, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &ListingStorage{
		pool: pool,
	}, nil
}

func NewPostgresStorageWithPool(ctx context.Context, pool *pgxpool.Pool) (*ListingStorage, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &ListingStorage{
		pool: pool,
	}, nil
}

// Close закрывает соединение с БД
func (r *ListingStorage) Close() error {
	r.pool.Close()
	return nil
}

type executor interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// getExecutor возвращает исполнителя запросов (транзакцию или пул)
func (r *ListingStorage) getExecutor(ctx context.Context) executor {
	if tx := r.getTx(ctx); tx != nil {
		return tx // pgx.Tx реализует нужные методы
	}
	return r.pool // *pgxpool.Pool тоже реализует нужные методы
}

// getTx получает транзакцию из контекста. Ключ общий с tx.TxManager,
// поэтому запросы попадают и во внешние транзакции.
func (r *ListingStorage) getTx(ctx context.Context) pgx.Tx {
	txFromCtx, ok := ctx.Value(tx.GetKey()).(pgx.Tx)
	if !ok {
		return nil
	}
	return txFromCtx
}

// BeginTx начинает новую транзакцию
func (r *ListingStorage) BeginTx(ctx context.Context) (context.Context, error) {
	pgTx, err := r.pool.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, tx.GetKey(), pgTx), nil
}

// CommitTx фиксирует транзакцию
func (r *ListingStorage) CommitTx(ctx context.Context) error {
	pgTx := r.getTx(ctx)
	if pgTx == nil {
		return errors.New("no transaction in context")
	}
	return pgTx.Commit(ctx)
}

// RollbackTx откатывает транзакцию
func (r *ListingStorage) RollbackTx(ctx context.Context) error {
	pgTx := r.getTx(ctx)
	if pgTx == nil {
		return errors.New("no transaction in context")
	}
	return pgTx.Rollback(ctx)
}

// SaveListings сохраняет партию снимков листингов. Строки сопоставляются
// по составному ключу (tenant_id, source, external_key, external_key_type):
// существующие обновляются, новые вставляются. RETURNING (xmax = 0)
// отличает вставку от обновления.
func (r *ListingStorage) SaveListings(ctx context.Context, listings []*models.ListingSnapshot, tenantID string) (int, int, error) {
	executor := r.getExecutor(ctx)

	query := `
		INSERT INTO marketplace.listings (id, tenant_id, source, external_key, external_key_type,
			nm_id, product_id, offer_id, sku, title, brand, price, stock, image_urls, extra,
			sync_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (tenant_id, source, external_key, external_key_type)
		DO UPDATE SET
			nm_id = $6,
			product_id = $7,
			offer_id = $8,
			sku = $9,
			title = $10,
			brand = $11,
			price = $12,
			stock = $13,
			image_urls = $14,
			extra = $15,
			sync_id = $16,
			updated_at = $18
		RETURNING (xmax = 0)
	`

	now := time.Now().UTC()
	inserted, updated := 0, 0

	for _, listing := range listings {
		if listing.ID == "" {
			listing.ID = uuid.New().String()
		}
		if listing.TenantID == "" {
			listing.TenantID = tenantID
		}
		if listing.CreatedAt.IsZero() {
			listing.CreatedAt = now
		}
		listing.UpdatedAt = now

		imagesJSON, err := json.Marshal(listing.ImageURLs)
		if err != nil {
			return inserted, updated, fmt.Errorf("failed to marshal image urls: %w", err)
		}

		args := []interface{}{
			listing.ID, tenantID, listing.Source, listing.ExternalKey, listing.ExternalKeyType,
			listing.NMID, listing.ProductID, listing.OfferID, listing.SKU, listing.Title,
			listing.Brand, listing.Price, listing.Stock, imagesJSON, listing.Extra,
			listing.SyncID, listing.CreatedAt, listing.UpdatedAt,
		}

		var insertedRow bool
		switch e := executor.(type) {
		case pgx.Tx:
			err = e.QueryRow(ctx, query, args...).Scan(&insertedRow)
		case *pgxpool.Pool:
			err = e.QueryRow(ctx, query, args...).Scan(&insertedRow)
		}

		if err != nil {
			return inserted, updated, fmt.Errorf("failed to save listing: %w", err)
		}
		if insertedRow {
			inserted++
		} else {
			updated++
		}
	}

	return inserted, updated, nil
}

const listingColumns = `id, tenant_id, source, external_key, external_key_type,
		nm_id, product_id, offer_id, sku, title, brand, price, stock, image_urls, extra,
		sync_id, created_at, updated_at`

// GetListing получает снимок листинга по внешнему ключу маркетплейса.
// При нескольких типах ключа с одинаковым значением берётся самый свежий.
func (r *ListingStorage) GetListing(ctx context.Context, tenantID, source, externalKey string) (*models.ListingSnapshot, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT ` + listingColumns + `
		FROM marketplace.listings
		WHERE tenant_id = $1 AND source = $2 AND external_key = $3
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var row pgx.Row
	switch e := executor.(type) {
	case pgx.Tx:
		row = e.QueryRow(ctx, query, tenantID, source, externalKey)
	case *pgxpool.Pool:
		row = e.QueryRow(ctx, query, tenantID, source, externalKey)
	}

	listing, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Листинг не найден
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	return listing, nil
}

// ListListings возвращает страницу снимков листингов с фильтрацией
func (r *ListingStorage) ListListings(ctx context.Context, tenantID string, filters map[string]interface{}, page, pageSize int) ([]*models.ListingSnapshot, int, error) {
	baseQuery := `
		FROM marketplace.listings
		WHERE tenant_id = $1
	`

	args := []interface{}{tenantID}
	conditions, args := buildListingConditions(filters, args)

	whereTail := ""
	if len(conditions) > 0 {
		whereTail = " AND " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) " + baseQuery + whereTail

	var total int
	executor := r.getExecutor(ctx)

	switch e := executor.(type) {
	case pgx.Tx:
		err := e.QueryRow(ctx, countQuery, args...).Scan(&total)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count listings: %w", err)
		}
	case *pgxpool.Pool:
		err := e.QueryRow(ctx, countQuery, args...).Scan(&total)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count listings: %w", err)
		}
	}

	if total == 0 {
		return []*models.ListingSnapshot{}, 0, nil
	}

	argPos := len(args) + 1
	args = append(args, pageSize, (page-1)*pageSize)

	dataQuery := `
		SELECT ` + listingColumns + `
	` + baseQuery + whereTail + `
		ORDER BY updated_at DESC
		LIMIT $` + fmt.Sprint(argPos) + ` OFFSET $` + fmt.Sprint(argPos+1)

	var rows pgx.Rows
	var err error

	switch e := executor.(type) {
	case pgx.Tx:
		rows, err = e.Query(ctx, dataQuery, args...)
	case *pgxpool.Pool:
		rows, err = e.Query(ctx, dataQuery, args...)
	}

	if err != nil {
		return nil, 0, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []*models.ListingSnapshot
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan listing row: %w", err)
		}
		listings = append(listings, listing)
	}

	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("error while iterating listing rows: %w", rows.Err())
	}

	return listings, total, nil
}

// scanListing читает одну строку листинга; image_urls хранится как jsonb
func scanListing(row pgx.Row) (*models.ListingSnapshot, error) {
	var listing models.ListingSnapshot
	var imagesJSON []byte

	err := row.Scan(&listing.ID, &listing.TenantID, &listing.Source, &listing.ExternalKey,
		&listing.ExternalKeyType, &listing.NMID, &listing.ProductID, &listing.OfferID,
		&listing.SKU, &listing.Title, &listing.Brand, &listing.Price, &listing.Stock,
		&imagesJSON, &listing.Extra, &listing.SyncID, &listing.CreatedAt, &listing.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &listing.ImageURLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal image urls: %w", err)
		}
	}

	return &listing, nil
}

// buildListingConditions превращает фильтры в условия WHERE. Каждое
// условие использует позиционные параметры, продолжая список args.
func buildListingConditions(filters map[string]interface{}, args []interface{}) ([]string, []interface{}) {
	var conditions []string

	addArg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if source, ok := filters["source"].(string); ok && source != "" {
		conditions = append(conditions, "source = "+addArg(source))
	}

	if brand, ok := filters["brand"].(string); ok && brand != "" {
		conditions = append(conditions, "brand ILIKE "+addArg(brand))
	}

	if syncID, ok := filters["sync_id"].(string); ok && syncID != "" {
		conditions = append(conditions, "sync_id = "+addArg(syncID))
	}

	if minPrice, ok := toFilterFloat(filters["min_price"]); ok {
		conditions = append(conditions, "price >= "+addArg(minPrice))
	}

	if maxPrice, ok := toFilterFloat(filters["max_price"]); ok {
		conditions = append(conditions, "price <= "+addArg(maxPrice))
	}

	if inStock, ok := filters["in_stock"].(bool); ok {
		if inStock {
			conditions = append(conditions, "stock > 0")
		} else {
			conditions = append(conditions, "(stock IS NULL OR stock <= 0)")
		}
	}

	if updatedAfter, ok := toFilterInt(filters["updated_after"]); ok {
		conditions = append(conditions, "updated_at > "+addArg(time.Unix(updatedAfter, 0).UTC()))
	}

	if search, ok := filters["search_query"].(string); ok && search != "" {
		pattern := "%" + search + "%"
		first := addArg(pattern)
		second := addArg(pattern)
		conditions = append(conditions, "(title ILIKE "+first+" OR brand ILIKE "+second+")")
	}

	return conditions, args
}

func toFilterFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, v > 0
	case int:
		return float64(v), v > 0
	case int64:
		return float64(v), v > 0
	}
	return 0, false
}

func toFilterInt(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, v > 0
	case int:
		return int64(v), v > 0
	case float64:
		return int64(v), v > 0
	}
	return 0, false
}

// SaveSyncRun сохраняет запуск синхронизации; повторный вызов с тем же ID
// обновляет статус и счетчики
func (r *ListingStorage) SaveSyncRun(ctx context.Context, run *models.SyncRun, tenantID string) error {
	executor := r.getExecutor(ctx)

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.TenantID == "" {
		run.TenantID = tenantID
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO marketplace.sync_runs (id, tenant_id, source, status, listings, inserted,
			updated, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id, tenant_id)
		DO UPDATE SET
			status = $4,
			listings = $5,
			inserted = $6,
			updated = $7,
			error = $8,
			finished_at = $10
	`

	var err error
	switch e := executor.(type) {
	case pgx.Tx:
		_, err = e.Exec(ctx, query, run.ID, tenantID, run.Source, run.Status, run.Listings,
			run.Inserted, run.Updated, run.Error, run.StartedAt, run.FinishedAt)
	case *pgxpool.Pool:
		_, err = e.Exec(ctx, query, run.ID, tenantID, run.Source, run.Status, run.Listings,
			run.Inserted, run.Updated, run.Error, run.StartedAt, run.FinishedAt)
	}

	if err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}

	return nil
}

// ListSyncRuns возвращает последние запуски синхронизаций; source
// пустой - по всем маркетплейсам
func (r *ListingStorage) ListSyncRuns(ctx context.Context, tenantID, source string, limit int) ([]*models.SyncRun, error) {
	executor := r.getExecutor(ctx)

	if limit <= 0 {
		limit = 50
	}

	var query string
	var args []interface{}

	if source == "" {
		query = `
			SELECT id, tenant_id, source, status, listings, inserted, updated, error, started_at, finished_at
			FROM marketplace.sync_runs
			WHERE tenant_id = $1
			ORDER BY started_at DESC
			LIMIT $2
		`
		args = []interface{}{tenantID, limit}
	} else {
		query = `
			SELECT id, tenant_id, source, status, listings, inserted, updated, error, started_at, finished_at
			FROM marketplace.sync_runs
			WHERE tenant_id = $1 AND source = $2
			ORDER BY started_at DESC
			LIMIT $3
		`
		args = []interface{}{tenantID, source, limit}
	}

	var rows pgx.Rows
	var err error

	switch e := executor.(type) {
	case pgx.Tx:
		rows, err = e.Query(ctx, query, args...)
	case *pgxpool.Pool:
		rows, err = e.Query(ctx, query, args...)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		err := rows.Scan(&run.ID, &run.TenantID, &run.Source, &run.Status, &run.Listings,
			&run.Inserted, &run.Updated, &run.Error, &run.StartedAt, &run.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run row: %w", err)
		}
		runs = append(runs, &run)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating sync run rows: %w", rows.Err())
	}

	return runs, nil
}

// SavePriceLog сохраняет записи журнала отправки цен
func (r *ListingStorage) SavePriceLog(ctx context.Context, entries []*models.PriceUpdateLog, tenantID string) error {
	executor := r.getExecutor(ctx)

	query := `
		INSERT INTO marketplace.price_log (id, tenant_id, source, nm_id, price, discount, dry_run, pushed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	now := time.Now().UTC()
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if entry.TenantID == "" {
			entry.TenantID = tenantID
		}
		if entry.PushedAt.IsZero() {
			entry.PushedAt = now
		}

		var err error
		switch e := executor.(type) {
		case pgx.Tx:
			_, err = e.Exec(ctx, query, entry.ID, tenantID, entry.Source, entry.NMID,
				entry.Price, entry.Discount, entry.DryRun, entry.PushedAt)
		case *pgxpool.Pool:
			_, err = e.Exec(ctx, query, entry.ID, tenantID, entry.Source, entry.NMID,
				entry.Price, entry.Discount, entry.DryRun, entry.PushedAt)
		}

		if err != nil {
			return fmt.Errorf("failed to save price log entry: %w", err)
		}
	}

	return nil
}

// ListPriceLog возвращает последние записи журнала отправки цен
func (r *ListingStorage) ListPriceLog(ctx context.Context, tenantID string, limit int) ([]*models.PriceUpdateLog, error) {
	executor := r.getExecutor(ctx)

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, source, nm_id, price, discount, dry_run, pushed_at
		FROM marketplace.price_log
		WHERE tenant_id = $1
		ORDER BY pushed_at DESC
		LIMIT $2
	`

	var rows pgx.Rows
	var err error

	switch e := executor.(type) {
	case pgx.Tx:
		rows, err = e.Query(ctx, query, tenantID, limit)
	case *pgxpool.Pool:
		rows, err = e.Query(ctx, query, tenantID, limit)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query price log: %w", err)
	}
	defer rows.Close()

	var entries []*models.PriceUpdateLog
	for rows.Next() {
		var entry models.PriceUpdateLog
		err := rows.Scan(&entry.ID, &entry.TenantID, &entry.Source, &entry.NMID,
			&entry.Price, &entry.Discount, &entry.DryRun, &entry.PushedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price log row: %w", err)
		}
		entries = append(entries, &entry)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating price log rows: %w", rows.Err())
	}

	return entries, nil
}
