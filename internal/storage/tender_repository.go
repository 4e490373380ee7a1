package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/tender-ingest/internal/models"
	"github.com/tender-ingest/internal/types"
)

// psql builds statements with $N placeholders for pgx.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const tenderColumns = `id, tenant_id, external_id, title, title_translated, language,
	status, category, deadline, value_amount, value_currency, value_usd,
	rate_used, rate_source, value_original, source_portal, source_url,
	scraped_at, original_data, created_at, updated_at`

// TenderFilter narrows List queries. Zero values mean no constraint.
type TenderFilter struct {
	Status         types.TenderStatus
	Category       types.TenderCategory
	Portal         types.SourcePortal
	MinValue       float64
	DeadlineBefore *time.Time
	Limit          int
	Offset         int
}

// TenderRepository persists canonical tender records in Postgres.
type TenderRepository struct {
	db *PostgresDB
}

// NewTenderRepository creates a tender repository.
func NewTenderRepository(db *PostgresDB) *TenderRepository {
	return &TenderRepository{db: db}
}

// Insert stores a new record.
func (r *TenderRepository) Insert(ctx context.Context, record *models.CanonicalTenderRecord) error {
	originalData, err := json.Marshal(record.OriginalData)
	if err != nil {
		return fmt.Errorf("failed to encode original data: %w", err)
	}

	query, args, err := psql.Insert("tenders").
		Columns("id", "tenant_id", "external_id", "title", "title_translated",
			"language", "status", "category", "deadline", "value_amount",
			"value_currency", "value_usd", "rate_used", "rate_source",
			"value_original", "source_portal", "source_url", "scraped_at",
			"original_data", "created_at", "updated_at").
		Values(record.ID, record.TenantID, record.ExternalID, record.Title,
			record.TitleTranslated, record.Language, record.Status,
			record.Category, record.Deadline, record.Value.Amount,
			record.Value.Currency, record.Value.AmountUSD, record.Value.RateUsed,
			record.Value.RateSource, record.Value.OriginalValue,
			record.SourcePortal, record.SourceURL, record.ScrapedAt,
			originalData, record.CreatedAt, record.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert tender: %w", err)
	}
	return nil
}

// Update rewrites an existing record in place.
func (r *TenderRepository) Update(ctx context.Context, record *models.CanonicalTenderRecord) error {
	originalData, err := json.Marshal(record.OriginalData)
	if err != nil {
		return fmt.Errorf("failed to encode original data: %w", err)
	}

	query, args, err := psql.Update("tenders").
		Set("title", record.Title).
		Set("title_translated", record.TitleTranslated).
		Set("language", record.Language).
		Set("status", record.Status).
		Set("category", record.Category).
		Set("deadline", record.Deadline).
		Set("value_amount", record.Value.Amount).
		Set("value_currency", record.Value.Currency).
		Set("value_usd", record.Value.AmountUSD).
		Set("rate_used", record.Value.RateUsed).
		Set("rate_source", record.Value.RateSource).
		Set("value_original", record.Value.OriginalValue).
		Set("source_url", record.SourceURL).
		Set("scraped_at", record.ScrapedAt).
		Set("original_data", originalData).
		Set("updated_at", record.UpdatedAt).
		Where(sq.Eq{"id": record.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	tag, err := r.db.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update tender: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tender %s not found", record.ID)
	}
	return nil
}

// FindByExternalID looks a record up by its dedup key. Returns (nil, nil)
// when absent.
func (r *TenderRepository) FindByExternalID(ctx context.Context, tenantID string, portal types.SourcePortal, externalID string) (*models.CanonicalTenderRecord, error) {
	query, args, err := psql.Select(tenderColumns).
		From("tenders").
		Where(sq.Eq{
			"tenant_id":     tenantID,
			"source_portal": portal,
			"external_id":   externalID,
		}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	return r.queryOne(ctx, query, args)
}

// FindByFuzzyMatch looks a record up by title prefix and a deadline window.
// Used when the source dropped or changed the external id.
func (r *TenderRepository) FindByFuzzyMatch(ctx context.Context, tenantID string, portal types.SourcePortal, titlePrefix string, deadline time.Time, window time.Duration) (*models.CanonicalTenderRecord, error) {
	query, args, err := psql.Select(tenderColumns).
		From("tenders").
		Where(sq.Eq{
			"tenant_id":     tenantID,
			"source_portal": portal,
		}).
		Where(sq.Like{"title": titlePrefix + "%"}).
		Where(sq.GtOrEq{"deadline": deadline.Add(-window)}).
		Where(sq.LtOrEq{"deadline": deadline.Add(window)}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	return r.queryOne(ctx, query, args)
}

// GetByID returns one record, or (nil, nil) when absent.
func (r *TenderRepository) GetByID(ctx context.Context, tenantID, id string) (*models.CanonicalTenderRecord, error) {
	query, args, err := psql.Select(tenderColumns).
		From("tenders").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	return r.queryOne(ctx, query, args)
}

// List returns a tenant's records, newest scrape first.
func (r *TenderRepository) List(ctx context.Context, tenantID string, filter TenderFilter) ([]*models.CanonicalTenderRecord, error) {
	builder := psql.Select(tenderColumns).
		From("tenders").
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("scraped_at DESC")

	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}
	if filter.Category != "" {
		builder = builder.Where(sq.Eq{"category": filter.Category})
	}
	if filter.Portal != "" {
		builder = builder.Where(sq.Eq{"source_portal": filter.Portal})
	}
	if filter.MinValue > 0 {
		builder = builder.Where(sq.GtOrEq{"value_amount": filter.MinValue})
	}
	if filter.DeadlineBefore != nil {
		builder = builder.Where(sq.LtOrEq{"deadline": *filter.DeadlineBefore})
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	builder = builder.Limit(uint64(limit))
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenders: %w", err)
	}
	defer rows.Close()

	var records []*models.CanonicalTenderRecord
	for rows.Next() {
		record, err := scanTender(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Count returns the number of records matching the tenant.
func (r *TenderRepository) Count(ctx context.Context, tenantID string) (int64, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("tenders").
		Where(sq.Eq{"tenant_id": tenantID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var count int64
	if err := r.db.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tenders: %w", err)
	}
	return count, nil
}

func (r *TenderRepository) queryOne(ctx context.Context, query string, args []interface{}) (*models.CanonicalTenderRecord, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tender: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, nil
	}
	return scanTender(rows)
}

func scanTender(rows pgx.Rows) (*models.CanonicalTenderRecord, error) {
	var record models.CanonicalTenderRecord
	var originalData []byte

	err := rows.Scan(
		&record.ID, &record.TenantID, &record.ExternalID, &record.Title,
		&record.TitleTranslated, &record.Language, &record.Status,
		&record.Category, &record.Deadline, &record.Value.Amount,
		&record.Value.Currency, &record.Value.AmountUSD, &record.Value.RateUsed,
		&record.Value.RateSource, &record.Value.OriginalValue,
		&record.SourcePortal, &record.SourceURL, &record.ScrapedAt,
		&originalData, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan tender: %w", err)
	}

	if len(originalData) > 0 {
		if err := json.Unmarshal(originalData, &record.OriginalData); err != nil {
			return nil, fmt.Errorf("failed to decode original data: %w", err)
		}
	}
	return &record, nil
}
