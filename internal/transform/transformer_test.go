package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tender-ingest/internal/logging"
	"github.com/tender-ingest/internal/models"
	"github.com/tender-ingest/internal/types"
)

// memTenderStore is an in-memory TenderStore for exercising reconciliation.
type memTenderStore struct {
	records   map[string]*models.CanonicalTenderRecord
	insertErr error
}

func newMemTenderStore() *memTenderStore {
	return &memTenderStore{records: make(map[string]*models.CanonicalTenderRecord)}
}

func (s *memTenderStore) FindByExternalID(ctx context.Context, tenantID string, portal types.SourcePortal, externalID string) (*models.CanonicalTenderRecord, error) {
	for _, r := range s.records {
		if r.TenantID == tenantID && r.SourcePortal == portal && r.ExternalID == externalID {
			return cloneRecord(r), nil
		}
	}
	return nil, nil
}

func (s *memTenderStore) FindByFuzzyMatch(ctx context.Context, tenantID string, portal types.SourcePortal, titlePrefix string, deadline time.Time, window time.Duration) (*models.CanonicalTenderRecord, error) {
	for _, r := range s.records {
		if r.TenantID != tenantID || r.SourcePortal != portal || r.Deadline == nil {
			continue
		}
		if !strings.HasPrefix(r.Title, titlePrefix) {
			continue
		}
		diff := r.Deadline.Sub(deadline)
		if diff < 0 {
			diff = -diff
		}
		if diff <= window {
			return cloneRecord(r), nil
		}
	}
	return nil, nil
}

func (s *memTenderStore) Insert(ctx context.Context, record *models.CanonicalTenderRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.records[record.ID] = cloneRecord(record)
	return nil
}

func (s *memTenderStore) Update(ctx context.Context, record *models.CanonicalTenderRecord) error {
	if _, ok := s.records[record.ID]; !ok {
		return fmt.Errorf("record %s not found", record.ID)
	}
	s.records[record.ID] = cloneRecord(record)
	return nil
}

func cloneRecord(r *models.CanonicalTenderRecord) *models.CanonicalTenderRecord {
	c := *r
	if r.Deadline != nil {
		d := *r.Deadline
		c.Deadline = &d
	}
	return &c
}

func writeArtifact(t *testing.T, rows ...string) string {
	t.Helper()
	lines := append([]string{"id\ttitle\tstatus\tdays_left\tvalue\turl"}, rows...)
	path := filepath.Join(t.TempDir(), "results.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func newTestTransformer(store TenderStore, opts ...Option) *Transformer {
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	classifier := NewKeywordClassifier(defaultCategoryRules())
	rates := StaticRates{USD: 0.002, MYR: 0.0078}
	return NewTransformer(store, classifier, rates, 50, logger, opts...)
}

func TestTransformBatchImportsNewRecords(t *testing.T) {
	store := newMemTenderStore()
	tr := newTestTransformer(store)

	path := writeArtifact(t,
		"T-100\tСтроительство школы в Астане\tОткрытый тендер\t14 days\t1,234,567.89\thttps://zakup.sk.kz/t/100",
		"T-101\tЗакупка серверного оборудования\tОткрытый тендер\t7 days\t500000\thttps://zakup.sk.kz/t/101",
	)

	result, err := tr.TransformBatch(context.Background(), path, "tenant-1", types.PortalZakupSK)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Skipped)
	assert.Len(t, store.records, 2)

	stored, err := store.FindByExternalID(context.Background(), "tenant-1", types.PortalZakupSK, "T-100")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Строительство школы в Астане", stored.Title)
	assert.Equal(t, types.TenderStatusOpen, stored.Status)
	assert.Equal(t, types.CategoryConstruction, stored.Category)
	assert.InDelta(t, 1234567.89, stored.Value.Amount, 0.001)
	assert.InDelta(t, 1234567.89*0.002, stored.Value.AmountUSD, 0.01)
	assert.Equal(t, types.CurrencyKZT, stored.Value.Currency)
	require.NotNil(t, stored.Deadline)
}

func TestTransformBatchIdenticalRecordSkippedOnSecondPass(t *testing.T) {
	store := newMemTenderStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tr := newTestTransformer(store, WithClock(func() time.Time { return now }))

	path := writeArtifact(t,
		"T-200\tПоставка медицинского оборудования\tОткрытый тендер\t21 days\t2500000\thttps://zakup.sk.kz/t/200",
	)

	first, err := tr.TransformBatch(context.Background(), path, "tenant-1", types.PortalZakupSK)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Imported)

	second, err := tr.TransformBatch(context.Background(), path, "tenant-1", types.PortalZakupSK)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, store.records, 1)
}

func TestTransformBatchChangedDeadlineTriggersUpdate(t *testing.T) {
	store := newMemTenderStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tr := newTestTransformer(store, WithClock(func() time.Time { return now }))

	path1 := writeArtifact(t,
		"T-300\tРемонт дорожного покрытия\tОткрытый тендер\t30 days\t9000000\thttps://zakup.sk.kz/t/300",
	)
	first, err := tr.TransformBatch(context.Background(), path1, "tenant-1", types.PortalZakupSK)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Imported)

	path2 := writeArtifact(t,
		"T-300\tРемонт дорожного покрытия\tОткрытый тендер\t10 days\t9000000\thttps://zakup.sk.kz/t/300",
	)
	second, err := tr.TransformBatch(context.Background(), path2, "tenant-1", types.PortalZakupSK)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 1, second.Updated)
	assert.Equal(t, 0, second.Skipped)

	require.Len(t, store.records, 1)
	for _, stored := range store.records {
		require.NotNil(t, stored.Deadline)
		assert.Equal(t, now.AddDate(0, 0, 10), *stored.Deadline)
	}
}

func TestTransformBatchUpdatePreservesIdentity(t *testing.T) {
	store := newMemTenderStore()
	tr := newTestTransformer(store)

	path1 := writeArtifact(t,
		"T-400\tАудит финансовой отчетности\tОткрытый тендер\t\t100000\thttps://zakup.sk.kz/t/400",
	)
	_, err := tr.TransformBatch(context.Background(), path1, "tenant-1", types.PortalZakupSK)
	require.NoError(t, err)

	var originalID string
	var originalCreated time.Time
	for id, r := range store.records {
		originalID = id
		originalCreated = r.CreatedAt
	}

	path2 := writeArtifact(t,
		"T-400\tАудит финансовой отчетности\tЗавершен\t\t100000\thttps://zakup.sk.kz/t/400",
	)
	second, err := tr.TransformBatch(context.Background(), path2, "tenant-1", types.PortalZakupSK)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Updated)

	stored, ok := store.records[originalID]
	require.True(t, ok, "update must keep the stored record's id")
	assert.Equal(t, originalCreated, stored.CreatedAt)
	assert.Equal(t, types.TenderStatusClosed, stored.Status)
}

func TestTransformBatchFuzzyMatchWithoutExternalID(t *testing.T) {
	store := newMemTenderStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tr := newTestTransformer(store, WithClock(func() time.Time { return now }))

	path1 := writeArtifact(t,
		"T-500\tПеревозка грузов по региональным маршрутам\tОткрытый тендер\t5 days\t750000\thttps://zakup.sk.kz/t/500",
	)
	_, err := tr.TransformBatch(context.Background(), path1, "tenant-1", types.PortalZakupSK)
	require.NoError(t, err)

	// Same tender re-scraped without its id. The title prefix and deadline
	// window still resolve it to the stored record.
	path2 := writeArtifact(t,
		"\tПеревозка грузов по региональным маршрутам\tОткрытый тендер\t5 days\t750000\thttps://zakup.sk.kz/t/500",
	)
	second, err := tr.TransformBatch(context.Background(), path2, "tenant-1", types.PortalZakupSK)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, store.records, 1)
}

func TestTransformBatchTenantsAreIsolated(t *testing.T) {
	store := newMemTenderStore()
	tr := newTestTransformer(store)

	path := writeArtifact(t,
		"T-600\tПоставка канцелярских товаров\tОткрытый тендер\t12 days\t50000\thttps://zakup.sk.kz/t/600",
	)

	first, err := tr.TransformBatch(context.Background(), path, "tenant-1", types.PortalZakupSK)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Imported)

	second, err := tr.TransformBatch(context.Background(), path, "tenant-2", types.PortalZakupSK)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Imported, "same external id under another tenant is a distinct record")
	assert.Len(t, store.records, 2)
}

func TestTransformBatchCountsBadRecordsAsSkipped(t *testing.T) {
	store := newMemTenderStore()
	tr := newTestTransformer(store)

	path := writeArtifact(t,
		"T-700\tНормальная запись\tОткрытый тендер\t3 days\t10000\thttps://zakup.sk.kz/t/700",
		"T-701\tЗапись без суммы\tОткрытый тендер\t3 days\tдоговорная\thttps://zakup.sk.kz/t/701",
		"\t\tОткрытый тендер\t3 days\t10000\thttps://zakup.sk.kz/t/702",
		"only\ttwo",
	)

	result, err := tr.TransformBatch(context.Background(), path, "tenant-1", types.PortalZakupSK)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 3, result.Skipped, "bad value, empty identity and malformed row all count as skipped")
	assert.Len(t, store.records, 1)
}

func TestTransformBatchStoreFailureSkipsRecordOnly(t *testing.T) {
	store := newMemTenderStore()
	store.insertErr = fmt.Errorf("connection reset")
	tr := newTestTransformer(store)

	path := writeArtifact(t,
		"T-800\tПервая запись\tОткрытый тендер\t3 days\t10000\thttps://zakup.sk.kz/t/800",
		"T-801\tВторая запись\tОткрытый тендер\t3 days\t10000\thttps://zakup.sk.kz/t/801",
	)

	result, err := tr.TransformBatch(context.Background(), path, "tenant-1", types.PortalZakupSK)
	require.NoError(t, err, "a failing store aborts records, not the batch")
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 2, result.Skipped)
}

func TestTransformBatchMissingArtifactIsFatal(t *testing.T) {
	tr := newTestTransformer(newMemTenderStore())

	_, err := tr.TransformBatch(context.Background(), "/nonexistent/results.csv", "tenant-1", types.PortalZakupSK)
	require.Error(t, err)
}
