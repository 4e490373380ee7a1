// Package transform normalizes raw scraped records into canonical tender
// records and reconciles them against storage. It is a pure data layer: it
// never drives control flow in the orchestrator.
package transform

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	pipeerrors "github.com/tender-ingest/internal/errors"
	"github.com/tender-ingest/internal/logging"
	"github.com/tender-ingest/internal/models"
	"github.com/tender-ingest/internal/scraper"
	"github.com/tender-ingest/internal/types"
)

// BatchResult holds the aggregate counts of one artifact pass.
type BatchResult struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Transformer converts raw scraped records into canonical ones and upserts
// them. Per-record failures are logged and counted as skipped; only artifact
// level failures abort a batch.
type Transformer struct {
	store      TenderStore
	matcher    RecordMatcher
	classifier CategoryClassifier
	translator Translator
	rates      RateProvider
	logger     *logging.Logger
	now        func() time.Time
}

// Option configures optional Transformer collaborators.
type Option func(*Transformer)

// WithTranslator swaps the translation backend.
func WithTranslator(tr Translator) Option {
	return func(t *Transformer) { t.translator = tr }
}

// WithMatcher swaps the dedup strategy.
func WithMatcher(m RecordMatcher) Option {
	return func(t *Transformer) { t.matcher = m }
}

// WithClock pins the transformer's clock, for deterministic deadlines in tests.
func WithClock(now func() time.Time) Option {
	return func(t *Transformer) { t.now = now }
}

// NewTransformer creates a transformer with the default matcher and no-op
// translator.
func NewTransformer(
	store TenderStore,
	classifier CategoryClassifier,
	rates RateProvider,
	titlePrefixLen int,
	logger *logging.Logger,
	opts ...Option,
) *Transformer {
	t := &Transformer{
		store:      store,
		matcher:    NewDedupMatcher(store, titlePrefixLen),
		classifier: classifier,
		translator: NoopTranslator{},
		rates:      rates,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TransformBatch reads the artifact at path and reconciles every row for the
// given tenant and portal. Returns aggregate counts; per-record failures are
// counted as skipped and never abort the batch.
func (t *Transformer) TransformBatch(ctx context.Context, path, tenantID string, portal types.SourcePortal) (*BatchResult, error) {
	raws, malformed, err := scraper.ReadArtifact(path)
	if err != nil {
		return nil, pipeerrors.NewFatalError("could not read scraper artifact", err)
	}

	result := &BatchResult{Skipped: malformed}
	rates := t.rates.GetRates(ctx)

	for _, raw := range raws {
		record, err := t.transformRecord(ctx, raw, tenantID, portal, rates)
		if err != nil {
			t.logger.WithError(err).WithFields(map[string]interface{}{
				"externalId": raw.ID,
			}).Warn("Skipping malformed scraped record")
			result.Skipped++
			continue
		}

		outcome, err := t.reconcile(ctx, record)
		if err != nil {
			t.logger.WithError(err).WithFields(map[string]interface{}{
				"externalId": record.ExternalID,
			}).Warn("Skipping record after reconciliation failure")
			result.Skipped++
			continue
		}

		switch outcome {
		case outcomeImported:
			result.Imported++
		case outcomeUpdated:
			result.Updated++
		case outcomeSkipped:
			result.Skipped++
		}
	}

	t.logger.WithFields(map[string]interface{}{
		"imported": result.Imported,
		"updated":  result.Updated,
		"skipped":  result.Skipped,
	}).Info("Batch transform complete")

	return result, nil
}

type reconcileOutcome int

const (
	outcomeImported reconcileOutcome = iota
	outcomeUpdated
	outcomeSkipped
)

// transformRecord builds one canonical record from a raw row.
func (t *Transformer) transformRecord(
	ctx context.Context,
	raw types.RawTenderRecord,
	tenantID string,
	portal types.SourcePortal,
	rates Rates,
) (*models.CanonicalTenderRecord, error) {
	externalID := strings.TrimSpace(raw.ID)
	title := CleanTitle(raw.Title)
	if externalID == "" && title == "" {
		return nil, pipeerrors.NewRecordValidationError(raw.ID, "record carries neither an id nor a title")
	}

	amount, err := ParseMonetaryValue(raw.Value)
	if err != nil {
		return nil, pipeerrors.NewRecordValidationError(externalID, err.Error())
	}

	now := t.now()

	var deadline *time.Time
	if days, ok := ParseDaysLeft(raw.DaysLeft); ok {
		d := now.AddDate(0, 0, days)
		deadline = &d
	}

	lang := DetectLanguage(title)
	translated := title
	if lang != types.LanguageEnglish && lang != types.LanguageUnknown {
		if tr, err := t.translator.Translate(ctx, title, lang); err == nil {
			translated = tr
		} else {
			// Translation is best-effort; the original title stands in.
			t.logger.WithError(err).Debug("Title translation failed")
		}
	}

	return &models.CanonicalTenderRecord{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		ExternalID:      externalID,
		Title:           title,
		TitleTranslated: translated,
		Language:        lang,
		Status:          MapStatus(raw.Status),
		Category:        t.classifier.Classify(raw.Status, title),
		Deadline:        deadline,
		Value: models.MonetaryValue{
			Amount:        amount,
			Currency:      types.CurrencyKZT,
			AmountUSD:     amount * rates.USD,
			RateUsed:      rates.USD,
			RateSource:    rates.Source,
			OriginalValue: raw.Value,
		},
		SourcePortal: portal,
		SourceURL:    raw.URL,
		ScrapedAt:    now,
		OriginalData: map[string]string{
			"id":        raw.ID,
			"title":     raw.Title,
			"status":    raw.Status,
			"days_left": raw.DaysLeft,
			"value":     raw.Value,
			"url":       raw.URL,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// reconcile upserts one canonical record. A stored match is only rewritten
// when title, status, value or deadline actually differ.
func (t *Transformer) reconcile(ctx context.Context, record *models.CanonicalTenderRecord) (reconcileOutcome, error) {
	existing, err := t.matcher.Match(ctx, record)
	if err != nil {
		return outcomeSkipped, err
	}

	if existing == nil {
		if err := t.store.Insert(ctx, record); err != nil {
			return outcomeSkipped, err
		}
		return outcomeImported, nil
	}

	if !existing.NeedsRewrite(record) {
		return outcomeSkipped, nil
	}

	record.ID = existing.ID
	record.CreatedAt = existing.CreatedAt
	if err := t.store.Update(ctx, record); err != nil {
		return outcomeSkipped, err
	}
	return outcomeUpdated, nil
}

// Known source status labels, keyed lowercase.
var statusLabels = map[string]types.TenderStatus{
	"открытый тендер":      types.TenderStatusOpen,
	"открытый конкурс":     types.TenderStatusOpen,
	"прием заявок":         types.TenderStatusOpen,
	"завершен":             types.TenderStatusClosed,
	"завершён":             types.TenderStatusClosed,
	"итоги подведены":      types.TenderStatusAwarded,
	"определен победитель": types.TenderStatusAwarded,
	"open tender":          types.TenderStatusOpen,
	"closed":               types.TenderStatusClosed,
	"awarded":              types.TenderStatusAwarded,
}

// MapStatus maps a source-vocabulary status onto the normalized enum.
func MapStatus(raw string) types.TenderStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	if status, ok := statusLabels[key]; ok {
		return status
	}

	switch {
	case strings.Contains(key, "открыт"), strings.Contains(key, "open"):
		return types.TenderStatusOpen
	case strings.Contains(key, "заверш"), strings.Contains(key, "clos"):
		return types.TenderStatusClosed
	case strings.Contains(key, "итог"), strings.Contains(key, "побед"), strings.Contains(key, "award"):
		return types.TenderStatusAwarded
	}
	return types.TenderStatusUnknown
}
