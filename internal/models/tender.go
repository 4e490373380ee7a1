package models

import (
	"time"

	"github.com/tender-ingest/internal/types"
)

// MonetaryValue is an amount with its currency and conversion provenance.
type MonetaryValue struct {
	Amount        float64        `json:"amount"`
	Currency      types.Currency `json:"currency"`
	AmountUSD     float64        `json:"amountUsd"`
	RateUsed      float64        `json:"rateUsed"`
	RateSource    string         `json:"rateSource"` // "live", "cache" or "fallback"
	OriginalValue string         `json:"originalValue"`
}

// CanonicalTenderRecord is the normalized, storage-ready representation of a
// scraped tender. Dedup key: (tenant, sourcePortal, externalId); fallback
// match on (tenant, sourcePortal, title prefix, deadline within one day).
type CanonicalTenderRecord struct {
	ID              string               `json:"id" db:"id"`
	TenantID        string               `json:"tenantId" db:"tenant_id"`
	ExternalID      string               `json:"externalId" db:"external_id"`
	Title           string               `json:"title" db:"title"`
	TitleTranslated string               `json:"titleTranslated,omitempty" db:"title_translated"`
	Language        types.Language       `json:"language" db:"language"`
	Status          types.TenderStatus   `json:"status" db:"status"`
	Category        types.TenderCategory `json:"category" db:"category"`
	Deadline        *time.Time           `json:"deadline,omitempty" db:"deadline"`
	Value           MonetaryValue        `json:"value"`
	SourcePortal    types.SourcePortal   `json:"sourcePortal" db:"source_portal"`
	SourceURL       string               `json:"sourceUrl" db:"source_url"`
	ScrapedAt       time.Time            `json:"scrapedAt" db:"scraped_at"`
	OriginalData    map[string]string    `json:"originalData,omitempty"`
	CreatedAt       time.Time            `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time            `json:"updatedAt" db:"updated_at"`
}

// NeedsRewrite reports whether stored differs from incoming on the fields
// that matter for reconciliation: title, status, value or deadline.
func (r *CanonicalTenderRecord) NeedsRewrite(incoming *CanonicalTenderRecord) bool {
	if r.Title != incoming.Title {
		return true
	}
	if r.Status != incoming.Status {
		return true
	}
	if r.Value.Amount != incoming.Value.Amount {
		return true
	}
	if (r.Deadline == nil) != (incoming.Deadline == nil) {
		return true
	}
	if r.Deadline != nil && incoming.Deadline != nil && !r.Deadline.Equal(*incoming.Deadline) {
		return true
	}
	return false
}

// JobRunEntry is one append-only row in the durable job-run log.
type JobRunEntry struct {
	JobID        string          `json:"jobId"`
	TenantID     string          `json:"tenantId"`
	UserID       string          `json:"userId"`
	Status       types.JobStatus `json:"status"`
	Pages        int             `json:"pages"`
	RecordsFound int             `json:"recordsFound"`
	Imported     int             `json:"imported"`
	Updated      int             `json:"updated"`
	Skipped      int             `json:"skipped"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Metadata     string          `json:"metadata,omitempty"` // JSON blob, final metrics at completion
	RecordedAt   time.Time       `json:"recordedAt"`
}
