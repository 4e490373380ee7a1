package transform

import (
	"context"
	"time"

	"github.com/tender-ingest/internal/models"
	"github.com/tender-ingest/internal/types"
)

// DeadlineMatchWindow is how far apart two deadlines may sit for the fuzzy
// match to still consider them the same tender.
const DeadlineMatchWindow = 24 * time.Hour

// TenderStore is the slice of the repository the transformer needs for
// reconciliation. Find methods return (nil, nil) when nothing matches.
type TenderStore interface {
	FindByExternalID(ctx context.Context, tenantID string, portal types.SourcePortal, externalID string) (*models.CanonicalTenderRecord, error)
	FindByFuzzyMatch(ctx context.Context, tenantID string, portal types.SourcePortal, titlePrefix string, deadline time.Time, window time.Duration) (*models.CanonicalTenderRecord, error)
	Insert(ctx context.Context, record *models.CanonicalTenderRecord) error
	Update(ctx context.Context, record *models.CanonicalTenderRecord) error
}

// RecordMatcher finds the stored record an incoming record corresponds to,
// if any. Implementations are swappable per portal.
type RecordMatcher interface {
	Match(ctx context.Context, incoming *models.CanonicalTenderRecord) (*models.CanonicalTenderRecord, error)
}

// DedupMatcher implements the standard two-step lookup: exact external id
// first, then a fuzzy title-prefix + deadline-window match for records whose
// external id is absent or has changed upstream.
type DedupMatcher struct {
	store          TenderStore
	titlePrefixLen int
}

// NewDedupMatcher creates the default record matcher.
func NewDedupMatcher(store TenderStore, titlePrefixLen int) *DedupMatcher {
	if titlePrefixLen <= 0 {
		titlePrefixLen = 50
	}
	return &DedupMatcher{store: store, titlePrefixLen: titlePrefixLen}
}

// Match implements RecordMatcher.
func (m *DedupMatcher) Match(ctx context.Context, incoming *models.CanonicalTenderRecord) (*models.CanonicalTenderRecord, error) {
	if incoming.ExternalID != "" {
		existing, err := m.store.FindByExternalID(ctx, incoming.TenantID, incoming.SourcePortal, incoming.ExternalID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	if incoming.Deadline == nil {
		return nil, nil
	}

	prefix := titlePrefix(incoming.Title, m.titlePrefixLen)
	if prefix == "" {
		return nil, nil
	}

	return m.store.FindByFuzzyMatch(ctx, incoming.TenantID, incoming.SourcePortal, prefix, *incoming.Deadline, DeadlineMatchWindow)
}

// titlePrefix returns the first n runes of title.
func titlePrefix(title string, n int) string {
	runes := []rune(title)
	if len(runes) <= n {
		return title
	}
	return string(runes[:n])
}

var _ RecordMatcher = (*DedupMatcher)(nil)
