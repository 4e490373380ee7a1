// Package types provides common type definitions for the tender ingestion system.
package types

// JobStatus represents the lifecycle state of an ingestion job
type JobStatus string

const (
	// JobStatusQueued represents a job waiting to start
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning represents a job currently executing
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted represents a successfully finished job
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed represents a job that terminated with an error
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled represents a job cancelled before completion
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status can no longer transition.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// SourcePortal identifies the procurement portal a record was scraped from
type SourcePortal string

const (
	// PortalZakupSK represents the zakup.sk.kz procurement portal
	PortalZakupSK SourcePortal = "zakup.sk.kz"
)

// TenderStatus represents the normalized procurement status of a tender
type TenderStatus string

const (
	// TenderStatusOpen represents a tender still accepting bids
	TenderStatusOpen TenderStatus = "open"
	// TenderStatusClosed represents a tender past its deadline
	TenderStatusClosed TenderStatus = "closed"
	// TenderStatusAwarded represents a tender with a published winner
	TenderStatusAwarded TenderStatus = "awarded"
	// TenderStatusUnknown represents a status the mapper could not classify
	TenderStatusUnknown TenderStatus = "unknown"
)

// TenderCategory represents the normalized category of a tender
type TenderCategory string

const (
	CategoryConstruction TenderCategory = "construction"
	CategoryITServices   TenderCategory = "it_services"
	CategoryMedical      TenderCategory = "medical"
	CategoryTransport    TenderCategory = "transport"
	CategorySupplies     TenderCategory = "supplies"
	CategoryConsulting   TenderCategory = "consulting"
	CategoryOther        TenderCategory = "other"
)

// Currency represents an ISO-4217 currency code
type Currency string

const (
	CurrencyKZT Currency = "KZT"
	CurrencyUSD Currency = "USD"
	CurrencyMYR Currency = "MYR"
	CurrencyEUR Currency = "EUR"
)

// Language represents a detected source language
type Language string

const (
	LanguageRussian Language = "ru"
	LanguageKazakh  Language = "kk"
	LanguageEnglish Language = "en"
	LanguageUnknown Language = "unknown"
)

// AlertKind represents the kind of a performance alert
type AlertKind string

const (
	// AlertSlowScraping fires when per-page time or total runtime is excessive
	AlertSlowScraping AlertKind = "slow_scraping"
	// AlertHighErrorRate fires when the error/page ratio crosses the threshold
	AlertHighErrorRate AlertKind = "high_error_rate"
	// AlertMemoryPressure fires when resident memory crosses the threshold
	AlertMemoryPressure AlertKind = "memory_pressure"
	// AlertStuckJob fires from the watchdog when a job runs far past its ceiling
	AlertStuckJob AlertKind = "stuck_job"
)

// AlertSeverity represents the severity of a performance alert
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// ProgressStatus represents the status carried by a progress event
type ProgressStatus string

const (
	ProgressRunning   ProgressStatus = "running"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
	ProgressCancelled ProgressStatus = "cancelled"
)

// RawTenderRecord is one row of the scraper's output artifact, untouched.
type RawTenderRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	DaysLeft string `json:"daysLeft"`
	Value    string `json:"value"`
	URL      string `json:"url"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
