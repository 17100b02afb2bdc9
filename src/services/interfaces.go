package services

import (
	"context"
	"errors"

	"github.com/username/cryptotax/src/models"
)

var (
	// ErrRateUnavailable means no rate schedule could be obtained from any
	// tier (store, external source, compiled-in fallback). Callers must
	// treat this as "cannot estimate tax, only gains/losses".
	ErrRateUnavailable = errors.New("no rate schedule available for jurisdiction and year")

	// ErrSourceFetch wraps failures of the external rate source. It is
	// never surfaced to the end caller; the resolver falls through to the
	// compiled-in tables instead.
	ErrSourceFetch = errors.New("external rate source fetch failed")

	ErrBatchTooLarge = errors.New("transaction batch exceeds the configured maximum")
)

// RateStore persists rate schedules keyed by (jurisdiction, year).
type RateStore interface {
	// Get returns the stored schedule, or (nil, nil) when absent.
	Get(jurisdiction string, year int) (*models.RateSchedule, error)
	// Put upserts a schedule; last writer wins.
	Put(schedule models.RateSchedule) error
}

// RateSourceClient fetches schedules from the external/government source.
type RateSourceClient interface {
	FetchRates(ctx context.Context, jurisdiction string, year int) (*models.RateSchedule, error)
}

// RateResolver produces the rate schedule for a (jurisdiction, year) pair,
// falling back from the store to the external source to compiled-in tables.
type RateResolver interface {
	Resolve(ctx context.Context, jurisdiction string, year int) (*models.RateSchedule, error)
	// RefreshAll re-fetches every supported (jurisdiction, year) pair and
	// persists the results. Invoked explicitly by the hosting process;
	// there are no module-level timers.
	RefreshAll(ctx context.Context) RefreshResult
}

// RefreshResult reports the outcome of a bulk rate refresh.
type RefreshResult struct {
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// IngestResult reports how many records of a batch were stored and which
// were dropped as malformed.
type IngestResult struct {
	Inserted    int                 `json:"inserted"`
	Rejected    int                 `json:"rejected"`
	Diagnostics []models.Diagnostic `json:"diagnostics,omitempty"`
}

// ReportService is the core orchestration surface: it owns transaction
// persistence, tax-event recomputation and report caching for each user.
type ReportService interface {
	IngestTransactions(userID int64, txs []models.Transaction) (*IngestResult, error)
	GetTransactions(userID int64) ([]models.Transaction, error)
	DeleteAllTransactions(userID int64) error
	GetTaxReport(ctx context.Context, userID int64, taxYear int, jurisdiction string) (*models.TaxReport, error)
	InvalidateUserCache(userID int64)
}
