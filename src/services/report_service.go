package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/cryptotax/src/database"
	"github.com/username/cryptotax/src/logger"
	"github.com/username/cryptotax/src/models"
	"github.com/username/cryptotax/src/processors"
)

const (
	ckTaxReport = "res_tax_report_user_%d_year_%d_%s"

	// prefix used to invalidate every cached report of one user
	ckUserPrefix = "res_tax_report_user_%d_"

	// timestampLayout pads fractional seconds to a fixed width so that the
	// TEXT column's lexicographic order equals chronological order. The
	// engine requires its input sorted ascending and fetchUserTransactions
	// sorts with ORDER BY on this column; RFC3339Nano would drop trailing
	// zeros and break that equivalence for sub-second timestamps.
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

type reportServiceImpl struct {
	engine         *processors.TaxLotEngine
	calculator     *processors.TaxCalculator
	rateResolver   RateResolver
	reportCache    *cache.Cache
	maxIngestBatch int
}

func NewReportService(
	engine *processors.TaxLotEngine,
	calculator *processors.TaxCalculator,
	rateResolver RateResolver,
	reportCache *cache.Cache,
	maxIngestBatch int,
) ReportService {
	return &reportServiceImpl{
		engine:         engine,
		calculator:     calculator,
		rateResolver:   rateResolver,
		reportCache:    reportCache,
		maxIngestBatch: maxIngestBatch,
	}
}

// IngestTransactions persists a batch of pre-normalized transactions.
// Malformed records are dropped with a diagnostic each; one bad record
// never aborts the batch. All inserts happen in one database transaction.
func (s *reportServiceImpl) IngestTransactions(userID int64, txs []models.Transaction) (*IngestResult, error) {
	startTime := time.Now()
	logger.L.Info("IngestTransactions START", "userID", userID, "count", len(txs))

	if s.maxIngestBatch > 0 && len(txs) > s.maxIngestBatch {
		return nil, fmt.Errorf("%w: %d records, maximum %d", ErrBatchTooLarge, len(txs), s.maxIngestBatch)
	}

	result := &IngestResult{}

	dbTx, err := database.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.Prepare(`INSERT INTO transactions (user_id, asset, type, quantity, unit_price, timestamp, exchange) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("error preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			result.Rejected++
			result.Diagnostics = append(result.Diagnostics, models.Diagnostic{
				Kind:      models.DiagnosticMalformedRecord,
				Asset:     tx.Asset,
				Timestamp: tx.Timestamp,
				Detail:    err.Error(),
			})
			continue
		}
		_, err := stmt.Exec(userID, strings.ToUpper(tx.Asset), string(tx.Type),
			tx.Quantity.String(), tx.UnitPrice.String(),
			tx.Timestamp.UTC().Format(timestampLayout), tx.Exchange)
		if err != nil {
			return nil, fmt.Errorf("error inserting transaction (asset %s): %w", tx.Asset, err)
		}
		result.Inserted++
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing transactions: %w", err)
	}

	s.InvalidateUserCache(userID)

	logger.L.Info("IngestTransactions END", "userID", userID,
		"inserted", result.Inserted, "rejected", result.Rejected, "duration", time.Since(startTime))
	return result, nil
}

// GetTaxReport recomputes (or serves from cache) the full report for one
// (user, tax year). Recomputation replaces the year's stored tax events
// atomically, so the same transaction set always yields the same event set.
func (s *reportServiceImpl) GetTaxReport(ctx context.Context, userID int64, taxYear int, jurisdiction string) (*models.TaxReport, error) {
	cacheKey := fmt.Sprintf(ckTaxReport, userID, taxYear, jurisdiction)
	if cached, found := s.reportCache.Get(cacheKey); found {
		logger.L.Debug("Cache hit for tax report", "userID", userID, "taxYear", taxYear)
		return cached.(*models.TaxReport), nil
	}
	logger.L.Info("Cache miss for tax report, recalculating from DB", "userID", userID, "taxYear", taxYear)

	transactions, err := fetchUserTransactions(userID)
	if err != nil {
		return nil, err
	}

	events, diagnostics := s.engine.Process(transactions, taxYear)

	if err := s.replaceTaxEvents(userID, taxYear, events); err != nil {
		return nil, err
	}

	schedule, err := s.rateResolver.Resolve(ctx, jurisdiction, taxYear)
	if err != nil {
		if !errors.Is(err, ErrRateUnavailable) {
			return nil, fmt.Errorf("error resolving rates for %s/%d: %w", jurisdiction, taxYear, err)
		}
		// Gains and losses are still reported; the estimate stays unknown.
		logger.L.Warn("No rate schedule available, reporting gains/losses only",
			"jurisdiction", jurisdiction, "taxYear", taxYear)
		schedule = nil
	}

	report := &models.TaxReport{
		TaxYear:      taxYear,
		Jurisdiction: jurisdiction,
		Events:       events,
		Summary:      s.calculator.BuildSummary(events, schedule, diagnostics),
	}
	s.reportCache.Set(cacheKey, report, cache.DefaultExpiration)
	return report, nil
}

// replaceTaxEvents deletes the year's prior events and inserts the new set
// in a single database transaction, so a crash mid-way never leaves a
// partially-populated year.
func (s *reportServiceImpl) replaceTaxEvents(userID int64, taxYear int, events []models.TaxEvent) error {
	dbTx, err := database.DB.Begin()
	if err != nil {
		return fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	if _, err := dbTx.Exec(`DELETE FROM tax_events WHERE user_id = ? AND tax_year = ?`, userID, taxYear); err != nil {
		return fmt.Errorf("error clearing tax events for userID %d year %d: %w", userID, taxYear, err)
	}

	stmt, err := dbTx.Prepare(`INSERT INTO tax_events (user_id, asset, quantity_sold, cost_basis, proceeds, gain_loss, holding_period_days, is_long_term, tax_year) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing tax event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.Exec(userID, e.Asset, e.QuantitySold.String(), e.CostBasis.String(),
			e.Proceeds.String(), e.GainLoss.String(), e.HoldingPeriodDays, e.IsLongTerm, e.TaxYear)
		if err != nil {
			return fmt.Errorf("error inserting tax event (asset %s): %w", e.Asset, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("error committing tax events: %w", err)
	}
	return nil
}

func (s *reportServiceImpl) GetTransactions(userID int64) ([]models.Transaction, error) {
	return fetchUserTransactions(userID)
}

func (s *reportServiceImpl) DeleteAllTransactions(userID int64) error {
	dbTx, err := database.DB.Begin()
	if err != nil {
		return fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	if _, err := dbTx.Exec(`DELETE FROM transactions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("error deleting transactions for userID %d: %w", userID, err)
	}
	if _, err := dbTx.Exec(`DELETE FROM tax_events WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("error deleting tax events for userID %d: %w", userID, err)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("error committing deletion: %w", err)
	}
	s.InvalidateUserCache(userID)
	return nil
}

// InvalidateUserCache clears every cached report for a user, forcing a full
// recomputation on the next request.
func (s *reportServiceImpl) InvalidateUserCache(userID int64) {
	prefix := fmt.Sprintf(ckUserPrefix, userID)
	for key := range s.reportCache.Items() {
		if strings.HasPrefix(key, prefix) {
			s.reportCache.Delete(key)
		}
	}
	logger.L.Info("Invalidated all cached reports for user", "userID", userID)
}

// fetchUserTransactions loads the user's full history sorted ascending by
// timestamp, the ordering precondition of the matching engine.
func fetchUserTransactions(userID int64) ([]models.Transaction, error) {
	logger.L.Debug("Fetching transactions from DB", "userID", userID)
	rows, err := database.DB.Query(`SELECT id, user_id, asset, type, quantity, unit_price, timestamp, exchange
		FROM transactions WHERE user_id = ? ORDER BY timestamp ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying transactions for userID %d: %w", userID, err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("error scanning transaction row for userID %d: %w", userID, scanErr)
		}
		transactions = append(transactions, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over transaction rows for userID %d: %w", userID, err)
	}
	logger.L.Info("DB fetch complete.", "userID", userID, "transactionCount", len(transactions))
	return transactions, nil
}

func scanTransaction(rows *sql.Rows) (models.Transaction, error) {
	var tx models.Transaction
	var typeStr, quantityStr, priceStr, timestampStr string
	var exchange sql.NullString

	if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Asset, &typeStr, &quantityStr, &priceStr, &timestampStr, &exchange); err != nil {
		return tx, err
	}

	tx.Type = models.TransactionType(typeStr)
	tx.Exchange = exchange.String

	var err error
	if tx.Quantity, err = decimal.NewFromString(quantityStr); err != nil {
		return tx, fmt.Errorf("bad quantity %q: %w", quantityStr, err)
	}
	if tx.UnitPrice, err = decimal.NewFromString(priceStr); err != nil {
		return tx, fmt.Errorf("bad unit price %q: %w", priceStr, err)
	}
	if tx.Timestamp, err = time.Parse(time.RFC3339Nano, timestampStr); err != nil {
		return tx, fmt.Errorf("bad timestamp %q: %w", timestampStr, err)
	}
	return tx, nil
}
