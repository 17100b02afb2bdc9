package services_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/cryptotax/src/database"
	"github.com/username/cryptotax/src/models"
	"github.com/username/cryptotax/src/processors"
	"github.com/username/cryptotax/src/services"
)

func newTestReportService(t *testing.T, client services.RateSourceClient) services.ReportService {
	t.Helper()
	openTestDB(t)
	store := services.NewSQLiteRateStore(database.DB)
	resolver := services.NewRateResolver(store, client, 24*time.Hour, time.Second)
	reportCache := cache.New(5*time.Minute, 10*time.Minute)
	return services.NewReportService(
		processors.NewTaxLotEngine(),
		processors.NewTaxCalculator(),
		resolver,
		reportCache,
		100,
	)
}

func deadClient() services.RateSourceClient {
	return &fakeRateClient{err: fmt.Errorf("%w: connection refused", services.ErrSourceFetch)}
}

func testTx(asset string, txType models.TransactionType, quantity, price string, when time.Time) models.Transaction {
	return models.Transaction{
		Asset:     asset,
		Type:      txType,
		Quantity:  decimal.RequireFromString(quantity),
		UnitPrice: decimal.RequireFromString(price),
		Timestamp: when,
	}
}

func TestReportEndToEndWithFallbackRates(t *testing.T) {
	svc := newTestReportService(t, deadClient())
	const userID = int64(7)

	result, err := svc.IngestTransactions(userID, []models.Transaction{
		testTx("btc", models.TransactionTypeBuy, "1", "10000", time.Date(2023, 3, 1, 10, 0, 0, 0, time.UTC)),
		testTx("BTC", models.TransactionTypeSell, "1", "15000", time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)),
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 0, result.Rejected)

	report, err := svc.GetTaxReport(context.Background(), userID, 2024, "UK")
	assert.NoError(t, err)
	assert.Equal(t, 2024, report.TaxYear)
	assert.Equal(t, "UK", report.Jurisdiction)
	assert.Equal(t, 1, len(report.Events))

	event := report.Events[0]
	assert.Equal(t, "BTC", event.Asset)
	assert.Equal(t, "5000", event.GainLoss.String())
	assert.True(t, event.IsLongTerm)

	summary := report.Summary
	assert.Equal(t, "5000", summary.TotalGains.String())
	assert.Equal(t, "3000", summary.Allowance.String())
	assert.Equal(t, "2000", summary.TaxableGains.String())
	assert.NotZero(t, summary.EstimatedTax)
	assert.Equal(t, "200", summary.EstimatedTax.String())
	assert.Equal(t, "GBP", summary.Currency)
}

func TestSubSecondAcquisitionOrderSurvivesStorage(t *testing.T) {
	svc := newTestReportService(t, deadClient())
	const userID = int64(11)

	// Two buys 50ms apart inside the same second. RFC3339Nano would render
	// these as ".5Z" and ".55Z", where the older sorts lexicographically
	// after the newer ('Z' > '5') and FIFO would consume the wrong lot.
	base := time.Date(2024, 3, 1, 10, 0, 0, 500_000_000, time.UTC)
	_, err := svc.IngestTransactions(userID, []models.Transaction{
		testTx("BTC", models.TransactionTypeBuy, "1", "100", base),
		testTx("BTC", models.TransactionTypeBuy, "1", "200", base.Add(50*time.Millisecond)),
		testTx("BTC", models.TransactionTypeSell, "1", "300", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
	})
	assert.NoError(t, err)

	report, err := svc.GetTaxReport(context.Background(), userID, 2024, "UK")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(report.Events))
	assert.Equal(t, "100", report.Events[0].CostBasis.String())

	stored, err := svc.GetTransactions(userID)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(stored))
	for i := 1; i < len(stored); i++ {
		assert.False(t, stored[i].Timestamp.Before(stored[i-1].Timestamp),
			"transactions %d and %d came back out of order", i-1, i)
	}
}

func TestRecomputationReplacesStoredEvents(t *testing.T) {
	svc := newTestReportService(t, deadClient())
	const userID = int64(7)

	_, err := svc.IngestTransactions(userID, []models.Transaction{
		testTx("ETH", models.TransactionTypeBuy, "10", "1000", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)),
		testTx("ETH", models.TransactionTypeSell, "4", "1500", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)),
	})
	assert.NoError(t, err)

	first, err := svc.GetTaxReport(context.Background(), userID, 2024, "UK")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(first.Events))

	// Recompute after more history arrives: the year's stored events are
	// replaced wholesale, not appended to.
	_, err = svc.IngestTransactions(userID, []models.Transaction{
		testTx("ETH", models.TransactionTypeSell, "2", "2000", time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)),
	})
	assert.NoError(t, err)

	second, err := svc.GetTaxReport(context.Background(), userID, 2024, "UK")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(second.Events))

	var count int
	assert.NoError(t, database.DB.QueryRow(
		"SELECT COUNT(*) FROM tax_events WHERE user_id = ? AND tax_year = ?", userID, 2024).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestReportIsCachedUntilInvalidated(t *testing.T) {
	svc := newTestReportService(t, deadClient())
	const userID = int64(3)

	_, err := svc.IngestTransactions(userID, []models.Transaction{
		testTx("BTC", models.TransactionTypeBuy, "2", "5000", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		testTx("BTC", models.TransactionTypeSell, "1", "8000", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
	})
	assert.NoError(t, err)

	first, err := svc.GetTaxReport(context.Background(), userID, 2024, "UK")
	assert.NoError(t, err)
	again, err := svc.GetTaxReport(context.Background(), userID, 2024, "UK")
	assert.NoError(t, err)
	if first != again {
		t.Fatal("expected the second call to serve the cached report")
	}

	svc.InvalidateUserCache(userID)
	third, err := svc.GetTaxReport(context.Background(), userID, 2024, "UK")
	assert.NoError(t, err)
	if first == third {
		t.Fatal("expected a recomputed report after invalidation")
	}
	assert.Equal(t, first.Summary.TotalGains.String(), third.Summary.TotalGains.String())
}

func TestIngestDropsMalformedRecordsOnly(t *testing.T) {
	svc := newTestReportService(t, deadClient())
	const userID = int64(9)

	result, err := svc.IngestTransactions(userID, []models.Transaction{
		testTx("BTC", models.TransactionTypeBuy, "1", "10000", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		{Asset: "", Type: models.TransactionTypeBuy, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(5), Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		testTx("BTC", models.TransactionTypeBuy, "-1", "10000", time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)),
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 2, result.Rejected)
	assert.Equal(t, 2, len(result.Diagnostics))
	for _, diagnostic := range result.Diagnostics {
		assert.Equal(t, models.DiagnosticMalformedRecord, diagnostic.Kind)
	}

	stored, err := svc.GetTransactions(userID)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(stored))
}

func TestIngestRejectsOversizedBatch(t *testing.T) {
	openTestDB(t)
	store := services.NewSQLiteRateStore(database.DB)
	resolver := services.NewRateResolver(store, deadClient(), 24*time.Hour, time.Second)
	svc := services.NewReportService(
		processors.NewTaxLotEngine(), processors.NewTaxCalculator(),
		resolver, cache.New(time.Minute, time.Minute), 2,
	)

	batch := []models.Transaction{
		testTx("BTC", models.TransactionTypeBuy, "1", "1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		testTx("BTC", models.TransactionTypeBuy, "1", "1", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)),
		testTx("BTC", models.TransactionTypeBuy, "1", "1", time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)),
	}
	_, err := svc.IngestTransactions(1, batch)
	assert.IsError(t, err, services.ErrBatchTooLarge)
}

func TestDeleteAllTransactionsClearsEventsToo(t *testing.T) {
	svc := newTestReportService(t, deadClient())
	const userID = int64(5)

	_, err := svc.IngestTransactions(userID, []models.Transaction{
		testTx("BTC", models.TransactionTypeBuy, "1", "100", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		testTx("BTC", models.TransactionTypeSell, "1", "300", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
	})
	assert.NoError(t, err)

	_, err = svc.GetTaxReport(context.Background(), userID, 2024, "UK")
	assert.NoError(t, err)

	assert.NoError(t, svc.DeleteAllTransactions(userID))

	stored, err := svc.GetTransactions(userID)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(stored))

	var count int
	assert.NoError(t, database.DB.QueryRow(
		"SELECT COUNT(*) FROM tax_events WHERE user_id = ?", userID).Scan(&count))
	assert.Equal(t, 0, count)
}
