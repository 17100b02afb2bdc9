package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/shopspring/decimal"
	"github.com/username/cryptotax/src/handlers"
	"github.com/username/cryptotax/src/logger"
	"github.com/username/cryptotax/src/models"
	"github.com/username/cryptotax/src/services"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

// stubReportService records calls and serves canned responses.
type stubReportService struct {
	report       *models.TaxReport
	reportErr    error
	ingestResult *services.IngestResult
	ingestErr    error

	gotUserID       int64
	gotYear         int
	gotJurisdiction string
	deletedUserID   int64
}

func (s *stubReportService) IngestTransactions(userID int64, txs []models.Transaction) (*services.IngestResult, error) {
	s.gotUserID = userID
	return s.ingestResult, s.ingestErr
}

func (s *stubReportService) GetTransactions(userID int64) ([]models.Transaction, error) {
	s.gotUserID = userID
	return nil, nil
}

func (s *stubReportService) DeleteAllTransactions(userID int64) error {
	s.deletedUserID = userID
	return nil
}

func (s *stubReportService) GetTaxReport(_ context.Context, userID int64, taxYear int, jurisdiction string) (*models.TaxReport, error) {
	s.gotUserID = userID
	s.gotYear = taxYear
	s.gotJurisdiction = jurisdiction
	return s.report, s.reportErr
}

func (s *stubReportService) InvalidateUserCache(int64) {}

func authedRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.Header.Set("X-User-ID", "42")
	return req
}

func sampleReport() *models.TaxReport {
	tax := decimal.RequireFromString("1700.005")
	return &models.TaxReport{
		TaxYear:      2024,
		Jurisdiction: "UK",
		Events: []models.TaxEvent{{
			Asset:             "BTC",
			QuantitySold:      decimal.RequireFromString("0.12345678"),
			CostBasis:         decimal.RequireFromString("1234.5678"),
			Proceeds:          decimal.RequireFromString("2000.129"),
			GainLoss:          decimal.RequireFromString("765.5612"),
			HoldingPeriodDays: 400,
			IsLongTerm:        true,
			TaxYear:           2024,
		}},
		Summary: models.Summary{
			TotalGains:   decimal.RequireFromString("765.5612"),
			TotalLosses:  decimal.Zero,
			NetGainLoss:  decimal.RequireFromString("765.5612"),
			TaxableGains: decimal.Zero,
			Allowance:    decimal.NewFromInt(3000),
			EstimatedTax: &tax,
			Currency:     "GBP",
		},
	}
}

func TestGetTaxReportRoundsAtPresentation(t *testing.T) {
	stub := &stubReportService{report: sampleReport()}
	handler := handlers.NewReportHandler(stub)

	recorder := httptest.NewRecorder()
	router := handlers.UserContextMiddleware(http.HandlerFunc(handler.HandleGetTaxReport))
	router.ServeHTTP(recorder, authedRequest(http.MethodGet, "/api/tax-report?year=2024&jurisdiction=UK", ""))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, int64(42), stub.gotUserID)
	assert.Equal(t, 2024, stub.gotYear)
	assert.Equal(t, "UK", stub.gotJurisdiction)

	var body struct {
		Events []struct {
			Asset        string `json:"asset"`
			QuantitySold string `json:"quantity_sold"`
			CostBasis    string `json:"cost_basis"`
			GainLoss     string `json:"gain_loss"`
		} `json:"events"`
		Summary struct {
			TotalGains   string  `json:"total_gains"`
			EstimatedTax *string `json:"estimated_tax"`
			Currency     string  `json:"currency"`
		} `json:"summary"`
	}
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))

	// Currency amounts are rounded to 2 decimal places; quantities are not.
	assert.Equal(t, 1, len(body.Events))
	assert.Equal(t, "0.12345678", body.Events[0].QuantitySold)
	assert.Equal(t, "1234.57", body.Events[0].CostBasis)
	assert.Equal(t, "765.56", body.Events[0].GainLoss)
	assert.Equal(t, "765.56", body.Summary.TotalGains)
	assert.NotZero(t, body.Summary.EstimatedTax)
	assert.Equal(t, "1700.01", *body.Summary.EstimatedTax)
	assert.Equal(t, "GBP", body.Summary.Currency)
}

func TestGetTaxReportUnknownEstimateIsNull(t *testing.T) {
	report := sampleReport()
	report.Summary.EstimatedTax = nil
	report.Summary.Currency = ""
	stub := &stubReportService{report: report}
	handler := handlers.NewReportHandler(stub)

	recorder := httptest.NewRecorder()
	router := handlers.UserContextMiddleware(http.HandlerFunc(handler.HandleGetTaxReport))
	router.ServeHTTP(recorder, authedRequest(http.MethodGet, "/api/tax-report?year=2024", ""))

	assert.Equal(t, http.StatusOK, recorder.Code)
	var body map[string]json.RawMessage
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	var summary map[string]json.RawMessage
	assert.NoError(t, json.Unmarshal(body["summary"], &summary))
	assert.Equal(t, "null", string(summary["estimated_tax"]))
}

func TestGetTaxReportRejectsBadYear(t *testing.T) {
	stub := &stubReportService{report: sampleReport()}
	handler := handlers.NewReportHandler(stub)

	for _, year := range []string{"abc", "1999", "2101"} {
		recorder := httptest.NewRecorder()
		router := handlers.UserContextMiddleware(http.HandlerFunc(handler.HandleGetTaxReport))
		router.ServeHTTP(recorder, authedRequest(http.MethodGet, "/api/tax-report?year="+year, ""))
		assert.Equal(t, http.StatusBadRequest, recorder.Code, "year %q should be rejected", year)
	}
}

func TestGetTaxReportJurisdictionDefaultsToUK(t *testing.T) {
	stub := &stubReportService{report: sampleReport()}
	handler := handlers.NewReportHandler(stub)

	recorder := httptest.NewRecorder()
	router := handlers.UserContextMiddleware(http.HandlerFunc(handler.HandleGetTaxReport))
	router.ServeHTTP(recorder, authedRequest(http.MethodGet, "/api/tax-report?year=2024", ""))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "UK", stub.gotJurisdiction)
}

func TestGetTaxReportSurfacesServiceErrors(t *testing.T) {
	stub := &stubReportService{reportErr: errors.New("db is gone")}
	handler := handlers.NewReportHandler(stub)

	recorder := httptest.NewRecorder()
	router := handlers.UserContextMiddleware(http.HandlerFunc(handler.HandleGetTaxReport))
	router.ServeHTTP(recorder, authedRequest(http.MethodGet, "/api/tax-report?year=2024", ""))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}

func TestUserContextMiddlewareRejectsMissingOrBadHeader(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run without a valid user")
	})
	router := handlers.UserContextMiddleware(next)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/tax-report", nil))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	for _, bad := range []string{"0", "-3", "not-a-number"} {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/tax-report", nil)
		req.Header.Set("X-User-ID", bad)
		router.ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusUnauthorized, recorder.Code, "user ID %q should be rejected", bad)
	}
}

func TestIngestHandlerRejectsEmptyAndMalformedBodies(t *testing.T) {
	stub := &stubReportService{ingestResult: &services.IngestResult{}}
	handler := handlers.NewTransactionHandler(stub)
	router := handlers.UserContextMiddleware(http.HandlerFunc(handler.HandleIngestTransactions))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authedRequest(http.MethodPost, "/api/transactions", "[]"))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, authedRequest(http.MethodPost, "/api/transactions", "{not json"))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestIngestHandlerReturnsCreatedWithResult(t *testing.T) {
	stub := &stubReportService{ingestResult: &services.IngestResult{Inserted: 2, Rejected: 1}}
	handler := handlers.NewTransactionHandler(stub)
	router := handlers.UserContextMiddleware(http.HandlerFunc(handler.HandleIngestTransactions))

	body := `[{"asset":"BTC","type":"buy","quantity":"1","unit_price":"10000","timestamp":"2024-01-01T00:00:00Z"}]`
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authedRequest(http.MethodPost, "/api/transactions", body))

	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, int64(42), stub.gotUserID)

	var result services.IngestResult
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.Rejected)
}
