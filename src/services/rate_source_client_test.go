package services_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/username/cryptotax/src/services"
)

const sourcePayload = `{
	"rates": [
		{"rate": "10", "threshold": "0", "maxThreshold": "37700", "type": "capital_gains"},
		{"rate": "20", "threshold": "37700", "type": "capital_gains"},
		{"rate": "45", "threshold": "0", "type": "income"}
	],
	"allowances": [
		{"type": "capital_gains_allowance", "amount": "3000", "currency": "GBP"},
		{"type": "personal_allowance", "amount": "12570", "currency": "GBP"}
	],
	"rules": {"sameDayRule": true, "bedAndBreakfastRule": true, "holdingPeriodDays": 30},
	"source": "hmrc"
}`

func TestFetchRatesParsesSourcePayload(t *testing.T) {
	var gotPath, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.UserAgent()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sourcePayload))
	}))
	defer server.Close()

	client := services.NewRateSourceClient(server.URL, "cryptotax/1.0", 2*time.Second)
	schedule, err := client.FetchRates(context.Background(), "UK", 2024)
	assert.NoError(t, err)
	assert.Equal(t, "/tax-rates/UK/2024", gotPath)
	assert.Equal(t, "cryptotax/1.0", gotUA)

	// Only capital-gains entries survive the fold.
	assert.Equal(t, 2, len(schedule.Bands))
	assert.Equal(t, "10", schedule.Bands[0].Rate.String())
	assert.Equal(t, "37700", schedule.Bands[0].MaxThreshold.String())
	assert.Equal(t, "20", schedule.Bands[1].Rate.String())
	assert.Equal(t, "3000", schedule.Allowance.String())
	assert.Equal(t, "GBP", schedule.Currency)
	assert.Equal(t, "hmrc", schedule.Source)
	assert.True(t, schedule.Rules.SameDayRule)
	assert.NoError(t, schedule.Validate())
}

func TestFetchRatesWrapsHTTPFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := services.NewRateSourceClient(server.URL, "cryptotax/1.0", 2*time.Second)
	_, err := client.FetchRates(context.Background(), "UK", 2024)
	assert.True(t, errors.Is(err, services.ErrSourceFetch))
}

func TestFetchRatesRejectsMalformedSchedule(t *testing.T) {
	// A top band with a ceiling leaves the range above it uncovered.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rates": [{"rate": "10", "threshold": "0", "maxThreshold": "37700"}]}`))
	}))
	defer server.Close()

	client := services.NewRateSourceClient(server.URL, "cryptotax/1.0", 2*time.Second)
	_, err := client.FetchRates(context.Background(), "UK", 2024)
	assert.True(t, errors.Is(err, services.ErrSourceFetch))
}

func TestFetchRatesRejectsGarbageBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	client := services.NewRateSourceClient(server.URL, "cryptotax/1.0", 2*time.Second)
	_, err := client.FetchRates(context.Background(), "UK", 2024)
	assert.True(t, errors.Is(err, services.ErrSourceFetch))
}
