package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptotax/src/logger"
	"github.com/username/cryptotax/src/models"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// Wire shapes of the external rate source. Rates and allowances arrive as
// separate arrays; the client folds them into a single RateSchedule.
type sourceRatesResponse struct {
	Rates []struct {
		Rate         decimal.Decimal  `json:"rate"`
		Threshold    decimal.Decimal  `json:"threshold"`
		MaxThreshold *decimal.Decimal `json:"maxThreshold"`
		Type         string           `json:"type"`
	} `json:"rates"`
	Allowances []struct {
		Type     string          `json:"type"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	} `json:"allowances"`
	Rules  models.TaxRules `json:"rules"`
	Source string          `json:"source"`
}

// httpRateSourceClient talks to the external/government rate source. The
// source may fail, time out or return malformed data; every such failure is
// reported as ErrSourceFetch and the resolver falls through to the
// compiled-in tables.
type httpRateSourceClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	// limiter spaces out requests during bulk refreshes so the source does
	// not rate-limit us.
	limiter *rate.Limiter
}

func NewRateSourceClient(baseURL, userAgent string, timeout time.Duration) RateSourceClient {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		logger.L.Error("Failed to create cookie jar", "error", err)
	}

	return &httpRateSourceClient{
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
		baseURL:   baseURL,
		userAgent: userAgent,
		limiter:   rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
	}
}

// FetchRates fetches and validates the schedule for one (jurisdiction,
// year) pair.
func (c *httpRateSourceClient) FetchRates(ctx context.Context, jurisdiction string, year int) (*models.RateSchedule, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFetch, err)
	}

	url := fmt.Sprintf("%s/tax-rates/%s/%d", c.baseURL, jurisdiction, year)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: calling rate source for %s/%d: %v", ErrSourceFetch, jurisdiction, year, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: rate source returned status %d for %s/%d", ErrSourceFetch, resp.StatusCode, jurisdiction, year)
	}

	var payload sourceRatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decoding rate source response for %s/%d: %v", ErrSourceFetch, jurisdiction, year, err)
	}

	schedule, err := payloadToSchedule(payload, jurisdiction, year)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFetch, err)
	}
	return schedule, nil
}

func payloadToSchedule(payload sourceRatesResponse, jurisdiction string, year int) (*models.RateSchedule, error) {
	schedule := &models.RateSchedule{
		Jurisdiction: jurisdiction,
		TaxYear:      year,
		Allowance:    decimal.Zero,
		Rules:        payload.Rules,
		Source:       payload.Source,
		LastUpdated:  time.Now().UTC(),
	}
	if schedule.Source == "" {
		schedule.Source = "remote"
	}

	for _, r := range payload.Rates {
		if r.Type != "" && r.Type != "capital_gains" {
			continue
		}
		schedule.Bands = append(schedule.Bands, models.RateBand{
			Rate:         r.Rate,
			Threshold:    r.Threshold,
			MaxThreshold: r.MaxThreshold,
		})
	}
	for _, a := range payload.Allowances {
		if a.Type != "" && a.Type != "capital_gains_allowance" {
			continue
		}
		schedule.Allowance = a.Amount
		schedule.Currency = a.Currency
		break
	}

	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("rate source returned malformed schedule: %w", err)
	}
	return schedule, nil
}
