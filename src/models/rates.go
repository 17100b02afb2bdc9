package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RateBand is one progressive bracket. Rate is a percentage (10 means 10%).
// A nil MaxThreshold marks the unbounded top band.
type RateBand struct {
	Rate         decimal.Decimal  `json:"rate"`
	Threshold    decimal.Decimal  `json:"threshold"`
	MaxThreshold *decimal.Decimal `json:"maxThreshold,omitempty"`
}

// TaxRules carries jurisdiction matching rules. The flags are persisted and
// reported but no matching logic consumes them yet; same-day and
// bed-and-breakfast re-ordering is a documented gap.
type TaxRules struct {
	SameDayRule         bool   `json:"sameDayRule"`
	BedAndBreakfastRule bool   `json:"bedAndBreakfastRule"`
	WashSaleRule        bool   `json:"washSaleRule"`
	HoldingPeriodDays   int    `json:"holdingPeriodDays,omitempty"`
	Source              string `json:"source,omitempty"`
}

// RateSchedule is the resolved rate-and-allowance table for one
// (jurisdiction, tax year) pair.
type RateSchedule struct {
	Jurisdiction string          `json:"jurisdiction"`
	TaxYear      int             `json:"tax_year"`
	Bands        []RateBand      `json:"bands"`
	Allowance    decimal.Decimal `json:"allowance"`
	Currency     string          `json:"currency"`
	Rules        TaxRules        `json:"rules"`
	Source       string          `json:"source"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// Validate checks the band invariants: at least one band, ordered by
// threshold ascending, contiguous from zero, and an unbounded top band.
func (s *RateSchedule) Validate() error {
	if s.Jurisdiction == "" {
		return fmt.Errorf("rate schedule has no jurisdiction")
	}
	if len(s.Bands) == 0 {
		return fmt.Errorf("rate schedule for %s/%d has no bands", s.Jurisdiction, s.TaxYear)
	}
	if s.Allowance.IsNegative() {
		return fmt.Errorf("rate schedule for %s/%d has negative allowance", s.Jurisdiction, s.TaxYear)
	}
	expectedLower := decimal.Zero
	for i, band := range s.Bands {
		if band.Rate.IsNegative() {
			return fmt.Errorf("band %d of %s/%d has negative rate", i, s.Jurisdiction, s.TaxYear)
		}
		if !band.Threshold.Equal(expectedLower) {
			return fmt.Errorf("band %d of %s/%d starts at %s, want %s (bands must tile 0 to infinity)",
				i, s.Jurisdiction, s.TaxYear, band.Threshold, expectedLower)
		}
		if band.MaxThreshold == nil {
			if i != len(s.Bands)-1 {
				return fmt.Errorf("band %d of %s/%d is unbounded but not the top band", i, s.Jurisdiction, s.TaxYear)
			}
			return nil
		}
		if !band.MaxThreshold.GreaterThan(band.Threshold) {
			return fmt.Errorf("band %d of %s/%d is empty or inverted", i, s.Jurisdiction, s.TaxYear)
		}
		expectedLower = *band.MaxThreshold
	}
	return fmt.Errorf("rate schedule for %s/%d has no unbounded top band", s.Jurisdiction, s.TaxYear)
}
