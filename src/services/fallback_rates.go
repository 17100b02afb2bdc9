package services

import (
	"github.com/shopspring/decimal"
	"github.com/username/cryptotax/src/models"
)

// Compiled-in rate tables, the last tier of the resolution chain. The
// external rate sources are unreliable over the network (rate limits,
// schema changes), so these guarantee the tool degrades to "best known
// accurate rate" rather than total failure. The table is a closed map: a
// missing (jurisdiction, year) pair resolves to ErrRateUnavailable instead
// of a silently wrong default.
//
// Values are the published capital-gains figures per jurisdiction and
// year; rates are percentages.

const fallbackSource = "fallback"

var supportedYears = []int{2020, 2021, 2022, 2023, 2024, 2025}

// ukBasicRateMax is the basic-rate band ceiling per tax year.
var ukBasicRateMax = map[int]int64{
	2020: 37500,
	2021: 37500,
	2022: 37700,
	2023: 37700,
	2024: 37700,
	2025: 37700,
}

// ukAllowance is the annual exempt amount per tax year.
var ukAllowance = map[int]int64{
	2020: 12300,
	2021: 12300,
	2022: 12300,
	2023: 6000,
	2024: 3000,
	2025: 3000,
}

var fallbackTables = buildFallbackTables()

func buildFallbackTables() map[string]map[int]models.RateSchedule {
	tables := map[string]map[int]models.RateSchedule{
		"UK": {}, "US": {}, "DE": {}, "FR": {},
	}
	for _, year := range supportedYears {
		tables["UK"][year] = models.RateSchedule{
			Jurisdiction: "UK",
			TaxYear:      year,
			Bands: []models.RateBand{
				band(10, 0, ukBasicRateMax[year]),
				topBand(20, ukBasicRateMax[year]),
			},
			Allowance: decimal.NewFromInt(ukAllowance[year]),
			Currency:  "GBP",
			Rules: models.TaxRules{
				SameDayRule:         true,
				BedAndBreakfastRule: true,
				HoldingPeriodDays:   30,
				Source:              fallbackSource,
			},
			Source: fallbackSource,
		}
		tables["US"][year] = models.RateSchedule{
			Jurisdiction: "US",
			TaxYear:      year,
			Bands: []models.RateBand{
				band(15, 0, 445850),
				topBand(20, 445850),
			},
			Allowance: decimal.Zero,
			Currency:  "USD",
			Rules: models.TaxRules{
				WashSaleRule:      true,
				HoldingPeriodDays: 30,
				Source:            fallbackSource,
			},
			Source: fallbackSource,
		}
		tables["DE"][year] = models.RateSchedule{
			Jurisdiction: "DE",
			TaxYear:      year,
			Bands:        []models.RateBand{topBand(42, 0)},
			Allowance:    decimal.NewFromInt(600),
			Currency:     "EUR",
			Rules:        models.TaxRules{Source: fallbackSource},
			Source:       fallbackSource,
		}
		tables["FR"][year] = models.RateSchedule{
			Jurisdiction: "FR",
			TaxYear:      year,
			Bands:        []models.RateBand{topBand(30, 0)},
			Allowance:    decimal.Zero,
			Currency:     "EUR",
			Rules:        models.TaxRules{Source: fallbackSource},
			Source:       fallbackSource,
		}
	}
	return tables
}

func band(rate, threshold, maxThreshold int64) models.RateBand {
	max := decimal.NewFromInt(maxThreshold)
	return models.RateBand{
		Rate:         decimal.NewFromInt(rate),
		Threshold:    decimal.NewFromInt(threshold),
		MaxThreshold: &max,
	}
}

func topBand(rate, threshold int64) models.RateBand {
	return models.RateBand{
		Rate:      decimal.NewFromInt(rate),
		Threshold: decimal.NewFromInt(threshold),
	}
}

// FallbackSchedule returns the compiled-in schedule for the pair, if one
// exists.
func FallbackSchedule(jurisdiction string, year int) (*models.RateSchedule, bool) {
	years, ok := fallbackTables[jurisdiction]
	if !ok {
		return nil, false
	}
	schedule, ok := years[year]
	if !ok {
		return nil, false
	}
	return &schedule, true
}

// SupportedJurisdictions lists the jurisdictions with compiled-in tables.
func SupportedJurisdictions() []string {
	return []string{"UK", "US", "DE", "FR"}
}

// SupportedYears lists the tax years covered by the compiled-in tables.
func SupportedYears() []int {
	years := make([]int, len(supportedYears))
	copy(years, supportedYears)
	return years
}
