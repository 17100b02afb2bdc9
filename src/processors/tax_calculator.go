package processors

import (
	"github.com/shopspring/decimal"
	"github.com/username/cryptotax/src/models"
)

var oneHundred = decimal.NewFromInt(100)

// TaxCalculator nets the tax events of a year and applies a rate schedule
// to estimate liability.
type TaxCalculator struct{}

func NewTaxCalculator() *TaxCalculator {
	return &TaxCalculator{}
}

// Summarize totals gains and losses separately. Losses are kept negative.
func (c *TaxCalculator) Summarize(events []models.TaxEvent) (totalGains, totalLosses decimal.Decimal) {
	totalGains, totalLosses = decimal.Zero, decimal.Zero
	for _, e := range events {
		if e.GainLoss.IsPositive() {
			totalGains = totalGains.Add(e.GainLoss)
		} else {
			totalLosses = totalLosses.Add(e.GainLoss)
		}
	}
	return totalGains, totalLosses
}

// NetTaxable offsets losses against gains before applying the allowance.
// That ordering is a jurisdiction rule, not a free choice.
func (c *TaxCalculator) NetTaxable(totalGains, totalLosses, allowance decimal.Decimal) decimal.Decimal {
	taxable := totalGains.Add(totalLosses).Sub(allowance)
	if taxable.IsNegative() {
		return decimal.Zero
	}
	return taxable
}

// Tax applies progressive brackets to a taxable amount. Bands are assumed
// valid per RateSchedule.Validate: ascending, contiguous from zero, with an
// unbounded top band (nil MaxThreshold). Band rates are percentages.
func (c *TaxCalculator) Tax(taxable decimal.Decimal, bands []models.RateBand) decimal.Decimal {
	tax := decimal.Zero
	for _, band := range bands {
		if !taxable.GreaterThan(band.Threshold) {
			break
		}
		upper := taxable
		if band.MaxThreshold != nil {
			upper = decimal.Min(taxable, *band.MaxThreshold)
		}
		taxedInBand := upper.Sub(band.Threshold)
		if taxedInBand.IsPositive() {
			tax = tax.Add(taxedInBand.Mul(band.Rate).Div(oneHundred))
		}
	}
	return tax
}

// BuildSummary assembles the year summary from events, diagnostics and an
// optionally resolved schedule. A nil schedule means no rates could be
// obtained from any tier: gains and losses are still reported, but
// EstimatedTax stays nil ("unknown") rather than zero.
func (c *TaxCalculator) BuildSummary(events []models.TaxEvent, schedule *models.RateSchedule, diagnostics []models.Diagnostic) models.Summary {
	totalGains, totalLosses := c.Summarize(events)
	summary := models.Summary{
		TotalGains:   totalGains,
		TotalLosses:  totalLosses,
		NetGainLoss:  totalGains.Add(totalLosses),
		TaxableGains: decimal.Zero,
		Allowance:    decimal.Zero,
		Diagnostics:  diagnostics,
	}
	if schedule == nil {
		return summary
	}

	summary.Allowance = schedule.Allowance
	summary.Currency = schedule.Currency
	summary.TaxableGains = c.NetTaxable(totalGains, totalLosses, schedule.Allowance)
	tax := c.Tax(summary.TaxableGains, schedule.Bands)
	summary.EstimatedTax = &tax
	return summary
}
