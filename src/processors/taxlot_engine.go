package processors

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/username/cryptotax/src/logger"
	"github.com/username/cryptotax/src/models"
)

// fiatCodes lists asset codes whose disposal is a cash withdrawal, not a
// taxable event. Filtering is by asset code, not transaction type.
var fiatCodes = map[string]bool{
	"GBP": true,
	"USD": true,
	"EUR": true,
}

// hoursPerDay is used for holding-period truncation.
const hoursPerDay = 24

// TaxLotEngine turns a time-ordered transaction stream into tax events for
// one target tax year. Buys from any year feed the ledger so disposals can
// draw on acquisitions from prior years; sells are taken from the target
// year only.
//
// Precondition: the caller supplies transactions sorted ascending by
// timestamp. The engine does not re-sort, so an upstream ordering bug
// surfaces as wrong FIFO matching instead of being silently masked.
type TaxLotEngine struct{}

func NewTaxLotEngine() *TaxLotEngine {
	return &TaxLotEngine{}
}

// Process matches disposals against acquisitions FIFO and returns the tax
// events for taxYear plus the diagnostics accumulated along the way.
// Recoverable problems (malformed records, disposals without basis) are
// skipped and reported; they never abort the batch.
func (e *TaxLotEngine) Process(transactions []models.Transaction, taxYear int) ([]models.TaxEvent, []models.Diagnostic) {
	ledger := NewLotLedger()
	events := []models.TaxEvent{}
	diagnostics := []models.Diagnostic{}

	buys, sells, malformed := partition(transactions, taxYear)
	diagnostics = append(diagnostics, malformed...)

	for _, buy := range buys {
		ledger.AddLot(buy.Asset, buy.Quantity, buy.UnitPrice, buy.Timestamp)
	}

	for _, sell := range sells {
		available := ledger.TotalAvailable(sell.Asset)
		if available.IsZero() {
			logger.L.Warn("disposal has no open lots, skipping",
				"asset", sell.Asset, "quantity", sell.Quantity, "timestamp", sell.Timestamp)
			diagnostics = append(diagnostics, models.Diagnostic{
				Kind:      models.DiagnosticNoOpenLots,
				Asset:     sell.Asset,
				Timestamp: sell.Timestamp,
				Detail:    fmt.Sprintf("sell of %s %s has no acquisition on record; no gain/loss computed", sell.Quantity, sell.Asset),
			})
			continue
		}

		want := decimal.Min(sell.Quantity, available)
		consumed := ledger.Consume(sell.Asset, want)

		if want.LessThan(sell.Quantity) {
			uncovered := sell.Quantity.Sub(want)
			diagnostics = append(diagnostics, models.Diagnostic{
				Kind:      models.DiagnosticInsufficientLots,
				Asset:     sell.Asset,
				Timestamp: sell.Timestamp,
				Detail:    fmt.Sprintf("sell of %s %s only covered for %s; %s has no basis on record", sell.Quantity, sell.Asset, want, uncovered),
			})
		}

		proceeds := sell.UnitPrice.Mul(want)
		holdingDays := int(sell.Timestamp.Sub(consumed.OldestAcquiredAt).Hours() / hoursPerDay)

		events = append(events, models.TaxEvent{
			UserID:            sell.UserID,
			Asset:             sell.Asset,
			QuantitySold:      want,
			CostBasis:         consumed.CostBasis,
			Proceeds:          proceeds,
			GainLoss:          proceeds.Sub(consumed.CostBasis),
			HoldingPeriodDays: holdingDays,
			IsLongTerm:        holdingDays > 365,
			TaxYear:           taxYear,
		})
	}

	return events, diagnostics
}

// partition splits the stream into buys (all years) and in-year, non-fiat
// sells, dropping malformed records with a diagnostic each. Relative order
// within each set is preserved.
func partition(transactions []models.Transaction, taxYear int) (buys, sells []models.Transaction, diagnostics []models.Diagnostic) {
	for _, tx := range transactions {
		if err := tx.Validate(); err != nil {
			diagnostics = append(diagnostics, models.Diagnostic{
				Kind:      models.DiagnosticMalformedRecord,
				Asset:     tx.Asset,
				Timestamp: tx.Timestamp,
				Detail:    err.Error(),
			})
			continue
		}
		switch tx.Type {
		case models.TransactionTypeBuy:
			buys = append(buys, tx)
		case models.TransactionTypeSell:
			if tx.Timestamp.Year() != taxYear {
				continue
			}
			if fiatCodes[strings.ToUpper(tx.Asset)] {
				continue
			}
			sells = append(sells, tx)
		}
	}
	return buys, sells, diagnostics
}
