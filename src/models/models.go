package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies the direction of a transaction. Quantity and
// UnitPrice are always non-negative magnitudes; direction is carried here.
type TransactionType string

const (
	TransactionTypeBuy        TransactionType = "buy"
	TransactionTypeSell       TransactionType = "sell"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

// Transaction is a normalized record produced by the upstream ingestion
// layer. It is immutable once stored.
type Transaction struct {
	ID        int64           `json:"id,omitempty"`
	UserID    int64           `json:"user_id,omitempty"`
	Asset     string          `json:"asset"`
	Type      TransactionType `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Timestamp time.Time       `json:"timestamp"`
	Exchange  string          `json:"exchange,omitempty"`
}

// Validate rejects malformed records: missing asset, non-positive quantity,
// negative price or a zero timestamp. One bad record never aborts a batch;
// callers turn this error into a diagnostic and continue.
func (t Transaction) Validate() error {
	if t.Asset == "" {
		return fmt.Errorf("transaction has no asset code")
	}
	switch t.Type {
	case TransactionTypeBuy, TransactionTypeSell, TransactionTypeWithdrawal:
	default:
		return fmt.Errorf("unknown transaction type %q", t.Type)
	}
	if !t.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be > 0, got %s", t.Quantity)
	}
	if t.UnitPrice.IsNegative() {
		return fmt.Errorf("unit price must be >= 0, got %s", t.UnitPrice)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("transaction has no timestamp")
	}
	return nil
}

// Lot is a single open acquisition. Owned exclusively by the lot ledger of
// one engine run; RemainingQuantity only ever decreases and never below zero.
type Lot struct {
	Asset             string
	RemainingQuantity decimal.Decimal
	UnitCost          decimal.Decimal
	AcquiredAt        time.Time
}

// TaxEvent is one realized disposal. Append-only per computation run.
type TaxEvent struct {
	ID                int64           `json:"id,omitempty"`
	UserID            int64           `json:"user_id,omitempty"`
	Asset             string          `json:"asset"`
	QuantitySold      decimal.Decimal `json:"quantity_sold"`
	CostBasis         decimal.Decimal `json:"cost_basis"`
	Proceeds          decimal.Decimal `json:"proceeds"`
	GainLoss          decimal.Decimal `json:"gain_loss"`
	HoldingPeriodDays int             `json:"holding_period_days"`
	IsLongTerm        bool            `json:"is_long_term"`
	TaxYear           int             `json:"tax_year"`
}

// DiagnosticKind identifies a recoverable per-record problem.
type DiagnosticKind string

const (
	// DiagnosticMalformedRecord marks a transaction dropped at validation.
	DiagnosticMalformedRecord DiagnosticKind = "malformed_record"
	// DiagnosticNoOpenLots marks a disposal skipped because the asset had
	// no open lot quantity on record.
	DiagnosticNoOpenLots DiagnosticKind = "no_open_lots"
	// DiagnosticInsufficientLots marks a disposal only partially covered
	// by open lots; the uncovered remainder produced no tax event.
	DiagnosticInsufficientLots DiagnosticKind = "insufficient_lots"
)

// Diagnostic records a per-record or per-disposal problem that was skipped
// over rather than aborting the computation. Surfaced on the Summary so the
// user can review what the report does not cover.
type Diagnostic struct {
	Kind      DiagnosticKind `json:"kind"`
	Asset     string         `json:"asset,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Detail    string         `json:"detail"`
}

// Summary aggregates a tax year. EstimatedTax is nil when no rate schedule
// could be resolved for the jurisdiction and year; that is "unknown", which
// is deliberately distinct from a zero tax due.
type Summary struct {
	TotalGains   decimal.Decimal  `json:"total_gains"`
	TotalLosses  decimal.Decimal  `json:"total_losses"`
	NetGainLoss  decimal.Decimal  `json:"net_gain_loss"`
	TaxableGains decimal.Decimal  `json:"taxable_gains"`
	Allowance    decimal.Decimal  `json:"allowance"`
	EstimatedTax *decimal.Decimal `json:"estimated_tax"`
	Currency     string           `json:"currency,omitempty"`
	Diagnostics  []Diagnostic     `json:"diagnostics,omitempty"`
}

// TaxReport is the full output for one (user, tax year) computation.
type TaxReport struct {
	TaxYear      int        `json:"tax_year"`
	Jurisdiction string     `json:"jurisdiction"`
	Events       []TaxEvent `json:"events"`
	Summary      Summary    `json:"summary"`
}
