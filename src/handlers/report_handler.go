package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptotax/src/logger"
	"github.com/username/cryptotax/src/models"
	"github.com/username/cryptotax/src/services"
	"github.com/username/cryptotax/src/utils"
)

const defaultJurisdiction = "UK"

type ReportHandler struct {
	reportService services.ReportService
}

func NewReportHandler(reportService services.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// taxReportResponse is the presentation shape of a report. Currency amounts
// are rounded to 2 decimal places here and nowhere earlier; the engine
// keeps full precision throughout.
type taxReportResponse struct {
	TaxYear      int                `json:"tax_year"`
	Jurisdiction string             `json:"jurisdiction"`
	Events       []taxEventResponse `json:"events"`
	Summary      summaryResponse    `json:"summary"`
}

type taxEventResponse struct {
	Asset             string          `json:"asset"`
	QuantitySold      decimal.Decimal `json:"quantity_sold"`
	CostBasis         decimal.Decimal `json:"cost_basis"`
	Proceeds          decimal.Decimal `json:"proceeds"`
	GainLoss          decimal.Decimal `json:"gain_loss"`
	HoldingPeriodDays int             `json:"holding_period_days"`
	IsLongTerm        bool            `json:"is_long_term"`
	TaxYear           int             `json:"tax_year"`
}

type summaryResponse struct {
	TotalGains   decimal.Decimal     `json:"total_gains"`
	TotalLosses  decimal.Decimal     `json:"total_losses"`
	NetGainLoss  decimal.Decimal     `json:"net_gain_loss"`
	TaxableGains decimal.Decimal     `json:"taxable_gains"`
	Allowance    decimal.Decimal     `json:"allowance"`
	EstimatedTax *decimal.Decimal    `json:"estimated_tax"`
	Currency     string              `json:"currency,omitempty"`
	Diagnostics  []models.Diagnostic `json:"diagnostics,omitempty"`
}

// HandleGetTaxReport computes (or serves from cache) the tax report for the
// requested year and jurisdiction.
func (h *ReportHandler) HandleGetTaxReport(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	taxYear := time.Now().Year()
	if yearStr := r.URL.Query().Get("year"); yearStr != "" {
		parsed, err := strconv.Atoi(yearStr)
		if err != nil || parsed < 2000 || parsed > 2100 {
			utils.SendJSONError(w, fmt.Sprintf("Invalid year: %q", yearStr), http.StatusBadRequest)
			return
		}
		taxYear = parsed
	}

	jurisdiction := r.URL.Query().Get("jurisdiction")
	if jurisdiction == "" {
		jurisdiction = defaultJurisdiction
	}

	report, err := h.reportService.GetTaxReport(r.Context(), userID, taxYear, jurisdiction)
	if err != nil {
		logger.L.Error("Tax report computation failed", "userID", userID, "taxYear", taxYear, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Error computing tax report: %v", err), http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, presentReport(report), http.StatusOK)
}

func presentReport(report *models.TaxReport) taxReportResponse {
	resp := taxReportResponse{
		TaxYear:      report.TaxYear,
		Jurisdiction: report.Jurisdiction,
		Events:       []taxEventResponse{},
		Summary: summaryResponse{
			TotalGains:   report.Summary.TotalGains.Round(2),
			TotalLosses:  report.Summary.TotalLosses.Round(2),
			NetGainLoss:  report.Summary.NetGainLoss.Round(2),
			TaxableGains: report.Summary.TaxableGains.Round(2),
			Allowance:    report.Summary.Allowance.Round(2),
			Currency:     report.Summary.Currency,
			Diagnostics:  report.Summary.Diagnostics,
		},
	}
	if report.Summary.EstimatedTax != nil {
		rounded := report.Summary.EstimatedTax.Round(2)
		resp.Summary.EstimatedTax = &rounded
	}
	for _, e := range report.Events {
		resp.Events = append(resp.Events, taxEventResponse{
			Asset:             e.Asset,
			QuantitySold:      e.QuantitySold,
			CostBasis:         e.CostBasis.Round(2),
			Proceeds:          e.Proceeds.Round(2),
			GainLoss:          e.GainLoss.Round(2),
			HoldingPeriodDays: e.HoldingPeriodDays,
			IsLongTerm:        e.IsLongTerm,
			TaxYear:           e.TaxYear,
		})
	}
	return resp
}
