package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/username/cryptotax/src/logger"
	"github.com/username/cryptotax/src/services"
	"github.com/username/cryptotax/src/utils"
)

type RatesHandler struct {
	rateResolver services.RateResolver
}

func NewRatesHandler(rateResolver services.RateResolver) *RatesHandler {
	return &RatesHandler{rateResolver: rateResolver}
}

// HandleGetRates returns the resolved rate schedule for a jurisdiction and
// year, walking the store / source / fallback chain.
func (h *RatesHandler) HandleGetRates(w http.ResponseWriter, r *http.Request) {
	jurisdiction := r.URL.Query().Get("jurisdiction")
	if jurisdiction == "" {
		jurisdiction = defaultJurisdiction
	}

	year := time.Now().Year()
	if yearStr := r.URL.Query().Get("year"); yearStr != "" {
		parsed, err := strconv.Atoi(yearStr)
		if err != nil {
			utils.SendJSONError(w, fmt.Sprintf("Invalid year: %q", yearStr), http.StatusBadRequest)
			return
		}
		year = parsed
	}

	schedule, err := h.rateResolver.Resolve(r.Context(), jurisdiction, year)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("No rate schedule available for %s/%d", jurisdiction, year), http.StatusNotFound)
		return
	}
	utils.SendJSON(w, schedule, http.StatusOK)
}

// HandleRefreshRates re-fetches every supported (jurisdiction, year) pair
// from the external source. This is the explicit, externally driven refresh
// entry point; the service runs no timers of its own.
func (h *RatesHandler) HandleRefreshRates(w http.ResponseWriter, r *http.Request) {
	logger.L.Info("Manual rate refresh triggered")
	result := h.rateResolver.RefreshAll(r.Context())

	status := http.StatusOK
	if result.Updated == 0 && result.Failed > 0 {
		status = http.StatusBadGateway
	}
	utils.SendJSON(w, result, status)
}
