package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/username/cryptotax/src/logger"
	"github.com/username/cryptotax/src/models"
	"github.com/username/cryptotax/src/services"
	"github.com/username/cryptotax/src/utils"
)

type TransactionHandler struct {
	reportService services.ReportService
}

func NewTransactionHandler(reportService services.ReportService) *TransactionHandler {
	return &TransactionHandler{reportService: reportService}
}

// HandleIngestTransactions accepts a JSON array of pre-normalized
// transaction records. Malformed records are reported back as diagnostics;
// valid ones are stored.
func (h *TransactionHandler) HandleIngestTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	var txs []models.Transaction
	if err := json.NewDecoder(r.Body).Decode(&txs); err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(txs) == 0 {
		utils.SendJSONError(w, "Empty transaction batch", http.StatusBadRequest)
		return
	}

	result, err := h.reportService.IngestTransactions(userID, txs)
	if err != nil {
		logger.L.Error("Transaction ingest failed", "userID", userID, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Error ingesting transactions: %v", err), http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, result, http.StatusCreated)
}

func (h *TransactionHandler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	transactions, err := h.reportService.GetTransactions(userID)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Error querying transactions for userID %d: %v", userID, err), http.StatusInternalServerError)
		return
	}
	if transactions == nil {
		transactions = []models.Transaction{}
	}
	utils.SendJSON(w, transactions, http.StatusOK)
}

func (h *TransactionHandler) HandleDeleteAllTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	if err := h.reportService.DeleteAllTransactions(userID); err != nil {
		logger.L.Error("Failed to delete transactions", "userID", userID, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Error deleting transactions: %v", err), http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, map[string]string{"message": "all transactions deleted"}, http.StatusOK)
}
