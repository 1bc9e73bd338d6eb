package api

import (
	"encoding/json"
	"net/http"

	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/services"
	"github.com/perstream/checkout/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
	batchService   *services.BatchService
}

func CreatePaymentHandler(paymentService *services.PaymentService, batchService *services.BatchService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		batchService:   batchService,
	}
}

func (h *PaymentHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := utils.ValidateJSONRequest(w, r, maxRequestBytes); err != nil {
		writeError(w, err)
		return
	}

	var req models.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	result := h.paymentService.Execute(r.Context(), &req)

	// Failed results keep their body shape but map to a non-success status,
	// which also keeps them out of the idempotency cache.
	status := http.StatusOK
	if !result.Success {
		status = result.Code
		if status == 0 {
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, result)
}

func (h *PaymentHandler) HandleBatchExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := utils.ValidateJSONRequest(w, r, maxRequestBytes); err != nil {
		writeError(w, err)
		return
	}

	var req models.BatchExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	result, err := h.batchService.ExecuteBatch(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	// Per-entry outcomes live in the body; the batch call itself succeeded.
	writeJSON(w, http.StatusOK, result)
}

func (h *PaymentHandler) HandleEstimateSavings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.EstimateSavingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	savings, err := h.paymentService.EstimateSavings(r.Context(), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, savings)
}
