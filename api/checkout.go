package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/services"
	"github.com/perstream/checkout/utils"
)

type CheckoutHandler struct {
	checkoutService *services.CheckoutService
}

func CreateCheckoutHandler(checkoutService *services.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
	}
}

func (h *CheckoutHandler) HandleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := utils.ValidateJSONRequest(w, r, maxRequestBytes); err != nil {
		writeError(w, err)
		return
	}

	var req models.InitCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.checkoutService.Initialize(r.Context(), utils.GetUserID(r.Context()), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *CheckoutHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := utils.ValidateJSONRequest(w, r, maxRequestBytes); err != nil {
		writeError(w, err)
		return
	}

	var req models.CompleteCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.checkoutService.Complete(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	// A completed call always reports the outcome in the body; only the
	// status code distinguishes a settled payment from a failed one.
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (h *CheckoutHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.CancelCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.checkoutService.Cancel(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *CheckoutHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checkoutID := mux.Vars(r)["id"]
	session, err := h.checkoutService.GetSession(r.Context(), checkoutID)
	if err != nil {
		writeError(w, err)
		return
	}

	// Sessions are private to their creator; leak nothing about foreign IDs.
	if session.UserID != utils.GetUserID(r.Context()) {
		writeError(w, utils.ErrSessionNotFound)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *CheckoutHandler) HandleListPurchases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	resp, err := h.checkoutService.ListPurchases(r.Context(), utils.GetUserID(r.Context()), clampLimit(limit), offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
