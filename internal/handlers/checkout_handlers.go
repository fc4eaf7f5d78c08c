package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sohojware/checkout-guard/internal/domain"
	"github.com/sohojware/checkout-guard/internal/guard"
	"github.com/sohojware/checkout-guard/pkg/logger"
)

type validateRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,printascii,max=100"`
	Phone     string `json:"phone" validate:"omitempty,max=20"`
	Email     string `json:"email" validate:"omitempty,email,max=100"`
	Name      string `json:"name" validate:"omitempty,max=100"`
}

// ValidateCheckout runs the guard pipeline for one checkout attempt. A policy
// denial is still HTTP 200; the storefront reads allowed/message.
func (h *Handlers) ValidateCheckout(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	attempt := guard.Attempt{
		SessionID: req.SessionID,
		IP:        clientIP(r),
		Phone:     req.Phone,
		Email:     req.Email,
		Name:      req.Name,
	}

	result, err := h.checkoutService.Validate(r.Context(), attempt)
	if err != nil {
		logger.ErrorContext(r.Context(), "checkout validation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to validate checkout")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// CaptureCheckout stores a partial checkout form keyed by session.
func (h *Handlers) CaptureCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.checkoutService.Capture(r.Context(), &req)
	if err != nil {
		logger.ErrorContext(r.Context(), "checkout capture failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to capture checkout")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// CompleteCheckout records a placed storefront order and closes the matching
// incomplete session.
func (h *Handlers) CompleteCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CompleteOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.checkoutService.Complete(r.Context(), &req)
	if err != nil {
		logger.ErrorContext(r.Context(), "order completion failed", "error", err, "order_ref", req.OrderRef)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, order)
}
