package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sohojware/checkout-guard/internal/domain"
	"github.com/sohojware/checkout-guard/internal/service"
	"github.com/sohojware/checkout-guard/pkg/logger"
)

// --- Blocklist ---

func (h *Handlers) ListBlocked(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	users, err := h.adminService.ListBlocked(r.Context(), limit, offset)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to list blocklist", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list blocked users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"blocked": users,
		"limit":   limit,
		"offset":  offset,
	})
}

type blockRequest struct {
	Name        string `json:"name" validate:"omitempty,max=100"`
	IPAddress   string `json:"ip_address" validate:"omitempty,ip"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,max=20"`
}

func (h *Handlers) BlockUser(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	blocked, err := h.adminService.Block(r.Context(), req.Name, req.IPAddress, req.PhoneNumber)
	if err != nil {
		if errors.Is(err, service.ErrInvalidBlockTarget) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.ErrorContext(r.Context(), "failed to block user", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to block user")
		return
	}

	writeJSON(w, http.StatusCreated, blocked)
}

type blockFromOrdersRequest struct {
	OrderRefs []string `json:"order_refs" validate:"required,min=1,max=100,dive,printascii,max=64"`
}

func (h *Handlers) BlockFromOrders(w http.ResponseWriter, r *http.Request) {
	var req blockFromOrdersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	blocked, skipped, err := h.adminService.BlockFromOrders(r.Context(), req.OrderRefs)
	if err != nil {
		logger.ErrorContext(r.Context(), "bulk block failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to block from orders")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"blocked": blocked,
		"skipped": skipped,
	})
}

func (h *Handlers) UnblockUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	removed, err := h.adminService.Unblock(r.Context(), id)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to unblock user", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "Failed to unblock user")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "Blocked user not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// --- Incomplete orders ---

func (h *Handlers) ListIncompleteOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	filter := domain.IncompleteFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status, ok := domain.ParseIncompleteStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown status filter")
			return
		}
		filter.Status = status
	}
	filter.Since = parseTimeParam(r, "since")
	filter.Until = parseTimeParam(r, "until")

	records, total, err := h.adminService.ListIncomplete(r.Context(), filter)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to list incomplete orders", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list incomplete orders")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": records,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handlers) GetIncompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	record, err := h.adminService.GetIncomplete(r.Context(), id)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to get incomplete order", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "Failed to get incomplete order")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "Incomplete order not found")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

func (h *Handlers) RejectIncompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	var req rejectRequest
	if r.Body != nil {
		// Body is optional; a bare reject has no reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	rejected, err := h.adminService.RejectIncomplete(r.Context(), id, req.Reason)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to reject incomplete order", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "Failed to reject incomplete order")
		return
	}
	if !rejected {
		writeError(w, http.StatusConflict, "Record not found or not in incomplete state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"rejected": true})
}

func (h *Handlers) MarkIncompleteCalled(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	marked, err := h.adminService.MarkCalled(r.Context(), id)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to mark record called", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "Failed to mark record called")
		return
	}
	if !marked {
		writeError(w, http.StatusNotFound, "Incomplete order not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"called": true})
}

func (h *Handlers) ConvertIncompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	order, err := h.adminService.ConvertIncomplete(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotIncomplete) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		logger.ErrorContext(r.Context(), "failed to convert incomplete order", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "Failed to convert incomplete order")
		return
	}
	if order == nil {
		writeError(w, http.StatusNotFound, "Incomplete order not found")
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

func (h *Handlers) RemindIncompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	if err := h.adminService.SendReminder(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrNoRecipient) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.ErrorContext(r.Context(), "failed to send reminder", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "Failed to send reminder")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

func (h *Handlers) IncompleteStats(w http.ResponseWriter, r *http.Request) {
	until := time.Now()
	since := until.AddDate(0, 0, -30)
	if v := parseTimeParam(r, "since"); v != nil {
		since = *v
	}
	if v := parseTimeParam(r, "until"); v != nil {
		until = *v
	}

	stats, err := h.adminService.IncompleteStats(r.Context(), since, until)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to compute stats", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// --- Phone history and fraud check ---

func (h *Handlers) PhoneHistory(w http.ResponseWriter, r *http.Request) {
	rawPhone := chi.URLParam(r, "phone")
	if rawPhone == "" {
		writeError(w, http.StatusBadRequest, "Phone number is required")
		return
	}

	stats, err := h.adminService.PhoneHistory(r.Context(), rawPhone)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to load phone history", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load phone history")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

type fraudCheckRequest struct {
	Phone string `json:"phone" validate:"required,max=20"`
}

func (h *Handlers) FraudCheck(w http.ResponseWriter, r *http.Request) {
	var req fraudCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.adminService.FraudCheck(r.Context(), req.Phone)
	if err != nil {
		if errors.Is(err, service.ErrLicenseInactive) {
			writeError(w, http.StatusPaymentRequired, "An active license is required for fraud checks")
			return
		}
		logger.ErrorContext(r.Context(), "fraud check failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// --- License ---

type activateLicenseRequest struct {
	APIKey string `json:"api_key" validate:"required,max=200"`
}

func (h *Handlers) ActivateLicense(w http.ResponseWriter, r *http.Request) {
	var req activateLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.adminService.ActivateLicense(r.Context(), req.APIKey, clientIP(r))
	if err != nil {
		logger.ErrorContext(r.Context(), "license activation failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handlers) DeactivateLicense(w http.ResponseWriter, r *http.Request) {
	if err := h.adminService.DeactivateLicense(r.Context()); err != nil {
		logger.ErrorContext(r.Context(), "license deactivation failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deactivated": true})
}

func (h *Handlers) LicenseStatus(w http.ResponseWriter, r *http.Request) {
	sub, err := h.adminService.LicenseStatus(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "license status check failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// --- Settings ---

func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.adminService.GetSettings(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to load settings", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := h.adminService.UpdateSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// --- helpers ---

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// parseTimeParam reads an RFC 3339 timestamp or a bare date from the query.
func parseTimeParam(r *http.Request, name string) *time.Time {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return &t
	}
	return nil
}
