package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-lunch/internal/models"
	"ms-lunch/internal/payment/aggregate"
	"ms-lunch/internal/qr"
	"ms-lunch/internal/utils"
)

func scopeFromQuery(r *http.Request) aggregate.Scope {
	if r.URL.Query().Get("scope") == "today" {
		return aggregate.ScopeCurrentDay
	}
	return aggregate.ScopeAllTime
}

func (h *Handler) GetCustomerSummary(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		h.writeBadRequest(w, "name is required")
		return
	}

	summary, err := h.Aggregator.SummarizeCustomer(r.Context(), name, scopeFromQuery(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) ListCustomerSummaries(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromQuery(r)
	search := r.URL.Query().Get("search")

	// The cross-day debt view lists only customers still owing; the daily
	// roster lists everyone who ordered today.
	unpaidOnly := scope == aggregate.ScopeAllTime
	if v := r.URL.Query().Get("unpaid"); v != "" {
		unpaidOnly = v == "true" || v == "1"
	}

	summaries, err := h.Aggregator.SummarizeAll(r.Context(), scope, search, unpaidOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) CreatePaymentRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeBadRequest(w, "Invalid request JSON: "+err.Error())
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CreatePaymentRequest: name=%q", body.Name))

	req, err := h.Requests.CreateRequest(r.Context(), body.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reqs, err := h.Requests.ListPending(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reqs)
}

func (h *Handler) PaymentRequestQR(w http.ResponseWriter, r *http.Request) {
	orderCode, err := strconv.ParseInt(chi.URLParam(r, "orderCode"), 10, 64)
	if err != nil {
		h.writeBadRequest(w, "invalid order code")
		return
	}

	req, err := h.Requests.GetRequest(r.Context(), orderCode)
	if err != nil {
		h.writeError(w, err)
		return
	}

	png, err := qr.RenderPNG(req.QRCode)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (h *Handler) ManualMarkPaid(w http.ResponseWriter, r *http.Request) {
	orderCode, err := strconv.ParseInt(chi.URLParam(r, "orderCode"), 10, 64)
	if err != nil {
		h.writeBadRequest(w, "invalid order code")
		return
	}

	if err := h.Requests.ManualMarkPaid(r.Context(), orderCode); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment request marked paid", nil))
}

func (h *Handler) CancelPaymentRequest(w http.ResponseWriter, r *http.Request) {
	orderCode, err := strconv.ParseInt(chi.URLParam(r, "orderCode"), 10, 64)
	if err != nil {
		h.writeBadRequest(w, "invalid order code")
		return
	}

	if err := h.Requests.SetStatus(r.Context(), orderCode, models.StatusCancelled); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment request cancelled", nil))
}

// PaymentWebhook receives pushed confirmations from the gateway. It always
// acknowledges with 200: signature failures, malformed payloads and
// internal errors are logged and dropped rather than surfaced, so the
// provider never retries indefinitely against a transient bug. The sweep
// catches anything dropped here.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Warn("WEBHOOK", fmt.Sprintf("Failed to read webhook body: %v", err))
		h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	h.Engine.HandleWebhook(r.Context(), body)
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// PaymentReturn is the customer's return-URL landing: verify the order
// code's state against the gateway and report the outcome.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	orderCode, err := strconv.ParseInt(r.URL.Query().Get("orderCode"), 10, 64)
	if err != nil {
		h.writeBadRequest(w, "invalid order code")
		return
	}

	status, err := h.Engine.VerifyReturn(r.Context(), orderCode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (h *Handler) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	orderCode, err := strconv.ParseInt(r.URL.Query().Get("orderCode"), 10, 64)
	if err != nil {
		h.writeBadRequest(w, "invalid order code")
		return
	}

	if err := h.Requests.SetStatus(r.Context(), orderCode, models.StatusCancelled); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusCancelled)})
}
