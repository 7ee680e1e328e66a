package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ms-lunch/internal/auth"
	"ms-lunch/internal/gateway"
	"ms-lunch/internal/inventory"
	"ms-lunch/internal/logger"
	"ms-lunch/internal/models"
	"ms-lunch/internal/payment/aggregate"
	"ms-lunch/internal/payment/reconcile"
	"ms-lunch/internal/payment/request"
	"ms-lunch/internal/utils"
)

type Handler struct {
	Inventory  *inventory.Service
	Aggregator *aggregate.Aggregator
	Requests   *request.Service
	Engine     *reconcile.Engine
	Logger     *logger.Logger
}

func NewHandler(inv *inventory.Service, agg *aggregate.Aggregator, reqs *request.Service, engine *reconcile.Engine, log *logger.Logger) *Handler {
	return &Handler{
		Inventory:  inv,
		Aggregator: agg,
		Requests:   reqs,
		Engine:     engine,
		Logger:     log,
	}
}

// Routes wires the public, payment and admin endpoints. Admin routes sit
// behind the shared-secret JWT middleware.
func (h *Handler) Routes(adminSecret string) chi.Router {
	r := chi.NewRouter()
	r.Use(h.requestLogger)

	r.Get("/api/today", h.GetToday)
	r.Get("/api/orders/today", h.GetTodayOrders)
	r.Post("/api/orders", h.CreateOrder)

	r.Get("/api/payments/summary", h.GetCustomerSummary)
	r.Get("/api/payments/customers", h.ListCustomerSummaries)
	r.Post("/api/payments/webhook", h.PaymentWebhook)
	r.Get("/payment/return", h.PaymentReturn)
	r.Get("/payment/cancel", h.PaymentCancel)

	r.Group(func(r chi.Router) {
		r.Use(auth.AdminMiddleware(adminSecret))
		r.Get("/api/admin/all-days", h.GetAllDays)
		r.Get("/api/admin/day/{date}", h.GetDayDetails)
		r.Post("/api/admin/menu", h.UpdateMenu)
		r.Post("/api/admin/quantity", h.UpdateQuantity)
		r.Put("/api/admin/orders/{orderId}", h.EditOrder)
		r.Delete("/api/admin/orders/{orderId}", h.DeleteOrder)

		r.Post("/api/admin/payments/requests", h.CreatePaymentRequest)
		r.Get("/api/admin/payments/requests/pending", h.ListPendingRequests)
		r.Get("/api/admin/payments/requests/{orderCode}/qr", h.PaymentRequestQR)
		r.Post("/api/admin/payments/requests/{orderCode}/paid", h.ManualMarkPaid)
		r.Post("/api/admin/payments/requests/{orderCode}/cancel", h.CancelPaymentRequest)
	})

	return r
}

// requestLogger logs every request with its final status and latency.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).Round(time.Millisecond).String())
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Failed to encode response: %v", err))
	}
}

// writeBadRequest rejects malformed input with the standard error envelope.
func (h *Handler) writeBadRequest(w http.ResponseWriter, detail string) {
	h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Yêu cầu không hợp lệ", detail))
}

// writeError maps domain errors onto HTTP statuses. Gateway and storage
// failures surface as generic messages; detail stays in the logs.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		h.writeBadRequest(w, err.Error())
	case errors.Is(err, models.ErrInsufficientCapacity):
		h.writeJSON(w, http.StatusConflict, utils.ErrorResponse("Không đủ số lượng xuất còn lại", err.Error()))
	case errors.Is(err, models.ErrNothingOwed):
		h.writeJSON(w, http.StatusConflict, utils.ErrorResponse("Khách hàng không còn số dư cần thanh toán", err.Error()))
	case errors.Is(err, models.ErrCustomerNotFound),
		errors.Is(err, models.ErrRequestNotFound),
		errors.Is(err, models.ErrDayNotFound),
		errors.Is(err, models.ErrOrderNotFound):
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Không tìm thấy", err.Error()))
	case errors.Is(err, gateway.ErrGateway):
		h.Logger.Error("API", fmt.Sprintf("Gateway failure: %v", err))
		h.writeJSON(w, http.StatusBadGateway, utils.ErrorResponse("Payment gateway unavailable", ""))
	default:
		h.Logger.Error("API", fmt.Sprintf("Internal error: %v", err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal server error", ""))
	}
}

func (h *Handler) GetToday(w http.ResponseWriter, r *http.Request) {
	info, err := h.Inventory.TodayInfo(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) GetTodayOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Inventory.TodayOrders(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "Invalid order JSON: "+err.Error())
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CreateOrder: name=%q quantity=%d", req.Name, req.Quantity))

	order, err := h.Inventory.AdmitOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetAllDays(w http.ResponseWriter, r *http.Request) {
	days, err := h.Inventory.AllDays(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, days)
}

func (h *Handler) GetDayDetails(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	details, err := h.Inventory.DayDetails(r.Context(), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, details)
}

func (h *Handler) UpdateMenu(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Menu json.RawMessage `json:"menu"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeBadRequest(w, "Invalid menu JSON: "+err.Error())
		return
	}
	if len(body.Menu) == 0 {
		h.writeBadRequest(w, "Menu không được để trống")
		return
	}

	day, err := h.Inventory.EnsureToday(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	// A JSON string payload is stored unquoted, anything structured is
	// stored as its JSON text.
	menu := string(body.Menu)
	var asString string
	if err := json.Unmarshal(body.Menu, &asString); err == nil {
		menu = asString
	}

	if err := h.Inventory.SetMenu(r.Context(), day.ID, menu); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Menu updated", nil))
}

func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeBadRequest(w, "Invalid quantity JSON: "+err.Error())
		return
	}
	if body.Quantity < 1 {
		h.writeBadRequest(w, "Số lượng không hợp lệ")
		return
	}

	day, err := h.Inventory.EnsureToday(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.Inventory.SetQuantity(r.Context(), day.ID, body.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Quantity updated", nil))
}

func (h *Handler) EditOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var update models.OrderUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeBadRequest(w, "Invalid order JSON: "+err.Error())
		return
	}

	order, err := h.Inventory.EditOrder(r.Context(), orderID, update)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if err := h.Inventory.DeleteOrder(r.Context(), orderID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Order deleted", nil))
}
