package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/solarshop/api/internal/platform/httpx"
	"github.com/solarshop/api/internal/services"
)

const maxNotificationBody = 16 * 1024

// PayHereHandlers receives gateway callbacks. Notifications are authenticated by their md5sig,
// not by a bearer token.
type PayHereHandlers struct {
	payments services.PaymentService
}

// NewPayHereHandlers constructs gateway callback handlers.
func NewPayHereHandlers(payments services.PaymentService) *PayHereHandlers {
	return &PayHereHandlers{payments: payments}
}

// Routes registers the /payhere endpoints.
func (h *PayHereHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/notify", h.notify)
	r.Get("/cancel/{orderID}", h.cancel)
}

type messageResponse struct {
	Message string `json:"message"`
}

type cancelOrderResponse struct {
	Message string        `json:"message"`
	Order   orderResponse `json:"order"`
}

func (h *PayHereHandlers) notify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	notification, err := decodeNotification(w, r)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	result, err := h.payments.HandleNotification(ctx, notification)
	if err != nil && !notificationHandled(err) {
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process payment notification", http.StatusInternalServerError))
		return
	}

	message := result.Message
	if message == "" {
		message = services.MessagePaymentVerificationFailed
	}
	writeJSONResponse(w, http.StatusOK, messageResponse{Message: message})
}

// notificationHandled reports errors the gateway must still see as 200 so it does not retry.
func notificationHandled(err error) bool {
	return errors.Is(err, services.ErrOrderNotFound) ||
		errors.Is(err, services.ErrOrderInvalidState) ||
		errors.Is(err, services.ErrNotificationDelivery)
}

func (h *PayHereHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	result, err := h.payments.CancelOrder(ctx, services.CancelOrderCommand{OrderID: orderID})
	if err != nil && !errors.Is(err, services.ErrNotificationDelivery) {
		writeCancelError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cancelOrderResponse{
		Message: result.Message,
		Order:   buildOrderResponse(result.Order),
	})
}

func writeCancelError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "Order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderAlreadyCancelled):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_cancelled", "Order is already cancelled", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderPaidNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError("order_paid", "Cannot cancel a paid order", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently, retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to cancel order", http.StatusInternalServerError))
	}
}

// decodeNotification accepts the gateway's form post as well as JSON bodies.
func decodeNotification(w http.ResponseWriter, r *http.Request) (services.PaymentNotification, error) {
	var n services.PaymentNotification
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body, err := httpx.ReadLimitedBody(r, maxNotificationBody)
		if err != nil {
			return n, err
		}
		if err := json.Unmarshal(body, &n); err != nil {
			return n, errors.New("request body must be valid JSON")
		}
		return trimNotification(n), nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxNotificationBody)
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return n, httpx.ErrBodyTooLarge
		}
		return n, errors.New("request body must be form encoded")
	}
	n = services.PaymentNotification{
		MerchantID:    r.PostForm.Get("merchant_id"),
		OrderID:       r.PostForm.Get("order_id"),
		PaymentID:     r.PostForm.Get("payment_id"),
		Amount:        r.PostForm.Get("payhere_amount"),
		Currency:      r.PostForm.Get("payhere_currency"),
		StatusCode:    r.PostForm.Get("status_code"),
		Signature:     r.PostForm.Get("md5sig"),
		Method:        r.PostForm.Get("method"),
		StatusMessage: r.PostForm.Get("status_message"),
	}
	return trimNotification(n), nil
}

func trimNotification(n services.PaymentNotification) services.PaymentNotification {
	n.MerchantID = strings.TrimSpace(n.MerchantID)
	n.OrderID = strings.TrimSpace(n.OrderID)
	n.PaymentID = strings.TrimSpace(n.PaymentID)
	n.Amount = strings.TrimSpace(n.Amount)
	n.Currency = strings.TrimSpace(n.Currency)
	n.StatusCode = strings.TrimSpace(n.StatusCode)
	n.Signature = strings.TrimSpace(n.Signature)
	return n
}
