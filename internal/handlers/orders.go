package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/solarshop/api/internal/platform/auth"
	"github.com/solarshop/api/internal/platform/httpx"
	"github.com/solarshop/api/internal/services"
)

const (
	maxOrderRequestBody = 32 * 1024
	deliveryDateLayout  = "2006-01-02"
)

// OrderHandlers exposes order intake and payment re-issue for authenticated clients.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency guards order creation with mw. It runs after authentication so keys
// are scoped to the caller.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	create := r
	if h.idempotency != nil {
		create = r.With(h.idempotency)
	}
	create.Post("/", h.placeOrder)
	r.Post("/{orderID}/payment", h.reissuePayment)
}

type orderItemRequest struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

type placeOrderRequest struct {
	Products      []orderItemRequest `json:"products"`
	Notes         string             `json:"notes"`
	DeliveryDate  string             `json:"deliveryDate"`
	PaymentMethod string             `json:"paymentMethod"`
}

type placedOrderResponse struct {
	Order       orderResponse              `json:"order"`
	PaymentData services.PaymentInitiation `json:"paymentData"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req placeOrderRequest
	if err := readJSONBody(r, maxOrderRequestBody, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	deliveryDate, err := parseDeliveryDate(req.DeliveryDate)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "deliveryDate must be YYYY-MM-DD or RFC3339", http.StatusBadRequest))
		return
	}

	lines := make([]services.OrderLineInput, 0, len(req.Products))
	for _, item := range req.Products {
		lines = append(lines, services.OrderLineInput{
			ProductID: strings.TrimSpace(item.Product),
			Quantity:  item.Quantity,
		})
	}

	placed, err := h.orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		ClientID:      identity.UID,
		Lines:         lines,
		Notes:         req.Notes,
		DeliveryDate:  deliveryDate,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
	})
	if err != nil {
		writeOrderError(ctx, w, err, placed.Order.ID)
		return
	}

	writeJSONResponse(w, http.StatusCreated, placedOrderResponse{
		Order:       buildOrderResponse(placed.Order),
		PaymentData: placed.Payment,
	})
}

func (h *OrderHandlers) reissuePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	placed, err := h.orders.ReissuePayment(ctx, services.ReissuePaymentCommand{
		OrderID:  orderID,
		ClientID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err, orderID)
		return
	}

	writeJSONResponse(w, http.StatusOK, placedOrderResponse{
		Order:       buildOrderResponse(placed.Order),
		PaymentData: placed.Payment,
	})
}

func parseDeliveryDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(deliveryDateLayout, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error, orderID string) {
	var stockErr *services.OutOfStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", stockErr.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"product": stockErr.ProductID}))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderClientNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "User not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "Some products not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNoBranch):
		httpx.WriteError(ctx, w, httpx.NewError("branch_not_found", "No branch found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "Order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", "order is not awaiting payment", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently, retry", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentInitiation):
		httpx.WriteError(ctx, w, httpx.NewError("payment_initiation_failed", "order placed but payment could not be initiated", http.StatusBadGateway).
			WithDetails(map[string]any{"orderId": orderID}))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process order", http.StatusInternalServerError))
	}
}
