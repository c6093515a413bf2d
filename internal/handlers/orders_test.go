package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/solarshop/api/internal/domain"
	"github.com/solarshop/api/internal/platform/auth"
	"github.com/solarshop/api/internal/platform/idempotency"
	"github.com/solarshop/api/internal/services"
)

type stubOrderService struct {
	placeFn   func(context.Context, services.PlaceOrderCommand) (services.PlacedOrder, error)
	reissueFn func(context.Context, services.ReissuePaymentCommand) (services.PlacedOrder, error)
	releaseFn func(context.Context, services.ReleaseStrandedCommand) (services.ReleaseStrandedResult, error)
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlacedOrder, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.PlacedOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) ReissuePayment(ctx context.Context, cmd services.ReissuePaymentCommand) (services.PlacedOrder, error) {
	if s.reissueFn != nil {
		return s.reissueFn(ctx, cmd)
	}
	return services.PlacedOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) ReleaseStranded(ctx context.Context, cmd services.ReleaseStrandedCommand) (services.ReleaseStrandedResult, error) {
	if s.releaseFn != nil {
		return s.releaseFn(ctx, cmd)
	}
	return services.ReleaseStrandedResult{}, errors.New("not implemented")
}

func samplePlacedOrder() services.PlacedOrder {
	created := time.Date(2025, time.May, 6, 9, 0, 0, 0, time.UTC)
	return services.PlacedOrder{
		Order: services.Order{
			ID:       "ord_1001",
			ClientID: "user-1",
			Lines: []domain.OrderLine{
				{ProductID: "panel-400", Quantity: 2, Price: decimal.RequireFromString("125.25")},
			},
			TotalPrice:   decimal.RequireFromString("250.50"),
			Currency:     "LKR",
			BranchID:     "colombo",
			Status:       domain.OrderStatusPending,
			PaymentState: domain.PaymentStateAwaiting,
			CreatedAt:    created,
			UpdatedAt:    created,
		},
		Payment: services.PaymentInitiation{
			Sandbox:    true,
			MerchantID: "1211149",
			OrderID:    "ord_1001",
			Items:      []string{"panel-400"},
			Currency:   "LKR",
			Amount:     "250.50",
			Hash:       "441725B2DDC0908EE19EB983DAB6654E",
		},
	}
}

func withIdentity(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleClient}}))
}

func newOrderRouter(svc services.OrderService, opts ...OrderHandlersOption) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(nil, svc, opts...).Routes)
	return router
}

func TestOrderHandlersPlaceOrderSuccess(t *testing.T) {
	var captured services.PlaceOrderCommand
	router := newOrderRouter(&stubOrderService{
		placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.PlacedOrder, error) {
			captured = cmd
			return samplePlacedOrder(), nil
		},
	})

	payload := `{"products":[{"product":" panel-400 ","quantity":2,"price":"0.01"}],"notes":"call first","deliveryDate":"2025-05-10","paymentMethod":"card"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(payload)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ClientID != "user-1" {
		t.Fatalf("expected client from identity, got %q", captured.ClientID)
	}
	if len(captured.Lines) != 1 || captured.Lines[0].ProductID != "panel-400" || captured.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected lines %#v", captured.Lines)
	}
	if captured.DeliveryDate == nil || !captured.DeliveryDate.Equal(time.Date(2025, time.May, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected delivery date %v", captured.DeliveryDate)
	}
	if captured.Notes != "call first" || captured.PaymentMethod != "card" {
		t.Fatalf("unexpected command %#v", captured)
	}

	var resp struct {
		Order struct {
			ID         string `json:"id"`
			TotalPrice string `json:"totalPrice"`
			Status     string `json:"status"`
			Products   []struct {
				Product string `json:"product"`
				Price   string `json:"price"`
				Total   string `json:"total"`
			} `json:"products"`
		} `json:"order"`
		PaymentData map[string]any `json:"paymentData"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.ID != "ord_1001" || resp.Order.TotalPrice != "250.50" || resp.Order.Status != "Pending" {
		t.Fatalf("unexpected order %#v", resp.Order)
	}
	if resp.Order.Products[0].Price != "125.25" || resp.Order.Products[0].Total != "250.50" {
		t.Fatalf("unexpected line %#v", resp.Order.Products[0])
	}
	if resp.PaymentData["hash"] != "441725B2DDC0908EE19EB983DAB6654E" || resp.PaymentData["merchant_id"] != "1211149" {
		t.Fatalf("unexpected payment data %#v", resp.PaymentData)
	}
}

func TestOrderHandlersPlaceOrderUnauthenticated(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(`{"products":[]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersPlaceOrderRejectsBadBodies(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.PlacedOrder, error) {
			t.Fatalf("service should not be called")
			return services.PlacedOrder{}, nil
		},
	})

	cases := map[string]string{
		"empty":         ``,
		"invalid json":  `{"products":`,
		"delivery date": `{"products":[{"product":"p","quantity":1}],"deliveryDate":"next week"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(body)), "user-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
		})
	}
}

func TestOrderHandlersPlaceOrderMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"client", fmt.Errorf("%w: user-1", services.ErrOrderClientNotFound), http.StatusNotFound, "user_not_found", "User not found"},
		{"products", fmt.Errorf("%w: p9", services.ErrOrderProductNotFound), http.StatusNotFound, "product_not_found", "Some products not found"},
		{"stock", &services.OutOfStockError{ProductID: "panel-400", ProductName: "Mono 400W Panel"}, http.StatusBadRequest, "out_of_stock", "Product Mono 400W Panel out of stock"},
		{"branch", services.ErrOrderNoBranch, http.StatusNotFound, "branch_not_found", "No branch found"},
		{"input", fmt.Errorf("%w: quantity must be positive", services.ErrOrderInvalidInput), http.StatusBadRequest, "invalid_request", ""},
		{"payment", fmt.Errorf("%w: gateway down", services.ErrPaymentInitiation), http.StatusBadGateway, "payment_initiation_failed", ""},
		{"unavailable", services.ErrOrderUnavailable, http.StatusServiceUnavailable, "order_service_unavailable", ""},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newOrderRouter(&stubOrderService{
				placeFn: func(context.Context, services.PlaceOrderCommand) (services.PlacedOrder, error) {
					placed := services.PlacedOrder{}
					if errors.Is(tc.err, services.ErrPaymentInitiation) {
						placed.Order = samplePlacedOrder().Order
					}
					return placed, tc.err
				},
			})
			req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(`{"products":[{"product":"p","quantity":1}]}`)), "user-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode error: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
			if tc.message != "" && body["message"] != tc.message {
				t.Fatalf("expected message %q, got %v", tc.message, body["message"])
			}
			if tc.name == "payment" && body["orderId"] != "ord_1001" {
				t.Fatalf("expected stranded order id in details, got %v", body["orderId"])
			}
		})
	}
}

func TestOrderHandlersPlaceOrderIdempotentReplay(t *testing.T) {
	calls := 0
	store := idempotency.NewMemoryStore()
	router := newOrderRouter(&stubOrderService{
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.PlacedOrder, error) {
			calls++
			return samplePlacedOrder(), nil
		},
	}, WithOrderIdempotency(idempotency.Middleware(store)))

	send := func() *httptest.ResponseRecorder {
		req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(`{"products":[{"product":"panel-400","quantity":2}]}`)), "user-1")
		req.Header.Set(idempotency.DefaultHeader, "key-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	second := send()
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both responses 201, got %d and %d", first.Code, second.Code)
	}
	if calls != 1 {
		t.Fatalf("expected service called once, got %d", calls)
	}
	if second.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Fatalf("expected replay header on second response")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical bodies")
	}
}

func TestOrderHandlersReissuePayment(t *testing.T) {
	var captured services.ReissuePaymentCommand
	router := newOrderRouter(&stubOrderService{
		reissueFn: func(_ context.Context, cmd services.ReissuePaymentCommand) (services.PlacedOrder, error) {
			captured = cmd
			return samplePlacedOrder(), nil
		},
	})

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1001/payment", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.OrderID != "ord_1001" || captured.ClientID != "user-1" {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestOrderHandlersReissuePaymentErrors(t *testing.T) {
	cases := map[error]int{
		services.ErrOrderNotFound:     http.StatusNotFound,
		services.ErrOrderInvalidState: http.StatusConflict,
		services.ErrPaymentInitiation: http.StatusBadGateway,
	}
	for serviceErr, status := range cases {
		router := newOrderRouter(&stubOrderService{
			reissueFn: func(context.Context, services.ReissuePaymentCommand) (services.PlacedOrder, error) {
				return services.PlacedOrder{}, serviceErr
			},
		})
		req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1001/payment", nil), "user-2")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != status {
			t.Fatalf("%v: expected status %d, got %d", serviceErr, status, rr.Code)
		}
	}
}

func TestParseDeliveryDate(t *testing.T) {
	if got, err := parseDeliveryDate(""); err != nil || got != nil {
		t.Fatalf("expected nil for empty input, got %v %v", got, err)
	}
	got, err := parseDeliveryDate("2025-05-10T08:30:00+05:30")
	if err != nil {
		t.Fatalf("parse RFC3339: %v", err)
	}
	if !got.Equal(time.Date(2025, time.May, 10, 3, 0, 0, 0, time.UTC)) || got.Location() != time.UTC {
		t.Fatalf("unexpected time %v", got)
	}
}
