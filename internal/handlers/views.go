package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/solarshop/api/internal/platform/httpx"
	"github.com/solarshop/api/internal/services"
)

var errEmptyBody = errors.New("request body is required")

type orderLineResponse struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
	Total    string `json:"total"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	Client        string              `json:"client"`
	Products      []orderLineResponse `json:"products"`
	TotalPrice    string              `json:"totalPrice"`
	Currency      string              `json:"currency"`
	Branch        string              `json:"branch,omitempty"`
	Status        string              `json:"status"`
	PaymentState  string              `json:"paymentState"`
	PaymentMethod string              `json:"paymentMethod,omitempty"`
	IsPaid        bool                `json:"isPaid"`
	PaidAt        string              `json:"paidAt,omitempty"`
	DeliveryDate  string              `json:"deliveryDate,omitempty"`
	Notes         string              `json:"notes,omitempty"`
	CancelledAt   string              `json:"cancelledAt,omitempty"`
	CancelReason  string              `json:"cancelReason,omitempty"`
	CreatedAt     string              `json:"createdAt"`
	UpdatedAt     string              `json:"updatedAt"`
}

func buildOrderResponse(order services.Order) orderResponse {
	lines := make([]orderLineResponse, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineResponse{
			Product:  line.ProductID,
			Quantity: line.Quantity,
			Price:    line.Price.StringFixed(2),
			Total:    line.Total().StringFixed(2),
		})
	}
	return orderResponse{
		ID:            order.ID,
		Client:        order.ClientID,
		Products:      lines,
		TotalPrice:    order.TotalPrice.StringFixed(2),
		Currency:      order.Currency,
		Branch:        order.BranchID,
		Status:        string(order.Status),
		PaymentState:  string(order.PaymentState),
		PaymentMethod: order.PaymentMethod,
		IsPaid:        order.IsPaid,
		PaidAt:        formatTimePtr(order.PaidAt),
		DeliveryDate:  formatTimePtr(order.DeliveryDate),
		Notes:         order.Notes,
		CancelledAt:   formatTimePtr(order.CancelledAt),
		CancelReason:  order.CancelReason,
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// readJSONBody decodes a size-capped JSON body into dst.
func readJSONBody(r *http.Request, limit int64, dst any) error {
	body, err := httpx.ReadLimitedBody(r, limit)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errEmptyBody
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("request body must be valid JSON")
	}
	return nil
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), status))
}
