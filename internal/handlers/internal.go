package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/solarshop/api/internal/platform/httpx"
	"github.com/solarshop/api/internal/services"
)

const maxInternalRequestBody = 4 * 1024

// InternalHandlers serves scheduler-driven maintenance endpoints. The router guards the
// group with OIDC.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs internal maintenance handlers.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders:release-stranded", h.releaseStranded)
}

type releaseStrandedRequest struct {
	OlderThan string `json:"olderThan"`
	Limit     int    `json:"limit"`
}

func (h *InternalHandlers) releaseStranded(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req releaseStrandedRequest
	if err := readJSONBody(r, maxInternalRequestBody, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(w, r, err)
		return
	}

	var olderThan time.Duration
	if raw := strings.TrimSpace(req.OlderThan); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "olderThan must be a positive duration such as 30m", http.StatusBadRequest))
			return
		}
		olderThan = d
	}
	if req.Limit < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must not be negative", http.StatusBadRequest))
		return
	}

	result, err := h.orders.ReleaseStranded(ctx, services.ReleaseStrandedCommand{
		OlderThan: olderThan,
		Limit:     req.Limit,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order storage unavailable", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to release stranded orders", http.StatusInternalServerError))
		}
		return
	}
	if result.Released == nil {
		result.Released = []string{}
	}
	writeJSONResponse(w, http.StatusOK, result)
}
