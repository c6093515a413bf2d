package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/solarshop/api/internal/services"
)

func newInternalRouter(svc services.OrderService) chi.Router {
	router := chi.NewRouter()
	router.Route("/internal", NewInternalHandlers(svc).Routes)
	return router
}

func TestInternalReleaseStrandedDefaults(t *testing.T) {
	var captured services.ReleaseStrandedCommand
	router := newInternalRouter(&stubOrderService{
		releaseFn: func(_ context.Context, cmd services.ReleaseStrandedCommand) (services.ReleaseStrandedResult, error) {
			captured = cmd
			return services.ReleaseStrandedResult{}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/internal/orders:release-stranded", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OlderThan != 0 || captured.Limit != 0 {
		t.Fatalf("expected service defaults, got %#v", captured)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if released, ok := body["released"].([]any); !ok || len(released) != 0 {
		t.Fatalf("expected empty released list, got %#v", body["released"])
	}
}

func TestInternalReleaseStrandedWithBody(t *testing.T) {
	var captured services.ReleaseStrandedCommand
	router := newInternalRouter(&stubOrderService{
		releaseFn: func(_ context.Context, cmd services.ReleaseStrandedCommand) (services.ReleaseStrandedResult, error) {
			captured = cmd
			return services.ReleaseStrandedResult{
				Released: []string{"ord_1"},
				Failed:   map[string]string{"ord_2": "order: conflict"},
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/internal/orders:release-stranded", bytes.NewBufferString(`{"olderThan":"45m","limit":25}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.OlderThan != 45*time.Minute || captured.Limit != 25 {
		t.Fatalf("unexpected command %#v", captured)
	}
	var body services.ReleaseStrandedResult
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Released) != 1 || body.Failed["ord_2"] == "" {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestInternalReleaseStrandedValidation(t *testing.T) {
	router := newInternalRouter(&stubOrderService{
		releaseFn: func(context.Context, services.ReleaseStrandedCommand) (services.ReleaseStrandedResult, error) {
			t.Fatalf("service should not be called")
			return services.ReleaseStrandedResult{}, nil
		},
	})
	for _, body := range []string{`{"olderThan":"soon"}`, `{"limit":-1}`, `{"olderThan":`} {
		req := httptest.NewRequest(http.MethodPost, "/internal/orders:release-stranded", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", body, rr.Code)
		}
	}
}

func TestInternalReleaseStrandedServiceErrors(t *testing.T) {
	cases := map[error]int{
		services.ErrOrderUnavailable: http.StatusServiceUnavailable,
		errors.New("boom"):           http.StatusInternalServerError,
	}
	for serviceErr, status := range cases {
		router := newInternalRouter(&stubOrderService{
			releaseFn: func(context.Context, services.ReleaseStrandedCommand) (services.ReleaseStrandedResult, error) {
				return services.ReleaseStrandedResult{}, serviceErr
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/internal/orders:release-stranded", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != status {
			t.Fatalf("%v: expected status %d, got %d", serviceErr, status, rr.Code)
		}
	}
}
