package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"usersync/pkg/health"
)

func TestNewRouter_RoutesExist(t *testing.T) {
	router, _ := newTestRouter(t, &mockPublisher{})

	routes := router.Routes()
	expectedRoutes := map[string]string{
		"GET /health":       "health",
		"GET /metrics":      "metrics",
		"POST /users":       "create",
		"GET /users/:id":    "get",
		"GET /users":        "list",
		"GET /swagger/*any": "swagger",
	}

	found := make(map[string]bool)
	for _, r := range routes {
		key := r.Method + " " + r.Path
		if _, ok := expectedRoutes[key]; ok {
			found[key] = true
		}
	}

	for key, desc := range expectedRoutes {
		if !found[key] {
			t.Errorf("missing route %s (%s)", key, desc)
		}
	}
}

func TestHealth_ReportsBrokerOutage(t *testing.T) {
	handler := NewUserHandler(nil, zap.NewNop())
	router := NewRouter(handler, map[string]health.Check{
		"broker": func(ctx context.Context) error { return errors.New("not connected") },
	}, zap.NewNop())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not connected") {
		t.Errorf("expected broker status in body, got %s", w.Body.String())
	}
}

func TestHealth_OK(t *testing.T) {
	router, _ := newTestRouter(t, &mockPublisher{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestSwagger_ServesUserDocument(t *testing.T) {
	router, _ := newTestRouter(t, &mockPublisher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	for _, want := range []string{`"/users"`, `"/users/{id}"`, "models.CreateUserRequest"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("expected %s in swagger document", want)
		}
	}
}
