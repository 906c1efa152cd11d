package employee

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"usersync/pkg/health"
	"usersync/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := NewHandler(NewSQLRepository(db), zap.NewNop())
	return NewRouter(h, map[string]health.Check{}, zap.NewNop()), mock
}

func TestGetEmployee_Success(t *testing.T) {
	router, mock := newTestRouter(t)

	now := time.Now()
	mock.ExpectQuery("FROM employees WHERE id = \\$1").
		WithArgs("emp-123").
		WillReturnRows(sqlmock.NewRows(employeeRowColumns).
			AddRow("emp-123", "user-123", "alice", "alice@example.com", DefaultPosition, now))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/employees/emp-123", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var e models.Employee
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if e.UserID != "user-123" || e.Position != DefaultPosition {
		t.Errorf("unexpected employee: %+v", e)
	}
}

func TestGetEmployee_NotFound(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery("FROM employees WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(employeeRowColumns))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/employees/missing", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestListEmployees(t *testing.T) {
	router, mock := newTestRouter(t)

	now := time.Now()
	mock.ExpectQuery("FROM employees ORDER BY created_at DESC LIMIT \\$1 OFFSET \\$2").
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows(employeeRowColumns).
			AddRow("emp-2", "user-2", "bob", "bob@example.com", DefaultPosition, now).
			AddRow("emp-1", "user-1", "alice", "alice@example.com", DefaultPosition, now.Add(-time.Minute)))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/employees?limit=10", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var employees []models.Employee
	if err := json.Unmarshal(w.Body.Bytes(), &employees); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(employees) != 2 || employees[0].ID != "emp-2" {
		t.Errorf("unexpected employees: %+v", employees)
	}
}

func TestListEmployees_Empty(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery("FROM employees ORDER BY").
		WillReturnRows(sqlmock.NewRows(employeeRowColumns))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/employees", nil)
	router.ServeHTTP(w, req)

	if w.Body.String() != "[]" {
		t.Errorf("expected empty JSON array, got %s", w.Body.String())
	}
}

func TestListEmployees_BadPagination(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, q := range []string{"limit=0", "limit=abc", "offset=-1", "limit=1000"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/employees?"+q, nil)
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", q, w.Code)
		}
	}
}

func TestNewRouter_RoutesExist(t *testing.T) {
	router, _ := newTestRouter(t)

	expected := map[string]bool{
		"GET /health":        false,
		"GET /metrics":       false,
		"GET /employees":     false,
		"GET /employees/:id": false,
		"GET /swagger/*any":  false,
	}
	for _, r := range router.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := expected[key]; ok {
			expected[key] = true
		}
	}
	for key, found := range expected {
		if !found {
			t.Errorf("missing route %s", key)
		}
	}
}

func TestSwagger_ServesEmployeeDocument(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var doc struct {
		Paths map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("swagger document is not JSON: %v", err)
	}
	for _, path := range []string{"/employees", "/employees/{id}"} {
		if _, ok := doc.Paths[path]; !ok {
			t.Errorf("expected %s in swagger document", path)
		}
	}
}
