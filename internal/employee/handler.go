package employee

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"usersync/pkg/middleware"
	"usersync/pkg/models"
)

// Reader is the read side of the employee store used by the HTTP API.
type Reader interface {
	GetByID(ctx context.Context, id string) (models.Employee, error)
	List(ctx context.Context, limit, offset int) ([]models.Employee, error)
}

// Handler serves the employee read API.
type Handler struct {
	Store Reader
	log   *zap.Logger
}

// NewHandler creates the employee read API handler.
func NewHandler(store Reader, log *zap.Logger) *Handler {
	return &Handler{Store: store, log: log.With(zap.String("component", "employee-api"))}
}

// GetEmployee returns a single employee by its own id.
//
// @Summary      Get an employee by ID
// @Description  Returns a single employee by its own id
// @Tags         employees
// @Produce      json
// @Param        id   path      string  true  "Employee ID"
// @Success      200  {object}  models.Employee
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /employees/{id} [get]
func (h *Handler) GetEmployee(c *gin.Context) {
	employee, err := h.Store.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "employee not found"})
		return
	}
	if err != nil {
		h.log.Error("failed to fetch employee", zap.Error(err),
			zap.String("correlation_id", middleware.GetCorrelationID(c)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch employee"})
		return
	}
	c.JSON(http.StatusOK, employee)
}

// ListEmployees returns employees newest first, paged by limit/offset.
//
// @Summary      List employees
// @Description  Returns employees newest first, paged by limit and offset
// @Tags         employees
// @Produce      json
// @Param        limit   query     int  false  "Page size (1-500)"  default(50)
// @Param        offset  query     int  false  "Rows to skip"       default(0)
// @Success      200     {array}   models.Employee
// @Failure      400     {object}  map[string]string
// @Failure      500     {object}  map[string]string
// @Router       /employees [get]
func (h *Handler) ListEmployees(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	employees, err := h.Store.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.log.Error("failed to list employees", zap.Error(err),
			zap.String("correlation_id", middleware.GetCorrelationID(c)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch employees"})
		return
	}
	c.JSON(http.StatusOK, employees)
}

func pagination(c *gin.Context) (limit, offset int, ok bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return 0, 0, false
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return 0, 0, false
	}
	return limit, offset, true
}
