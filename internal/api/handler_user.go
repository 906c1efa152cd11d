package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"usersync/internal/users"
	"usersync/pkg/middleware"
	"usersync/pkg/models"
)

// UserService is implemented by *users.Service.
type UserService interface {
	CreateUser(ctx context.Context, req models.CreateUserRequest) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]models.User, error)
}

// UserHandler handles user-related HTTP requests.
type UserHandler struct {
	Users UserService
	log   *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(svc UserService, log *zap.Logger) *UserHandler {
	return &UserHandler{Users: svc, log: log.With(zap.String("component", "user-api"))}
}

// CreateUser registers a user and publishes user.created.
// 201 on success, 400 on invalid input, 409 when the email or username is
// taken, 500 otherwise. When the user was stored but the event could not be
// published the 500 body carries the new user's id.
//
// @Summary      Create a new user
// @Description  Creates a new user and publishes a user.created event
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request  body      models.CreateUserRequest  true  "Create user request"
// @Success      201      {object}  models.User
// @Failure      400      {object}  map[string]string
// @Failure      409      {object}  map[string]string
// @Failure      500      {object}  map[string]string
// @Router       /users [post]
func (h *UserHandler) CreateUser(c *gin.Context) {
	correlationID := middleware.GetCorrelationID(c)

	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.Users.CreateUser(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, user)
	case errors.Is(err, users.ErrEmailTaken), errors.Is(err, users.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, users.ErrEventNotPublished):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "user created but user.created event was not published",
			"id":    user.ID,
		})
	default:
		h.log.Error("error creating user", zap.Error(err), zap.String("correlation_id", correlationID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
	}
}

// GetUser returns a single user.
//
// @Summary      Get a user by ID
// @Description  Returns a single user
// @Tags         users
// @Produce      json
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  models.User
// @Failure      404  {object}  map[string]string
// @Router       /users/{id} [get]
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.Users.GetUser(c.Request.Context(), c.Param("id"))
	if errors.Is(err, users.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		h.log.Error("error fetching user", zap.Error(err), zap.String("correlation_id", middleware.GetCorrelationID(c)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch user"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListUsers returns users newest first, paged by limit/offset.
//
// @Summary      List users
// @Description  Returns users newest first, paged by limit and offset
// @Tags         users
// @Produce      json
// @Param        limit   query     int  false  "Page size (1-500)"  default(50)
// @Param        offset  query     int  false  "Rows to skip"       default(0)
// @Success      200     {array}   models.User
// @Failure      400     {object}  map[string]string
// @Failure      500     {object}  map[string]string
// @Router       /users [get]
func (h *UserHandler) ListUsers(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}

	list, err := h.Users.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		h.log.Error("error listing users", zap.Error(err), zap.String("correlation_id", middleware.GetCorrelationID(c)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch users"})
		return
	}
	c.JSON(http.StatusOK, list)
}
