package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	userdocs "usersync/docs/userservice"
	"usersync/pkg/health"
	"usersync/pkg/metrics"
	"usersync/pkg/middleware"
)

// NewRouter creates and configures the user-service Gin router.
func NewRouter(h *UserHandler, checks map[string]health.Check, log *zap.Logger) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(middleware.CorrelationID())
	r.Use(middleware.RequestLogger(log))

	r.GET("/health", health.Handler("user-service", checks))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Swagger
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.InstanceName(userdocs.SwaggerInfo.InstanceName())))

	// User routes
	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUser)
	r.GET("/users", h.ListUsers)

	return r
}
