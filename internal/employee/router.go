package employee

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	employeedocs "usersync/docs/employeeservice"
	"usersync/pkg/health"
	"usersync/pkg/metrics"
	"usersync/pkg/middleware"
)

// NewRouter creates and configures the employee-service Gin router.
func NewRouter(h *Handler, checks map[string]health.Check, log *zap.Logger) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.CorrelationID())
	r.Use(middleware.RequestLogger(log))

	r.GET("/health", health.Handler("employee-service", checks))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Swagger
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.InstanceName(employeedocs.SwaggerInfo.InstanceName())))

	r.GET("/employees", h.ListEmployees)
	r.GET("/employees/:id", h.GetEmployee)

	return r
}
