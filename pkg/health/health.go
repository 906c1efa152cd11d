// Package health serves the /health endpoint of both services.
package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Check reports a dependency's status; nil means healthy.
type Check func(ctx context.Context) error

// BrokerStatus is satisfied by *rabbitmq.Connection.
type BrokerStatus interface {
	Connected() bool
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

var errBrokerDown = errors.New("not connected")

// Broker reports whether the broker connection is currently established.
func Broker(b BrokerStatus) Check {
	return func(ctx context.Context) error {
		if !b.Connected() {
			return errBrokerDown
		}
		return nil
	}
}

// Database pings the store with a short timeout.
func Database(db Pinger) Check {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
}

// Handler runs every check and answers 200 when all pass, 503 otherwise.
func Handler(service string, checks map[string]Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		c.JSON(code, gin.H{"status": status, "service": service, "checks": results})
	}
}
