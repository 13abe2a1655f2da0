package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func routeOf(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}

// RequestLogger logs panel requests for the emulated model. Successful
// reads are polled constantly by the panel UI and only show at debug.
func RequestLogger(logger zerolog.Logger, model string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case c.Request.Method == http.MethodGet:
			event = logger.Debug()
		default:
			event = logger.Info()
		}

		event.
			Str("model", model).
			Str("method", c.Request.Method).
			Str("route", routeOf(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("panel request")
	}
}

// RequestMetricsMiddleware counts panel requests per model and route.
func RequestMetricsMiddleware(model string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(model, c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}
