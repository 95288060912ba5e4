package handler

import (
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Setup configures all routes for the Echo server.
func Setup(e *echo.Echo, h *CmbcHandler, gatherer prometheus.Gatherer, logger *zap.Logger) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(requestLogger(logger))

	g := e.Group("/cmbc")
	g.POST("/pay/:gateway", h.Pay)
	g.POST("/notify", h.Notify)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)))
			return nil
		}
	}
}
