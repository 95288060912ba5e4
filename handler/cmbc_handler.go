// Package handler exposes the CMBC gateway over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"cmbc-pay/cashier"
	"cmbc-pay/gateway"
)

// CmbcHandler serves pay requests and cashier callbacks.
type CmbcHandler struct {
	app     *gateway.Cmbc
	deduper CallbackDeduper
	logger  *zap.Logger
}

// NewCmbcHandler creates the handler. A nil deduper processes every callback.
func NewCmbcHandler(app *gateway.Cmbc, deduper CallbackDeduper, logger *zap.Logger) *CmbcHandler {
	return &CmbcHandler{
		app:     app,
		deduper: deduper,
		logger:  logger,
	}
}

// Pay builds and signs a cashier payload for the JSON order parameters in the body.
func (h *CmbcHandler) Pay(c echo.Context) error {
	// Body only; path params must not leak into the payload.
	params := map[string]any{}
	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	res, err := h.app.Pay(c.Request().Context(), c.Param("gateway"), params)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidGateway) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		h.logger.Error("cmbc pay failed", zap.String("gateway", c.Param("gateway")), zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "signing bridge unavailable"})
	}
	return c.JSON(http.StatusOK, res)
}

// Notify verifies a cashier callback. A redelivered callback is acknowledged
// without being processed again.
func (h *CmbcHandler) Notify(c echo.Context) error {
	content := c.FormValue(gateway.ContextField)
	if content == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing " + gateway.ContextField})
	}

	payload, err := h.app.Verify(c.Request().Context(), content)
	if err != nil {
		var invalid *cashier.InvalidSignError
		switch {
		case errors.As(err, &invalid):
			h.logger.Warn("cmbc callback rejected", zap.String("result", invalid.Text))
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid sign"})
		case errors.Is(err, cashier.ErrMalformedBody):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed context"})
		}
		h.logger.Error("cmbc callback verify failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "signing bridge unavailable"})
	}

	orderNum := payload.String(cashier.OrderNumField)
	if h.deduper != nil {
		dup, err := h.deduper.Seen(c.Request().Context(), payload)
		if err != nil {
			h.logger.Warn("callback dedup unavailable", zap.Error(err))
		} else if dup {
			return c.JSON(http.StatusOK, map[string]string{"status": "duplicate", "orderNum": orderNum})
		}
	}

	h.logger.Info("cmbc callback accepted", zap.String("orderNum", orderNum))
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "payload": payload})
}
