package handler

import (
	"errors"
	"net/http"

	"gowa-fleet/internal/session"

	"github.com/labstack/echo/v4"
)

type SendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// POST /api/send/:instanceId
func (h *Handler) SendMessage(c echo.Context) error {
	instanceID := c.Param("instanceId")

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if req.To == "" || req.Message == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Field 'to' and 'message' are required", "VALIDATION_ERROR", "")
	}

	sess, ok := h.Registry.Get(instanceID)
	if !ok {
		return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "Please login first")
	}

	receipt, err := sess.Send(c.Request().Context(), req.To, req.Message)
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return ErrorResponse(c, http.StatusBadRequest, "Session is not connected", "NOT_CONNECTED", "Please check the /status endpoint")
	case errors.Is(err, session.ErrConnectionLost):
		return ErrorResponse(c, http.StatusBadGateway, "Connection lost while sending", "CONNECTION_LOST", err.Error())
	case err != nil:
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to send message", "SEND_FAILED", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Message sent successfully", map[string]interface{}{
		"messageId": receipt.ID,
		"timestamp": receipt.Timestamp.Unix(),
		"to":        req.To,
	})
}
