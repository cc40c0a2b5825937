package handler

import (
	"errors"
	"net/http"

	"gowa-fleet/internal/session"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Handler exposes the session registry over HTTP.
type Handler struct {
	Registry *session.Registry
	Log      zerolog.Logger
}

func New(registry *session.Registry, log zerolog.Logger) *Handler {
	return &Handler{Registry: registry, Log: log.With().Str("component", "handler").Logger()}
}

// POST /api/instances
func (h *Handler) CreateInstance(c echo.Context) error {
	instanceID := uuid.NewString()
	h.Registry.GetOrCreate(instanceID)

	return SuccessResponse(c, http.StatusOK, "Instance created, QR code required", map[string]interface{}{
		"instanceId": instanceID,
		"status":     "qr_required",
		"nextStep":   "Call GET /api/qr/:instanceId to get the QR code",
	})
}

// GET /api/status/:instanceId
func (h *Handler) GetStatus(c echo.Context) error {
	instanceID := c.Param("instanceId")

	sess, ok := h.Registry.Get(instanceID)
	if !ok {
		return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "")
	}
	return SuccessResponse(c, http.StatusOK, "Status retrieved", sess.Status())
}

// GET /api/qr/:instanceId?force=true
func (h *Handler) GetQR(c echo.Context) error {
	instanceID := c.Param("instanceId")
	force := c.QueryParam("force") == "true"

	sess := h.Registry.GetOrCreate(instanceID)
	res, err := sess.RequestQR(c.Request().Context(), force)
	if err != nil {
		if errors.Is(err, session.ErrAdmissionTimeout) {
			return ErrorResponse(c, http.StatusServiceUnavailable, "Too many concurrent connection attempts", "ADMISSION_TIMEOUT", err.Error())
		}
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to request QR", "QR_REQUEST_FAILED", err.Error())
	}

	switch res.Status {
	case session.QRStatusConnected:
		return SuccessResponse(c, http.StatusOK, "Already connected", map[string]interface{}{
			"status": "already_connected",
		})
	case session.QRStatusReady:
		return SuccessResponse(c, http.StatusOK, "QR code ready", map[string]interface{}{
			"status":    "ready",
			"qr":        res.Artifact.Payload,
			"issuedAt":  res.Artifact.IssuedAt,
			"expiresAt": res.ExpiresAt,
		})
	default:
		return SuccessResponse(c, http.StatusOK, "QR not ready yet, retry shortly", map[string]interface{}{
			"status": "pending",
		})
	}
}

// POST /api/pair/:instanceId
func (h *Handler) RequestPairing(c echo.Context) error {
	instanceID := c.Param("instanceId")

	var req struct {
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
	}
	if req.PhoneNumber == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Field 'phoneNumber' is required", "PHONE_REQUIRED", "")
	}

	sess := h.Registry.GetOrCreate(instanceID)
	res, err := sess.RequestPairing(c.Request().Context(), req.PhoneNumber)
	if err != nil {
		if errors.Is(err, session.ErrAdmissionTimeout) {
			return ErrorResponse(c, http.StatusServiceUnavailable, "Too many concurrent connection attempts", "ADMISSION_TIMEOUT", err.Error())
		}
		return ErrorResponse(c, http.StatusBadRequest, "Failed to request pairing code", "PAIRING_FAILED", err.Error())
	}

	switch res.Status {
	case session.QRStatusReady:
		return SuccessResponse(c, http.StatusOK, "Pairing code ready", map[string]interface{}{
			"status":      "ready",
			"pairingCode": res.Code,
		})
	case session.QRStatusConnected:
		return SuccessResponse(c, http.StatusOK, "Already connected", map[string]interface{}{
			"status": "already_connected",
		})
	default:
		return SuccessResponse(c, http.StatusOK, "Pairing code not ready yet, retry shortly", map[string]interface{}{
			"status": "pending",
		})
	}
}

// POST /api/disconnect/:instanceId?wipe=true
func (h *Handler) Disconnect(c echo.Context) error {
	instanceID := c.Param("instanceId")
	wipe := c.QueryParam("wipe") == "true"

	if wipe {
		if err := h.Registry.Logout(c.Request().Context(), instanceID); err != nil {
			return ErrorResponse(c, http.StatusInternalServerError, "Failed to logout", "LOGOUT_FAILED", err.Error())
		}
		return SuccessResponse(c, http.StatusOK, "Logged out", map[string]interface{}{
			"instanceId": instanceID,
		})
	}

	sess, ok := h.Registry.Get(instanceID)
	if ok {
		if err := sess.Disconnect(c.Request().Context(), false); err != nil {
			return ErrorResponse(c, http.StatusInternalServerError, "Failed to disconnect", "DISCONNECT_FAILED", err.Error())
		}
	}
	// Disconnecting an absent instance is a no-op, not an error.
	return SuccessResponse(c, http.StatusOK, "Disconnected", map[string]interface{}{
		"instanceId": instanceID,
	})
}

// POST /api/logout/:instanceId
func (h *Handler) Logout(c echo.Context) error {
	instanceID := c.Param("instanceId")

	if err := h.Registry.Logout(c.Request().Context(), instanceID); err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to logout", "LOGOUT_FAILED", err.Error())
	}
	return SuccessResponse(c, http.StatusOK, "Logged out successfully", map[string]interface{}{
		"instanceId": instanceID,
	})
}

// POST /api/reconnect/:instanceId — forces a fresh credential cycle.
func (h *Handler) Reconnect(c echo.Context) error {
	return h.start(c, true)
}

// POST /api/restore/:instanceId — reconnects with stored credentials.
func (h *Handler) Restore(c echo.Context) error {
	return h.start(c, false)
}

func (h *Handler) start(c echo.Context, forceNew bool) error {
	instanceID := c.Param("instanceId")

	sess := h.Registry.GetOrCreate(instanceID)
	err := sess.Start(c.Request().Context(), forceNew)
	switch {
	case errors.Is(err, session.ErrAlreadyConnected):
		return SuccessResponse(c, http.StatusOK, "Already connected", map[string]interface{}{
			"instanceId": instanceID,
			"status":     "already_connected",
		})
	case errors.Is(err, session.ErrAdmissionTimeout):
		return ErrorResponse(c, http.StatusServiceUnavailable, "Too many concurrent connection attempts", "ADMISSION_TIMEOUT", err.Error())
	case err != nil:
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to start session", "START_FAILED", err.Error())
	}
	return SuccessResponse(c, http.StatusOK, "Session starting", map[string]interface{}{
		"instanceId": instanceID,
		"status":     "connecting",
	})
}

// GET /api/instances
func (h *Handler) ListInstances(c echo.Context) error {
	instances := h.Registry.List()
	return SuccessResponse(c, http.StatusOK, "Instances retrieved", map[string]interface{}{
		"total":     len(instances),
		"instances": instances,
	})
}

// GET /
func (h *Handler) Health(c echo.Context) error {
	active, total := h.Registry.Health()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "WhatsApp session manager is running",
		"activeCount": active,
		"totalCount":  total,
	})
}
