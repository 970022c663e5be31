package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/lumenlabs/arcus-adapter/internal/arcus"
)

// DeviceService is the slice of the arcus service the handlers need.
type DeviceService interface {
	ListDevices(ctx context.Context) ([]arcus.Device, error)
	GetDeviceProperties(ctx context.Context, mac string) ([]arcus.Property, error)
	SetDeviceProperty(ctx context.Context, mac, pid, value string) error
	RunAction(ctx context.Context, mac, actionKey string) error
	ControlLock(ctx context.Context, uuid, action string, withKeypad bool) error
	GetLockInfo(ctx context.Context, uuid string) (*arcus.LockInfo, error)
}

// Handler serves the adapter's REST surface.
type Handler struct {
	logger  *zap.Logger
	service DeviceService
}

// NewHandler constructs the API handler.
func NewHandler(logger *zap.Logger, service DeviceService) *Handler {
	return &Handler{logger: logger, service: service}
}

// ListDevices handles GET /api/v1/devices.
func (h *Handler) ListDevices(c *fiber.Ctx) error {
	devices, err := h.service.ListDevices(c.Context())
	if err != nil {
		h.logger.Warn("api.list_devices_failed", zap.Error(err))
		return renderError(c, err)
	}

	out := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceResponse{
			MAC:          d.MAC,
			Nickname:     d.Nickname,
			ProductModel: d.ProductModel,
			ProductType:  d.ProductType,
			IsOnline:     d.IsOnline,
			FirmwareVer:  d.FirmwareVer,
		})
	}
	return c.JSON(fiber.Map{"devices": out})
}

// GetProperties handles GET /api/v1/devices/:mac/properties.
func (h *Handler) GetProperties(c *fiber.Ctx) error {
	mac := c.Params("mac")
	props, err := h.service.GetDeviceProperties(c.Context(), mac)
	if err != nil {
		h.logger.Warn("api.get_properties_failed", zap.String("mac", mac), zap.Error(err))
		return renderError(c, err)
	}

	out := make([]PropertyResponse, 0, len(props))
	for _, p := range props {
		out = append(out, PropertyResponse{PID: p.PID, Value: p.Value, TS: p.TS})
	}
	return c.JSON(fiber.Map{"mac": mac, "properties": out})
}

// SetProperty handles POST /api/v1/devices/:mac/properties.
func (h *Handler) SetProperty(c *fiber.Ctx) error {
	mac := c.Params("mac")

	var req SetPropertyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Kind: "bad_request", Message: "invalid JSON body",
		})
	}
	if req.PID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Kind: "bad_request", Message: "pid is required",
		})
	}

	if err := h.service.SetDeviceProperty(c.Context(), mac, req.PID, req.Value); err != nil {
		h.logger.Warn("api.set_property_failed",
			zap.String("mac", mac), zap.String("pid", req.PID), zap.Error(err))
		return renderError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// RunAction handles POST /api/v1/devices/:mac/actions.
func (h *Handler) RunAction(c *fiber.Ctx) error {
	mac := c.Params("mac")

	var req RunActionRequest
	if err := c.BodyParser(&req); err != nil || req.ActionKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Kind: "bad_request", Message: "action_key is required",
		})
	}

	if err := h.service.RunAction(c.Context(), mac, req.ActionKey); err != nil {
		h.logger.Warn("api.run_action_failed",
			zap.String("mac", mac), zap.String("action_key", req.ActionKey), zap.Error(err))
		return renderError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// ControlLock handles POST /api/v1/locks/:uuid/control.
func (h *Handler) ControlLock(c *fiber.Ctx) error {
	uuid := c.Params("uuid")

	var req LockControlRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Kind: "bad_request", Message: "invalid JSON body",
		})
	}

	var action string
	switch req.Action {
	case "lock":
		action = arcus.LockActionLock
	case "unlock":
		action = arcus.LockActionUnlock
	default:
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Kind: "bad_request", Message: `action must be "lock" or "unlock"`,
		})
	}

	if err := h.service.ControlLock(c.Context(), uuid, action, req.WithKeypad); err != nil {
		h.logger.Warn("api.lock_control_failed",
			zap.String("uuid", uuid), zap.String("action", req.Action), zap.Error(err))
		return renderError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// GetLockInfo handles GET /api/v1/locks/:uuid.
func (h *Handler) GetLockInfo(c *fiber.Ctx) error {
	uuid := c.Params("uuid")

	info, err := h.service.GetLockInfo(c.Context(), uuid)
	if err != nil {
		h.logger.Warn("api.lock_info_failed", zap.String("uuid", uuid), zap.Error(err))
		return renderError(c, err)
	}
	return c.JSON(LockInfoResponse{
		UUID:     info.UUID,
		Locked:   info.Locked(),
		DoorOpen: info.DoorOpen(),
		Online:   info.Onoff == 1,
		Power:    info.Power,
	})
}
