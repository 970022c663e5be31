package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumenlabs/arcus-adapter/internal/arcus"
)

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// renderError maps a classified adapter error onto an HTTP response. No
// taxonomy error ever crashes the process; unknown errors become 502s with a
// retry-suggesting message.
func renderError(c *fiber.Ctx, err error) error {
	kind, ok := arcus.KindOf(err)
	status := fiber.StatusBadGateway
	if ok {
		switch kind {
		case arcus.KindAuthentication, arcus.KindMFARequired:
			status = fiber.StatusUnauthorized
		case arcus.KindNotFound:
			status = fiber.StatusNotFound
		case arcus.KindRateLimit:
			status = fiber.StatusTooManyRequests
		case arcus.KindAPILogical:
			status = fiber.StatusBadGateway
		case arcus.KindTransport:
			status = fiber.StatusGatewayTimeout
		case arcus.KindConfiguration:
			status = fiber.StatusInternalServerError
		}
	}
	return c.Status(status).JSON(ErrorResponse{
		Kind:    kind.String(),
		Message: arcus.UserMessage(err),
	})
}

// DeviceResponse is one device entry of the catalog listing.
type DeviceResponse struct {
	MAC          string `json:"mac"`
	Nickname     string `json:"nickname"`
	ProductModel string `json:"product_model"`
	ProductType  string `json:"product_type"`
	IsOnline     bool   `json:"is_online"`
	FirmwareVer  string `json:"firmware_ver"`
}

// PropertyResponse is one device property.
type PropertyResponse struct {
	PID   string `json:"pid"`
	Value string `json:"value"`
	TS    int64  `json:"ts"`
}

// LockInfoResponse reports current lock state.
type LockInfoResponse struct {
	UUID     string `json:"uuid"`
	Locked   bool   `json:"locked"`
	DoorOpen bool   `json:"door_open"`
	Online   bool   `json:"online"`
	Power    int    `json:"power"`
}

// SetPropertyRequest is the payload for writing a device property.
type SetPropertyRequest struct {
	PID   string `json:"pid"`
	Value string `json:"value"`
}

// RunActionRequest is the payload for triggering a device action.
type RunActionRequest struct {
	ActionKey string `json:"action_key"`
}

// LockControlRequest is the payload for a lock/unlock command.
type LockControlRequest struct {
	Action     string `json:"action"` // "lock" or "unlock"
	WithKeypad bool   `json:"with_keypad"`
}
