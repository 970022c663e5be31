package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumenlabs/arcus-adapter/internal/arcus"
)

// stubService implements DeviceService with per-method overrides.
type stubService struct {
	listDevices   func(ctx context.Context) ([]arcus.Device, error)
	getProperties func(ctx context.Context, mac string) ([]arcus.Property, error)
	setProperty   func(ctx context.Context, mac, pid, value string) error
	runAction     func(ctx context.Context, mac, actionKey string) error
	controlLock   func(ctx context.Context, uuid, action string, withKeypad bool) error
	getLockInfo   func(ctx context.Context, uuid string) (*arcus.LockInfo, error)
}

func (s *stubService) ListDevices(ctx context.Context) ([]arcus.Device, error) {
	return s.listDevices(ctx)
}

func (s *stubService) GetDeviceProperties(ctx context.Context, mac string) ([]arcus.Property, error) {
	return s.getProperties(ctx, mac)
}

func (s *stubService) SetDeviceProperty(ctx context.Context, mac, pid, value string) error {
	return s.setProperty(ctx, mac, pid, value)
}

func (s *stubService) RunAction(ctx context.Context, mac, actionKey string) error {
	return s.runAction(ctx, mac, actionKey)
}

func (s *stubService) ControlLock(ctx context.Context, uuid, action string, withKeypad bool) error {
	return s.controlLock(ctx, uuid, action, withKeypad)
}

func (s *stubService) GetLockInfo(ctx context.Context, uuid string) (*arcus.LockInfo, error) {
	return s.getLockInfo(ctx, uuid)
}

func newTestApp(t *testing.T, svc DeviceService) *fiber.App {
	t.Helper()
	app := fiber.New()
	RegisterRoutes(app, nil, nil, NewHandler(zap.NewNop(), svc))
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

func TestListDevices_OK(t *testing.T) {
	app := newTestApp(t, &stubService{
		listDevices: func(context.Context) ([]arcus.Device, error) {
			return []arcus.Device{
				{MAC: "AA:BB", Nickname: "Desk Lamp", ProductModel: "AR.LIGHT.1", IsOnline: true},
			}, nil
		},
	})

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/devices", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	devices := body["devices"].([]any)
	require.Len(t, devices, 1)
	first := devices[0].(map[string]any)
	assert.Equal(t, "AA:BB", first["mac"])
	assert.Equal(t, true, first["is_online"])
}

func TestErrorKindStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"auth", &arcus.Error{Kind: arcus.KindAuthentication, Message: "denied"}, http.StatusUnauthorized, "authentication"},
		{"mfa", &arcus.Error{Kind: arcus.KindMFARequired, Message: "mfa", MFAOptions: []string{"sms"}}, http.StatusUnauthorized, "mfa_required"},
		{"not found", &arcus.Error{Kind: arcus.KindNotFound, Message: "no device"}, http.StatusNotFound, "not_found"},
		{"rate limit", &arcus.Error{Kind: arcus.KindRateLimit, Message: "429"}, http.StatusTooManyRequests, "rate_limit"},
		{"api logical", &arcus.Error{Kind: arcus.KindAPILogical, Message: "rejected", Code: "1001"}, http.StatusBadGateway, "api_logical"},
		{"transport", &arcus.Error{Kind: arcus.KindTransport, Message: "timeout"}, http.StatusGatewayTimeout, "transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, &stubService{
				listDevices: func(context.Context) ([]arcus.Device, error) {
					return nil, tt.err
				},
			})

			resp, body := doRequest(t, app, http.MethodGet, "/api/v1/devices", "")
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantKind, body["kind"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestGetProperties_OK(t *testing.T) {
	app := newTestApp(t, &stubService{
		getProperties: func(_ context.Context, mac string) ([]arcus.Property, error) {
			assert.Equal(t, "AA:BB", mac)
			return []arcus.Property{{PID: "P3", Value: "1", TS: 1700000000000}}, nil
		},
	})

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/devices/AA:BB/properties", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "AA:BB", body["mac"])
	props := body["properties"].([]any)
	require.Len(t, props, 1)
	assert.Equal(t, "P3", props[0].(map[string]any)["pid"])
}

func TestSetProperty(t *testing.T) {
	var gotMAC, gotPID, gotValue string
	app := newTestApp(t, &stubService{
		setProperty: func(_ context.Context, mac, pid, value string) error {
			gotMAC, gotPID, gotValue = mac, pid, value
			return nil
		},
	})

	t.Run("ok", func(t *testing.T) {
		resp, body := doRequest(t, app, http.MethodPost, "/api/v1/devices/AA:BB/properties",
			`{"pid":"P1501","value":"80"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "AA:BB", gotMAC)
		assert.Equal(t, "P1501", gotPID)
		assert.Equal(t, "80", gotValue)
	})

	t.Run("missing pid", func(t *testing.T) {
		resp, body := doRequest(t, app, http.MethodPost, "/api/v1/devices/AA:BB/properties",
			`{"value":"80"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "bad_request", body["kind"])
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, _ := doRequest(t, app, http.MethodPost, "/api/v1/devices/AA:BB/properties",
			`{not json`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRunAction(t *testing.T) {
	var gotAction string
	app := newTestApp(t, &stubService{
		runAction: func(_ context.Context, mac, actionKey string) error {
			gotAction = actionKey
			return nil
		},
	})

	resp, _ := doRequest(t, app, http.MethodPost, "/api/v1/devices/AA:BB/actions",
		`{"action_key":"power_on"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "power_on", gotAction)

	resp, _ = doRequest(t, app, http.MethodPost, "/api/v1/devices/AA:BB/actions", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestControlLock(t *testing.T) {
	var gotUUID, gotAction string
	var gotKeypad bool
	app := newTestApp(t, &stubService{
		controlLock: func(_ context.Context, uuid, action string, withKeypad bool) error {
			gotUUID, gotAction, gotKeypad = uuid, action, withKeypad
			return nil
		},
	})

	t.Run("lock", func(t *testing.T) {
		resp, _ := doRequest(t, app, http.MethodPost, "/api/v1/locks/LOCK-1/control",
			`{"action":"lock"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "LOCK-1", gotUUID)
		assert.Equal(t, arcus.LockActionLock, gotAction)
		assert.False(t, gotKeypad)
	})

	t.Run("unlock with keypad", func(t *testing.T) {
		resp, _ := doRequest(t, app, http.MethodPost, "/api/v1/locks/LOCK-1/control",
			`{"action":"unlock","with_keypad":true}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, arcus.LockActionUnlock, gotAction)
		assert.True(t, gotKeypad)
	})

	t.Run("unknown action", func(t *testing.T) {
		resp, body := doRequest(t, app, http.MethodPost, "/api/v1/locks/LOCK-1/control",
			`{"action":"explode"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "bad_request", body["kind"])
	})
}

func TestGetLockInfo(t *testing.T) {
	app := newTestApp(t, &stubService{
		getLockInfo: func(_ context.Context, uuid string) (*arcus.LockInfo, error) {
			assert.Equal(t, "LOCK-1", uuid)
			return &arcus.LockInfo{UUID: "LOCK-1", Onoff: 1, LockState: 1, DoorState: 0, Power: 90}, nil
		},
	})

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/locks/LOCK-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "LOCK-1", body["uuid"])
	assert.Equal(t, true, body["locked"])
	assert.Equal(t, false, body["door_open"])
	assert.Equal(t, true, body["online"])
	assert.EqualValues(t, 90, body["power"])
}

func TestHealth_NoBackendsConfigured(t *testing.T) {
	app := newTestApp(t, &stubService{})

	resp, body := doRequest(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
