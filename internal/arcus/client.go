package arcus

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlabs/arcus-adapter/internal/httpclient"
	"github.com/lumenlabs/arcus-adapter/internal/rate"
)

const (
	objectListPath   = "/app/v2/home_page/get_object_list"
	propertyListPath = "/app/v2/device/get_property_list"
	setPropertyPath  = "/app/v2/device/set_property"
	runActionPath    = "/app/v2/auto/run_action"
	lockControlPath  = "/openapi/lock/v1/control"
	lockInfoPath     = "/openapi/lock/v1/info"

	// App identity fields the device API expects in every payload. The cloud
	// gates responses on these matching a known client build.
	appName         = "com.arcus.home"
	appVersion      = "3.2.1"
	appVer          = appName + "___" + appVersion
	phoneSystemType = 2
	scValue         = "9f275790cab94a72bd206c8876429f3c"
	svValue         = "9d74946e652647e9b6c9d59326aef104"

	// The lock subsystem authenticates with its own fixed application
	// key/secret pair instead of the standard app identity fields.
	lockAppKey    = "ld2nV84sY1qTmB7r"
	lockAppSecret = "9xGw3kPaLzE5uJh0cVbN6sDqR1tM8fyi"

	// Silent clamp bounds for stringly-typed property writes.
	brightnessMin = 1
	brightnessMax = 100
	colorTempMin  = 2700
	colorTempMax  = 6500
)

// identityFields returns the fixed application-identity payload fields plus
// the current timestamp. Shared by the refresh exchange and every standard
// device call.
func identityFields(phoneID string, now time.Time) map[string]any {
	return map[string]any{
		"app_name":          appName,
		"app_ver":           appVer,
		"app_version":       appVersion,
		"phone_id":          phoneID,
		"phone_system_type": phoneSystemType,
		"sc":                scValue,
		"sv":                svValue,
		"ts":                now.UnixMilli(),
	}
}

// Client composes the token manager and request signer into concrete Arcus
// API calls. It never retries on its own: the executor is configured with
// zero retries so every failure is classified and surfaced exactly once, and
// callers own their retry policy.
type Client struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	tokens  *TokenManager
	apiHost string
	lockHost string
	phoneID string
	now     func() time.Time
}

// NewClient constructs an Arcus HTTP client. timeout is the per-call budget;
// a timed-out call is a transport failure, not a logical API failure.
func NewClient(logger *zap.Logger, rateMgr *rate.Manager, tokens *TokenManager, apiHost, lockHost, phoneID string, timeout time.Duration) *Client {
	httpClient := &http.Client{Timeout: timeout}
	exec := httpclient.New(logger, rateMgr, httpClient, 0, "arcus", classifyStatus)
	return &Client{
		logger:   logger,
		exec:     exec,
		tokens:   tokens,
		apiHost:  apiHost,
		lockHost: lockHost,
		phoneID:  phoneID,
		now:      time.Now,
	}
}

//
// ────────────────────────────────────────────────
//   Standard payload calls (bearer token)
// ────────────────────────────────────────────────
//

// ListDevices returns every device registered to the account.
// POST /app/v2/home_page/get_object_list
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var data objectListData
	if err := c.postEnvelope(ctx, objectListPath, nil, &data); err != nil {
		return nil, err
	}
	return data.DeviceList, nil
}

// GetPropertyList returns the property set of one device.
// POST /app/v2/device/get_property_list
func (c *Client) GetPropertyList(ctx context.Context, mac, model string) ([]Property, error) {
	extra := map[string]any{
		"device_mac":      mac,
		"device_model":    model,
		"target_pid_list": []string{},
	}
	var data propertyListData
	if err := c.postEnvelope(ctx, propertyListPath, extra, &data); err != nil {
		return nil, err
	}
	return data.PropertyList, nil
}

// SetProperty writes a single property value. Values travel as strings
// regardless of semantic type; use the typed setters below for clamping.
// POST /app/v2/device/set_property
func (c *Client) SetProperty(ctx context.Context, mac, model, pid, value string) error {
	extra := map[string]any{
		"device_mac":   mac,
		"device_model": model,
		"pid":          pid,
		"pvalue":       value,
	}
	return c.postEnvelope(ctx, setPropertyPath, extra, nil)
}

// SetPower switches a device on or off.
func (c *Client) SetPower(ctx context.Context, mac, model string, on bool) error {
	return c.SetProperty(ctx, mac, model, PropPower, boolParam(on))
}

// SetBrightness sets brightness, silently clamped to [1,100] and rounded.
func (c *Client) SetBrightness(ctx context.Context, mac, model string, level float64) error {
	return c.SetProperty(ctx, mac, model, PropBrightness, ClampBrightness(level))
}

// SetColorTemp sets color temperature in Kelvin, silently clamped to
// [2700,6500] and rounded.
func (c *Client) SetColorTemp(ctx context.Context, mac, model string, kelvin float64) error {
	return c.SetProperty(ctx, mac, model, PropColorTemp, ClampColorTemp(kelvin))
}

// RunAction triggers a provider-defined device action.
// POST /app/v2/auto/run_action
func (c *Client) RunAction(ctx context.Context, mac, model, actionKey string) error {
	extra := map[string]any{
		"provider_key":  model,
		"instance_id":   mac,
		"action_key":    actionKey,
		"action_params": map[string]any{},
		"custom_string": "",
	}
	return c.postEnvelope(ctx, runActionPath, extra, nil)
}

//
// ────────────────────────────────────────────────
//   Lock calls (canonical signature)
// ────────────────────────────────────────────────
//

// ControlLock locks or unlocks a lock by uuid. action is LockActionLock or
// LockActionUnlock.
// POST /openapi/lock/v1/control (signed)
func (c *Client) ControlLock(ctx context.Context, uuid, action string, withKeypad bool) error {
	token, err := c.tokens.EnsureValidToken(ctx)
	if err != nil {
		return err
	}
	params := c.lockParams(token, map[string]string{
		"action":      action,
		"uuid":        uuid,
		"with_keypad": boolParam(withKeypad),
	})
	params["sign"] = SignRequest(http.MethodPost, lockControlPath, params, lockAppSecret)

	body, _ := json.Marshal(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.lockHost+lockControlPath, bytes.NewReader(body))
	if err != nil {
		return transportErr(err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doEnvelope(ctx, req, c.lockHost, nil)
}

// GetLockInfo fetches lock state by uuid.
// GET /openapi/lock/v1/info (signed, query parameters)
func (c *Client) GetLockInfo(ctx context.Context, uuid string) (*LockInfo, error) {
	token, err := c.tokens.EnsureValidToken(ctx)
	if err != nil {
		return nil, err
	}
	params := c.lockParams(token, map[string]string{
		"uuid":        uuid,
		"with_keypad": "1",
	})
	params["sign"] = SignRequest(http.MethodGet, lockInfoPath, params, lockAppSecret)

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.lockHost+lockInfoPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, transportErr(err)
	}

	var info LockInfo
	if err := c.doEnvelope(ctx, req, c.lockHost, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// lockParams builds the base signed-parameter set: bearer token, fixed
// application key, current timestamp, plus the call-specific fields. The
// signature is a pure function of the final set, so it is appended last.
func (c *Client) lockParams(token string, extra map[string]string) map[string]string {
	params := map[string]string{
		"access_token": token,
		"key":          lockAppKey,
		"timestamp":    strconv.FormatInt(c.now().UnixMilli(), 10),
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

//
// ────────────────────────────────────────────────
//   Shared plumbing
// ────────────────────────────────────────────────
//

// postEnvelope performs a standard bearer-token POST: identity fields plus
// access_token plus call-specific fields, enveloped response, code==1 check.
func (c *Client) postEnvelope(ctx context.Context, path string, extra map[string]any, out any) error {
	token, err := c.tokens.EnsureValidToken(ctx)
	if err != nil {
		return err
	}

	payload := identityFields(c.phoneID, c.now())
	payload["access_token"] = token
	for k, v := range extra {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiHost+path, bytes.NewReader(body))
	if err != nil {
		return transportErr(err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doEnvelope(ctx, req, c.apiHost, out)
}

// doEnvelope executes the request, enforces the string-or-number success
// code, and decodes data into out when asked for.
func (c *Client) doEnvelope(ctx context.Context, req *http.Request, rateKey string, out any) error {
	var env Envelope
	if err := c.exec.DoJSON(ctx, req, rateKey, &env); err != nil {
		return classifyTransport(err)
	}
	// HTTP transport succeeded; anything but code 1 is a logical failure.
	if !env.Code.Success() {
		return apiLogicalErr(string(env.Code), env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return apiLogicalErr(string(env.Code), "malformed data payload: "+err.Error())
		}
	}
	return nil
}

// ClampBrightness rounds and clamps a brightness value into the wire range.
// The clamp is silent; strict validation belongs to layers above.
func ClampBrightness(level float64) string {
	return clampInt(level, brightnessMin, brightnessMax)
}

// ClampColorTemp rounds and clamps a Kelvin value into the wire range.
func ClampColorTemp(kelvin float64) string {
	return clampInt(kelvin, colorTempMin, colorTempMax)
}

func clampInt(v float64, min, max int) string {
	n := int(math.Round(v))
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return strconv.Itoa(n)
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
