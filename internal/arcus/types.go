package arcus

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

//
// ────────────────────────────────────────────────
//   Response Envelope
// ────────────────────────────────────────────────
//

// Code is the envelope result code. The backend emits it sometimes as the
// string "1" and sometimes as the number 1, so decoding must accept both.
type Code string

// UnmarshalJSON accepts string, integer, and float encodings of the code.
func (c *Code) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*c = Code(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	// Normalize 1.0 → "1" so the success check stays a string compare.
	if f, err := num.Float64(); err == nil && f == float64(int64(f)) {
		*c = Code(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*c = Code(num.String())
	return nil
}

// Success reports whether the envelope code is the API's success value.
func (c Code) Success() bool { return string(c) == "1" }

// Envelope is the {code, msg, data} JSON wrapper used by all backend
// responses. Data stays raw so each call site decodes its own payload.
type Envelope struct {
	Code Code            `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

//
// ────────────────────────────────────────────────
//   Token Exchange
// ────────────────────────────────────────────────
//

// TokenPair is the session credential set. It is replaced wholesale by login
// or refresh, never mutated field-by-field. ExpiresAt is a heuristic: the
// backend reports no authoritative expiry, so it is issuance + TokenLifetime.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// tokenFields are the credential fields as they appear on the wire, either at
// the top level of the login response or nested under data.
type tokenFields struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// loginResponse covers both shapes the login endpoint is known to return:
// token fields at the top level, or wrapped in a data object. MFA accounts
// carry mfa_options instead of a token.
type loginResponse struct {
	tokenFields
	Data struct {
		tokenFields
		MFAOptions []string `json:"mfa_options"`
	} `json:"data"`
	MFAOptions []string `json:"mfa_options"`
}

// extractToken returns the token fields from whichever location has them,
// top-level taking precedence. ok=false means no access token anywhere.
func (r *loginResponse) extractToken() (tokenFields, bool) {
	if r.AccessToken != "" {
		return r.tokenFields, true
	}
	if r.Data.AccessToken != "" {
		return r.Data.tokenFields, true
	}
	return tokenFields{}, false
}

// mfaOptions returns the offered MFA methods from either location.
func (r *loginResponse) mfaOptions() []string {
	if len(r.MFAOptions) > 0 {
		return r.MFAOptions
	}
	return r.Data.MFAOptions
}

//
// ────────────────────────────────────────────────
//   Device API
// ────────────────────────────────────────────────
//

// Device is one entry of the object list.
type Device struct {
	MAC          string `json:"mac"`
	Nickname     string `json:"nickname"`
	ProductModel string `json:"product_model"`
	ProductType  string `json:"product_type"`
	IsOnline     bool   `json:"is_online"`
	FirmwareVer  string `json:"firmware_ver"`
}

// objectListData is the data payload of get_object_list.
type objectListData struct {
	DeviceList []Device `json:"device_list"`
}

// Property is one device property as reported by get_property_list.
// Values are stringly-typed on the wire regardless of semantic type.
type Property struct {
	PID   string `json:"pid"`
	Value string `json:"value"`
	TS    int64  `json:"ts"`
}

// propertyListData is the data payload of get_property_list.
type propertyListData struct {
	PropertyList []Property `json:"property_list"`
}

// Well-known property ids.
const (
	PropPower      = "P3"    // "1" on, "0" off
	PropBrightness = "P1501" // "1".."100"
	PropColorTemp  = "P1502" // "2700".."6500" Kelvin
)

//
// ────────────────────────────────────────────────
//   Lock API
// ────────────────────────────────────────────────
//

// Lock actions accepted by the control endpoint.
const (
	LockActionLock   = "remoteLock"
	LockActionUnlock = "remoteUnlock"
)

// LockInfo is the data payload of the lock info endpoint.
type LockInfo struct {
	UUID       string `json:"uuid"`
	Onoff      int    `json:"onoff_line"`
	LockState  int    `json:"locker_status"`
	DoorState  int    `json:"door_open_status"`
	Power      int    `json:"power"`
	KeypadUUID string `json:"keypad_uuid,omitempty"`
}

// Locked reports whether the bolt is currently thrown.
func (l LockInfo) Locked() bool { return l.LockState == 1 }

// DoorOpen reports whether the door sensor sees the door open.
func (l LockInfo) DoorOpen() bool { return l.DoorState == 1 }
