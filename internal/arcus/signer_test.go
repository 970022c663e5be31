package arcus

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignRequest_KnownVector(t *testing.T) {
	// MD5("POST" + "/openapi/lock/v1/control" + "a=1&z=2" + "topsecret"),
	// computed independently.
	sig := SignRequest(http.MethodPost, "/openapi/lock/v1/control",
		map[string]string{"a": "1", "z": "2"}, "topsecret")
	assert.Equal(t, "e175fde2eed195b465ece5b522f19880", sig)
}

func TestSignRequest_InsertionOrderInvariant(t *testing.T) {
	a := map[string]string{"a": "1", "z": "2", "m": "3"}
	b := map[string]string{"z": "2", "m": "3", "a": "1"}
	assert.Equal(t,
		SignRequest("POST", "/openapi/lock/v1/control", a, "s"),
		SignRequest("POST", "/openapi/lock/v1/control", b, "s"))
}

func TestSignRequest_MethodUppercased(t *testing.T) {
	params := map[string]string{"uuid": "ABC"}
	assert.Equal(t,
		SignRequest("get", "/openapi/lock/v1/info", params, "s"),
		SignRequest("GET", "/openapi/lock/v1/info", params, "s"))
}

func TestSignRequest_AnyChangeInvalidates(t *testing.T) {
	base := SignRequest("POST", "/openapi/lock/v1/control",
		map[string]string{"a": "1", "z": "2"}, "secret")

	assert.NotEqual(t, base, SignRequest("GET", "/openapi/lock/v1/control",
		map[string]string{"a": "1", "z": "2"}, "secret"), "method change")
	assert.NotEqual(t, base, SignRequest("POST", "/openapi/lock/v1/info",
		map[string]string{"a": "1", "z": "2"}, "secret"), "path change")
	assert.NotEqual(t, base, SignRequest("POST", "/openapi/lock/v1/control",
		map[string]string{"a": "1", "z": "3"}, "secret"), "value change")
	assert.NotEqual(t, base, SignRequest("POST", "/openapi/lock/v1/control",
		map[string]string{"a": "1", "z": "2"}, "other"), "secret change")
}

func TestSignRequest_NoURLEncoding(t *testing.T) {
	// Values concatenate raw: spaces and ampersands inside values are signed
	// as-is, matching the remote scheme exactly.
	sig1 := SignRequest("POST", "/p", map[string]string{"k": "a b&c"}, "s")
	sig2 := SignRequest("POST", "/p", map[string]string{"k": "a+b%26c"}, "s")
	assert.NotEqual(t, sig1, sig2)
}
