package arcus

import (
	"crypto/md5" //nolint:gosec // wire-compatibility with the lock API
	"encoding/hex"
	"sort"
	"strings"
)

// SignRequest computes the canonical signature the lock API requires.
//
// The scheme is fixed for wire compatibility: parameter names are sorted in
// byte order, concatenated as key=value pairs joined by '&' with no URL
// encoding, then the signing string UPPER(method) + path + paramString +
// secret is hashed with MD5 and rendered as lowercase hex.
//
// params must not contain the signature field itself. The result is a pure
// function of its inputs; callers compute it fresh per request because the
// timestamp parameter changes every call.
func SignRequest(method, path string, params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}

	signing := strings.ToUpper(method) + path + sb.String() + secret
	sum := md5.Sum([]byte(signing)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
