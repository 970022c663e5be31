package arcus

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockTransport is an http.RoundTripper that delegates to a handler function.
type mockTransport struct {
	fn func(*http.Request) (*http.Response, error)
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.fn(req)
}

// jsonResponse builds a fake *http.Response with the given status and JSON body.
func jsonResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

const (
	testAuthHost = "https://auth.test.arcuscloud.io"
	testAPIHost  = "https://api.test.arcuscloud.io"
)

func testCreds() Credentials {
	return Credentials{
		Email:    "user@example.com",
		Password: "hunter2",
		APIKey:   "acct-api-key",
		KeyID:    "acct-key-id",
	}
}

// newManagerWithTransport creates a TokenManager with a custom HTTP transport.
func newManagerWithTransport(t *testing.T, fn func(*http.Request) (*http.Response, error)) *TokenManager {
	t.Helper()
	tm := NewTokenManager(zap.NewNop(), testCreds(), testAuthHost, testAPIHost, "phone-1",
		&http.Client{Transport: &mockTransport{fn: fn}}, nil)
	return tm
}

func loginBody(access, refresh string) string {
	b, _ := json.Marshal(map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
	})
	return string(b)
}

// ─── Login: both response shapes ─────────────────────────────────────────────

func TestEnsureValidToken_LoginTopLevelTokenPair(t *testing.T) {
	var captured *http.Request
	var capturedBody map[string]any

	tm := newManagerWithTransport(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		_ = json.NewDecoder(req.Body).Decode(&capturedBody)
		return jsonResponse(http.StatusOK, loginBody("at-top", "rt-top")), nil
	})

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-top", token)

	require.NotNil(t, captured)
	assert.Equal(t, testAuthHost+"/api/user/login", captured.URL.String())
	assert.Equal(t, fixedAPIKey, captured.Header.Get("x-api-key"))
	assert.Equal(t, "acct-api-key", captured.Header.Get("apikey"))
	assert.Equal(t, "acct-key-id", captured.Header.Get("keyid"))

	assert.Equal(t, "user@example.com", capturedBody["email"])
	assert.Equal(t, HashPassword("hunter2"), capturedBody["password"], "password travels as the triple digest")
	assert.NotEmpty(t, capturedBody["nonce"])
}

func TestEnsureValidToken_LoginDataWrappedTokenPair(t *testing.T) {
	tm := newManagerWithTransport(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"data":{"access_token":"at-nested","refresh_token":"rt-nested"}}`), nil
	})

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-nested", token, "nested pair must work identically to top-level")
}

func TestEnsureValidToken_TopLevelTakesPrecedence(t *testing.T) {
	tm := newManagerWithTransport(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK,
			`{"access_token":"at-top","refresh_token":"rt-top","data":{"access_token":"at-nested","refresh_token":"rt-nested"}}`), nil
	})

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-top", token)
}

// ─── Login: failure modes ────────────────────────────────────────────────────

func TestEnsureValidToken_MFARequiredNamesOptions(t *testing.T) {
	tm := newManagerWithTransport(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"data":{"mfa_options":["sms"]}}`), nil
	})

	_, err := tm.EnsureValidToken(context.Background())
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindMFARequired, kind)
	assert.Contains(t, err.Error(), "sms", "message must name the offered options")
	assert.Contains(t, UserMessage(err), "sms")
}

func TestEnsureValidToken_NoTokenNoMFAIsAuthFailure(t *testing.T) {
	tm := newManagerWithTransport(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"code":"2001","msg":"bad credentials"}`), nil
	})

	_, err := tm.EnsureValidToken(context.Background())
	require.Error(t, err)

	kind, _ := KindOf(err)
	assert.Equal(t, KindAuthentication, kind)
}

func TestEnsureValidToken_HTTP401IsAuthFailure(t *testing.T) {
	tm := newManagerWithTransport(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, `{"msg":"unauthorized"}`), nil
	})

	_, err := tm.EnsureValidToken(context.Background())
	require.Error(t, err)

	kind, _ := KindOf(err)
	assert.Equal(t, KindAuthentication, kind)
}

func TestEnsureValidToken_NetworkFailureIsTransport(t *testing.T) {
	tm := newManagerWithTransport(t, func(*http.Request) (*http.Response, error) {
		return nil, &timeoutError{}
	})

	_, err := tm.EnsureValidToken(context.Background())
	require.Error(t, err)

	kind, _ := KindOf(err)
	assert.Equal(t, KindTransport, kind)
}

// timeoutError implements net.Error with Timeout() == true.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// ─── Token state transitions (fake clock) ────────────────────────────────────

// setPairAt installs a token pair as if issued at issuedAt, with the manager's
// clock frozen at now.
func setPairAt(tm *TokenManager, issuedAt, now time.Time) {
	tm.pair = &TokenPair{
		AccessToken:  "cached-token",
		RefreshToken: "cached-refresh",
		ExpiresAt:    issuedAt.Add(tm.TokenLifetime),
	}
	tm.now = func() time.Time { return now }
}

func TestEnsureValidToken_FreshTokenNoNetworkCall(t *testing.T) {
	var calls int32
	tm := newManagerWithTransport(t, func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	setPairAt(tm, issued, issued.Add(1*time.Hour))

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached-token", token)
	assert.EqualValues(t, 0, calls, "valid token must be served without any network call")
	assert.Equal(t, StateValid, tm.State())
}

func TestEnsureValidToken_NearExpiryTriggersRefresh(t *testing.T) {
	var refreshCalls int32
	var capturedBody map[string]any

	tm := newManagerWithTransport(t, func(req *http.Request) (*http.Response, error) {
		require.Equal(t, testAPIHost+"/app/user/refresh_token", req.URL.String())
		atomic.AddInt32(&refreshCalls, 1)
		_ = json.NewDecoder(req.Body).Decode(&capturedBody)
		return jsonResponse(http.StatusOK,
			`{"code":"1","data":{"access_token":"at-refreshed","refresh_token":"rt-refreshed"}}`), nil
	})

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// 47h01m after issuance: inside the 1h window before the 48h estimate.
	setPairAt(tm, issued, issued.Add(47*time.Hour+time.Minute))
	assert.Equal(t, StateNearExpiry, tm.State())

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-refreshed", token)
	assert.EqualValues(t, 1, refreshCalls)
	assert.Equal(t, "cached-refresh", capturedBody["refresh_token"])
}

func TestEnsureValidToken_ExpiredTriggersFullLogin(t *testing.T) {
	var loginCalls int32
	tm := newManagerWithTransport(t, func(req *http.Request) (*http.Response, error) {
		require.Equal(t, testAuthHost+"/api/user/login", req.URL.String(),
			"expired token must go straight to login, not refresh")
		atomic.AddInt32(&loginCalls, 1)
		return jsonResponse(http.StatusOK, loginBody("at-relogin", "rt-relogin")), nil
	})

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	setPairAt(tm, issued, issued.Add(49*time.Hour))
	assert.Equal(t, StateExpired, tm.State())

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-relogin", token)
	assert.EqualValues(t, 1, loginCalls)
}

func TestEnsureValidToken_NewPairResetsExpiryEstimate(t *testing.T) {
	tm := newManagerWithTransport(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, loginBody("at", "rt")), nil
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return now }

	_, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(48*time.Hour), tm.pair.ExpiresAt)
}

// ─── Refresh failure → login fallback ────────────────────────────────────────

func TestEnsureValidToken_RefreshFailureFallsBackToLogin(t *testing.T) {
	tm := newManagerWithTransport(t, func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "refresh_token") {
			return jsonResponse(http.StatusOK, `{"code":"3000","msg":"refresh token invalid"}`), nil
		}
		return jsonResponse(http.StatusOK, loginBody("at-fallback", "rt-fallback")), nil
	})

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	setPairAt(tm, issued, issued.Add(47*time.Hour+30*time.Minute))

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err, "refresh failure must never surface to the caller")
	assert.Equal(t, "at-fallback", token)
}

func TestEnsureValidToken_RefreshTransportErrorFallsBackToLogin(t *testing.T) {
	tm := newManagerWithTransport(t, func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "refresh_token") {
			return nil, &timeoutError{}
		}
		return jsonResponse(http.StatusOK, loginBody("at-fallback", "rt-fallback")), nil
	})

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	setPairAt(tm, issued, issued.Add(47*time.Hour+30*time.Minute))

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-fallback", token)
}

func TestEnsureValidToken_RefreshAndLoginBothFailSurfacesLoginError(t *testing.T) {
	tm := newManagerWithTransport(t, func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "refresh_token") {
			return jsonResponse(http.StatusOK, `{"code":"3000","msg":"nope"}`), nil
		}
		return jsonResponse(http.StatusUnauthorized, `{"msg":"unauthorized"}`), nil
	})

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	setPairAt(tm, issued, issued.Add(47*time.Hour+30*time.Minute))

	_, err := tm.EnsureValidToken(context.Background())
	require.Error(t, err)

	kind, _ := KindOf(err)
	assert.Equal(t, KindAuthentication, kind, "only the login failure propagates, never the refresh failure")
}

func TestEnsureValidToken_NumericEnvelopeCodeAccepted(t *testing.T) {
	tm := newManagerWithTransport(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK,
			`{"code":1,"data":{"access_token":"at-num","refresh_token":"rt-num"}}`), nil
	})

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	setPairAt(tm, issued, issued.Add(47*time.Hour+30*time.Minute))

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-num", token)
}

// ─── Concurrency: single in-flight login ─────────────────────────────────────

func TestEnsureValidToken_ConcurrentCallersShareOneLogin(t *testing.T) {
	var logins int32
	tm := newManagerWithTransport(t, func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&logins, 1)
		time.Sleep(10 * time.Millisecond)
		return jsonResponse(http.StatusOK, loginBody("at-shared", "rt-shared")), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := tm.EnsureValidToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "at-shared", token)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, logins, "concurrent callers must reuse a single in-flight login")
}

// ─── Persistence ─────────────────────────────────────────────────────────────

// fakeTokenStore records save/load calls in memory.
type fakeTokenStore struct {
	mu    sync.Mutex
	pair  *TokenPair
	saves int
}

func (f *fakeTokenStore) SaveTokenPair(_ context.Context, pair TokenPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pair = &pair
	f.saves++
	return nil
}

func (f *fakeTokenStore) LoadTokenPair(_ context.Context) (*TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pair, nil
}

func TestEnsureValidToken_RestoresPersistedPair(t *testing.T) {
	var calls int32
	fn := func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	fs := &fakeTokenStore{pair: &TokenPair{
		AccessToken:  "persisted-token",
		RefreshToken: "persisted-refresh",
		ExpiresAt:    time.Now().Add(24 * time.Hour),
	}}

	tm := NewTokenManager(zap.NewNop(), testCreds(), testAuthHost, testAPIHost, "phone-1",
		&http.Client{Transport: &mockTransport{fn: fn}}, fs)

	token, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "persisted-token", token)
	assert.EqualValues(t, 0, calls, "a restored valid pair needs no network call")
}

func TestEnsureValidToken_PersistsNewPairAfterLogin(t *testing.T) {
	fs := &fakeTokenStore{}
	tm := NewTokenManager(zap.NewNop(), testCreds(), testAuthHost, testAPIHost, "phone-1",
		&http.Client{Transport: &mockTransport{fn: func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, loginBody("at-new", "rt-new")), nil
		}}}, fs)

	_, err := tm.EnsureValidToken(context.Background())
	require.NoError(t, err)

	require.NotNil(t, fs.pair)
	assert.Equal(t, "at-new", fs.pair.AccessToken)
	assert.Equal(t, 1, fs.saves)
}
