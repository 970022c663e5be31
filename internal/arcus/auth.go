package arcus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlabs/arcus-adapter/internal/metrics"
	"github.com/lumenlabs/arcus-adapter/pkg/utils"
)

const (
	loginPath   = "/api/user/login"
	refreshPath = "/app/user/refresh_token"

	// fixedAPIKey is the constant x-api-key header the auth host expects on
	// every credential exchange, alongside the per-account apikey/keyid pair.
	fixedAPIKey = "Xk3mP9qL7nV2wR8tY5uB1cD4fG6hJ0aZsEoQiUyT"

	// defaultTokenLifetime is a heuristic. The backend never reports a real
	// expiry; 48h matches observed session behavior but is not authoritative,
	// hence the overridable TokenLifetime field.
	defaultTokenLifetime = 48 * time.Hour

	// defaultRefreshWindow is the margin before estimated expiry during which
	// a proactive refresh is attempted.
	defaultRefreshWindow = 1 * time.Hour
)

// TokenState describes where the current session sits in its lifecycle.
type TokenState int

const (
	// StateUnauthenticated means credentials are set but no token pair exists.
	StateUnauthenticated TokenState = iota
	// StateValid means the cached access token is served without network calls.
	StateValid
	// StateNearExpiry means the token is inside the refresh window; a refresh
	// is attempted while the old token keeps being served as fallback.
	StateNearExpiry
	// StateExpired means the estimate has passed with no refresh; a full
	// login is required.
	StateExpired
)

func (s TokenState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateValid:
		return "valid"
	case StateNearExpiry:
		return "near_expiry"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// TokenStore persists the current token pair across restarts. Persistence is
// best-effort: a store failure never fails the auth operation itself.
type TokenStore interface {
	SaveTokenPair(ctx context.Context, pair TokenPair) error
	LoadTokenPair(ctx context.Context) (*TokenPair, error)
}

// TokenManager owns the session token pair and its heuristic expiry. All
// login/refresh transitions are serialized behind a mutex so concurrent
// callers wait for the in-flight attempt instead of stampeding the cloud
// with redundant logins.
type TokenManager struct {
	logger   *zap.Logger
	creds    Credentials
	authHost string
	apiHost  string
	phoneID  string
	client   *http.Client
	store    TokenStore // optional

	// TokenLifetime and RefreshWindow may be tuned after construction but
	// before first use.
	TokenLifetime time.Duration
	RefreshWindow time.Duration

	mu     sync.Mutex
	pair   *TokenPair
	loaded bool
	now    func() time.Time
}

// NewTokenManager creates a TokenManager for the given account. store may be
// nil, in which case the pair lives only in memory.
func NewTokenManager(logger *zap.Logger, creds Credentials, authHost, apiHost, phoneID string, httpClient *http.Client, store TokenStore) *TokenManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenManager{
		logger:        logger,
		creds:         creds,
		authHost:      authHost,
		apiHost:       apiHost,
		phoneID:       phoneID,
		client:        httpClient,
		store:         store,
		TokenLifetime: defaultTokenLifetime,
		RefreshWindow: defaultRefreshWindow,
		now:           time.Now,
	}
}

// State reports the current lifecycle state without triggering any network
// activity. Exposed for health reporting and metrics.
func (m *TokenManager) State() TokenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state()
}

// EnsureValidToken returns a currently-valid access token, performing login
// or refresh as needed. A refresh failure is never surfaced: it degrades to a
// full login transparently. Only a login failure propagates.
func (m *TokenManager) EnsureValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loadOnce(ctx)

	switch m.state() {
	case StateValid:
		return m.pair.AccessToken, nil

	case StateNearExpiry:
		if err := m.refresh(ctx); err != nil {
			m.logger.Warn("arcus.refresh_failed",
				zap.Error(err),
				zap.String("fallback", "login"))
			metrics.IncAuthEvent("refresh", "fallback_login")
			if err := m.login(ctx); err != nil {
				return "", err
			}
		}
		return m.pair.AccessToken, nil

	default: // unauthenticated or expired
		if err := m.login(ctx); err != nil {
			return "", err
		}
		return m.pair.AccessToken, nil
	}
}

// state derives the lifecycle state from the stored pair. Caller holds mu.
func (m *TokenManager) state() TokenState {
	if m.pair == nil || m.pair.AccessToken == "" {
		return StateUnauthenticated
	}
	now := m.now()
	switch {
	case !now.Before(m.pair.ExpiresAt):
		return StateExpired
	case !now.Before(m.pair.ExpiresAt.Add(-m.RefreshWindow)):
		return StateNearExpiry
	default:
		return StateValid
	}
}

// loadOnce restores a persisted pair on first use. Caller holds mu.
func (m *TokenManager) loadOnce(ctx context.Context) {
	if m.loaded || m.store == nil {
		return
	}
	m.loaded = true
	pair, err := m.store.LoadTokenPair(ctx)
	if err != nil {
		m.logger.Warn("arcus.token_load_failed", zap.Error(err))
		return
	}
	if pair != nil && pair.AccessToken != "" {
		m.pair = pair
		m.logger.Info("arcus.token_restored",
			zap.String("access_token", utils.MaskToken(pair.AccessToken)),
			zap.Time("expires_at", pair.ExpiresAt))
	}
}

// login exchanges the account credentials for a fresh token pair. The
// response is parsed defensively: the pair may sit at the top level or under
// data, and MFA-gated accounts answer with mfa_options instead of a token.
// Caller holds mu.
func (m *TokenManager) login(ctx context.Context) error {
	body := map[string]any{
		"email":    m.creds.Email,
		"password": HashPassword(m.creds.Password),
		"nonce":    strconv.FormatInt(m.now().UnixMilli(), 10),
	}
	data, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authHost+loginPath, bytes.NewReader(data))
	if err != nil {
		return transportErr(err)
	}
	m.setAuthHeaders(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, raw)
	}

	var lr loginResponse
	if err := json.Unmarshal(raw, &lr); err != nil {
		return authErr("login response malformed: %v", err)
	}

	tok, ok := lr.extractToken()
	if !ok {
		if opts := lr.mfaOptions(); len(opts) > 0 {
			metrics.IncAuthEvent("login", "mfa_required")
			return mfaErr(opts)
		}
		metrics.IncAuthEvent("login", "failed")
		return authErr("login failed: no access token in response")
	}

	m.setPair(ctx, tok)
	metrics.IncAuthEvent("login", "ok")
	m.logger.Info("arcus.login_success",
		zap.String("email", m.creds.Email),
		zap.String("access_token", utils.MaskToken(tok.AccessToken)))
	return nil
}

// refresh exchanges the current refresh token for a new pair. With no pair it
// degrades directly to login. Any failure is returned for the caller's
// fallback branch; it is never surfaced past EnsureValidToken. Caller holds mu.
func (m *TokenManager) refresh(ctx context.Context) error {
	if m.pair == nil || m.pair.RefreshToken == "" {
		return m.login(ctx)
	}

	body := identityFields(m.phoneID, m.now())
	body["refresh_token"] = m.pair.RefreshToken
	data, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiHost+refreshPath, bytes.NewReader(data))
	if err != nil {
		return transportErr(err)
	}
	m.setAuthHeaders(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, raw)
	}

	var env struct {
		Code Code        `json:"code"`
		Msg  string      `json:"msg"`
		Data tokenFields `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("refresh response malformed: %w", err)
	}
	if !env.Code.Success() {
		return apiLogicalErr(string(env.Code), env.Msg)
	}
	if env.Data.AccessToken == "" {
		return fmt.Errorf("refresh succeeded without an access token")
	}

	m.setPair(ctx, env.Data)
	metrics.IncAuthEvent("refresh", "ok")
	m.logger.Info("arcus.refresh_success",
		zap.String("access_token", utils.MaskToken(env.Data.AccessToken)))
	return nil
}

// setPair replaces the token pair wholesale and resets the expiry estimate.
// Caller holds mu.
func (m *TokenManager) setPair(ctx context.Context, tok tokenFields) {
	pair := TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    m.now().Add(m.TokenLifetime),
	}
	m.pair = &pair
	if m.store != nil {
		if err := m.store.SaveTokenPair(ctx, pair); err != nil {
			m.logger.Warn("arcus.token_save_failed", zap.Error(err))
		}
	}
}

func (m *TokenManager) setAuthHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", fixedAPIKey)
	req.Header.Set("apikey", m.creds.APIKey)
	req.Header.Set("keyid", m.creds.KeyID)
}
