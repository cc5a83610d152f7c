package degiro

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pquerna/otp/totp"
	"github.com/sebmertens/broker-gateway/internal/config"
	"github.com/sirupsen/logrus"
)

// SessionManager owns the authenticated upstream session: one login shared by
// every component, refreshed on expiry, torn down on shutdown. It is always
// injected explicitly, never reached through package globals.
type SessionManager struct {
	baseURL    string
	username   string
	password   string
	totpSecret string
	intAccount int64
	httpClient *http.Client

	mu        sync.RWMutex
	sessionID string
}

func NewSessionManager(cfg config.UpstreamConfig, httpClient *http.Client) *SessionManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &SessionManager{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		username:   strings.TrimSpace(cfg.Username),
		password:   cfg.Password,
		totpSecret: strings.TrimSpace(cfg.TOTPSecret),
		intAccount: cfg.IntAccount,
		httpClient: httpClient,
	}
}

// SessionID returns the current session id, authenticating first if no
// session exists yet.
func (m *SessionManager) SessionID(ctx context.Context) (string, error) {
	m.mu.RLock()
	sessionID := m.sessionID
	m.mu.RUnlock()

	if sessionID != "" {
		return sessionID, nil
	}

	return m.Refresh(ctx)
}

// Refresh performs a fresh login and replaces the stored session id.
// Concurrent callers all observe the new session.
func (m *SessionManager) Refresh(ctx context.Context) (string, error) {
	if m.username == "" || m.password == "" {
		return "", fmt.Errorf("%w: upstream credentials are missing in config", errAuth)
	}

	loginReq := map[string]any{
		"username":           m.username,
		"password":           m.password,
		"isPassCodeReset":    false,
		"isRedirectToMobile": false,
	}

	endpoint := m.baseURL + "/login/secure/login"
	if m.totpSecret != "" {
		code, err := totp.GenerateCode(m.totpSecret, time.Now())
		if err != nil {
			return "", fmt.Errorf("%w: generate one-time password: %v", errAuth, err)
		}
		loginReq["oneTimePassword"] = code
		endpoint += "/totp"
	}

	payload, err := json.Marshal(loginReq)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: login rejected: status=%d", errAuth, resp.StatusCode)
	}

	var loginResp struct {
		SessionID string `json:"sessionId"`
		Status    int    `json:"status"`
	}
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return "", fmt.Errorf("%w: login parse failed: %v", errAuth, err)
	}

	if strings.TrimSpace(loginResp.SessionID) == "" {
		return "", fmt.Errorf("%w: login returned empty session id (status=%d)", errAuth, loginResp.Status)
	}

	m.mu.Lock()
	m.sessionID = loginResp.SessionID
	m.mu.Unlock()

	logrus.Info("upstream session established")

	return loginResp.SessionID, nil
}

// Invalidate drops the stored session so the next call re-authenticates.
// Called after the upstream rejects a request with 401.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	m.sessionID = ""
	m.mu.Unlock()
}

// Teardown logs the session out. Errors are logged, not returned: shutdown
// must not block on a dead upstream.
func (m *SessionManager) Teardown(ctx context.Context) {
	m.mu.Lock()
	sessionID := m.sessionID
	m.sessionID = ""
	m.mu.Unlock()

	if sessionID == "" {
		return
	}

	endpoint := fmt.Sprintf("%s/trading/secure/logout;jsessionid=%s?intAccount=%d&sessionId=%s",
		m.baseURL, sessionID, m.intAccount, sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		logrus.Errorf("upstream logout request failed: %v", err)
		return
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		logrus.Errorf("upstream logout failed: %v", err)
		return
	}
	_ = resp.Body.Close()

	logrus.Info("upstream session closed")
}

func (m *SessionManager) IntAccount() int64 {
	return m.intAccount
}
