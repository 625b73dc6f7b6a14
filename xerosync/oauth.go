package xerosync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/models"
)

// refreshMargin is the safety window before expiry. A token expiring within
// the margin is refreshed before use, never used stale.
const refreshMargin = 5 * time.Minute

// TokenStore persists the OAuth token set. The session manager's refresh path
// is the only writer; everyone else reads.
type TokenStore interface {
	Get(ctx context.Context, businessID string) (*models.XeroConnection, error)
	Save(ctx context.Context, conn *models.XeroConnection) error
}

// SessionManager drives the authorization-code exchange and keeps the access
// token fresh for one business.
type SessionManager struct {
	businessID string
	store      TokenStore
	refresh    func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	now        func() time.Time
}

func NewSessionManager(businessID string, store TokenStore) *SessionManager {
	m := &SessionManager{
		businessID: businessID,
		store:      store,
		now:        time.Now,
	}
	m.refresh = m.providerRefresh
	return m
}

func oauthConfig() (*oauth2.Config, error) {
	clientID := strings.TrimSpace(os.Getenv("XERO_CLIENT_ID"))
	if clientID == "" {
		return nil, &ConfigurationError{Missing: "XERO_CLIENT_ID"}
	}
	clientSecret := strings.TrimSpace(os.Getenv("XERO_CLIENT_SECRET"))
	if clientSecret == "" {
		return nil, &ConfigurationError{Missing: "XERO_CLIENT_SECRET"}
	}
	redirectURL := strings.TrimSpace(os.Getenv("XERO_REDIRECT_URI"))
	if redirectURL == "" {
		return nil, &ConfigurationError{Missing: "XERO_REDIRECT_URI"}
	}

	authURL := strings.TrimSpace(os.Getenv("XERO_AUTH_URL"))
	if authURL == "" {
		authURL = "https://login.xero.com/identity/connect/authorize"
	}
	tokenURL := strings.TrimSpace(os.Getenv("XERO_TOKEN_URL"))
	if tokenURL == "" {
		tokenURL = "https://identity.xero.com/connect/token"
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"offline_access",
			"accounting.contacts",
			"accounting.transactions",
			"accounting.settings.read",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}, nil
}

// GetAuthorizationURL builds the provider consent URL.
func (m *SessionManager) GetAuthorizationURL(state string) (string, error) {
	cfg, err := oauthConfig()
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// ExchangeCode completes the authorization-code flow, discovers the tenant
// and persists the resulting token set.
func (m *SessionManager) ExchangeCode(ctx context.Context, code string) (*models.XeroConnection, error) {
	cfg, err := oauthConfig()
	if err != nil {
		return nil, err
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, &AuthExchangeError{Err: err}
	}

	tenantID, tenantName, err := fetchTenant(ctx, tok.AccessToken)
	if err != nil {
		return nil, &AuthExchangeError{Err: err}
	}

	conn, err := m.store.Get(ctx, m.businessID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		conn = &models.XeroConnection{BusinessId: m.businessID}
	}
	conn.Status = models.IntegrationStatusConnected
	conn.AccessToken = tok.AccessToken
	conn.RefreshToken = tok.RefreshToken
	conn.TenantId = tenantID
	conn.TenantName = tenantName
	conn.ExpiresAt = tok.Expiry

	if err := m.store.Save(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// FreshConnection loads the stored token set and refreshes it when needed.
func (m *SessionManager) FreshConnection(ctx context.Context) (*models.XeroConnection, error) {
	conn, err := m.store.Get(ctx, m.businessID)
	if err != nil {
		return nil, err
	}
	if conn == nil || conn.Status != models.IntegrationStatusConnected {
		return nil, ErrNotConnected
	}
	return m.EnsureFreshToken(ctx, conn)
}

// EnsureFreshToken refreshes the token set when it expires within the safety
// margin; otherwise the input is returned unchanged. Every refresh is
// persisted before use.
func (m *SessionManager) EnsureFreshToken(ctx context.Context, conn *models.XeroConnection) (*models.XeroConnection, error) {
	if m.now().Add(refreshMargin).Before(conn.ExpiresAt) {
		return conn, nil
	}
	return m.RefreshAccessToken(ctx, conn)
}

// RefreshAccessToken exchanges the refresh token for a new token set.
func (m *SessionManager) RefreshAccessToken(ctx context.Context, conn *models.XeroConnection) (*models.XeroConnection, error) {
	tok, err := m.refresh(ctx, conn.RefreshToken)
	if err != nil {
		return nil, &TokenRefreshError{Err: err}
	}

	conn.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		conn.RefreshToken = tok.RefreshToken
	}
	conn.ExpiresAt = tok.Expiry

	if err := m.store.Save(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

func (m *SessionManager) providerRefresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	cfg, err := oauthConfig()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(refreshToken) == "" {
		return nil, errors.New("refresh token is empty")
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}

type tenantConnection struct {
	TenantId   string `json:"tenantId"`
	TenantName string `json:"tenantName"`
	TenantType string `json:"tenantType"`
}

// fetchTenant resolves the tenant granted during consent. The first
// organisation-type tenant wins.
func fetchTenant(ctx context.Context, accessToken string) (string, string, error) {
	connectionsURL := strings.TrimSpace(os.Getenv("XERO_CONNECTIONS_URL"))
	if connectionsURL == "" {
		connectionsURL = "https://api.xero.com/connections"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, connectionsURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", &RemoteAPIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tenants []tenantConnection
	if err := json.Unmarshal(body, &tenants); err != nil {
		return "", "", err
	}
	if len(tenants) == 0 {
		return "", "", errors.New("no tenant granted during consent")
	}
	return tenants[0].TenantId, tenants[0].TenantName, nil
}
