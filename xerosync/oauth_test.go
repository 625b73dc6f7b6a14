package xerosync

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/models"
)

type memTokenStore struct {
	conn  *models.XeroConnection
	saves int
}

func (s *memTokenStore) Get(ctx context.Context, businessID string) (*models.XeroConnection, error) {
	if s.conn == nil {
		return nil, nil
	}
	copied := *s.conn
	return &copied, nil
}

func (s *memTokenStore) Save(ctx context.Context, conn *models.XeroConnection) error {
	s.saves++
	copied := *conn
	s.conn = &copied
	return nil
}

func newTestSessionManager(store *memTokenStore, now time.Time) *SessionManager {
	m := NewSessionManager("biz-1", store)
	m.now = func() time.Time { return now }
	return m
}

func TestEnsureFreshTokenSkipsRefreshOutsideMargin(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store := &memTokenStore{}
	m := newTestSessionManager(store, now)
	m.refresh = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		t.Fatal("refresh must not run while the token has more than 5 minutes left")
		return nil, nil
	}

	conn := &models.XeroConnection{
		AccessToken:  "current",
		RefreshToken: "refresh",
		ExpiresAt:    now.Add(10 * time.Minute),
	}
	got, err := m.EnsureFreshToken(context.Background(), conn)
	if err != nil {
		t.Fatalf("EnsureFreshToken failed: %v", err)
	}
	if got.AccessToken != "current" {
		t.Fatalf("token changed unexpectedly: %q", got.AccessToken)
	}
	if store.saves != 0 {
		t.Fatalf("no save expected, got %d", store.saves)
	}
}

func TestEnsureFreshTokenRefreshesWithinMargin(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store := &memTokenStore{}
	m := newTestSessionManager(store, now)

	refreshed := false
	m.refresh = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		refreshed = true
		if refreshToken != "refresh-1" {
			t.Fatalf("unexpected refresh token %q", refreshToken)
		}
		return &oauth2.Token{
			AccessToken:  "new-access",
			RefreshToken: "refresh-2",
			Expiry:       now.Add(30 * time.Minute),
		}, nil
	}

	conn := &models.XeroConnection{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(4 * time.Minute),
	}
	got, err := m.EnsureFreshToken(context.Background(), conn)
	if err != nil {
		t.Fatalf("EnsureFreshToken failed: %v", err)
	}
	if !refreshed {
		t.Fatal("token expiring within 5 minutes must be refreshed")
	}
	if got.AccessToken != "new-access" || got.RefreshToken != "refresh-2" {
		t.Fatalf("token set not rotated: %+v", got)
	}
	if store.saves != 1 {
		t.Fatalf("refreshed token must be persisted before use, saves=%d", store.saves)
	}
}

func TestEnsureFreshTokenRefreshesAtExactBoundary(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store := &memTokenStore{}
	m := newTestSessionManager(store, now)

	refreshed := false
	m.refresh = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		refreshed = true
		return &oauth2.Token{AccessToken: "boundary", Expiry: now.Add(time.Hour)}, nil
	}

	conn := &models.XeroConnection{
		RefreshToken: "refresh",
		ExpiresAt:    now.Add(5 * time.Minute),
	}
	if _, err := m.EnsureFreshToken(context.Background(), conn); err != nil {
		t.Fatalf("EnsureFreshToken failed: %v", err)
	}
	if !refreshed {
		t.Fatal("a token expiring exactly at the margin must be refreshed")
	}
}

func TestRefreshAccessTokenWrapsProviderRejection(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store := &memTokenStore{}
	m := newTestSessionManager(store, now)
	m.refresh = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		return nil, errors.New("invalid_grant")
	}

	conn := &models.XeroConnection{RefreshToken: "revoked"}
	_, err := m.RefreshAccessToken(context.Background(), conn)
	var refreshErr *TokenRefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("expected TokenRefreshError, got %v", err)
	}
	if store.saves != 0 {
		t.Fatal("a failed refresh must not persist anything")
	}
}

func TestFreshConnectionRequiresConnectedStatus(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	store := &memTokenStore{}
	m := newTestSessionManager(store, now)
	if _, err := m.FreshConnection(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected with no stored connection, got %v", err)
	}

	store.conn = &models.XeroConnection{
		BusinessId: "biz-1",
		Status:     models.IntegrationStatusDisconnected,
	}
	if _, err := m.FreshConnection(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected for disconnected status, got %v", err)
	}
}
