package xerosync

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected means no Xero connection exists for the business.
	ErrNotConnected = errors.New("xero is not connected")

	// ErrSyncInProgress means a run for the same entity type is still active.
	ErrSyncInProgress = errors.New("a sync for this entity type is already in progress")

	// ErrConflictNotFound means no PENDING conflict exists for the given key.
	ErrConflictNotFound = errors.New("no pending conflict found")

	// ErrInvalidResolution means the resolution token is not one of
	// use_local / use_remote / manual.
	ErrInvalidResolution = errors.New("invalid resolution")
)

// ConfigurationError signals missing integration credentials. Fatal, no retry.
type ConfigurationError struct {
	Missing string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("xero integration is not configured: %s is not set", e.Missing)
}

// AuthExchangeError wraps a provider rejection of the authorization code.
type AuthExchangeError struct {
	Err error
}

func (e *AuthExchangeError) Error() string {
	return fmt.Sprintf("authorization code exchange failed: %v", e.Err)
}

func (e *AuthExchangeError) Unwrap() error { return e.Err }

// TokenRefreshError means the refresh token itself was rejected. The caller
// must prompt the user to reconnect to the accounting provider.
type TokenRefreshError struct {
	Err error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed, reconnect to the accounting provider: %v", e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// RemoteAPIError is any non-429 HTTP failure from the remote ledger.
type RemoteAPIError struct {
	StatusCode int
	Body       string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("xero api error %d: %s", e.StatusCode, e.Body)
}

// RateLimitError carries the provider-specified backoff. The client waits and
// re-issues the same page; the error only surfaces when the run is cancelled
// during the backoff.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ValidationError is a per-record business-rule rejection. It is counted and
// reported but never aborts the batch on its own.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }
