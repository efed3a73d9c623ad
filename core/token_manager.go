package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

// maxCredentialRetries bounds how many times WithValidCredential refreshes
// and retries after a CredentialExpiredError.
const maxCredentialRetries = 1

type TokenManagerConfig struct {
	Endpoint    TokenEndpoint
	Store       CredentialStore
	RedirectURI string
	Logger      Logger
	Now         func() time.Time
}

// TokenManager owns the persisted credential: it exchanges codes, refreshes
// tokens and retries calls once after an expiry.
type TokenManager struct {
	endpoint    TokenEndpoint
	store       CredentialStore
	redirectURI string
	logger      Logger
	now         func() time.Time
	refresh     singleflight.Group
}

func NewTokenManager(cfg TokenManagerConfig) (*TokenManager, error) {
	if cfg.Endpoint == nil {
		return nil, fmt.Errorf("core: token endpoint is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("core: credential store is required")
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}
	return &TokenManager{
		endpoint:    cfg.Endpoint,
		store:       cfg.Store,
		redirectURI: strings.TrimSpace(cfg.RedirectURI),
		logger:      glog.Ensure(cfg.Logger),
		now:         cfg.Now,
	}, nil
}

// Current loads the persisted credential. Any load failure is reported as
// ErrNotAuthenticated.
func (m *TokenManager) Current(ctx context.Context) (CredentialRecord, error) {
	if m == nil {
		return CredentialRecord{}, fmt.Errorf("core: token manager is nil")
	}
	record, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			return CredentialRecord{}, err
		}
		m.logger.Warn("credential load failed", "error", err.Error())
		return CredentialRecord{}, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if strings.TrimSpace(record.AccessToken) == "" {
		return CredentialRecord{}, ErrNotAuthenticated
	}
	return record, nil
}

// Exchange trades an authorization code for a credential and persists it.
func (m *TokenManager) Exchange(ctx context.Context, grant Grant) (CredentialRecord, error) {
	if m == nil {
		return CredentialRecord{}, fmt.Errorf("core: token manager is nil")
	}
	code := strings.TrimSpace(grant.Code)
	if code == "" {
		return CredentialRecord{}, fmt.Errorf("core: authorization code is required")
	}
	response, err := m.endpoint.ExchangeCode(ctx, code, m.redirectURI)
	if err != nil {
		var exchangeErr *TokenExchangeError
		if errors.As(err, &exchangeErr) {
			return CredentialRecord{}, err
		}
		return CredentialRecord{}, &TokenExchangeError{Cause: err}
	}

	record := m.recordFromResponse(response, CredentialRecord{RealmID: strings.TrimSpace(grant.RealmID)})
	if err := m.store.Save(ctx, record); err != nil {
		return CredentialRecord{}, fmt.Errorf("core: persist credential: %w", err)
	}
	m.logger.Info("credential exchanged",
		"realm_id", record.RealmID,
		"token_type", record.TokenType,
		"refresh_token_present", record.Refreshable(),
	)
	return record, nil
}

// Refresh replaces the persisted credential using its refresh token.
// Concurrent callers share a single request to the token endpoint.
func (m *TokenManager) Refresh(ctx context.Context) (CredentialRecord, error) {
	if m == nil {
		return CredentialRecord{}, fmt.Errorf("core: token manager is nil")
	}
	value, err, _ := m.refresh.Do("refresh", func() (any, error) {
		return m.refreshOnce(ctx)
	})
	if err != nil {
		return CredentialRecord{}, err
	}
	return value.(CredentialRecord), nil
}

func (m *TokenManager) refreshOnce(ctx context.Context) (CredentialRecord, error) {
	previous, err := m.store.Load(ctx)
	if err != nil || !previous.Refreshable() {
		if err != nil && !errors.Is(err, ErrNotAuthenticated) {
			m.logger.Warn("credential load failed before refresh", "error", err.Error())
		}
		return CredentialRecord{}, &RefreshError{Cause: ErrNoRefreshCredential}
	}

	response, err := m.endpoint.RefreshToken(ctx, previous.RefreshToken)
	if err != nil {
		var refreshErr *RefreshError
		if errors.As(err, &refreshErr) {
			return CredentialRecord{}, err
		}
		return CredentialRecord{}, &RefreshError{Cause: err}
	}

	record := m.recordFromResponse(response, previous)
	if err := m.store.Save(ctx, record); err != nil {
		return CredentialRecord{}, fmt.Errorf("core: persist refreshed credential: %w", err)
	}
	m.logger.Info("credential refreshed",
		"realm_id", record.RealmID,
		"refresh_token_rotated", record.RefreshToken != previous.RefreshToken,
	)
	return record, nil
}

// recordFromResponse builds a whole new record, carrying the realm id and
// refresh token forward from previous when the response omits them.
func (m *TokenManager) recordFromResponse(response TokenResponse, previous CredentialRecord) CredentialRecord {
	issuedAt := m.now().UTC()
	record := CredentialRecord{
		AccessToken:           strings.TrimSpace(response.AccessToken),
		RefreshToken:          strings.TrimSpace(response.RefreshToken),
		RealmID:               strings.TrimSpace(response.RealmID),
		TokenType:             strings.TrimSpace(response.TokenType),
		ExpiresIn:             response.ExpiresIn,
		RefreshTokenExpiresIn: response.RefreshTokenExpiresIn,
		IssuedAt:              &issuedAt,
	}
	if record.RefreshToken == "" {
		record.RefreshToken = strings.TrimSpace(previous.RefreshToken)
	}
	if record.RealmID == "" {
		record.RealmID = strings.TrimSpace(previous.RealmID)
	}
	record.NoRefresh = record.RefreshToken == ""
	return record
}

// WithValidCredential calls fn with the current credential. When fn fails
// with a CredentialExpiredError the credential is refreshed once and fn is
// retried once; any further failure is returned unchanged.
func WithValidCredential[T any](
	ctx context.Context,
	m *TokenManager,
	fn func(ctx context.Context, cred CredentialRecord) (T, error),
) (T, error) {
	var zero T
	if m == nil {
		return zero, fmt.Errorf("core: token manager is required")
	}
	if fn == nil {
		return zero, fmt.Errorf("core: credential callback is required")
	}
	cred, err := m.Current(ctx)
	if err != nil {
		return zero, err
	}
	for attempt := 0; ; attempt++ {
		out, err := fn(ctx, cred)
		if err == nil || !IsCredentialExpired(err) || attempt >= maxCredentialRetries {
			return out, err
		}
		m.logger.Info("credential expired, refreshing before retry", "realm_id", cred.RealmID)
		refreshed, refreshErr := m.Refresh(ctx)
		if refreshErr != nil {
			return zero, refreshErr
		}
		cred = refreshed
	}
}
