package providers

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-qbexport/core"
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
	stateBytes                 = 24
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type OAuth2Config struct {
	AuthURL             string
	TokenURL            string
	ClientID            string
	ClientSecret        string
	RedirectURI         string
	Scopes              []string
	TokenRequestTimeout time.Duration
	HTTPClient          HTTPDoer
}

// OAuth2Endpoint builds consent URLs and performs the authorization code and
// refresh grants against a token endpoint using HTTP Basic client auth.
type OAuth2Endpoint struct {
	cfg        OAuth2Config
	httpClient HTTPDoer
}

// tokenEndpointPayload is the token endpoint JSON. Intuit includes
// x_refresh_token_expires_in; some gateways send the lifetimes as strings.
type tokenEndpointPayload struct {
	AccessToken           string      `json:"access_token"`
	TokenType             string      `json:"token_type"`
	RefreshToken          string      `json:"refresh_token"`
	ExpiresIn             flexSeconds `json:"expires_in"`
	RefreshTokenExpiresIn flexSeconds `json:"x_refresh_token_expires_in"`
	RealmID               string      `json:"realmId"`
	ErrorCode             string      `json:"error"`
	ErrorDescription      string      `json:"error_description"`
}

// flexSeconds decodes a JSON number or numeric string. Anything else is 0.
type flexSeconds int64

func (s *flexSeconds) UnmarshalJSON(raw []byte) error {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		*s = 0
		return nil
	}
	*s = flexSeconds(value)
	return nil
}

// tokenStatusError carries a non-200 token response until the caller knows
// which grant failed.
type tokenStatusError struct {
	status int
	body   string
}

func (e *tokenStatusError) Error() string {
	return fmt.Sprintf("providers: token endpoint returned %d", e.status)
}

func NewOAuth2Endpoint(cfg OAuth2Config) (*OAuth2Endpoint, error) {
	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.RedirectURI = strings.TrimSpace(cfg.RedirectURI)
	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("providers: auth url is required")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("providers: token url is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("providers: client id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("providers: client secret is required")
	}
	cfg.Scopes = normalizeScopes(cfg.Scopes)
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}
	return &OAuth2Endpoint{cfg: cfg, httpClient: httpClient}, nil
}

// ConsentURL returns the provider consent page address for state. Scopes are
// joined with spaces encoded as %20 and the redirect uri is sent verbatim.
func (p *OAuth2Endpoint) ConsentURL(state string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("providers: oauth2 endpoint is nil")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return "", fmt.Errorf("providers: state is required")
	}

	values := url.Values{}
	values.Set("client_id", p.cfg.ClientID)
	values.Set("response_type", "code")
	values.Set("scope", strings.Join(p.cfg.Scopes, " "))
	values.Set("redirect_uri", p.cfg.RedirectURI)
	values.Set("state", state)
	encoded := strings.ReplaceAll(values.Encode(), "+", "%20")

	separator := "?"
	if strings.Contains(p.cfg.AuthURL, "?") {
		separator = "&"
	}
	return p.cfg.AuthURL + separator + encoded, nil
}

func (p *OAuth2Endpoint) RedirectURI() string {
	if p == nil {
		return ""
	}
	return p.cfg.RedirectURI
}

func (p *OAuth2Endpoint) ExchangeCode(ctx context.Context, code string, redirectURI string) (core.TokenResponse, error) {
	if p == nil {
		return core.TokenResponse{}, fmt.Errorf("providers: oauth2 endpoint is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenResponse{}, fmt.Errorf("providers: authorization code is required")
	}
	if strings.TrimSpace(redirectURI) == "" {
		redirectURI = p.cfg.RedirectURI
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", strings.TrimSpace(redirectURI))

	payload, err := p.fetchToken(ctx, form)
	if err != nil {
		if statusErr, ok := err.(*tokenStatusError); ok {
			return core.TokenResponse{}, &core.TokenExchangeError{Status: statusErr.status, Body: statusErr.body}
		}
		return core.TokenResponse{}, &core.TokenExchangeError{Cause: err}
	}
	return toTokenResponse(payload), nil
}

func (p *OAuth2Endpoint) RefreshToken(ctx context.Context, refreshToken string) (core.TokenResponse, error) {
	if p == nil {
		return core.TokenResponse{}, fmt.Errorf("providers: oauth2 endpoint is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenResponse{}, &core.RefreshError{Cause: core.ErrNoRefreshCredential}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	payload, err := p.fetchToken(ctx, form)
	if err != nil {
		if statusErr, ok := err.(*tokenStatusError); ok {
			return core.TokenResponse{}, &core.RefreshError{Status: statusErr.status, Body: statusErr.body}
		}
		return core.TokenResponse{}, &core.RefreshError{Cause: err}
	}
	return toTokenResponse(payload), nil
}

func (p *OAuth2Endpoint) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, error) {
	if p.httpClient == nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: oauth2 http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	requestCtx, cancel := context.WithTimeout(ctx, p.cfg.TokenRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		p.cfg.TokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)

	response, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token request failed: %w", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: read token response: %w", readErr)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token response exceeds %d bytes", maxTokenResponseBodyBytes)
	}
	if response.StatusCode != http.StatusOK {
		return tokenEndpointPayload{}, &tokenStatusError{status: response.StatusCode, body: strings.TrimSpace(string(body))}
	}

	payload, parseErr := parseTokenPayload(body)
	if parseErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: decode token response: %w", parseErr)
	}
	if payload.ErrorCode != "" {
		reason := payload.ErrorDescription
		if reason == "" {
			reason = payload.ErrorCode
		}
		return tokenEndpointPayload{}, fmt.Errorf("providers: token endpoint error: %s", reason)
	}
	if payload.AccessToken == "" {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token endpoint response missing access token")
	}
	return payload, nil
}

func toTokenResponse(payload tokenEndpointPayload) core.TokenResponse {
	tokenType := strings.ToLower(strings.TrimSpace(payload.TokenType))
	if tokenType == "" {
		tokenType = "bearer"
	}
	return core.TokenResponse{
		AccessToken:           payload.AccessToken,
		RefreshToken:          payload.RefreshToken,
		TokenType:             tokenType,
		ExpiresIn:             int64(payload.ExpiresIn),
		RefreshTokenExpiresIn: int64(payload.RefreshTokenExpiresIn),
		RealmID:               payload.RealmID,
	}
}

func parseTokenPayload(body []byte) (tokenEndpointPayload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var payload tokenEndpointPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return tokenEndpointPayload{}, err
	}
	for _, field := range []*string{
		&payload.AccessToken, &payload.RefreshToken, &payload.RealmID,
		&payload.ErrorCode, &payload.ErrorDescription,
	} {
		*field = strings.TrimSpace(*field)
	}
	return payload, nil
}

func normalizeScopes(input []string) []string {
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		for _, part := range strings.Fields(value) {
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			values = append(values, part)
		}
	}
	return values
}

// NewState returns a random base64url nonce for the consent round trip.
func NewState() (string, error) {
	raw := make([]byte, stateBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("providers: generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

var _ core.TokenEndpoint = (*OAuth2Endpoint)(nil)
