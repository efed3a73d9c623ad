package quickbooks

import (
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-qbexport/core"
	"github.com/goliatone/go-qbexport/providers"
)

const (
	ProviderID = "quickbooks"
	AuthURL    = core.DefaultAuthURL
	TokenURL   = core.DefaultTokenURL
)

type Config struct {
	ClientID            string
	ClientSecret        string
	RedirectURI         string
	AuthURL             string
	TokenURL            string
	Scopes              []string
	TokenRequestTimeout time.Duration
	HTTPClient          providers.HTTPDoer
}

func DefaultConfig() Config {
	return Config{
		AuthURL:     AuthURL,
		TokenURL:    TokenURL,
		RedirectURI: core.DefaultRedirectURI,
		Scopes:      []string{core.DefaultScope},
	}
}

// ConfigFromCore maps the oauth section of the service config.
func ConfigFromCore(cfg core.Config) Config {
	return Config{
		ClientID:            cfg.OAuth.ClientID,
		ClientSecret:        cfg.OAuth.ClientSecret,
		RedirectURI:         cfg.OAuth.RedirectURI,
		AuthURL:             cfg.OAuth.AuthURL,
		TokenURL:            cfg.OAuth.TokenURL,
		Scopes:              append([]string(nil), cfg.OAuth.Scopes...),
		TokenRequestTimeout: cfg.API.RequestTimeout,
	}
}

func New(cfg Config) (*providers.OAuth2Endpoint, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.AuthURL) == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if strings.TrimSpace(cfg.RedirectURI) == "" {
		cfg.RedirectURI = defaults.RedirectURI
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaults.Scopes
	}
	return providers.NewOAuth2Endpoint(providers.OAuth2Config{
		AuthURL:             cfg.AuthURL,
		TokenURL:            cfg.TokenURL,
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		RedirectURI:         cfg.RedirectURI,
		Scopes:              cfg.Scopes,
		TokenRequestTimeout: cfg.TokenRequestTimeout,
		HTTPClient:          cfg.HTTPClient,
	})
}

// APIBaseURL resolves the accounting API host for an environment name.
func APIBaseURL(environment string) string {
	return core.APIConfig{Environment: environment}.ResolvedBaseURL()
}

// QueryPath is the per-company query endpoint path.
func QueryPath(realmID string) string {
	return "/v3/company/" + realmID + "/query"
}

// CompanyInfoPath addresses the company record, which shares the realm id.
func CompanyInfoPath(realmID string) string {
	return "/v3/company/" + realmID + "/companyinfo/" + realmID
}

// DefaultHTTPClient returns a client with the configured request timeout.
func DefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = core.DefaultRequestTimeout
	}
	return &http.Client{Timeout: timeout}
}
