package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-qbexport/core"
	"github.com/goliatone/go-qbexport/providers/quickbooks"
)

type QuickBooksClientConfig struct {
	BaseURL        string
	MinorVersion   int
	RequestTimeout time.Duration
	HTTPClient     HTTPDoer
	Throttle       Throttle
}

// Throttle gates calls per realm and learns from each response.
type Throttle interface {
	BeforeCall(ctx context.Context, realmID string) error
	AfterCall(ctx context.Context, realmID string, status int, headers map[string]string) error
}

// QuickBooksClient issues bearer-authenticated reads against the accounting
// API. A 401 is reported as *core.CredentialExpiredError so callers can
// refresh and retry.
type QuickBooksClient struct {
	adapter        *RESTAdapter
	baseURL        string
	minorVersion   int
	requestTimeout time.Duration
	throttle       Throttle
}

func NewQuickBooksClient(cfg QuickBooksClientConfig) (*QuickBooksClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("transport: api base url is required")
	}
	minorVersion := cfg.MinorVersion
	if minorVersion <= 0 {
		minorVersion = core.DefaultMinorVersion
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = core.DefaultRequestTimeout
	}
	return &QuickBooksClient{
		adapter:        NewRESTAdapter(cfg.HTTPClient),
		baseURL:        baseURL,
		minorVersion:   minorVersion,
		requestTimeout: timeout,
		throttle:       cfg.Throttle,
	}, nil
}

type queryEnvelope struct {
	QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
}

func (c *QuickBooksClient) QueryPage(
	ctx context.Context,
	cred core.CredentialRecord,
	entity string,
	query string,
	startPosition int,
	maxResults int,
) (core.QueryPage, error) {
	body, err := c.get(ctx, cred, quickbooks.QueryPath(cred.RealmID), map[string]string{
		"query":          query,
		"start_position": strconv.Itoa(startPosition),
		"max_results":    strconv.Itoa(maxResults),
	})
	if err != nil {
		return core.QueryPage{}, err
	}

	var envelope queryEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return core.QueryPage{}, newTransportError(err, goerrors.CategoryExternal, http.StatusBadGateway,
			"transport: decode query response", map[string]any{"entity": entity, "start_position": startPosition})
	}
	raw, ok := envelope.QueryResponse[entity]
	if !ok {
		return core.QueryPage{Present: false}, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return core.QueryPage{}, newTransportError(err, goerrors.CategoryExternal, http.StatusBadGateway,
			"transport: decode query records", map[string]any{"entity": entity, "start_position": startPosition})
	}
	return core.QueryPage{Records: records, Present: true}, nil
}

func (c *QuickBooksClient) CompanyInfo(ctx context.Context, cred core.CredentialRecord) (core.CompanyInfo, error) {
	body, err := c.get(ctx, cred, quickbooks.CompanyInfoPath(cred.RealmID), nil)
	if err != nil {
		return core.CompanyInfo{}, err
	}
	var envelope struct {
		CompanyInfo map[string]any `json:"CompanyInfo"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return core.CompanyInfo{}, newTransportError(err, goerrors.CategoryExternal, http.StatusBadGateway,
			"transport: decode company info", nil)
	}
	country := stringField(envelope.CompanyInfo, "Country")
	if addr, ok := envelope.CompanyInfo["CompanyAddr"].(map[string]any); ok && country == "" {
		country = stringField(addr, "Country")
	}
	info := core.CompanyInfo{
		RealmID:     cred.RealmID,
		CompanyName: stringField(envelope.CompanyInfo, "CompanyName"),
		LegalName:   stringField(envelope.CompanyInfo, "LegalName"),
		Country:     country,
		Raw:         envelope.CompanyInfo,
	}
	return info, nil
}

func (c *QuickBooksClient) get(ctx context.Context, cred core.CredentialRecord, path string, query map[string]string) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("transport: quickbooks client is nil")
	}
	if strings.TrimSpace(cred.RealmID) == "" {
		return nil, newTransportError(nil, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: credential has no realm id", nil)
	}
	params := map[string]string{"minorversion": strconv.Itoa(c.minorVersion)}
	for key, value := range query {
		params[key] = value
	}

	if c.throttle != nil {
		if err := c.throttle.BeforeCall(ctx, cred.RealmID); err != nil {
			return nil, err
		}
	}
	res, err := c.adapter.Get(ctx, Request{
		URL:         c.baseURL + path,
		Query:       params,
		BearerToken: cred.AccessToken,
		Timeout:     c.requestTimeout,
	})
	if err != nil {
		return nil, err
	}
	if c.throttle != nil {
		if err := c.throttle.AfterCall(ctx, cred.RealmID, res.StatusCode, res.Headers); err != nil {
			return nil, err
		}
	}
	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return nil, &core.CredentialExpiredError{Status: res.StatusCode, Body: string(res.Body)}
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, newTransportError(nil, goerrors.CategoryRateLimit, res.StatusCode,
			"transport: quickbooks throttled the request",
			map[string]any{"status_code": res.StatusCode, "path": path, "intuit_tid": res.IntuitTID})
	case res.StatusCode < 200 || res.StatusCode > 299:
		return nil, newTransportError(nil, goerrors.CategoryExternal, res.StatusCode,
			fmt.Sprintf("transport: quickbooks returned status %d", res.StatusCode),
			map[string]any{"status_code": res.StatusCode, "path": path, "intuit_tid": res.IntuitTID, "body": truncateBody(res.Body)})
	}
	return res.Body, nil
}

func stringField(values map[string]any, key string) string {
	if values == nil {
		return ""
	}
	switch typed := values[key].(type) {
	case string:
		return strings.TrimSpace(typed)
	default:
		return ""
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}

var _ core.RecordQuerier = (*QuickBooksClient)(nil)
