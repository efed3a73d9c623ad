package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultReadTimeout       = 30 * time.Second
	defaultResponseLimit     = int64(10 << 20)
	defaultUserAgent         = "qbexport"
	intuitTransactionIDHeader = "Intuit_tid"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is one authenticated GET. Query values are merged into any query
// already present on URL.
type Request struct {
	URL         string
	Query       map[string]string
	BearerToken string
	Timeout     time.Duration
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
	// IntuitTID is the request id Intuit support asks for.
	IntuitTID string
}

// RESTAdapter performs bounded JSON reads. Bodies larger than
// MaxResponseBodyBytes are rejected rather than truncated.
type RESTAdapter struct {
	Client               HTTPDoer
	UserAgent            string
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultReadTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		UserAgent:            defaultUserAgent,
		MaxResponseBodyBytes: defaultResponseLimit,
	}
}

func (a *RESTAdapter) Get(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.Client == nil {
		return Response{}, newTransportError(nil, goerrors.CategoryInternal, http.StatusInternalServerError,
			"transport: rest adapter requires an http client", nil)
	}
	target, err := requestURL(req)
	if err != nil {
		return Response{}, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Response{}, newTransportError(err, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: create http request", map[string]any{"url": target})
	}
	httpReq.Header.Set("Accept", "application/json")
	if agent := strings.TrimSpace(a.UserAgent); agent != "" {
		httpReq.Header.Set("User-Agent", agent)
	}
	if token := strings.TrimSpace(req.BearerToken); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return Response{}, newTransportError(err, goerrors.CategoryExternal, http.StatusBadGateway,
			"transport: execute http request", map[string]any{"url": target})
	}
	defer httpRes.Body.Close()

	tid := strings.TrimSpace(httpRes.Header.Get(intuitTransactionIDHeader))
	limit := a.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, newTransportError(err, goerrors.CategoryExternal, http.StatusBadGateway,
			"transport: read response body", map[string]any{"status_code": httpRes.StatusCode, "intuit_tid": tid})
	}
	if int64(len(body)) > limit {
		return Response{}, newTransportError(nil, goerrors.CategoryExternal, http.StatusBadGateway,
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			map[string]any{"status_code": httpRes.StatusCode, "response_limit_b": limit, "intuit_tid": tid})
	}

	headers := make(map[string]string, len(httpRes.Header))
	for key, values := range httpRes.Header {
		headers[key] = strings.Join(values, ",")
	}
	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    headers,
		Body:       body,
		Duration:   time.Since(startedAt),
		IntuitTID:  tid,
	}, nil
}

func requestURL(req Request) (string, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return "", newTransportError(nil, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: request url is required", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", newTransportError(err, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: invalid request url", map[string]any{"url": raw})
	}
	values := parsed.Query()
	for key, value := range req.Query {
		if key = strings.TrimSpace(key); key != "" {
			values.Set(key, strings.TrimSpace(value))
		}
	}
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}
