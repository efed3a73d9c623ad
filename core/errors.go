package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput             = "QBX_BAD_INPUT"
	ErrorNotAuthenticated     = "QBX_NOT_AUTHENTICATED"
	ErrorAuthorizationDenied  = "QBX_AUTHORIZATION_DENIED"
	ErrorAuthorizationTimeout = "QBX_AUTHORIZATION_TIMEOUT"
	ErrorTokenExchangeFailed  = "QBX_TOKEN_EXCHANGE_FAILED"
	ErrorRefreshFailed        = "QBX_REFRESH_FAILED"
	ErrorCredentialExpired    = "QBX_CREDENTIAL_EXPIRED"
	ErrorRecordFetchTruncated = "QBX_RECORD_FETCH_TRUNCATED"
	ErrorProjectNotFound      = "QBX_PROJECT_NOT_FOUND"
	ErrorExternalFailure      = "QBX_EXTERNAL_FAILURE"
	ErrorRateLimited          = "QBX_RATE_LIMITED"
	ErrorOperationFailed      = "QBX_OPERATION_FAILED"
	ErrorInternal             = "QBX_INTERNAL_ERROR"
)

var (
	// ErrNotAuthenticated means no usable credential has been persisted yet.
	ErrNotAuthenticated = errors.New("core: not authenticated")
	// ErrNoRefreshCredential means the persisted credential carries no refresh token.
	ErrNoRefreshCredential = errors.New("core: no refresh credential available")
	// ErrInvalidReportRequest marks report requests that can never succeed as given.
	ErrInvalidReportRequest = errors.New("core: invalid report request")
)

type AuthorizationDeniedError struct {
	Reason string
}

func (e *AuthorizationDeniedError) Error() string {
	if e == nil || strings.TrimSpace(e.Reason) == "" {
		return "core: authorization denied"
	}
	return "core: authorization denied: " + e.Reason
}

func (e *AuthorizationDeniedError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryAuth, ErrorAuthorizationDenied).
		WithMetadata(map[string]any{"reason": e.Reason})
}

type AuthorizationTimeoutError struct {
	Timeout time.Duration
}

func (e *AuthorizationTimeoutError) Error() string {
	if e == nil || e.Timeout <= 0 {
		return "core: authorization timed out"
	}
	return fmt.Sprintf("core: authorization timed out after %s", e.Timeout)
}

func (e *AuthorizationTimeoutError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryOperation, ErrorAuthorizationTimeout).
		WithCode(http.StatusRequestTimeout).
		WithMetadata(map[string]any{"timeout": e.Timeout.String()})
}

// TokenExchangeError is returned when the token endpoint rejects an
// authorization code.
type TokenExchangeError struct {
	Status int
	Body   string
	Cause  error
}

func (e *TokenExchangeError) Error() string {
	if e == nil {
		return "core: token exchange failed"
	}
	if e.Status == 0 && e.Cause != nil {
		return "core: token exchange failed: " + e.Cause.Error()
	}
	return fmt.Sprintf("core: token exchange failed (%d): %s", e.Status, strings.TrimSpace(e.Body))
}

func (e *TokenExchangeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *TokenExchangeError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryExternal, ErrorTokenExchangeFailed).
		WithCode(http.StatusBadGateway).
		WithMetadata(map[string]any{"status": e.Status})
}

type RefreshError struct {
	Status int
	Body   string
	Cause  error
}

func (e *RefreshError) Error() string {
	if e == nil {
		return "core: refresh failed"
	}
	if e.Status == 0 && e.Cause != nil {
		return "core: refresh failed: " + e.Cause.Error()
	}
	return fmt.Sprintf("core: refresh failed (%d): %s", e.Status, strings.TrimSpace(e.Body))
}

func (e *RefreshError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *RefreshError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryAuth, ErrorRefreshFailed).
		WithMetadata(map[string]any{
			"status":                e.Status,
			"no_refresh_credential": errors.Is(e.Cause, ErrNoRefreshCredential),
		})
}

// CredentialExpiredError marks a 401 from a data endpoint. It is the only
// condition that triggers a refresh and retry.
type CredentialExpiredError struct {
	Status int
	Body   string
}

func (e *CredentialExpiredError) Error() string {
	return "core: credential expired or revoked"
}

func (e *CredentialExpiredError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryAuth, ErrorCredentialExpired)
}

// RecordFetchTruncatedError is attached to partial results when a page
// failed after earlier pages succeeded.
type RecordFetchTruncatedError struct {
	Entity        string
	Page          int
	StartPosition int
	Cause         error
}

func (e *RecordFetchTruncatedError) Error() string {
	if e == nil {
		return "core: record fetch truncated"
	}
	msg := fmt.Sprintf("core: %s fetch truncated at page %d (start position %d)", e.Entity, e.Page, e.StartPosition)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RecordFetchTruncatedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *RecordFetchTruncatedError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryExternal, ErrorRecordFetchTruncated).
		WithCode(http.StatusPartialContent).
		WithMetadata(map[string]any{
			"entity":         e.Entity,
			"page":           e.Page,
			"start_position": e.StartPosition,
		})
}

// ProjectNotFoundError reports a code missing from the project listing.
// Cause is set when the listing itself was truncated, in which case the
// project may exist and KnownCodes is incomplete.
type ProjectNotFoundError struct {
	Code       string
	KnownCodes []string
	Cause      error
}

func (e *ProjectNotFoundError) Error() string {
	if e == nil {
		return "core: project not found"
	}
	msg := fmt.Sprintf("core: project with code %q not found", e.Code)
	if e.Cause != nil {
		msg += "; project listing was incomplete: " + e.Cause.Error()
	}
	return msg
}

func (e *ProjectNotFoundError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ListingTruncated reports whether the miss may be caused by a partial listing.
func (e *ProjectNotFoundError) ListingTruncated() bool {
	return e != nil && e.Cause != nil
}

func (e *ProjectNotFoundError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"code":        e.Code,
		"known_codes": append([]string(nil), e.KnownCodes...),
	}
	if e.Cause != nil {
		metadata["listing_truncated"] = true
		metadata["truncation"] = e.Cause.Error()
	}
	return newServiceError(e.Error(), goerrors.CategoryNotFound, ErrorProjectNotFound).
		WithMetadata(metadata)
}

// IsCredentialExpired reports whether err should trigger a refresh and retry.
func IsCredentialExpired(err error) bool {
	var expired *CredentialExpiredError
	return errors.As(err, &expired)
}

// IsAuthFailure reports errors that only a new consent flow can fix.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrNoRefreshCredential) {
		return true
	}
	var (
		refreshErr *RefreshError
		deniedErr  *AuthorizationDeniedError
		expiredErr *CredentialExpiredError
	)
	return errors.As(err, &refreshErr) || errors.As(err, &deniedErr) || errors.As(err, &expiredErr)
}

// IsPermanentFailure reports errors a retry cannot fix: auth failures, invalid
// requests and project codes missing from a complete listing.
func IsPermanentFailure(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthFailure(err) || errors.Is(err, ErrInvalidReportRequest) {
		return true
	}
	var notFound *ProjectNotFoundError
	return errors.As(err, &notFound) && !notFound.ListingTruncated()
}

type serviceErrorConverter interface {
	ToServiceError() *goerrors.Error
}

// MapError converts any error into the go-errors envelope used by the
// command, query and CLI surfaces.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var converter serviceErrorConverter
	if errors.As(err, &converter) {
		return ensureServiceErrorEnvelope(converter.ToServiceError())
	}
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorNotAuthenticated)
	case errors.Is(err, ErrNoRefreshCredential):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorRefreshFailed)
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") {
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = DefaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

// DefaultTextCode maps an error category to its fallback text code.
func DefaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorProjectNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorNotAuthenticated
	case goerrors.CategoryOperation:
		return ErrorOperationFailed
	case goerrors.CategoryExternal:
		return ErrorExternalFailure
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
