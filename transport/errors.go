package transport

import (
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-qbexport/core"
)

var textCodes = map[goerrors.Category]string{
	goerrors.CategoryBadInput:   core.ErrorBadInput,
	goerrors.CategoryValidation: core.ErrorBadInput,
	goerrors.CategoryAuth:       core.ErrorCredentialExpired,
	goerrors.CategoryOperation:  core.ErrorOperationFailed,
	goerrors.CategoryExternal:   core.ErrorExternalFailure,
	goerrors.CategoryRateLimit:  core.ErrorRateLimited,
}

// newTransportError builds the go-errors envelope for a transport failure,
// wrapping source when there is one. Empty metadata values are dropped.
func newTransportError(source error, category goerrors.Category, status int, message string, metadata map[string]any) error {
	var err *goerrors.Error
	if source != nil {
		err = goerrors.Wrap(source, category, message)
	} else {
		err = goerrors.New(message, category)
	}
	err = err.WithCode(status).WithTextCode(transportTextCode(category))

	kept := map[string]any{}
	for key, value := range metadata {
		if text, ok := value.(string); ok && text == "" {
			continue
		}
		kept[key] = value
	}
	if len(kept) > 0 {
		err = err.WithMetadata(kept)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	if code, ok := textCodes[category]; ok {
		return code
	}
	return core.ErrorInternal
}
