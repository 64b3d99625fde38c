package auth

import (
	"errors"
	"net/http"
)

// Verification failures, in the order Verify checks them.
var (
	ErrMissingApiKey           = errors.New("missing API key")
	ErrInvalidApiKey           = errors.New("invalid API key")
	ErrKeyExpired              = errors.New("API key expired")
	ErrKeySuspended            = errors.New("API key suspended")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrRateLimitExceeded       = errors.New("rate limit exceeded")
)

// HTTPStatus maps a verification error to its response code. Unknown errors
// map to 500 since they come from storage, not the credential itself.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrMissingApiKey),
		errors.Is(err, ErrInvalidApiKey),
		errors.Is(err, ErrKeyExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrKeySuspended),
		errors.Is(err, ErrInsufficientPermissions):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
