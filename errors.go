package dcn

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoRefreshToken is returned when a refresh is attempted without a
	// stored refresh token. No network call is made.
	ErrNoRefreshToken = errors.New("no refresh token held")

	// ErrMissingNonce is returned when a nonce response carries no nonce.
	ErrMissingNonce = errors.New("nonce response missing nonce")

	// ErrMalformedInstances is returned when a running-instances segment
	// does not match the [(a;b),(c;d)] grammar.
	ErrMalformedInstances = errors.New("malformed running instances")
)

// APIError is a non-2xx response from the DCN service, carrying the status
// code and the raw response body.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("dcn: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("dcn: HTTP %d: %s", e.StatusCode, e.Body)
}

// Unauthorized reports whether the server rejected the call for
// authentication reasons (bad or expired token, stale nonce, bad signature).
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}
