package interfaces

import (
	"net/http"

	"classwatch/pkg/types"
)

// IdentityProvider verifies the caller of an HTTP request.
// Returns ErrUnauthorized when the request carries no valid credential.
type IdentityProvider interface {
	Identify(r *http.Request) (*types.Identity, error)
}
