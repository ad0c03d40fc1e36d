package auth

import "errors"

var (
	ErrMissingSecret = errors.New("auth: jwt secret is not configured")
	ErrMissingToken  = errors.New("auth: missing bearer token")
)
