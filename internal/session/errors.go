package session

import "errors"

var (
	ErrInvalidOwner = errors.New("owner id is required")
	ErrInvalidCode  = errors.New("session code must be 8 characters of 0-9 and A-Z")
)
