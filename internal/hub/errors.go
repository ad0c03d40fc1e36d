package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrRateLimited       = errors.New("too many messages, slow down")
	ErrInvalidMessage    = errors.New("malformed message")
	ErrUnknownEvent      = errors.New("unknown event")
)
