package service

import "errors"

var (
	ErrInvalidMode    = errors.New("operation not valid in this service mode")
	ErrNoSigner       = errors.New("no signer set")
	ErrNoHandler      = errors.New("no request handler set")
	ErrAlreadyRunning = errors.New("service is already running")
	ErrNoRelays       = errors.New("no relays configured")
)
