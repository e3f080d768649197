package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicate          = errors.New("already exists")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrBadRequest         = errors.New("bad request")
	ErrBackendFailure     = errors.New("backend failure")
	ErrUnavailable        = errors.New("unavailable")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password does not meet policy")
	ErrNoTransport        = errors.New("no transfer transport configured")
)
