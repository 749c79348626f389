package model

import "errors"

var (
	// User related errors
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Token related errors
	ErrTokenNotFound   = errors.New("token not found")
	ErrTokenInvalid    = errors.New("token invalid")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenStillValid = errors.New("access token is still valid")

	// Permission/Access related errors
	ErrUnauthorized = errors.New("unauthorized")

	// Persistence errors
	ErrStoreFailure = errors.New("store failure")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
