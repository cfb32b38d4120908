package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication covers every credential failure a caller can see:
	// unknown user, bad API key, missing role grants, bad token.
	ErrAuthentication = errors.New("auth: authentication failed")

	// ErrNotFound is returned by CredentialSource implementations when the
	// user or role is absent from both storage tiers.
	ErrNotFound = errors.New("auth: not found")

	// ErrTokenExpired and ErrTokenInvalid both authenticate-fail the caller
	// but stay distinguishable in logs.
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrAuthentication)
	ErrTokenInvalid = fmt.Errorf("%w: token invalid", ErrAuthentication)
)
