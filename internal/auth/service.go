// Package auth issues and verifies the gateway's access tokens and
// authenticates API-key holders against the user store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"orbdata.io/internal/perm"
)

// Credential is the projection of a user record used to authenticate a
// caller: the hashed API key plus the role and metadata embedded into
// issued tokens. It is the shape cached by the fast tier.
type Credential struct {
	UserID     string
	APIKeyHash string
	RoleID     string
	Role       string
	Name       string
	Department string
}

// Metadata returns the free-form claim map derived from the projection.
func (c Credential) Metadata() map[string]string {
	return map[string]string{"name": c.Name, "dept": c.Department}
}

// CredentialSource resolves caller credentials and role grants.
// Implementations report a missing user or role with an error matching
// ErrNotFound.
type CredentialSource interface {
	// Resolve returns the caller's credential projection, cache first.
	Resolve(ctx context.Context, userID string) (Credential, error)
	// Grants fetches the current permission set for a role directly from
	// the system of record, bypassing any cache: authorization policy is
	// never served stale beyond a token's own lifetime.
	Grants(ctx context.Context, roleID string) (perm.Grants, error)
}

// Service authenticates API-key holders and issues access tokens.
type Service struct {
	source CredentialSource
	tokens *TokenService
}

// NewService wires the credential source and the token service.
func NewService(source CredentialSource, tokens *TokenService) (*Service, error) {
	if source == nil {
		return nil, errors.New("auth: credential source is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	return &Service{source: source, tokens: tokens}, nil
}

// Authenticate verifies the user's API key and returns a signed token
// with a fresh grant snapshot. Every failure the caller can influence
// collapses into ErrAuthentication; store faults pass through unchanged.
func (s *Service) Authenticate(ctx context.Context, userID, apiKey string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || apiKey == "" {
		return "", time.Time{}, fmt.Errorf("%w: missing credentials", ErrAuthentication)
	}

	cred, err := s.source.Resolve(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", time.Time{}, fmt.Errorf("%w: unknown user", ErrAuthentication)
		}
		return "", time.Time{}, err
	}
	if cred.APIKeyHash == "" || !VerifyAPIKey(apiKey, cred.APIKeyHash) {
		return "", time.Time{}, fmt.Errorf("%w: invalid api key", ErrAuthentication)
	}

	grants, err := s.source.Grants(ctx, cred.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", time.Time{}, fmt.Errorf("%w: no grants for role", ErrAuthentication)
		}
		return "", time.Time{}, err
	}

	return s.tokens.Issue(userID, cred.Role, cred.Metadata(), grants)
}

// Verify decodes a presented token. See TokenService.Verify.
func (s *Service) Verify(token string) (*Claims, error) {
	return s.tokens.Verify(token)
}
