package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"orbdata.io/internal/perm"
)

type stubSource struct {
	resolveFn func(ctx context.Context, userID string) (Credential, error)
	grantsFn  func(ctx context.Context, roleID string) (perm.Grants, error)
}

func (s *stubSource) Resolve(ctx context.Context, userID string) (Credential, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, userID)
	}
	return Credential{}, ErrNotFound
}

func (s *stubSource) Grants(ctx context.Context, roleID string) (perm.Grants, error) {
	if s.grantsFn != nil {
		return s.grantsFn(ctx, roleID)
	}
	return perm.Grants{}, ErrNotFound
}

func testCredential(t *testing.T, key string) Credential {
	t.Helper()
	hash, err := HashAPIKey(key)
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}
	return Credential{
		UserID:     "alice",
		APIKeyHash: hash,
		RoleID:     "role-1",
		Role:       "analyst",
		Name:       "Alice",
		Department: "Finance",
	}
}

func TestAuthenticateIssuesTokenWithFreshGrants(t *testing.T) {
	cred := testCredential(t, "topsecret")
	grantCalls := 0
	source := &stubSource{
		resolveFn: func(ctx context.Context, userID string) (Credential, error) {
			if userID != "alice" {
				return Credential{}, ErrNotFound
			}
			return cred, nil
		},
		grantsFn: func(ctx context.Context, roleID string) (perm.Grants, error) {
			grantCalls++
			if roleID != "role-1" {
				return perm.Grants{}, ErrNotFound
			}
			return perm.Grants{Read: perm.All()}, nil
		},
	}
	tokens, _ := NewTokenService("test-secret")
	svc, err := NewService(source, tokens)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	token, _, err := svc.Authenticate(t.Context(), "alice", "topsecret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if grantCalls != 1 {
		t.Fatalf("expected one grant fetch, got %d", grantCalls)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Role != "analyst" || !claims.Permissions.Read.IsAll() {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	cred := testCredential(t, "topsecret")
	tokens, _ := NewTokenService("test-secret")

	cases := []struct {
		name    string
		source  *stubSource
		user    string
		key     string
		wantErr error
	}{
		{
			name:    "missing user id",
			source:  &stubSource{},
			user:    "  ",
			key:     "k",
			wantErr: ErrAuthentication,
		},
		{
			name:    "unknown user",
			source:  &stubSource{},
			user:    "ghost",
			key:     "k",
			wantErr: ErrAuthentication,
		},
		{
			name: "wrong api key",
			source: &stubSource{
				resolveFn: func(context.Context, string) (Credential, error) { return cred, nil },
			},
			user:    "alice",
			key:     "wrong",
			wantErr: ErrAuthentication,
		},
		{
			name: "role grants missing",
			source: &stubSource{
				resolveFn: func(context.Context, string) (Credential, error) { return cred, nil },
			},
			user:    "alice",
			key:     "topsecret",
			wantErr: ErrAuthentication,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewService(tc.source, tokens)
			if err != nil {
				t.Fatalf("NewService: %v", err)
			}
			_, _, err = svc.Authenticate(t.Context(), tc.user, tc.key)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestAuthenticatePropagatesStoreFault(t *testing.T) {
	storeErr := fmt.Errorf("store: connection reset")
	source := &stubSource{
		resolveFn: func(context.Context, string) (Credential, error) {
			return Credential{}, storeErr
		},
	}
	tokens, _ := NewTokenService("test-secret")
	svc, _ := NewService(source, tokens)

	_, _, err := svc.Authenticate(t.Context(), "alice", "key")
	if errors.Is(err, ErrAuthentication) {
		t.Fatalf("store fault must not masquerade as authentication failure: %v", err)
	}
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store fault to propagate, got %v", err)
	}
}

func TestAPIKeyHashing(t *testing.T) {
	key, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	if len(key) < 32 {
		t.Fatalf("api key too short: %d", len(key))
	}
	hash, err := HashAPIKey(key)
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}
	if !VerifyAPIKey(key, hash) {
		t.Fatal("key does not verify against its own hash")
	}
	if VerifyAPIKey("other", hash) {
		t.Fatal("wrong key verified")
	}
	if VerifyAPIKey("", hash) || VerifyAPIKey(key, "") {
		t.Fatal("blank inputs must not verify")
	}
}
