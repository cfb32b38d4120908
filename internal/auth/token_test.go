package auth

import (
	"errors"
	"testing"
	"time"

	"orbdata.io/internal/perm"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	svc, err := NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	grants := perm.Grants{
		Read:           perm.Scoped(map[string][]string{"sales": {"orders"}}),
		Write:          perm.None(),
		UserManagement: true,
	}
	token, exp, err := svc.Issue("alice", "analyst", map[string]string{"name": "Alice", "dept": "Finance"}, grants)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "alice" || claims.Role != "analyst" {
		t.Fatalf("unexpected identity claims: %+v", claims)
	}
	if claims.Metadata["name"] != "Alice" || claims.Metadata["dept"] != "Finance" {
		t.Fatalf("metadata not preserved: %v", claims.Metadata)
	}
	if !claims.Permissions.Read.Allows("sales", "orders") {
		t.Fatalf("read grant not preserved")
	}
	if !claims.Permissions.Write.IsNone() {
		t.Fatalf("explicit write deny not preserved")
	}
	if !claims.Permissions.UserManagement {
		t.Fatalf("user management flag not preserved")
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	issued := time.Now().Add(-3 * time.Hour)
	issuer, err := NewTokenService("test-secret", WithClock(func() time.Time { return issued }))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	token, _, err := issuer.Issue("bob", "viewer", nil, perm.Grants{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	verifier, err := NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expired token must remain an authentication failure")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewTokenService("secret-a")
	verifier, _ := NewTokenService("secret-b")

	token, _, err := issuer.Issue("carol", "viewer", nil, perm.Grants{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc, _ := NewTokenService("test-secret")
	for _, token := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		if _, err := svc.Verify(token); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("token %q: expected ErrTokenInvalid, got %v", token, err)
		}
	}
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	if _, err := NewTokenService("  "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

func TestContextClaims(t *testing.T) {
	claims := &Claims{UserID: "dave", Role: "admin"}
	ctx := ContextWithClaims(t.Context(), claims)
	got, ok := ClaimsFromContext(ctx)
	if !ok || got.UserID != "dave" {
		t.Fatalf("claims not recovered from context: %+v ok=%v", got, ok)
	}
	if _, ok := ClaimsFromContext(t.Context()); ok {
		t.Fatal("unexpected claims in fresh context")
	}
}
