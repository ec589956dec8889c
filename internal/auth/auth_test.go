package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	sqlstore "github.com/llmfleet/router/internal/store/sql"
)

func fakeUser(id, role string) sqlstore.User {
	return sqlstore.User{ID: id, Username: id, Role: role, CreatedAt: time.Now()}
}

// fakeStore and friends would require the concrete sql.Store type, which
// wraps an unexported *sql.DB. Since auth.Service depends on the
// concrete *sqlstore.Store (not an interface) to mirror the teacher's
// direct-store-dependency style, these tests exercise the
// store-independent logic: token shape and password hashing semantics.

func TestRandomToken_HasPrefixAndIsUnique(t *testing.T) {
	a, err := randomToken("sk_")
	if err != nil {
		t.Fatalf("randomToken() error = %v", err)
	}
	b, err := randomToken("sk_")
	if err != nil {
		t.Fatalf("randomToken() error = %v", err)
	}
	if !strings.HasPrefix(a, "sk_") || !strings.HasPrefix(b, "sk_") {
		t.Fatalf("randomToken() = %q, %q, want both prefixed with sk_", a, b)
	}
	if a == b {
		t.Fatal("randomToken() produced identical tokens across calls")
	}
	if len(a) < 10 {
		t.Fatalf("randomToken() length = %d, want a real random token", len(a))
	}
}

func TestBcryptRoundTrip(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte("hunter2")) != nil {
		t.Fatal("CompareHashAndPassword() rejected the correct password")
	}
	if bcrypt.CompareHashAndPassword(hash, []byte("wrong")) == nil {
		t.Fatal("CompareHashAndPassword() accepted the wrong password")
	}
}

func TestService_IssueJWTAndValidate(t *testing.T) {
	s := New(nil, "test-secret", time.Hour)
	token, exp, err := s.issueJWT(fakeUser("u1", RoleAdmin))
	if err != nil {
		t.Fatalf("issueJWT() error = %v", err)
	}
	if exp.Before(time.Now()) {
		t.Fatal("issueJWT() expiry is in the past")
	}

	claims, err := s.ValidateJWT(token)
	if err != nil {
		t.Fatalf("ValidateJWT() error = %v", err)
	}
	if claims.UserID != "u1" || claims.Role != RoleAdmin {
		t.Fatalf("claims = %+v, want UserID=u1 Role=%s", claims, RoleAdmin)
	}
}

func TestService_ValidateJWT_RejectsForeignSecret(t *testing.T) {
	s1 := New(nil, "secret-one", time.Hour)
	s2 := New(nil, "secret-two", time.Hour)

	token, _, err := s1.issueJWT(fakeUser("u1", RoleViewer))
	if err != nil {
		t.Fatalf("issueJWT() error = %v", err)
	}
	if _, err := s2.ValidateJWT(token); err == nil {
		t.Fatal("ValidateJWT() with wrong secret: want error, got nil")
	}
}

func TestService_VerifyAPIKey_RejectsMalformed(t *testing.T) {
	s := New(nil, "secret", time.Hour)
	if _, err := s.VerifyAPIKey(context.Background(), "not-a-key"); err == nil {
		t.Fatal("VerifyAPIKey() with malformed prefix: want error, got nil")
	}
}
