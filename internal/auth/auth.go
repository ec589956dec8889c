// Package auth implements the Auth Subsystem (spec component E): user
// JWT login, API-key issuance/verification, agent-token
// issuance/verification, and the first-boot admin bootstrap, all
// backed by internal/store/sql.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/llmfleet/router/internal/platform/apperrors"
	sqlstore "github.com/llmfleet/router/internal/store/sql"
)

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// Claims is the payload of a user JWT.
type Claims struct {
	UserID string `json:"sub"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Service is the Auth Subsystem, bound to one credential store and one
// signing secret.
type Service struct {
	store     *sqlstore.Store
	jwtSecret []byte
	tokenTTL  time.Duration
}

func New(store *sqlstore.Store, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{store: store, jwtSecret: []byte(jwtSecret), tokenTTL: tokenTTL}
}

func randomToken(prefix string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Bootstrap creates the first Admin user. It refuses once any user
// exists, per spec §4.5's "first-boot helper treats an empty users
// table as a signal".
func (s *Service) Bootstrap(ctx context.Context, username, password string) (sqlstore.User, error) {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return sqlstore.User{}, apperrors.Database("count users", err)
	}
	if count > 0 {
		return sqlstore.User{}, apperrors.Forbidden("bootstrap is only available while no users exist")
	}
	return s.createUser(ctx, username, password, RoleAdmin)
}

// CreateUser provisions an additional user (Admin-only operation,
// enforced by the caller's middleware).
func (s *Service) CreateUser(ctx context.Context, username, password, role string) (sqlstore.User, error) {
	return s.createUser(ctx, username, password, role)
}

func (s *Service) createUser(ctx context.Context, username, password, role string) (sqlstore.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return sqlstore.User{}, apperrors.Validation("username and password are required")
	}
	if role != RoleAdmin && role != RoleViewer {
		return sqlstore.User{}, apperrors.Validation("role must be admin or viewer")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return sqlstore.User{}, apperrors.Internal("hash password", err)
	}

	u := sqlstore.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return sqlstore.User{}, apperrors.Database("create user", err)
	}
	return u, nil
}

// DeleteUser removes a user, refusing to delete the last Admin.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return apperrors.NotFound("user", id)
	}
	if u.Role == RoleAdmin {
		admins, err := s.store.CountAdmins(ctx)
		if err != nil {
			return apperrors.Database("count admins", err)
		}
		if admins <= 1 {
			return apperrors.Forbidden("cannot delete the last admin")
		}
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return apperrors.Database("delete user", err)
	}
	return nil
}

// Login verifies username/password and issues a signed JWT.
func (s *Service) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", time.Time{}, apperrors.Unauthorized("invalid username or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", time.Time{}, apperrors.Unauthorized("invalid username or password")
	}
	return s.issueJWT(u)
}

func (s *Service) issueJWT(u sqlstore.User) (string, time.Time, error) {
	exp := time.Now().Add(s.tokenTTL)
	claims := Claims{
		UserID: u.ID,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   u.ID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, apperrors.Internal("sign token", err)
	}
	return signed, exp, nil
}

// ValidateJWT parses and verifies a bearer token, returning its claims.
func (s *Service) ValidateJWT(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.Unauthorized("invalid token")
	}
	return claims, nil
}

// Me returns the user behind a validated JWT's subject.
func (s *Service) Me(ctx context.Context, userID string) (sqlstore.User, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return sqlstore.User{}, apperrors.NotFound("user", userID)
	}
	return u, nil
}

// IssueAPIKey creates an API key for userID, returning the one-time
// plaintext (sk_...); only its bcrypt hash is stored.
func (s *Service) IssueAPIKey(ctx context.Context, userID, name string, ttl *time.Duration) (string, error) {
	plaintext, err := randomToken("sk_")
	if err != nil {
		return "", apperrors.Internal("generate api key", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", apperrors.Internal("hash api key", err)
	}

	var expiresAt *time.Time
	if ttl != nil {
		t := time.Now().Add(*ttl)
		expiresAt = &t
	}

	rec := sqlstore.APIKeyRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   string(hash),
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := s.store.CreateAPIKey(ctx, rec); err != nil {
		return "", apperrors.Database("create api key", err)
	}
	return plaintext, nil
}

func (s *Service) ListAPIKeys(ctx context.Context, userID string) ([]sqlstore.APIKeyRecord, error) {
	keys, err := s.store.ListAPIKeysForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Database("list api keys", err)
	}
	return keys, nil
}

func (s *Service) RevokeAPIKey(ctx context.Context, id string) error {
	if err := s.store.RevokeAPIKey(ctx, id); err != nil {
		return apperrors.Database("revoke api key", err)
	}
	return nil
}

// VerifyAPIKey scans the non-revoked key set for a bcrypt match, per
// spec §4.5 (the plaintext isn't indexable once hashed). Rejects
// expired keys.
func (s *Service) VerifyAPIKey(ctx context.Context, plaintext string) (string, error) {
	if !strings.HasPrefix(plaintext, "sk_") {
		return "", apperrors.Unauthorized("malformed api key")
	}
	candidates, err := s.store.ListAPIKeyHashCandidates(ctx)
	if err != nil {
		return "", apperrors.Database("list api keys", err)
	}
	now := time.Now()
	for _, k := range candidates {
		if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(plaintext)) == nil {
			return k.UserID, nil
		}
	}
	return "", apperrors.Unauthorized("invalid or expired api key")
}

// IssueAgentToken creates an agent token for nodeID at registration
// time, returning the one-time plaintext (agt_...).
func (s *Service) IssueAgentToken(ctx context.Context, nodeID string) (string, error) {
	plaintext, err := randomToken("agt_")
	if err != nil {
		return "", apperrors.Internal("generate agent token", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", apperrors.Internal("hash agent token", err)
	}

	rec := sqlstore.AgentTokenRecord{
		ID:        uuid.NewString(),
		NodeID:    nodeID,
		TokenHash: string(hash),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAgentToken(ctx, rec); err != nil {
		return "", apperrors.Database("create agent token", err)
	}
	return plaintext, nil
}

// VerifyAgentToken resolves a plaintext agent token to its node id.
func (s *Service) VerifyAgentToken(ctx context.Context, plaintext string) (string, error) {
	if !strings.HasPrefix(plaintext, "agt_") {
		return "", apperrors.Unauthorized("malformed agent token")
	}
	candidates, err := s.store.ListAgentTokenCandidates(ctx)
	if err != nil {
		return "", apperrors.Database("list agent tokens", err)
	}
	for _, t := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(t.TokenHash), []byte(plaintext)) == nil {
			return t.NodeID, nil
		}
	}
	return "", apperrors.Unauthorized("invalid or revoked agent token")
}

// RevokeAgentTokens invalidates every active token for a node, called
// when a node is deleted.
func (s *Service) RevokeAgentTokens(ctx context.Context, nodeID string) error {
	if err := s.store.RevokeAgentTokensForNode(ctx, nodeID); err != nil {
		return apperrors.Database("revoke agent tokens", err)
	}
	return nil
}
