// Package sql implements the durable credential store behind the Auth
// Subsystem (spec §4.5): users, API keys, and agent tokens, over either
// PostgreSQL (github.com/lib/pq) or an embedded SQLite file
// (modernc.org/sqlite), selected by ROUTER_DB_DRIVER.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/llmfleet/router/internal/store/sql/migrations"
)

// Store wraps a *sql.DB plus the driver name, since Postgres and SQLite
// use different placeholder syntax ($1 vs ?).
type Store struct {
	db     *sql.DB
	driver string
}

// Open dials driver ("postgres" or "sqlite") at dsn, pings, and applies
// the embedded migration set.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// ph renders the i-th (1-based) bind placeholder for the active driver.
func (s *Store) ph(i int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// User is one row of the users table.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

func (s *Store) CreateUser(ctx context.Context, u User) error {
	q := fmt.Sprintf(`INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES (%s, %s, %s, %s, %s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	_, err := s.db.ExecContext(ctx, q, u.ID, u.Username, u.PasswordHash, u.Role, u.CreatedAt)
	return err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	q := fmt.Sprintf(`SELECT id, username, password_hash, role, created_at FROM users WHERE username = %s`, s.ph(1))
	row := s.db.QueryRowContext(ctx, q, username)
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (User, error) {
	q := fmt.Sprintf(`SELECT id, username, password_hash, role, created_at FROM users WHERE id = %s`, s.ph(1))
	row := s.db.QueryRowContext(ctx, q, id)
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) CountAdmins(ctx context.Context) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM users WHERE role = %s`, s.ph(1))
	row := s.db.QueryRowContext(ctx, q, "admin")
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	q := fmt.Sprintf(`DELETE FROM users WHERE id = %s`, s.ph(1))
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// APIKeyRecord is one row of the api_keys table.
type APIKeyRecord struct {
	ID        string
	UserID    string
	Name      string
	KeyHash   string
	CreatedAt time.Time
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

func (s *Store) CreateAPIKey(ctx context.Context, k APIKeyRecord) error {
	q := fmt.Sprintf(`INSERT INTO api_keys (id, user_id, name, key_hash, created_at, expires_at, revoked_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
	_, err := s.db.ExecContext(ctx, q, k.ID, k.UserID, k.Name, k.KeyHash, k.CreatedAt, k.ExpiresAt, k.RevokedAt)
	return err
}

// ListAPIKeyHashCandidates returns every non-revoked key row, for the
// middleware to scan for a bcrypt match (bcrypt has no indexable
// plaintext, so lookup is by comparing the hash to each stored digest).
func (s *Store) ListAPIKeyHashCandidates(ctx context.Context) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, name, key_hash, created_at, expires_at, revoked_at
		FROM api_keys WHERE revoked_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIKeyRecord
	for rows.Next() {
		var k APIKeyRecord
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.CreatedAt, &k.ExpiresAt, &k.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) ListAPIKeysForUser(ctx context.Context, userID string) ([]APIKeyRecord, error) {
	q := fmt.Sprintf(`SELECT id, user_id, name, key_hash, created_at, expires_at, revoked_at
		FROM api_keys WHERE user_id = %s ORDER BY created_at`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIKeyRecord
	for rows.Next() {
		var k APIKeyRecord
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.CreatedAt, &k.ExpiresAt, &k.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	q := fmt.Sprintf(`UPDATE api_keys SET revoked_at = %s WHERE id = %s`, s.ph(1), s.ph(2))
	_, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	return err
}

// AgentTokenRecord is one row of the agent_tokens table.
type AgentTokenRecord struct {
	ID        string
	NodeID    string
	TokenHash string
	CreatedAt time.Time
	RevokedAt *time.Time
}

func (s *Store) CreateAgentToken(ctx context.Context, t AgentTokenRecord) error {
	q := fmt.Sprintf(`INSERT INTO agent_tokens (id, node_id, token_hash, created_at, revoked_at)
		VALUES (%s, %s, %s, %s, %s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	_, err := s.db.ExecContext(ctx, q, t.ID, t.NodeID, t.TokenHash, t.CreatedAt, t.RevokedAt)
	return err
}

func (s *Store) ListAgentTokenCandidates(ctx context.Context) ([]AgentTokenRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, node_id, token_hash, created_at, revoked_at
		FROM agent_tokens WHERE revoked_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentTokenRecord
	for rows.Next() {
		var t AgentTokenRecord
		if err := rows.Scan(&t.ID, &t.NodeID, &t.TokenHash, &t.CreatedAt, &t.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) RevokeAgentTokensForNode(ctx context.Context, nodeID string) error {
	q := fmt.Sprintf(`UPDATE agent_tokens SET revoked_at = %s WHERE node_id = %s AND revoked_at IS NULL`, s.ph(1), s.ph(2))
	_, err := s.db.ExecContext(ctx, q, time.Now().UTC(), nodeID)
	return err
}
