package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by store lookups that find no matching row.
var ErrNotFound = errors.New("user: not found")

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Store persists User, ProviderLink, and Invite rows over raw SQL — there is
// no ORM in this codebase, queries are hand-written against pgx.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) FindByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(ctx, `
		SELECT id, username, email, password_hash, role, auth_method, created_at, updated_at
		FROM users WHERE id = $1`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(ctx, `
		SELECT id, username, email, password_hash, role, auth_method, created_at, updated_at
		FROM users WHERE lower(email) = lower($1)`, email)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*User, error) {
	return s.scanUser(ctx, `
		SELECT id, username, email, password_hash, role, auth_method, created_at, updated_at
		FROM users WHERE username = $1`, username)
}

func (s *Store) scanUser(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.AuthMethod, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user: querying user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new user. Returns errAlreadyExists (wrapped) if the
// username or email is already taken.
func (s *Store) CreateUser(ctx context.Context, u User) (*User, error) {
	var created User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, role, auth_method)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, username, email, password_hash, role, auth_method, created_at, updated_at`,
		u.Username, u.Email, u.PasswordHash, u.Role, u.AuthMethod,
	).Scan(
		&created.ID, &created.Username, &created.Email, &created.PasswordHash,
		&created.Role, &created.AuthMethod, &created.CreatedAt, &created.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user: %w", errAlreadyExists)
		}
		return nil, fmt.Errorf("user: inserting user: %w", err)
	}
	return &created, nil
}

var errAlreadyExists = errors.New("already exists")

// FindProviderLink looks up the user bound to (provider, providerUserID).
func (s *Store) FindProviderLink(ctx context.Context, provider, providerUserID string) (*ProviderLink, error) {
	var pl ProviderLink
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, provider, provider_user_id, linked_at
		FROM provider_links WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&pl.ID, &pl.UserID, &pl.Provider, &pl.ProviderUserID, &pl.LinkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user: querying provider link: %w", err)
	}
	return &pl, nil
}

// CreateProviderLink binds a provider identity to an existing user.
func (s *Store) CreateProviderLink(ctx context.Context, userID, provider, providerUserID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provider_links (user_id, provider, provider_user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, provider_user_id) DO NOTHING`,
		userID, provider, providerUserID)
	if err != nil {
		return fmt.Errorf("user: creating provider link: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
