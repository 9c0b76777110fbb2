package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrInviteNotFound is returned when no invite matches an ID.
var ErrInviteNotFound = errors.New("user: invite not found")

// CreateInvite inserts a pending invite.
func (s *Store) CreateInvite(ctx context.Context, networkID, email, role, invitedBy string, ttl time.Duration) (*Invite, error) {
	var inv Invite
	err := s.pool.QueryRow(ctx, `
		INSERT INTO invites (network_id, email, role, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, network_id, email, role, invited_by, expires_at, accepted_at, revoked_at, created_at`,
		networkID, email, role, invitedBy, time.Now().Add(ttl),
	).Scan(&inv.ID, &inv.NetworkID, &inv.Email, &inv.Role, &inv.InvitedBy,
		&inv.ExpiresAt, &inv.AcceptedAt, &inv.RevokedAt, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("user: creating invite: %w", err)
	}
	return &inv, nil
}

// GetInvite fetches an invite by ID.
func (s *Store) GetInvite(ctx context.Context, id string) (*Invite, error) {
	var inv Invite
	err := s.pool.QueryRow(ctx, `
		SELECT id, network_id, email, role, invited_by, expires_at, accepted_at, revoked_at, created_at
		FROM invites WHERE id = $1`, id,
	).Scan(&inv.ID, &inv.NetworkID, &inv.Email, &inv.Role, &inv.InvitedBy,
		&inv.ExpiresAt, &inv.AcceptedAt, &inv.RevokedAt, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user: querying invite: %w", err)
	}
	return &inv, nil
}

// AcceptInvite stamps accepted_at, single-use: a second call on an already
// accepted/revoked invite returns zero rows affected.
func (s *Store) AcceptInvite(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invites SET accepted_at = now()
		WHERE id = $1 AND accepted_at IS NULL AND revoked_at IS NULL AND expires_at > now()`, id)
	if err != nil {
		return fmt.Errorf("user: accepting invite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user: %w: invite is not pending", ErrInviteNotFound)
	}
	return nil
}

// RevokeInvite stamps revoked_at on a still-pending invite.
func (s *Store) RevokeInvite(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE invites SET revoked_at = now() WHERE id = $1 AND accepted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("user: revoking invite: %w", err)
	}
	return nil
}
