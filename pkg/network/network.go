// Package network implements the Network (tenant) entity, its membership
// permissions, and per-network preferences.
package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/cartographer/pkg/user"
)

// ErrNotFound is returned by store lookups that find no matching row.
var ErrNotFound = errors.New("network: not found")

// ErrForbidden is returned when a caller lacks sufficient network-level role.
var ErrForbidden = errors.New("network: forbidden")

// Network is an isolated collection of devices and users — the
// multi-tenant boundary for everything downstream of authentication.
type Network struct {
	ID         string
	Name       string
	Slug       string
	OwnerID    string
	LegacyMode bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Permission is a user's role within a specific network.
type Permission struct {
	NetworkID string
	UserID    string
	Role      string
	CreatedAt time.Time
}

// Preferences are the per-network notification and anomaly-detection
// settings (distinct from a user's GlobalUserPreferences).
type Preferences struct {
	NetworkID            string
	NotificationChannels []string
	QuietHoursStart      *int
	QuietHoursEnd        *int
	AnomalyDetection     bool
	UpdatedAt            time.Time
}

// Store persists networks, their membership permissions, and preferences.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, id string) (*Network, error) {
	var n Network
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, slug, owner_id, legacy_mode, created_at, updated_at
		FROM networks WHERE id = $1`, id,
	).Scan(&n.ID, &n.Name, &n.Slug, &n.OwnerID, &n.LegacyMode, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("network: querying network: %w", err)
	}
	return &n, nil
}

// ListAll returns every network, in legacy-mode-last order so a publish
// loop processes tenant networks before falling back to the single
// legacy-mode network.
func (s *Store) ListAll(ctx context.Context) ([]Network, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, slug, owner_id, legacy_mode, created_at, updated_at
		FROM networks ORDER BY legacy_mode ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("network: listing networks: %w", err)
	}
	defer rows.Close()

	var out []Network
	for rows.Next() {
		var n Network
		if err := rows.Scan(&n.ID, &n.Name, &n.Slug, &n.OwnerID, &n.LegacyMode, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("network: scanning network: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) Create(ctx context.Context, n Network) (*Network, error) {
	var created Network
	err := s.pool.QueryRow(ctx, `
		INSERT INTO networks (name, slug, owner_id, legacy_mode)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, slug, owner_id, legacy_mode, created_at, updated_at`,
		n.Name, n.Slug, n.OwnerID, n.LegacyMode,
	).Scan(&created.ID, &created.Name, &created.Slug, &created.OwnerID, &created.LegacyMode, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("network: creating network: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO network_permissions (network_id, user_id, role) VALUES ($1, $2, $3)`,
		created.ID, n.OwnerID, user.RoleOwner,
	); err != nil {
		return nil, fmt.Errorf("network: granting owner permission: %w", err)
	}

	return &created, nil
}

// PermissionFor returns a user's role on a network, or ErrNotFound if they
// have no membership.
func (s *Store) PermissionFor(ctx context.Context, networkID, userID string) (*Permission, error) {
	var p Permission
	err := s.pool.QueryRow(ctx, `
		SELECT network_id, user_id, role, created_at
		FROM network_permissions WHERE network_id = $1 AND user_id = $2`,
		networkID, userID,
	).Scan(&p.NetworkID, &p.UserID, &p.Role, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("network: querying permission: %w", err)
	}
	return &p, nil
}

// SetPermission upserts a user's role on a network.
func (s *Store) SetPermission(ctx context.Context, networkID, userID, role string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO network_permissions (network_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (network_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		networkID, userID, role)
	if err != nil {
		return fmt.Errorf("network: setting permission: %w", err)
	}
	return nil
}

// RequireRole checks that userID holds at least minRole on networkID,
// returning ErrForbidden (or ErrNotFound if they have no membership at all)
// otherwise.
func (s *Store) RequireRole(ctx context.Context, networkID, userID, minRole string) error {
	p, err := s.PermissionFor(ctx, networkID, userID)
	if err != nil {
		return err
	}
	if !user.RoleAtLeast(p.Role, minRole) {
		return ErrForbidden
	}
	return nil
}

// ListMembers returns every permission row for a network, used to fan a
// broadcast out to all members.
func (s *Store) ListMembers(ctx context.Context, networkID string) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT network_id, user_id, role, created_at
		FROM network_permissions WHERE network_id = $1`, networkID)
	if err != nil {
		return nil, fmt.Errorf("network: listing members: %w", err)
	}
	defer rows.Close()

	var out []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.NetworkID, &p.UserID, &p.Role, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("network: scanning permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPreferences(ctx context.Context, networkID string) (*Preferences, error) {
	var p Preferences
	err := s.pool.QueryRow(ctx, `
		SELECT network_id, notification_channels, quiet_hours_start, quiet_hours_end, anomaly_detection, updated_at
		FROM network_preferences WHERE network_id = $1`, networkID,
	).Scan(&p.NetworkID, &p.NotificationChannels, &p.QuietHoursStart, &p.QuietHoursEnd, &p.AnomalyDetection, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Preferences{NetworkID: networkID, AnomalyDetection: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("network: querying preferences: %w", err)
	}
	return &p, nil
}

func (s *Store) SetPreferences(ctx context.Context, p Preferences) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO network_preferences (network_id, notification_channels, quiet_hours_start, quiet_hours_end, anomaly_detection)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (network_id) DO UPDATE SET
			notification_channels = EXCLUDED.notification_channels,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			anomaly_detection = EXCLUDED.anomaly_detection,
			updated_at = now()`,
		p.NetworkID, p.NotificationChannels, p.QuietHoursStart, p.QuietHoursEnd, p.AnomalyDetection)
	if err != nil {
		return fmt.Errorf("network: setting preferences: %w", err)
	}
	return nil
}
