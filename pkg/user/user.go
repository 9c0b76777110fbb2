// Package user implements the User, ProviderLink, and Invite entities and
// the identity-synchronization algorithm that reconciles an external
// identity provider's claims with a local account.
package user

import "time"

// Roles a User can hold within a Network. Ordered by privilege: Owner >
// Admin > Member.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// roleLevel maps roles to a numeric privilege level for hierarchical checks.
var roleLevel = map[string]int{
	RoleOwner:  30,
	RoleAdmin:  20,
	RoleMember: 10,
}

// IsValidRole reports whether role is one of the three known roles.
func IsValidRole(role string) bool {
	_, ok := roleLevel[role]
	return ok
}

// RoleAtLeast reports whether role meets or exceeds minRole's privilege level.
func RoleAtLeast(role, minRole string) bool {
	return roleLevel[role] >= roleLevel[minRole]
}

// AuthMethod distinguishes how a user authenticates.
type AuthMethod string

const (
	AuthMethodLocal    AuthMethod = "local"
	AuthMethodExternal AuthMethod = "external"
)

// User is an account holder. Password is only populated for AuthMethodLocal
// accounts; external accounts resolve identity entirely through ProviderLink
// rows.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	AuthMethod   AuthMethod
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProviderLink binds an external identity provider's subject to a local
// User, so repeat logins from the same provider resolve to the same account
// without relying on email as a primary key.
type ProviderLink struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	LinkedAt       time.Time
}

// InviteStatus is the lifecycle state of an Invite, derived from its
// accepted_at/revoked_at columns and expires_at rather than stored directly.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRevoked  InviteStatus = "revoked"
	InviteExpired  InviteStatus = "expired"
)

// Invite is a pending invitation to join a Network with a given role.
type Invite struct {
	ID         string
	NetworkID  string
	Email      string
	Role       string
	InvitedBy  string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// Status derives the invite's current lifecycle state.
func (i Invite) Status(now time.Time) InviteStatus {
	switch {
	case i.AcceptedAt != nil:
		return InviteAccepted
	case i.RevokedAt != nil:
		return InviteRevoked
	case now.After(i.ExpiresAt):
		return InviteExpired
	default:
		return InvitePending
	}
}

// UserPlanSettings captures the subscription tier and feature entitlements
// for a user, independent of any single network's permissions.
type UserPlanSettings struct {
	UserID    string
	PlanName  string
	Features  []string
	UpdatedAt time.Time
}

// GlobalUserPreferences are user-level preferences that apply across all of
// a user's networks (as opposed to NetworkPreferences, which are per-network).
type GlobalUserPreferences struct {
	UserID              string
	TimeZone            string
	NotificationsMuted  bool
	DigestFrequency     string
	UpdatedAt           time.Time
}
