package user

import (
	"testing"
	"time"
)

func TestIsValidRole(t *testing.T) {
	tests := []struct {
		role string
		want bool
	}{
		{RoleOwner, true},
		{RoleAdmin, true},
		{RoleMember, true},
		{"superadmin", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidRole(tt.role); got != tt.want {
			t.Errorf("IsValidRole(%q) = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestRoleAtLeast(t *testing.T) {
	tests := []struct {
		role, min string
		want      bool
	}{
		{RoleOwner, RoleMember, true},
		{RoleMember, RoleOwner, false},
		{RoleAdmin, RoleAdmin, true},
		{RoleMember, RoleMember, true},
	}

	for _, tt := range tests {
		if got := RoleAtLeast(tt.role, tt.min); got != tt.want {
			t.Errorf("RoleAtLeast(%q, %q) = %v, want %v", tt.role, tt.min, got, tt.want)
		}
	}
}

func TestUsernameFromIdentity(t *testing.T) {
	tests := []struct {
		name     string
		identity ProviderIdentity
		want     string
	}{
		{"display name", ProviderIdentity{DisplayName: "Ada Lovelace"}, "ada-lovelace"},
		{"falls back to email", ProviderIdentity{Email: "ada@example.com"}, "adaexamplecom"},
		{"falls back to provider id", ProviderIdentity{ProviderUserID: "sub-123"}, "sub-123"},
		{"strips punctuation", ProviderIdentity{DisplayName: "O'Brien!!"}, "obrien"},
		{"empty everything", ProviderIdentity{}, "user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := usernameFromIdentity(tt.identity); got != tt.want {
				t.Errorf("usernameFromIdentity(%+v) = %q, want %q", tt.identity, got, tt.want)
			}
		})
	}
}

func TestInviteStatus(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		inv  Invite
		want InviteStatus
	}{
		{"pending", Invite{ExpiresAt: future}, InvitePending},
		{"accepted takes priority over everything", Invite{ExpiresAt: future, AcceptedAt: &past, RevokedAt: &past}, InviteAccepted},
		{"revoked before acceptance", Invite{ExpiresAt: future, RevokedAt: &past}, InviteRevoked},
		{"expired", Invite{ExpiresAt: past}, InviteExpired},
		{"expiry boundary is not yet expired", Invite{ExpiresAt: now}, InvitePending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.inv.Status(now); got != tt.want {
				t.Errorf("Status() = %v, want %v", got, tt.want)
			}
		})
	}
}
