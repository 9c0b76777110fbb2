package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProviderIdentity is what an external identity provider hands back after a
// successful token exchange.
type ProviderIdentity struct {
	Provider       string
	ProviderUserID string
	Email          string
	DisplayName    string
}

// SyncResult reports how a ProviderIdentity was resolved to a local user.
type SyncResult struct {
	UserID  string
	Created bool
	Linked  bool // an existing user was matched by email and newly linked
}

const maxUsernameSuffixAttempts = 20

// SyncProviderUser resolves an external identity to a local user:
//
//  1. look up an existing ProviderLink for (provider, provider_user_id) — if
//     found, that link's user is authoritative and nothing else happens.
//  2. otherwise look for an existing local user by case-insensitive email
//     match — if found, bind a new ProviderLink to it (first-party account
//     claimed by a federated login).
//  3. otherwise, when createIfMissing is true, create a new user from the
//     identity's display name (suffixing the username on collision) and
//     bind the ProviderLink.
//  4. a unique-violation race on create (two concurrent callbacks for the
//     same new identity) is retried by re-running the lookup, since the
//     losing insert means a winner already exists to link against.
func (s *Store) SyncProviderUser(ctx context.Context, identity ProviderIdentity, createIfMissing bool) (SyncResult, error) {
	if link, err := s.FindProviderLink(ctx, identity.Provider, identity.ProviderUserID); err == nil {
		return SyncResult{UserID: link.UserID}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return SyncResult{}, fmt.Errorf("user: sync: looking up provider link: %w", err)
	}

	if identity.Email != "" {
		if existing, err := s.FindByEmail(ctx, identity.Email); err == nil {
			if linkErr := s.CreateProviderLink(ctx, existing.ID, identity.Provider, identity.ProviderUserID); linkErr != nil {
				return SyncResult{}, fmt.Errorf("user: sync: linking existing user: %w", linkErr)
			}
			return SyncResult{UserID: existing.ID, Linked: true}, nil
		} else if !errors.Is(err, ErrNotFound) {
			return SyncResult{}, fmt.Errorf("user: sync: looking up user by email: %w", err)
		}
	}

	if !createIfMissing {
		return SyncResult{}, fmt.Errorf("user: sync: %w", ErrNotFound)
	}

	username := usernameFromIdentity(identity)
	for attempt := 0; attempt < maxUsernameSuffixAttempts; attempt++ {
		candidate := username
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d", username, attempt+1)
		}

		created, err := s.CreateUser(ctx, User{
			Username:   candidate,
			Email:      identity.Email,
			Role:       RoleMember,
			AuthMethod: AuthMethodExternal,
		})
		if err != nil {
			if errors.Is(err, errAlreadyExists) {
				// Either the username collided (retry with a suffix) or a
				// concurrent callback for the same identity just won the
				// email/provider race — re-resolve before giving up.
				if existing, lookupErr := s.FindByEmail(ctx, identity.Email); lookupErr == nil {
					if linkErr := s.CreateProviderLink(ctx, existing.ID, identity.Provider, identity.ProviderUserID); linkErr != nil {
						return SyncResult{}, fmt.Errorf("user: sync: linking after race: %w", linkErr)
					}
					return SyncResult{UserID: existing.ID, Linked: true}, nil
				}
				continue
			}
			return SyncResult{}, fmt.Errorf("user: sync: creating user: %w", err)
		}

		if linkErr := s.CreateProviderLink(ctx, created.ID, identity.Provider, identity.ProviderUserID); linkErr != nil {
			return SyncResult{}, fmt.Errorf("user: sync: linking new user: %w", linkErr)
		}
		return SyncResult{UserID: created.ID, Created: true}, nil
	}

	return SyncResult{}, fmt.Errorf("user: sync: exhausted username suffix attempts for %q", username)
}

func usernameFromIdentity(identity ProviderIdentity) string {
	base := identity.DisplayName
	if base == "" {
		base = identity.Email
	}
	if base == "" {
		base = identity.ProviderUserID
	}

	base = strings.ToLower(strings.TrimSpace(base))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, base)

	if base == "" {
		base = "user"
	}
	return base
}
