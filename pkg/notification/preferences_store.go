package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PreferencesStore persists per-network decision preferences.
type PreferencesStore struct {
	pool *pgxpool.Pool
}

// NewPreferencesStore wraps a connection pool.
func NewPreferencesStore(pool *pgxpool.Pool) *PreferencesStore {
	return &PreferencesStore{pool: pool}
}

// Get returns a network's preferences, or DefaultPreferences if none have
// been set yet.
func (s *PreferencesStore) Get(ctx context.Context, networkID string) (Preferences, error) {
	const query = `
		SELECT master_switch_enabled, enabled_channels, enabled_notification_types,
		       silenced_device_ips, notification_type_priorities, minimum_priority,
		       quiet_hours_enabled, quiet_hours_start, quiet_hours_end,
		       quiet_hours_bypass_priority, timezone, max_notifications_per_hour
		FROM notification_preferences WHERE network_id = $1`

	var (
		p                        Preferences
		enabledChannels          []byte
		enabledTypes             []byte
		silencedIPs              []byte
		typePriorities           []byte
		minPriority              string
		quietBypassPriority      *string
	)

	err := s.pool.QueryRow(ctx, query, networkID).Scan(
		&p.MasterSwitchEnabled, &enabledChannels, &enabledTypes, &silencedIPs,
		&typePriorities, &minPriority, &p.QuietHoursEnabled, &p.QuietHoursStart,
		&p.QuietHoursEnd, &quietBypassPriority, &p.Timezone, &p.MaxNotificationsPerHour,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultPreferences(networkID), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("notification: querying preferences: %w", err)
	}

	p.NetworkID = networkID
	p.MinimumPriority = ParsePriority(minPriority)
	if quietBypassPriority != nil {
		bypass := ParsePriority(*quietBypassPriority)
		p.QuietHoursBypassPriority = &bypass
	}
	if err := json.Unmarshal(enabledChannels, &p.EnabledChannels); err != nil {
		return Preferences{}, fmt.Errorf("notification: decoding enabled_channels: %w", err)
	}
	if err := json.Unmarshal(enabledTypes, &p.EnabledNotificationTypes); err != nil {
		return Preferences{}, fmt.Errorf("notification: decoding enabled_notification_types: %w", err)
	}
	if err := json.Unmarshal(silencedIPs, &p.SilencedDeviceIPs); err != nil {
		return Preferences{}, fmt.Errorf("notification: decoding silenced_device_ips: %w", err)
	}
	if err := json.Unmarshal(typePriorities, &p.NotificationTypePriorities); err != nil {
		return Preferences{}, fmt.Errorf("notification: decoding notification_type_priorities: %w", err)
	}

	return p, nil
}

// Set upserts a network's preferences wholesale.
func (s *PreferencesStore) Set(ctx context.Context, p Preferences) error {
	enabledChannels, err := json.Marshal(p.EnabledChannels)
	if err != nil {
		return fmt.Errorf("notification: encoding enabled_channels: %w", err)
	}
	enabledTypes, err := json.Marshal(p.EnabledNotificationTypes)
	if err != nil {
		return fmt.Errorf("notification: encoding enabled_notification_types: %w", err)
	}
	silencedIPs, err := json.Marshal(p.SilencedDeviceIPs)
	if err != nil {
		return fmt.Errorf("notification: encoding silenced_device_ips: %w", err)
	}
	typePriorities, err := json.Marshal(p.NotificationTypePriorities)
	if err != nil {
		return fmt.Errorf("notification: encoding notification_type_priorities: %w", err)
	}

	var quietBypassPriority *string
	if p.QuietHoursBypassPriority != nil {
		s := p.QuietHoursBypassPriority.String()
		quietBypassPriority = &s
	}

	const query = `
		INSERT INTO notification_preferences (
			network_id, master_switch_enabled, enabled_channels, enabled_notification_types,
			silenced_device_ips, notification_type_priorities, minimum_priority,
			quiet_hours_enabled, quiet_hours_start, quiet_hours_end,
			quiet_hours_bypass_priority, timezone, max_notifications_per_hour, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		ON CONFLICT (network_id) DO UPDATE SET
			master_switch_enabled = EXCLUDED.master_switch_enabled,
			enabled_channels = EXCLUDED.enabled_channels,
			enabled_notification_types = EXCLUDED.enabled_notification_types,
			silenced_device_ips = EXCLUDED.silenced_device_ips,
			notification_type_priorities = EXCLUDED.notification_type_priorities,
			minimum_priority = EXCLUDED.minimum_priority,
			quiet_hours_enabled = EXCLUDED.quiet_hours_enabled,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			quiet_hours_bypass_priority = EXCLUDED.quiet_hours_bypass_priority,
			timezone = EXCLUDED.timezone,
			max_notifications_per_hour = EXCLUDED.max_notifications_per_hour,
			updated_at = now()`

	_, err = s.pool.Exec(ctx, query,
		p.NetworkID, p.MasterSwitchEnabled, enabledChannels, enabledTypes, silencedIPs,
		typePriorities, p.MinimumPriority.String(), p.QuietHoursEnabled, p.QuietHoursStart,
		p.QuietHoursEnd, quietBypassPriority, p.Timezone, p.MaxNotificationsPerHour,
	)
	if err != nil {
		return fmt.Errorf("notification: setting preferences: %w", err)
	}
	return nil
}

// PreferencesFor implements the PreferencesSource interface the scheduler
// uses, ignoring userID: preferences are network-scoped, not per-member.
func (s *PreferencesStore) PreferencesFor(ctx context.Context, networkID, _ string) (Preferences, error) {
	return s.Get(ctx, networkID)
}
