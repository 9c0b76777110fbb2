package notification

// Preferences are the per-network notification settings evaluated by
// ShouldNotify. Timezone must be a tz-database name (e.g. "America/Denver")
// — comparing quiet hours against process-UTC instead of this value is a
// known historical bug this package does not repeat.
type Preferences struct {
	NetworkID                  string              `json:"network_id"`
	MasterSwitchEnabled        bool                `json:"master_switch_enabled"`
	EnabledChannels            map[Channel]bool    `json:"enabled_channels"`
	EnabledNotificationTypes   map[string]bool     `json:"enabled_notification_types"`
	SilencedDeviceIPs          map[string]bool     `json:"silenced_device_ips"`
	NotificationTypePriorities map[string]Priority `json:"notification_type_priorities"`
	MinimumPriority            Priority            `json:"minimum_priority"`
	QuietHoursEnabled          bool                `json:"quiet_hours_enabled"`
	QuietHoursStart            int                 `json:"quiet_hours_start"` // minutes since midnight, local to Timezone
	QuietHoursEnd              int                 `json:"quiet_hours_end"`
	QuietHoursBypassPriority   *Priority           `json:"quiet_hours_bypass_priority,omitempty"`
	Timezone                   string              `json:"timezone"`
	MaxNotificationsPerHour    int                 `json:"max_notifications_per_hour"`
}

// DefaultPreferences returns the preferences a network has before anyone
// has configured anything: notifications on, every channel and type
// enabled, no quiet hours, a conservative per-hour ceiling.
func DefaultPreferences(networkID string) Preferences {
	return Preferences{
		NetworkID:                networkID,
		MasterSwitchEnabled:      true,
		EnabledChannels:          map[Channel]bool{ChannelSlack: true, ChannelEmail: true},
		EnabledNotificationTypes: map[string]bool{},
		SilencedDeviceIPs:        map[string]bool{},
		NotificationTypePriorities: map[string]Priority{},
		MinimumPriority:          PriorityLow,
		Timezone:                 "UTC",
		MaxNotificationsPerHour:  20,
	}
}

// DenyReason explains why ShouldNotify returned false.
type DenyReason string

const (
	DenyNone             DenyReason = ""
	DenyMasterSwitchOff  DenyReason = "master switch off"
	DenyNoChannel        DenyReason = "no channel enabled"
	DenyTypeDisabled     DenyReason = "event type disabled"
	DenyDeviceSilenced   DenyReason = "device silenced"
	DenyBelowMinPriority DenyReason = "below minimum priority"
	DenyQuietHours       DenyReason = "quiet hours"
	DenyRateLimited      DenyReason = "rate limited"
)
