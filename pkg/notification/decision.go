package notification

import (
	"time"

	"github.com/wisbric/cartographer/pkg/ratelimit"
)

// ShouldNotify evaluates the nine-step decision algorithm for a single
// (preferences, event) pair. force=true skips steps 1-8 (master switch,
// type/device/priority/quiet-hours filters, rate limit) but still honors
// channel configuration and still records the send against the rate
// window, per the scheduled-broadcast override contract.
func ShouldNotify(prefs Preferences, event NetworkEvent, window *ratelimit.SlidingWindow, rateLimitKey string, force bool) (bool, DenyReason) {
	if !force {
		if !prefs.MasterSwitchEnabled {
			return false, DenyMasterSwitchOff
		}
	}

	if !anyChannelEnabled(prefs.EnabledChannels) {
		return false, DenyNoChannel
	}

	if !force {
		if len(prefs.EnabledNotificationTypes) > 0 && !prefs.EnabledNotificationTypes[event.EventType] {
			return false, DenyTypeDisabled
		}

		if event.DeviceIP != "" && prefs.SilencedDeviceIPs[event.DeviceIP] {
			return false, DenyDeviceSilenced
		}
	}

	effectivePriority := effectivePriority(prefs, event)

	if !force {
		if effectivePriority < prefs.MinimumPriority {
			return false, DenyBelowMinPriority
		}

		if prefs.QuietHoursEnabled && inQuietHours(prefs, time.Now()) {
			bypassOK := prefs.QuietHoursBypassPriority != nil && effectivePriority >= *prefs.QuietHoursBypassPriority
			if !bypassOK {
				return false, DenyQuietHours
			}
		}

		if window != nil && prefs.MaxNotificationsPerHour > 0 {
			if window.Count(rateLimitKey) >= prefs.MaxNotificationsPerHour {
				return false, DenyRateLimited
			}
		}
	}

	return true, DenyNone
}

func anyChannelEnabled(channels map[Channel]bool) bool {
	for _, enabled := range channels {
		if enabled {
			return true
		}
	}
	return false
}

func effectivePriority(prefs Preferences, event NetworkEvent) Priority {
	if p, ok := prefs.NotificationTypePriorities[event.EventType]; ok {
		return p
	}
	if event.Priority != nil {
		return *event.Priority
	}
	return PriorityMedium
}

// inQuietHours reports whether now (converted to prefs.Timezone, falling
// back to server local time if the zone name is invalid) falls within
// [start, end] inclusive, wrapping overnight when start > end.
func inQuietHours(prefs Preferences, now time.Time) bool {
	loc := time.Local
	if prefs.Timezone != "" {
		if l, err := time.LoadLocation(prefs.Timezone); err == nil {
			loc = l
		}
	}

	local := now.In(loc)
	minutesNow := local.Hour()*60 + local.Minute()

	start, end := prefs.QuietHoursStart, prefs.QuietHoursEnd
	if start <= end {
		return minutesNow >= start && minutesNow <= end
	}
	// Overnight window, e.g. 22:00 -> 06:00.
	return minutesNow >= start || minutesNow <= end
}
