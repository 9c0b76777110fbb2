package notification

import (
	"testing"
	"time"

	"github.com/wisbric/cartographer/pkg/ratelimit"
)

func basePrefs() Preferences {
	return Preferences{
		MasterSwitchEnabled:      true,
		EnabledChannels:          map[Channel]bool{ChannelSlack: true},
		EnabledNotificationTypes: map[string]bool{"device_down": true},
		MinimumPriority:          PriorityLow,
	}
}

func TestShouldNotifyAllowsByDefault(t *testing.T) {
	ok, reason := ShouldNotify(basePrefs(), NetworkEvent{EventType: "device_down"}, nil, "net-1", false)
	if !ok || reason != DenyNone {
		t.Fatalf("expected allow, got ok=%v reason=%v", ok, reason)
	}
}

func TestShouldNotifyMasterSwitchOff(t *testing.T) {
	prefs := basePrefs()
	prefs.MasterSwitchEnabled = false
	ok, reason := ShouldNotify(prefs, NetworkEvent{EventType: "device_down"}, nil, "net-1", false)
	if ok || reason != DenyMasterSwitchOff {
		t.Fatalf("expected deny master_switch_off, got ok=%v reason=%v", ok, reason)
	}
}

func TestShouldNotifyNoChannelEnabled(t *testing.T) {
	prefs := basePrefs()
	prefs.EnabledChannels = map[Channel]bool{ChannelSlack: false}
	ok, reason := ShouldNotify(prefs, NetworkEvent{EventType: "device_down"}, nil, "net-1", false)
	if ok || reason != DenyNoChannel {
		t.Fatalf("expected deny no_channel, got ok=%v reason=%v", ok, reason)
	}
}

func TestShouldNotifyTypeDisabled(t *testing.T) {
	prefs := basePrefs()
	ok, reason := ShouldNotify(prefs, NetworkEvent{EventType: "device_up"}, nil, "net-1", false)
	if ok || reason != DenyTypeDisabled {
		t.Fatalf("expected deny type_disabled, got ok=%v reason=%v", ok, reason)
	}
}

func TestShouldNotifyDeviceSilenced(t *testing.T) {
	prefs := basePrefs()
	prefs.SilencedDeviceIPs = map[string]bool{"10.0.0.5": true}
	ok, reason := ShouldNotify(prefs, NetworkEvent{EventType: "device_down", DeviceIP: "10.0.0.5"}, nil, "net-1", false)
	if ok || reason != DenyDeviceSilenced {
		t.Fatalf("expected deny device_silenced, got ok=%v reason=%v", ok, reason)
	}
}

func TestShouldNotifyBelowMinimumPriority(t *testing.T) {
	prefs := basePrefs()
	prefs.MinimumPriority = PriorityHigh
	low := PriorityLow
	ok, reason := ShouldNotify(prefs, NetworkEvent{EventType: "device_down", Priority: &low}, nil, "net-1", false)
	if ok || reason != DenyBelowMinPriority {
		t.Fatalf("expected deny below_min_priority, got ok=%v reason=%v", ok, reason)
	}
}

func TestShouldNotifyQuietHoursSameDayWindow(t *testing.T) {
	prefs := basePrefs()
	prefs.QuietHoursEnabled = true
	prefs.QuietHoursStart = 22 * 60
	prefs.QuietHoursEnd = 23 * 60
	prefs.Timezone = "UTC"

	now := time.Date(2026, 1, 1, 22, 30, 0, 0, time.UTC)
	if !inQuietHours(prefs, now) {
		t.Fatal("expected to be within quiet hours")
	}
}

func TestShouldNotifyQuietHoursOvernightWrap(t *testing.T) {
	prefs := basePrefs()
	prefs.QuietHoursEnabled = true
	prefs.QuietHoursStart = 22 * 60
	prefs.QuietHoursEnd = 6 * 60
	prefs.Timezone = "UTC"

	inside := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if !inQuietHours(prefs, inside) {
		t.Fatal("expected 23:00 to be within an overnight 22:00-06:00 window")
	}
	if inQuietHours(prefs, outside) {
		t.Fatal("expected noon to be outside an overnight 22:00-06:00 window")
	}
}

func TestShouldNotifyQuietHoursBypassPriority(t *testing.T) {
	prefs := basePrefs()
	prefs.QuietHoursEnabled = true
	prefs.QuietHoursStart = 0
	prefs.QuietHoursEnd = 23*60 + 59
	prefs.Timezone = "UTC"
	bypass := PriorityCritical
	prefs.QuietHoursBypassPriority = &bypass

	critical := PriorityCritical
	ok, reason := ShouldNotify(prefs, NetworkEvent{EventType: "device_down", Priority: &critical}, nil, "net-1", false)
	if !ok {
		t.Fatalf("expected critical priority to bypass quiet hours, got reason=%v", reason)
	}
}

func TestShouldNotifyRateLimited(t *testing.T) {
	prefs := basePrefs()
	prefs.MaxNotificationsPerHour = 1

	window := ratelimit.NewSlidingWindow(time.Hour)
	window.Allow("net-1", 100) // seed one prior event, which already reaches the limit of 1 set above

	ok, reason := ShouldNotify(prefs, NetworkEvent{EventType: "device_down"}, window, "net-1", false)
	if ok || reason != DenyRateLimited {
		t.Fatalf("expected deny rate_limited, got ok=%v reason=%v", ok, reason)
	}
}

func TestShouldNotifyForceSkipsFiltersButNotChannel(t *testing.T) {
	prefs := basePrefs()
	prefs.MasterSwitchEnabled = false
	prefs.EnabledNotificationTypes = map[string]bool{"other": true}
	prefs.SilencedDeviceIPs = map[string]bool{"10.0.0.5": true}

	ok, reason := ShouldNotify(prefs, NetworkEvent{EventType: "device_down", DeviceIP: "10.0.0.5"}, nil, "net-1", true)
	if !ok || reason != DenyNone {
		t.Fatalf("expected force to allow despite filters, got ok=%v reason=%v", ok, reason)
	}

	prefs.EnabledChannels = map[Channel]bool{}
	ok, reason = ShouldNotify(prefs, NetworkEvent{EventType: "device_down"}, nil, "net-1", true)
	if ok || reason != DenyNoChannel {
		t.Fatalf("expected force to still honor channel configuration, got ok=%v reason=%v", ok, reason)
	}
}
