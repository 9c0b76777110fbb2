package notification

import (
	"context"
	"testing"
	"time"

	"github.com/wisbric/cartographer/pkg/network"
	"github.com/wisbric/cartographer/pkg/ratelimit"
)

type fakeMemberLister struct{ members []network.Permission }

func (f fakeMemberLister) ListMembers(context.Context, string) ([]network.Permission, error) {
	return f.members, nil
}

type fakeRecipientResolver struct{ byUser map[string]Recipient }

func (f fakeRecipientResolver) ResolveRecipient(_ context.Context, userID string) (Recipient, error) {
	return f.byUser[userID], nil
}

type fakePreferencesSource struct{ byUser map[string]Preferences }

func (f fakePreferencesSource) PreferencesFor(_ context.Context, _, userID string) (Preferences, error) {
	return f.byUser[userID], nil
}

func TestRouterNotifyDispatchesToEnabledChannels(t *testing.T) {
	registry := NewRegistry()
	slack := &fakeProvider{channel: ChannelSlack}
	registry.Register(slack)

	dispatcher := NewDispatcher(registry, ratelimit.NewSlidingWindow(time.Hour), nil, testLogger())
	members := fakeMemberLister{members: []network.Permission{{UserID: "u1"}}}
	recipients := fakeRecipientResolver{byUser: map[string]Recipient{"u1": {UserID: "u1", SlackUserID: "U1"}}}
	prefs := fakePreferencesSource{byUser: map[string]Preferences{
		"u1": {MasterSwitchEnabled: true, EnabledChannels: map[Channel]bool{ChannelSlack: true}, MinimumPriority: PriorityLow},
	}}

	router := NewRouter(members, recipients, prefs, dispatcher, testLogger())

	critical := PriorityCritical
	router.Notify(context.Background(), "net-1", NetworkEvent{
		EventType:    "device_status_change",
		CurrentState: "unhealthy",
		Priority:     &critical,
	})

	if len(slack.sent) != 1 {
		t.Fatalf("expected one slack delivery, got %d", len(slack.sent))
	}
}

func TestRouterNotifySkipsMembersWithNoEnabledChannels(t *testing.T) {
	registry := NewRegistry()
	slack := &fakeProvider{channel: ChannelSlack}
	registry.Register(slack)

	dispatcher := NewDispatcher(registry, nil, nil, testLogger())
	members := fakeMemberLister{members: []network.Permission{{UserID: "u1"}}}
	recipients := fakeRecipientResolver{byUser: map[string]Recipient{"u1": {UserID: "u1"}}}
	prefs := fakePreferencesSource{byUser: map[string]Preferences{
		"u1": {MasterSwitchEnabled: true, EnabledChannels: map[Channel]bool{ChannelSlack: false}},
	}}

	router := NewRouter(members, recipients, prefs, dispatcher, testLogger())
	router.Notify(context.Background(), "net-1", NetworkEvent{EventType: "device_status_change"})

	if len(slack.sent) != 0 {
		t.Fatalf("expected no delivery when no channel is enabled, got %d", len(slack.sent))
	}
}

func TestRouterNotifyRunsUnforcedDecisionPipeline(t *testing.T) {
	registry := NewRegistry()
	slack := &fakeProvider{channel: ChannelSlack}
	registry.Register(slack)

	dispatcher := NewDispatcher(registry, nil, nil, testLogger())
	members := fakeMemberLister{members: []network.Permission{{UserID: "u1"}}}
	recipients := fakeRecipientResolver{byUser: map[string]Recipient{"u1": {UserID: "u1"}}}
	// MasterSwitchEnabled defaults to false, which ShouldNotify denies at
	// step 1 unless the call is forced. Router never forces, so this
	// delivery must be denied rather than sent.
	prefs := fakePreferencesSource{byUser: map[string]Preferences{
		"u1": {EnabledChannels: map[Channel]bool{ChannelSlack: true}},
	}}

	router := NewRouter(members, recipients, prefs, dispatcher, testLogger())
	router.Notify(context.Background(), "net-1", NetworkEvent{EventType: "device_status_change"})

	if len(slack.sent) != 0 {
		t.Fatalf("expected the master-switch-off preference to deny delivery, got %d sent", len(slack.sent))
	}
}
