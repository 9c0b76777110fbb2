package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wisbric/cartographer/pkg/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	channel Channel
	err     error
	sent    []Recipient
}

func (p *fakeProvider) Channel() Channel { return p.channel }

func (p *fakeProvider) Send(_ context.Context, recipient Recipient, _ NetworkEvent) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, recipient)
	return nil
}

type panickingProvider struct{}

func (panickingProvider) Channel() Channel { return ChannelSlack }

func (panickingProvider) Send(context.Context, Recipient, NetworkEvent) error {
	panic("boom")
}

func TestDispatchSendsToAllowedTargets(t *testing.T) {
	registry := NewRegistry()
	slack := &fakeProvider{channel: ChannelSlack}
	registry.Register(slack)

	d := NewDispatcher(registry, ratelimit.NewSlidingWindow(time.Hour), nil, testLogger())

	prefs := Preferences{
		MasterSwitchEnabled: true,
		EnabledChannels:     map[Channel]bool{ChannelSlack: true},
		MinimumPriority:     PriorityLow,
	}
	targets := []Target{{NetworkID: "net-1", Recipient: Recipient{UserID: "u1", SlackUserID: "U1"}, Channel: ChannelSlack}}

	records := d.Dispatch(context.Background(), prefs, NetworkEvent{EventType: "device_down"}, targets, false)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Outcome != OutcomeSent {
		t.Fatalf("expected sent, got %v", records[0].Outcome)
	}
	if len(slack.sent) != 1 {
		t.Fatalf("expected provider to have been invoked once, got %d", len(slack.sent))
	}
}

func TestDispatchRecordsDeniedWithoutCallingProvider(t *testing.T) {
	registry := NewRegistry()
	slack := &fakeProvider{channel: ChannelSlack}
	registry.Register(slack)

	d := NewDispatcher(registry, nil, nil, testLogger())

	prefs := Preferences{
		MasterSwitchEnabled: false, // deny at step 1
		EnabledChannels:     map[Channel]bool{ChannelSlack: true},
	}
	targets := []Target{{NetworkID: "net-1", Recipient: Recipient{UserID: "u1"}, Channel: ChannelSlack}}

	records := d.Dispatch(context.Background(), prefs, NetworkEvent{EventType: "device_down"}, targets, false)
	if records[0].Outcome != OutcomeDenied || records[0].DenyReason != string(DenyMasterSwitchOff) {
		t.Fatalf("expected denied/master_switch_off, got %+v", records[0])
	}
	if len(slack.sent) != 0 {
		t.Fatal("provider should not have been called for a denied target")
	}
}

func TestDispatchRecordsProviderFailure(t *testing.T) {
	registry := NewRegistry()
	slack := &fakeProvider{channel: ChannelSlack, err: errors.New("webhook timeout")}
	registry.Register(slack)

	d := NewDispatcher(registry, nil, nil, testLogger())
	prefs := Preferences{MasterSwitchEnabled: true, EnabledChannels: map[Channel]bool{ChannelSlack: true}, MinimumPriority: PriorityLow}
	targets := []Target{{NetworkID: "net-1", Recipient: Recipient{UserID: "u1"}, Channel: ChannelSlack}}

	records := d.Dispatch(context.Background(), prefs, NetworkEvent{EventType: "device_down"}, targets, false)
	if records[0].Outcome != OutcomeFailed || records[0].Error == "" {
		t.Fatalf("expected failed outcome with error captured, got %+v", records[0])
	}
}

func TestDispatchRecoversFromProviderPanic(t *testing.T) {
	registry := NewRegistry()
	registry.Register(panickingProvider{})

	d := NewDispatcher(registry, nil, nil, testLogger())
	prefs := Preferences{MasterSwitchEnabled: true, EnabledChannels: map[Channel]bool{ChannelSlack: true}, MinimumPriority: PriorityLow}
	targets := []Target{{NetworkID: "net-1", Recipient: Recipient{UserID: "u1"}, Channel: ChannelSlack}}

	records := d.Dispatch(context.Background(), prefs, NetworkEvent{EventType: "device_down"}, targets, false)
	if records[0].Outcome != OutcomeFailed {
		t.Fatalf("expected a panicking provider to be recorded as failed, got %+v", records[0])
	}
}

func TestDispatchPersistsToHistory(t *testing.T) {
	history := NewHistory("", 10, testLogger())
	registry := NewRegistry()
	registry.Register(&fakeProvider{channel: ChannelSlack})

	d := NewDispatcher(registry, nil, history, testLogger())
	prefs := Preferences{MasterSwitchEnabled: true, EnabledChannels: map[Channel]bool{ChannelSlack: true}, MinimumPriority: PriorityLow}
	targets := []Target{{NetworkID: "net-1", Recipient: Recipient{UserID: "u1"}, Channel: ChannelSlack}}

	d.Dispatch(context.Background(), prefs, NetworkEvent{EventType: "device_down"}, targets, false)

	if got := history.Recent(0); len(got) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(got))
	}
}
