package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/cartographer/pkg/ratelimit"
)

// Dispatcher evaluates ShouldNotify per recipient/channel, invokes the
// matching Provider, and records one Record per attempt.
type Dispatcher struct {
	registry *Registry
	window   *ratelimit.SlidingWindow
	history  *History
	logger   *slog.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(registry *Registry, window *ratelimit.SlidingWindow, history *History, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, window: window, history: history, logger: logger}
}

// Target is one (recipient, channel) pair an event should be evaluated and
// potentially dispatched against.
type Target struct {
	NetworkID string
	Recipient Recipient
	Channel   Channel
}

// Dispatch runs the decision algorithm and, for every allowed target,
// calls its channel adapter — recovering from panics and capturing errors
// so one broken channel never aborts the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, prefs Preferences, event NetworkEvent, targets []Target, force bool) []Record {
	records := make([]Record, 0, len(targets))

	for _, target := range targets {
		rateLimitKey := target.NetworkID

		scopedPrefs := prefs
		scopedPrefs.EnabledChannels = map[Channel]bool{target.Channel: prefs.EnabledChannels[target.Channel]}

		ok, reason := ShouldNotify(scopedPrefs, event, d.window, rateLimitKey, force)
		if !ok {
			records = append(records, Record{
				ID:          uuid.NewString(),
				NetworkID:   target.NetworkID,
				RecipientID: target.Recipient.UserID,
				Channel:     target.Channel,
				EventType:   event.EventType,
				Outcome:     OutcomeDenied,
				DenyReason:  string(reason),
				SentAt:      time.Now().UTC(),
			})
			continue
		}

		record := d.send(ctx, target, event)
		records = append(records, record)

		if d.window != nil {
			d.window.Allow(rateLimitKey, maxIntOrOne(prefs.MaxNotificationsPerHour))
		}
	}

	if d.history != nil {
		d.history.Append(records...)
	}

	return records
}

func (d *Dispatcher) send(ctx context.Context, target Target, event NetworkEvent) (record Record) {
	record = Record{
		ID:          uuid.NewString(),
		NetworkID:   target.NetworkID,
		RecipientID: target.Recipient.UserID,
		Channel:     target.Channel,
		EventType:   event.EventType,
		SentAt:      time.Now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification: provider panicked", "channel", target.Channel, "panic", r)
			record.Outcome = OutcomeFailed
			record.Error = "provider panicked"
		}
	}()

	provider := d.registry.Get(target.Channel)
	if provider == nil {
		record.Outcome = OutcomeFailed
		record.Error = "no provider registered for channel"
		return record
	}

	if err := provider.Send(ctx, target.Recipient, event); err != nil {
		d.logger.Warn("notification: channel send failed", "channel", target.Channel, "error", err)
		record.Outcome = OutcomeFailed
		record.Error = err.Error()
		return record
	}

	record.Outcome = OutcomeSent
	return record
}

func maxIntOrOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
