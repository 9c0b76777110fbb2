package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/wisbric/cartographer/pkg/network"
)

// schedulerInterval is how often the scheduler loop checks for due
// broadcasts. The contract only requires "at most every 30s".
const schedulerInterval = 15 * time.Second

// MemberLister resolves who belongs to a network, for broadcast fan-out.
type MemberLister interface {
	ListMembers(ctx context.Context, networkID string) ([]network.Permission, error)
}

// RecipientResolver maps a user ID to its per-channel contact details.
type RecipientResolver interface {
	ResolveRecipient(ctx context.Context, userID string) (Recipient, error)
}

// PreferencesSource supplies the preferences a broadcast recipient should be
// evaluated against.
type PreferencesSource interface {
	PreferencesFor(ctx context.Context, networkID, userID string) (Preferences, error)
}

// Scheduler runs the in-process scheduled-broadcast loop: poll for due
// pending broadcasts, fan each out to every network member with force=true,
// and transition the broadcast to sent or failed.
type Scheduler struct {
	broadcasts *BroadcastStore
	members    MemberLister
	recipients RecipientResolver
	prefs      PreferencesSource
	dispatcher *Dispatcher
	logger     *slog.Logger
	interval   time.Duration
}

// NewScheduler builds a Scheduler.
func NewScheduler(broadcasts *BroadcastStore, members MemberLister, recipients RecipientResolver, prefs PreferencesSource, dispatcher *Dispatcher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		broadcasts: broadcasts,
		members:    members,
		recipients: recipients,
		prefs:      prefs,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   schedulerInterval,
	}
}

// Run blocks, polling for due broadcasts until ctx is cancelled. It
// completes whatever tick is in flight before exiting.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.broadcasts.ListDuePending(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("broadcast scheduler: listing due broadcasts failed", "error", err)
		return
	}
	for _, b := range due {
		s.process(ctx, b)
	}
}

func (s *Scheduler) process(ctx context.Context, b ScheduledBroadcast) {
	members, err := s.members.ListMembers(ctx, b.NetworkID)
	if err != nil {
		s.logger.Error("broadcast scheduler: enumerating members failed", "broadcast_id", b.ID, "error", err)
		if tErr := s.broadcasts.transitionFailed(ctx, b.ID, err.Error()); tErr != nil {
			s.logger.Error("broadcast scheduler: transitioning to failed", "broadcast_id", b.ID, "error", tErr)
		}
		return
	}

	priority := b.Priority
	event := NetworkEvent{
		EventType:  b.EventType,
		Title:      b.Title,
		Message:    b.Message,
		Priority:   &priority,
		OccurredAt: b.ScheduledFor,
	}

	targets := make([]Target, 0, len(members))
	prefsByUser := make(map[string]Preferences, len(members))
	for _, m := range members {
		recipient, err := s.recipients.ResolveRecipient(ctx, m.UserID)
		if err != nil {
			s.logger.Warn("broadcast scheduler: resolving recipient failed", "user_id", m.UserID, "error", err)
			continue
		}
		prefs, err := s.prefs.PreferencesFor(ctx, b.NetworkID, m.UserID)
		if err != nil {
			s.logger.Warn("broadcast scheduler: resolving preferences failed", "user_id", m.UserID, "error", err)
			continue
		}
		prefsByUser[m.UserID] = prefs
		for channel, enabled := range prefs.EnabledChannels {
			if enabled {
				targets = append(targets, Target{NetworkID: b.NetworkID, Recipient: recipient, Channel: channel})
			}
		}
	}

	for _, t := range targets {
		s.dispatcher.Dispatch(ctx, prefsByUser[t.Recipient.UserID], event, []Target{t}, true)
	}

	if err := s.broadcasts.transitionSent(ctx, b.ID); err != nil {
		s.logger.Error("broadcast scheduler: transitioning to sent", "broadcast_id", b.ID, "error", err)
	}
}
