package notification

import (
	"context"
	"log/slog"
)

// Router fans a single live NetworkEvent out to every member of the
// network it occurred on, running each recipient through the full
// (non-forced) decision pipeline in ShouldNotify — unlike Scheduler's
// broadcasts, which bypass that pipeline with force=true.
type Router struct {
	members    MemberLister
	recipients RecipientResolver
	prefs      PreferencesSource
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewRouter builds a Router.
func NewRouter(members MemberLister, recipients RecipientResolver, prefs PreferencesSource, dispatcher *Dispatcher, logger *slog.Logger) *Router {
	return &Router{members: members, recipients: recipients, prefs: prefs, dispatcher: dispatcher, logger: logger}
}

// Notify evaluates event against every member of networkID and dispatches
// it, unforced, to whichever (recipient, channel) pairs ShouldNotify
// allows.
func (r *Router) Notify(ctx context.Context, networkID string, event NetworkEvent) {
	members, err := r.members.ListMembers(ctx, networkID)
	if err != nil {
		r.logger.Error("notification router: enumerating members failed", "network_id", networkID, "error", err)
		return
	}

	for _, m := range members {
		recipient, err := r.recipients.ResolveRecipient(ctx, m.UserID)
		if err != nil {
			r.logger.Warn("notification router: resolving recipient failed", "user_id", m.UserID, "error", err)
			continue
		}
		prefs, err := r.prefs.PreferencesFor(ctx, networkID, m.UserID)
		if err != nil {
			r.logger.Warn("notification router: resolving preferences failed", "user_id", m.UserID, "error", err)
			continue
		}

		var targets []Target
		for channel, enabled := range prefs.EnabledChannels {
			if enabled {
				targets = append(targets, Target{NetworkID: networkID, Recipient: recipient, Channel: channel})
			}
		}
		if len(targets) == 0 {
			continue
		}

		r.dispatcher.Dispatch(ctx, prefs, event, targets, false)
	}
}
