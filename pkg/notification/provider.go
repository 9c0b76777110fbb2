package notification

import "context"

// Recipient is who a notification is being sent to, with per-channel
// contact details resolved ahead of dispatch.
type Recipient struct {
	UserID      string
	SlackUserID string
	Email       string
}

// Provider delivers a NetworkEvent to a single recipient over one channel.
// Implementations must never panic on a downstream failure — Dispatch
// recovers regardless, but a well-behaved provider returns an error.
type Provider interface {
	Channel() Channel
	Send(ctx context.Context, recipient Recipient, event NetworkEvent) error
}

// Registry looks providers up by channel, mirroring the teacher's
// conditional registration of optional notification backends.
type Registry struct {
	providers map[Channel]Provider
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[Channel]Provider)}
}

// Register adds a provider, keyed by its own Channel().
func (r *Registry) Register(p Provider) {
	r.providers[p.Channel()] = p
}

// Get returns the provider for a channel, or nil if none is registered.
func (r *Registry) Get(channel Channel) Provider {
	return r.providers[channel]
}
