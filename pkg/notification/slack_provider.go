package notification

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// SlackProvider delivers notifications as Slack direct messages. A
// recipient with no SlackUserID is silently skipped (treated as sent —
// there is nothing to deliver, not a failure of the channel).
type SlackProvider struct {
	client *goslack.Client
	logger *slog.Logger
}

// NewSlackProvider builds a SlackProvider. If botToken is empty the
// provider is a no-op, matching how the rest of this codebase treats
// unconfigured optional integrations.
func NewSlackProvider(botToken string, logger *slog.Logger) *SlackProvider {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackProvider{client: client, logger: logger}
}

func (p *SlackProvider) Channel() Channel { return ChannelSlack }

func (p *SlackProvider) Send(ctx context.Context, recipient Recipient, event NetworkEvent) error {
	if p.client == nil {
		p.logger.Debug("slack provider disabled, skipping", "event_type", event.EventType)
		return nil
	}
	if recipient.SlackUserID == "" {
		return nil
	}

	conversation, _, _, err := p.client.OpenConversationContext(ctx, &goslack.OpenConversationParameters{
		Users: []string{recipient.SlackUserID},
	})
	if err != nil {
		return fmt.Errorf("opening slack conversation: %w", err)
	}

	text := fmt.Sprintf("*%s*\n%s", event.Title, event.Message)
	if _, _, err := p.client.PostMessageContext(ctx, conversation.ID, goslack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("posting slack message: %w", err)
	}
	return nil
}
