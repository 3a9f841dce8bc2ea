package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/slack-go/slack"

	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/utils"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

// SlackNotifier posts manual overrides and contestations to Slack. Automatic
// scores and corrections are too frequent to be useful in a channel.
type SlackNotifier struct {
	client              *slack.Client
	resolver            *ChannelResolver
	decisionChannel     string
	contestationChannel string
	log                 *logger.Logger
}

// NewSlackNotifier builds a notifier. contestationChannel falls back to
// decisionChannel when empty.
func NewSlackNotifier(client *slack.Client, decisionChannel, contestationChannel string, log *logger.Logger) *SlackNotifier {
	if contestationChannel == "" {
		contestationChannel = decisionChannel
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("service", "SlackNotifier")
	return &SlackNotifier{
		client:              client,
		resolver:            NewChannelResolver(client, log),
		decisionChannel:     decisionChannel,
		contestationChannel: contestationChannel,
		log:                 log,
	}
}

func (n *SlackNotifier) Name() string { return "slack" }

func (n *SlackNotifier) Notify(ctx context.Context, msg Message) error {
	channel, blocks, fallback, err := n.render(msg)
	if err != nil || channel == "" {
		return err
	}
	channelID, err := n.resolver.ResolveChannel(ctx, channel)
	if err != nil {
		return err
	}
	_, _, err = n.client.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	n.log.Debug("posted notification", "channel", channelID, "kind", msg.Kind, "application_id", msg.ApplicationID)
	return nil
}

// render returns an empty channel for messages that are not posted.
func (n *SlackNotifier) render(msg Message) (string, []slack.Block, string, error) {
	switch msg.Kind {
	case string(workflow.EventManualOverride):
		var ev workflow.Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return "", nil, "", fmt.Errorf("invalid override payload: %w", err)
		}
		if ev.Override == nil {
			return "", nil, "", fmt.Errorf("override payload missing for event %s", ev.ID)
		}
		fallback := fmt.Sprintf("Application %s: %s → %s by %s", ev.ApplicationID, ev.PriorDecision, ev.Decision, ev.ActorID)
		blocks := []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Manual override* on application `%s`", ev.ApplicationID), false, false), nil, nil),
			slack.NewSectionBlock(nil, []*slack.TextBlockObject{
				field("Decision", fmt.Sprintf("%s → %s", ev.PriorDecision, ev.Decision)),
				field("Score", utils.FormatProbability(ev.Score)),
				field("Reason", ev.Override.ReasonCode),
				field("By", fmt.Sprintf("%s (%s)", ev.ActorID, ev.ActorRole)),
			}, nil),
			slack.NewContextBlock("", slack.NewTextBlockObject(slack.PlainTextType, utils.TruncateText(ev.Justification, 280), false, false)),
		}
		return n.decisionChannel, blocks, fallback, nil

	case string(workflow.EventContestation):
		var c workflow.Contestation
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			return "", nil, "", fmt.Errorf("invalid contestation payload: %w", err)
		}
		fallback := fmt.Sprintf("Application %s contested by %s (%s)", c.ApplicationID, c.ActorID, c.ReasonCode)
		fields := []*slack.TextBlockObject{
			field("Decision at filing", string(c.DecisionAtFiling)),
			field("Score at filing", utils.FormatProbability(c.ScoreAtFiling)),
			field("Reason", c.ReasonCode),
			field("By", fmt.Sprintf("%s (%s)", c.ActorID, c.ActorRole)),
		}
		if c.ProposedScoreAdjustment != nil {
			fields = append(fields, field("Proposed adjustment", fmt.Sprintf("%+d", *c.ProposedScoreAdjustment)))
		}
		blocks := []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Contestation pending review* for application `%s`", c.ApplicationID), false, false), nil, nil),
			slack.NewSectionBlock(nil, fields, nil),
			slack.NewContextBlock("", slack.NewTextBlockObject(slack.PlainTextType, utils.TruncateText(c.Justification, 280), false, false)),
		}
		return n.contestationChannel, blocks, fallback, nil
	}
	return "", nil, "", nil
}

func field(label, value string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*%s*\n%s", label, value), false, false)
}

// ChannelResolver resolves channel names to IDs and caches the result.
type ChannelResolver struct {
	client *slack.Client
	log    *logger.Logger
	mu     sync.RWMutex
	cache  map[string]string
}

func NewChannelResolver(client *slack.Client, log *logger.Logger) *ChannelResolver {
	return &ChannelResolver{client: client, log: log, cache: make(map[string]string)}
}

// ResolveChannel accepts a channel ID (C0123...) or a name with or without '#'.
func (r *ChannelResolver) ResolveChannel(ctx context.Context, nameOrID string) (string, error) {
	if nameOrID == "" {
		return "", fmt.Errorf("channel name/ID is empty")
	}
	if isChannelID(nameOrID) {
		return nameOrID, nil
	}
	name := strings.TrimPrefix(nameOrID, "#")

	r.mu.RLock()
	id, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := r.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.cache[name] = id
	r.mu.Unlock()
	r.log.Info("resolved slack channel", "name", name, "id", id)
	return id, nil
}

func (r *ChannelResolver) lookup(ctx context.Context, name string) (string, error) {
	cursor := ""
	for {
		channels, next, err := r.client.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: true,
			Limit:           1000,
			Types:           []string{"public_channel", "private_channel"},
		})
		if err != nil {
			return "", fmt.Errorf("failed to list channels: %w", err)
		}
		for _, ch := range channels {
			if ch.Name == name {
				return ch.ID, nil
			}
		}
		if next == "" {
			return "", fmt.Errorf("channel '%s' not found", name)
		}
		cursor = next
	}
}

// isChannelID reports whether s looks like a Slack channel ID: a C followed
// by upper-case alphanumerics, 9 to 15 characters in total.
func isChannelID(s string) bool {
	if len(s) < 9 || len(s) > 15 || !strings.HasPrefix(s, "C") {
		return false
	}
	for _, c := range s[1:] {
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
