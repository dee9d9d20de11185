package notify

import (
	"context"
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/codeready-toolchain/remedy/pkg/pack"
)

const maxSlackTextLength = 2900

var severityEmoji = map[string]string{
	"LOW":      ":large_blue_circle:",
	"MEDIUM":   ":large_yellow_circle:",
	"HIGH":     ":large_orange_circle:",
	"CRITICAL": ":red_circle:",
}

// BuildSlackMessage creates the Block Kit blocks for a notification:
// a bold header section, the body, and a details button when a URL is
// available.
func BuildSlackMessage(n Notification) []goslack.Block {
	header := fmt.Sprintf("*%s*", n.Subject)
	if emoji := severityEmoji[string(n.Severity)]; emoji != "" {
		header = emoji + " " + header
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
	}
	if n.Message != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(n.Message), false, false),
			nil, nil,
		))
	}
	if n.DetailsURL != "" {
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "View Details", false, false))
		btn.URL = n.DetailsURL
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}
	return blocks
}

func (s *Service) sendSlack(ctx context.Context, ch pack.ChannelSpec, n Notification) error {
	msg := &goslack.WebhookMessage{
		Blocks: &goslack.Blocks{BlockSet: BuildSlackMessage(n)},
	}
	if err := goslack.PostWebhookCustomHTTPContext(ctx, ch.WebhookURL, s.client, msg); err != nil {
		return fmt.Errorf("failed to post slack webhook: %w", err)
	}
	return nil
}

func truncateForSlack(text string) string {
	if len(text) <= maxSlackTextLength {
		return text
	}
	return text[:maxSlackTextLength] + "\n\n_... (truncated)_"
}
