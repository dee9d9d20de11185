package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/pack"
)

// messageCard is the legacy Office 365 connector payload Teams webhooks
// accept.
type messageCard struct {
	Type            string       `json:"@type"`
	Context         string       `json:"@context"`
	ThemeColor      string       `json:"themeColor"`
	Summary         string       `json:"summary"`
	Title           string       `json:"title"`
	Text            string       `json:"text"`
	PotentialAction []cardAction `json:"potentialAction,omitempty"`
}

type cardAction struct {
	Type    string       `json:"@type"`
	Name    string       `json:"name"`
	Targets []cardTarget `json:"targets,omitempty"`
}

type cardTarget struct {
	OS  string `json:"os"`
	URI string `json:"uri"`
}

var severityColor = map[models.Severity]string{
	models.SeverityLow:      "2EB67D",
	models.SeverityMedium:   "ECB22E",
	models.SeverityHigh:     "E8912D",
	models.SeverityCritical: "E01E5A",
}

// BuildTeamsCard maps the notification onto a MessageCard.
func BuildTeamsCard(n Notification) messageCard {
	color := severityColor[n.Severity]
	if color == "" {
		color = "808080"
	}
	card := messageCard{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Summary:    n.Subject,
		Title:      n.Subject,
		Text:       n.Message,
	}
	if n.DetailsURL != "" {
		card.PotentialAction = []cardAction{{
			Type:    "OpenUri",
			Name:    "View Details",
			Targets: []cardTarget{{OS: "default", URI: n.DetailsURL}},
		}}
	}
	return card
}

func (s *Service) sendTeams(ctx context.Context, ch pack.ChannelSpec, n Notification) error {
	body, err := json.Marshal(BuildTeamsCard(n))
	if err != nil {
		return fmt.Errorf("failed to marshal teams card: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build teams request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post teams webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("teams webhook returned status %d", resp.StatusCode)
	}
	return nil
}
