package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/metrics"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/pack"
)

func TestBuildSlackMessageWithDetailsButton(t *testing.T) {
	blocks := BuildSlackMessage(Notification{
		Subject:    "Exception escalated",
		Message:    "confidence degraded along the chain",
		Severity:   models.SeverityHigh,
		DetailsURL: "https://remedy.example.com/exceptions/EXC-1",
	})
	require.Len(t, blocks, 3)

	header, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, header.Text.Text, "*Exception escalated*")
	assert.Contains(t, header.Text.Text, ":large_orange_circle:")

	body := blocks[1].(*goslack.SectionBlock)
	assert.Equal(t, "confidence degraded along the chain", body.Text.Text)

	action := blocks[2].(*goslack.ActionBlock)
	btn, ok := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	require.True(t, ok)
	assert.Equal(t, "View Details", btn.Text.Text)
	assert.Equal(t, "https://remedy.example.com/exceptions/EXC-1", btn.URL)
}

func TestBuildSlackMessageWithoutURLOmitsButton(t *testing.T) {
	blocks := BuildSlackMessage(Notification{Subject: "ping", Message: "pong"})
	require.Len(t, blocks, 2)
	_, ok := blocks[1].(*goslack.SectionBlock)
	assert.True(t, ok)
}

func TestBuildSlackMessageTruncatesLongBody(t *testing.T) {
	blocks := BuildSlackMessage(Notification{
		Subject: "big",
		Message: strings.Repeat("x", 4000),
	})
	body := blocks[1].(*goslack.SectionBlock)
	assert.LessOrEqual(t, len(body.Text.Text), maxSlackTextLength+50)
	assert.Contains(t, body.Text.Text, "truncated")
}

func TestBuildTeamsCard(t *testing.T) {
	card := BuildTeamsCard(Notification{
		Subject:    "Alert fired",
		Message:    "tool breakers open",
		Severity:   models.SeverityCritical,
		DetailsURL: "https://remedy.example.com/alerts/1",
	})
	assert.Equal(t, "MessageCard", card.Type)
	assert.Equal(t, "https://schema.org/extensions", card.Context)
	assert.Equal(t, "E01E5A", card.ThemeColor)
	assert.Equal(t, "Alert fired", card.Title)
	require.Len(t, card.PotentialAction, 1)
	assert.Equal(t, "OpenUri", card.PotentialAction[0].Type)
	assert.Equal(t, "https://remedy.example.com/alerts/1", card.PotentialAction[0].Targets[0].URI)
}

func TestBuildTeamsCardUnknownSeverityFallsBackToGrey(t *testing.T) {
	card := BuildTeamsCard(Notification{Subject: "s"})
	assert.Equal(t, "808080", card.ThemeColor)
	assert.Empty(t, card.PotentialAction)
}

func TestBuildEmailMessage(t *testing.T) {
	msg := string(BuildEmailMessage("remedy@example.com", []string{"ops@example.com"}, Notification{
		Subject:    "Escalation",
		Message:    "needs a human",
		Severity:   models.SeverityHigh,
		DetailsURL: "https://remedy.example.com/exceptions/EXC-2",
	}))
	assert.Contains(t, msg, "From: remedy@example.com\r\n")
	assert.Contains(t, msg, "To: ops@example.com\r\n")
	assert.Contains(t, msg, "Subject: [HIGH] Escalation\r\n")
	assert.Contains(t, msg, "needs a human")
	assert.Contains(t, msg, "Details: https://remedy.example.com/exceptions/EXC-2")
}

func testRegistry(t *testing.T, channels ...pack.ChannelSpec) *pack.Registry {
	t.Helper()
	registry := pack.NewRegistry()
	require.NoError(t, registry.RegisterDomainPack(&pack.DomainPack{
		Domain:         "billing",
		Version:        1,
		ExceptionTypes: []pack.ExceptionType{{Name: "DataQualityFailure"}},
	}))
	require.NoError(t, registry.RegisterTenantPolicy(&pack.TenantPolicy{
		Tenant:        "t1",
		Domain:        "billing",
		Version:       1,
		Notifications: pack.NotificationPolicy{Channels: channels},
	}))
	return registry
}

func TestDispatchPostsTeamsCard(t *testing.T) {
	var got messageCard
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := testRegistry(t, pack.ChannelSpec{Type: "teams", WebhookURL: server.URL})
	svc := NewService(registry, server.Client(), metrics.NewRegistry(), "https://remedy.example.com")

	err := svc.Dispatch(context.Background(), "t1", Notification{
		Subject:     "Exception escalated",
		Message:     "supervisor intervened",
		Severity:    models.SeverityHigh,
		ExceptionID: "EXC-3",
	})
	require.NoError(t, err)

	assert.Equal(t, "MessageCard", got.Type)
	assert.Equal(t, "Exception escalated", got.Title)
	// The dashboard URL fills in the details link.
	require.Len(t, got.PotentialAction, 1)
	assert.Equal(t, "https://remedy.example.com/exceptions/EXC-3", got.PotentialAction[0].Targets[0].URI)
}

func TestDispatchChannelFailureIsNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	registry := testRegistry(t, pack.ChannelSpec{Type: "teams", WebhookURL: server.URL})
	svc := NewService(registry, server.Client(), nil, "")

	// Delivery failed but the pipeline never sees it.
	assert.NoError(t, svc.Notify(context.Background(), "t1", "subject", "message"))
}

func TestDispatchWithoutChannelsIsNoop(t *testing.T) {
	registry := testRegistry(t)
	svc := NewService(registry, nil, nil, "")
	assert.NoError(t, svc.Notify(context.Background(), "t1", "subject", "message"))
}
