//go:build integration

package integration

import (
	"testing"

	"github.com/bissquit/clubmail/internal/domain"
	"github.com/bissquit/clubmail/internal/mailer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelivery_ImmediateEmail(t *testing.T) {
	resetState(t)
	ctx := t.Context()

	req := mailer.ImmediateEmail{
		To:             "ada@example.com",
		ToName:         "Ada",
		TemplateName:   mailer.TemplateTestEmail,
		Context:        map[string]string{"subject_suffix": "smtp check"},
		EmailType:      mailer.EmailTypeTestSend,
		IdempotencyKey: "smtp-check-1",
	}
	result, err := testApp.Scheduler().ScheduleImmediateEmail(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 1, result.Enqueued)

	dup, err := testApp.Scheduler().ScheduleImmediateEmail(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, dup.Duplicates)

	stats, err := testApp.Processor().ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, mailer.ProcessStats{Processed: 1, Sent: 1}, stats)

	messages := mailpitClient.WaitFor(t, "ada@example.com", 1)
	require.Len(t, messages, 1)
	assert.Equal(t, "Test email: smtp check", messages[0].Subject)
	assert.Equal(t, "club@example.com", messages[0].From.Address)

	msg, err := mailpitClient.Message(messages[0].ID)
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "This is a test email sent to ada@example.com.")
	assert.Contains(t, msg.HTML, "<p>This is a test email sent to ada@example.com.</p>")

	assert.Equal(t, 1, countQueue(t, "status = 'sent' AND sent_at IS NOT NULL"))
}

func newImmediateCampaign(t *testing.T, emails ...string) *domain.Campaign {
	t.Helper()
	ctx := t.Context()

	tmpl := &domain.EmailTemplate{
		Name:        "club-news",
		Subject:     "Club news",
		HTMLContent: "<p>News for {{.recipient_email}}</p>",
		TextContent: "News for {{.recipient_email}}",
	}
	require.NoError(t, testApp.Campaigns().CreateTemplate(ctx, tmpl))

	campaign := &domain.Campaign{
		Name:            "Club news",
		Status:          domain.CampaignStatusDraft,
		SendType:        domain.SendTypeImmediate,
		TemplateID:      tmpl.ID,
		RecipientEmails: emails,
	}
	require.NoError(t, testApp.Campaigns().CreateCampaign(ctx, campaign))
	return campaign
}

func TestDelivery_CampaignCompletes(t *testing.T) {
	resetState(t)
	ctx := t.Context()

	campaign := newImmediateCampaign(t, "ada@example.com", "grace@example.com")
	_, err := testApp.Scheduler().ScheduleCampaign(ctx, mailer.CampaignRequest{CampaignID: campaign.ID})
	require.NoError(t, err)

	stats, err := testApp.Processor().ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sent)

	for _, email := range []string{"ada@example.com", "grace@example.com"} {
		messages := mailpitClient.WaitFor(t, email, 1)
		assert.Equal(t, "Club news", messages[0].Subject)
	}

	stored, err := testApp.Campaigns().GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusSent, stored.Status)
	assert.Equal(t, 2, stored.SentCount)
}

func TestDelivery_CancelledCampaignIsSkipped(t *testing.T) {
	resetState(t)
	ctx := t.Context()

	campaign := newImmediateCampaign(t, "ada@example.com", "grace@example.com")
	_, err := testApp.Scheduler().ScheduleCampaign(ctx, mailer.CampaignRequest{CampaignID: campaign.ID})
	require.NoError(t, err)
	require.NoError(t, testApp.Campaigns().CancelCampaign(ctx, campaign.ID))

	stats, err := testApp.Processor().ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, mailer.ProcessStats{Processed: 2, Skipped: 2}, stats)

	assert.Equal(t, 2, countQueue(t, "status = 'failed' AND error_message = 'skipped: campaign cancelled'"))

	messages, err := mailpitClient.Search("ada@example.com")
	require.NoError(t, err)
	assert.Empty(t, messages)

	retried, err := testApp.Processor().RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, mailer.RetryStats{Retried: 2, Failed: 2}, retried, "cancelled campaign items fail again")
}
