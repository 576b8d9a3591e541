//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/bissquit/clubmail/internal/mailer"
	"github.com/bissquit/clubmail/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpsEndpoints(t *testing.T) {
	resetState(t)
	client := testutil.NewClient(testServer.URL)

	t.Run("healthz", func(t *testing.T) {
		resp := client.GET(t, "/healthz")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "OK", testutil.ReadBody(t, resp))
	})

	t.Run("readyz", func(t *testing.T) {
		resp := client.GET(t, "/readyz")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("version", func(t *testing.T) {
		resp := client.GET(t, "/version")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		testutil.DecodeJSON(t, resp, &body)
		assert.Contains(t, body, "version")
		assert.Contains(t, body, "commit")
	})

	t.Run("queue stats", func(t *testing.T) {
		_, err := testApp.Scheduler().ScheduleImmediateEmail(t.Context(), mailer.ImmediateEmail{
			To:           "ada@example.com",
			TemplateName: mailer.TemplateTestEmail,
		})
		require.NoError(t, err)

		resp := client.GET(t, "/queue/stats")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var stats mailer.QueueStats
		testutil.DecodeJSON(t, resp, &stats)
		assert.Equal(t, mailer.QueueStats{Pending: 1}, stats)
	})
}
