//go:build integration

package integration

import (
	"testing"
	"time"

	"github.com/bissquit/clubmail/internal/domain"
	"github.com/bissquit/clubmail/internal/testutil"
	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

// resetState empties the database and the Mailpit inbox.
func resetState(t *testing.T) {
	t.Helper()
	require.NoError(t, testutil.Truncate(t.Context(), testDB))
	require.NoError(t, mailpitClient.DeleteAll())
}

func createUser(t *testing.T, email, name string, clubMember bool) string {
	t.Helper()
	id, err := testutil.CreateUser(t.Context(), testDB, email, name, clubMember)
	require.NoError(t, err)
	return id
}

func createEvent(t *testing.T, title string, startsAt time.Time) *domain.Event {
	t.Helper()
	event := &domain.Event{
		Title:     title,
		EventDate: startsAt,
		Location:  "Club house",
		IsActive:  true,
	}
	require.NoError(t, testApp.Events().CreateEvent(t.Context(), event))
	return event
}

func countQueue(t *testing.T, where string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, testDB.QueryRow(t.Context(), `SELECT COUNT(*) FROM email_queue WHERE `+where, args...).Scan(&n))
	return n
}
