package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/onebox/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func meetingEmail() *types.Email {
	return &types.Email{
		MessageID: "<m@x>",
		Subject:   "Let's schedule a call",
		From:      "alice@example.com",
		To:        "bob@example.com",
		Date:      time.Now(),
		Text:      "can we schedule a meeting",
		Folder:    "INBOX",
		Account:   "work",
		Category:  types.CategoryMeetingBooked,
	}
}

func TestDispatchInvokesBothSinks(t *testing.T) {
	var slackHits, webhookHits atomic.Int32

	slackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slackHits.Add(1)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "Let's schedule a call")
	}))
	defer slackSrv.Close()

	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookHits.Add(1)
		var payload WebhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "New Meeting Booked Email", payload.Event)
		assert.Equal(t, "alice@example.com", payload.Email.From)
		assert.Equal(t, "can we schedule a meeting", payload.Email.Preview)
	}))
	defer webhookSrv.Close()

	d := NewDispatcher(
		[]Sink{NewSlackSink(slackSrv.URL), NewWebhookSink(webhookSrv.URL)},
		[]string{types.CategoryInterested, types.CategoryMeetingBooked},
		testLogger(),
	)

	d.Dispatch(context.Background(), meetingEmail())

	assert.Equal(t, int32(1), slackHits.Load())
	assert.Equal(t, int32(1), webhookHits.Load())
}

func TestDispatchSkipsNonTriggerCategories(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcher(
		[]Sink{NewSlackSink(srv.URL), NewWebhookSink(srv.URL)},
		[]string{types.CategoryMeetingBooked},
		testLogger(),
	)

	for _, category := range []string{
		types.CategorySpam,
		types.CategoryNotInterested,
		types.CategoryOutOfOffice,
		types.CategoryUncategorized,
	} {
		email := meetingEmail()
		email.Category = category
		d.Dispatch(context.Background(), email)
	}

	assert.Zero(t, hits.Load())
	assert.True(t, d.Matches(types.CategoryMeetingBooked))
	assert.False(t, d.Matches(types.CategorySpam))
}

func TestDispatchSinkFailureDoesNotBlockOthers(t *testing.T) {
	var webhookHits atomic.Int32

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		webhookHits.Add(1)
	}))
	defer healthy.Close()

	d := NewDispatcher(
		[]Sink{NewSlackSink(failing.URL), NewWebhookSink(healthy.URL)},
		[]string{types.CategoryMeetingBooked},
		testLogger(),
	)

	// Must not panic or propagate the first sink's failure.
	d.Dispatch(context.Background(), meetingEmail())

	assert.Equal(t, int32(1), webhookHits.Load())
}

func TestPreviewBounds(t *testing.T) {
	assert.Equal(t, "No Content Available", preview(""))
	assert.Equal(t, "short", preview("short"))

	long := strings.Repeat("x", 500)
	assert.Len(t, preview(long), 100)
}
