package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/landregistry/inspire-reconciler/internal/errors"
)

func TestNotifyFailurePostsNonTransientErrors(t *testing.T) {
	var received chatMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	err := errors.New(errors.ErrorTypeTask, errors.SeverityHigh, "boom")
	n.NotifyFailure(context.Background(), "run-1", "polygon_ingestor", err)

	assert.NotEmpty(t, received.Text, "expected a webhook post for a non-transient failure")
}

func TestNotifyFailureSkipsTransientErrors(t *testing.T) {
	posted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	err := errors.New(errors.ErrorTypeTransient, errors.SeverityLow, "network blip")
	n.NotifyFailure(context.Background(), "run-1", "ownership_updater", err)

	assert.False(t, posted, "expected no webhook post for a transient error")
}

func TestNotifyFailureNoWebhookConfigured(t *testing.T) {
	n := New("")
	// Must not panic or attempt a network call.
	n.NotifyFailure(context.Background(), "run-1", "polygon_reconciler", errors.New(errors.ErrorTypeTask, errors.SeverityHigh, "boom"))
}

func TestNotifyCompletionIncludesSortedTable(t *testing.T) {
	var received chatMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	n.NotifyCompletion(context.Background(), "run-1", MatchTypeCounts{"Exact": 5, "Fail": 1, "Moved": 2})

	assert.NotEmpty(t, received.Text, "expected a completion notification body")
	assert.Regexp(t, `(?s)Exact\s+5\n.*Fail\s+1\n.*Moved\s+2\n`, received.Text, "expected rows sorted by tag")
}
