package importer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/property-import/internal/model"
)

func TestNewWebhookNotifier_EmptyURL(t *testing.T) {
	assert.Nil(t, NewWebhookNotifier(""))
}

func TestWebhookNotifier_Notify(t *testing.T) {
	var got Notification
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	n := NewWebhookNotifier(ts.URL)
	err := n.Notify(context.Background(), model.BatchJob{
		ID:             "job-1",
		AccountID:      "acct-1",
		State:          model.JobStateCompleted,
		ProcessedFiles: 2,
		TotalFiles:     2,
		TargetRecordID: "prop-1",
		Locale:         "fr",
	})
	require.NoError(t, err)
	assert.Equal(t, "batch_finished", got.Type)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, model.JobStateCompleted, got.State)
	assert.Equal(t, "prop-1", got.TargetRecordID)
	assert.Equal(t, "Importation terminée : 2 fichiers traités", got.Message)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	err := NewWebhookNotifier(ts.URL).Notify(context.Background(), model.BatchJob{ID: "job-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
