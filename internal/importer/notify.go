package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/property-import/internal/model"
)

// Notifier is told when a batch reaches a terminal state. Delivery is best
// effort.
type Notifier interface {
	Notify(ctx context.Context, job model.BatchJob) error
}

// Notification is the webhook payload sent when a batch finishes.
type Notification struct {
	Type           string         `json:"type"`
	JobID          string         `json:"job_id"`
	AccountID      string         `json:"account_id"`
	State          model.JobState `json:"state"`
	ProcessedFiles int            `json:"processed_files"`
	TotalFiles     int            `json:"total_files"`
	TargetRecordID string         `json:"target_record_id,omitempty"`
	ErrorKind      string         `json:"error_kind,omitempty"`
	Message        string         `json:"message"`
	Timestamp      time.Time      `json:"timestamp"`
}

// WebhookNotifier posts a Notification as JSON to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier for url, or returns nil when url is
// empty.
func NewWebhookNotifier(url string) *WebhookNotifier {
	if url == "" {
		return nil
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, job model.BatchJob) error {
	payload, err := json.Marshal(Notification{
		Type:           "batch_finished",
		JobID:          job.ID,
		AccountID:      job.AccountID,
		State:          job.State,
		ProcessedFiles: job.ProcessedFiles,
		TotalFiles:     job.TotalFiles,
		TargetRecordID: job.TargetRecordID,
		ErrorKind:      string(job.ErrorKind),
		Message:        StatusMessage(job, job.Locale),
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		return eris.Wrap(err, "importer: marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "importer: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "importer: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("importer: webhook returned status %d", resp.StatusCode)
	}

	zap.L().Info("importer: completion notification sent",
		zap.String("batch_id", job.ID),
		zap.String("state", string(job.State)),
	)
	return nil
}
