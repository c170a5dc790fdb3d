package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ahrdadan/uicheck/internal/runner"
	"github.com/ahrdadan/uicheck/internal/security"
)

// webhookPayload is posted to NotifyConfig.WebhookURL when a run finishes.
type webhookPayload struct {
	RunID      string          `json:"run_id"`
	Status     RunStatus       `json:"status"`
	Summary    *runner.Summary `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
	ResultURL  string          `json:"result_url"`
	FinishedAt int64           `json:"finished_at"`
}

// sendWebhook posts the final run status. Delivery is best effort.
func sendWebhook(ctx context.Context, client *http.Client, run *Run, resultURL string, logger *zap.Logger) {
	notify := run.Request.Notify
	if notify == nil || notify.WebhookURL == "" {
		return
	}

	data, err := json.Marshal(webhookPayload{
		RunID:      run.ID,
		Status:     run.Status,
		Summary:    run.Summary,
		Error:      run.Error,
		ResultURL:  resultURL,
		FinishedAt: run.CompletedAt,
	})
	if err != nil {
		logger.Warn("Failed to marshal webhook payload", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, notify.WebhookURL, bytes.NewReader(data))
	if err != nil {
		logger.Warn("Failed to create webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Uicheck-Event", fmt.Sprintf("run.%s", run.Status))
	if notify.WebhookSecret != "" {
		req.Header.Set("X-Uicheck-Signature", security.SignPayload(data, notify.WebhookSecret))
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("Failed to send webhook", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Warn("Webhook returned error status",
			zap.String("run_id", run.ID), zap.Int("status", resp.StatusCode))
	}
}
