// Package notify posts dump and restore outcomes to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	EventDumpCompleted    = "dump.completed"
	EventDumpFailed       = "dump.failed"
	EventRestoreCompleted = "restore.completed"
	EventRestoreFailed    = "restore.failed"
	EventAlert            = "dump.alert"
)

const userAgent = "datadumper/1.0"

// Notifier is nil when no webhook is configured; all methods are no-ops on
// a nil receiver.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewNotifier(webhookURL string, logger *slog.Logger) *Notifier {
	if webhookURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

type WebhookPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	DumpID    string    `json:"dump_id,omitempty"`
	Database  string    `json:"database,omitempty"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Details   Details   `json:"details,omitzero"`
}

type Details struct {
	Size       int64  `json:"size_bytes,omitempty"`
	Duration   int64  `json:"duration_ms,omitempty"`
	Tables     int    `json:"tables,omitempty"`
	Rows       int64  `json:"rows,omitempty"`
	Statements int64  `json:"statements,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Summary describes a finished run.
type Summary struct {
	DumpID     string
	Database   string
	Size       int64
	Duration   time.Duration
	Tables     int
	Rows       int64
	Statements int64
}

func (s Summary) details() Details {
	return Details{
		Size:       s.Size,
		Duration:   s.Duration.Milliseconds(),
		Tables:     s.Tables,
		Rows:       s.Rows,
		Statements: s.Statements,
	}
}

func (n *Notifier) NotifyDump(ctx context.Context, s Summary) {
	if n == nil {
		return
	}

	n.send(ctx, WebhookPayload{
		Event:    EventDumpCompleted,
		DumpID:   s.DumpID,
		Database: s.Database,
		Status:   "success",
		Message:  fmt.Sprintf("Dump %s of %s completed: %d table(s), %d row(s)", s.DumpID, s.Database, s.Tables, s.Rows),
		Details:  s.details(),
	})
}

func (n *Notifier) NotifyRestore(ctx context.Context, s Summary) {
	if n == nil {
		return
	}

	n.send(ctx, WebhookPayload{
		Event:    EventRestoreCompleted,
		DumpID:   s.DumpID,
		Database: s.Database,
		Status:   "success",
		Message:  fmt.Sprintf("Dump %s restored into %s: %d statement(s)", s.DumpID, s.Database, s.Statements),
		Details:  s.details(),
	})
}

// NotifyFailure reports a failed dump, or a failed restore when restore is
// true.
func (n *Notifier) NotifyFailure(ctx context.Context, dumpID string, restore bool, err error) {
	if n == nil {
		return
	}

	event, verb := EventDumpFailed, "Dump"
	if restore {
		event, verb = EventRestoreFailed, "Restore of"
	}

	n.send(ctx, WebhookPayload{
		Event:   event,
		DumpID:  dumpID,
		Status:  "failure",
		Message: fmt.Sprintf("%s %s failed", verb, dumpID),
		Details: Details{Error: err.Error()},
	})
}

func (n *Notifier) NotifyAlert(ctx context.Context, message string) {
	if n == nil {
		return
	}

	n.send(ctx, WebhookPayload{
		Event:   EventAlert,
		Status:  "alert",
		Message: message,
	})
}

func (n *Notifier) send(ctx context.Context, payload WebhookPayload) {
	payload.Timestamp = n.now().UTC()

	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to marshal webhook payload", "error", err)
		return
	}

	// The webhook outlives a canceled run so failures still get reported.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(data))
	if err != nil {
		n.logger.Error("failed to create webhook request", "error", err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Error("failed to send webhook", "event", payload.Event, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn("webhook returned error status", "event", payload.Event, "status", resp.StatusCode)
	} else {
		n.logger.Debug("webhook sent", "event", payload.Event)
	}
}
