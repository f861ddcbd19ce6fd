// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package audit records an append-only trail of backup pipeline activity:
// run lifecycle, manifest writes, copy job submissions, checkpoint movement
// and dropped change events.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"
)

// EventType categorizes an audit event.
type EventType string

const (
	// EventRunStarted marks the start of one orchestration run.
	EventRunStarted EventType = "RUN_STARTED"

	// EventRunFinished marks the end of one orchestration run.
	EventRunFinished EventType = "RUN_FINISHED"

	// EventManifestPersisted marks a manifest write to the central store.
	EventManifestPersisted EventType = "MANIFEST_PERSISTED"

	// EventJobSubmitted marks a bulk copy job submission.
	EventJobSubmitted EventType = "JOB_SUBMITTED"

	// EventCheckpointAdvanced marks a checkpoint marker moving forward.
	EventCheckpointAdvanced EventType = "CHECKPOINT_ADVANCED"

	// EventChangeDropped marks a change event excluded from backup, with
	// the drop reason.
	EventChangeDropped EventType = "CHANGE_DROPPED"

	// EventDeadLettered marks a poison message moved to the dead letter
	// target.
	EventDeadLettered EventType = "DEAD_LETTERED"

	// EventObjectWritten marks a direct write through an audited store.
	EventObjectWritten EventType = "OBJECT_WRITTEN"

	// EventObjectDeleted marks a direct delete through an audited store.
	EventObjectDeleted EventType = "OBJECT_DELETED"

	// EventObjectArchived marks a backup object transitioned into an
	// archive class.
	EventObjectArchived EventType = "OBJECT_ARCHIVED"

	// EventRestoreCompleted marks the end of a restore run.
	EventRestoreCompleted EventType = "RESTORE_COMPLETED"
)

// Result is the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Action    string    `json:"action"`
	Result    Result    `json:"result"`

	RunID  string `json:"run_id,omitempty"`
	Source string `json:"source,omitempty"`
	Key    string `json:"key,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	// Metadata carries event-specific detail (window ids, markers, counts).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Logger is the audit sink contract.
type Logger interface {
	// LogEvent records one audit event.
	LogEvent(ctx context.Context, event *Event) error

	// LogRun records a run lifecycle transition.
	LogRun(ctx context.Context, eventType EventType, runID string, metadata map[string]any) error

	// LogManifest records a manifest persisted for a source.
	LogManifest(ctx context.Context, runID, source, path string, entries int, result Result, err error) error

	// LogJob records a copy job submission.
	LogJob(ctx context.Context, runID, source, jobID, manifestRef string, result Result, err error) error

	// LogCheckpoint records a checkpoint advancing.
	LogCheckpoint(ctx context.Context, source, backupType, oldMarker, newMarker string) error

	// LogDrop records a change event excluded from backup.
	LogDrop(ctx context.Context, source, key, reason string) error
}

// Config holds configuration for the default audit logger.
type Config struct {
	Enabled bool

	// Output defaults to stdout. The trail is one JSON object per line.
	Output io.Writer

	// IncludeMetadata controls whether per-event metadata is serialized.
	IncludeMetadata bool
}

// DefaultConfig returns an enabled stdout JSON configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Output:          os.Stdout,
		IncludeMetadata: true,
	}
}

// SlogLogger writes the audit trail through slog's JSON handler.
type SlogLogger struct {
	config *Config
	logger *slog.Logger
}

// NewLogger creates an audit logger with the given configuration.
func NewLogger(config *Config) *SlogLogger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}
	handler := slog.NewJSONHandler(config.Output, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &SlogLogger{config: config, logger: slog.New(handler)}
}

// LogEvent records one audit event.
func (a *SlogLogger) LogEvent(ctx context.Context, event *Event) error {
	if !a.config.Enabled || event == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []slog.Attr{
		slog.Time("timestamp", event.Timestamp),
		slog.String("event_type", string(event.EventType)),
		slog.String("action", event.Action),
		slog.String("result", string(event.Result)),
	}
	if event.RunID != "" {
		attrs = append(attrs, slog.String("run_id", event.RunID))
	}
	if event.Source != "" {
		attrs = append(attrs, slog.String("source", event.Source))
	}
	if event.Key != "" {
		attrs = append(attrs, slog.String("key", event.Key))
	}
	if event.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", event.ErrorMessage))
	}
	if a.config.IncludeMetadata && len(event.Metadata) > 0 {
		metadataJSON, _ := json.Marshal(event.Metadata) //nolint:errcheck // marshaling simple map types is safe
		attrs = append(attrs, slog.String("metadata", string(metadataJSON)))
	}

	a.logger.LogAttrs(ctx, slog.LevelInfo, "Audit event: "+event.Action, attrs...)
	return nil
}

// LogRun records a run lifecycle transition.
func (a *SlogLogger) LogRun(ctx context.Context, eventType EventType, runID string, metadata map[string]any) error {
	action := "run_started"
	if eventType == EventRunFinished {
		action = "run_finished"
	}
	return a.LogEvent(ctx, &Event{
		EventType: eventType,
		Action:    action,
		Result:    ResultSuccess,
		RunID:     runID,
		Metadata:  metadata,
	})
}

// LogManifest records a manifest persisted for a source.
func (a *SlogLogger) LogManifest(ctx context.Context, runID, source, path string, entries int, result Result, err error) error {
	event := &Event{
		EventType: EventManifestPersisted,
		Action:    "persist_manifest",
		Result:    result,
		RunID:     runID,
		Source:    source,
		Key:       path,
		Metadata:  map[string]any{"entries": entries},
	}
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return a.LogEvent(ctx, event)
}

// LogJob records a copy job submission.
func (a *SlogLogger) LogJob(ctx context.Context, runID, source, jobID, manifestRef string, result Result, err error) error {
	event := &Event{
		EventType: EventJobSubmitted,
		Action:    "submit_copy_job",
		Result:    result,
		RunID:     runID,
		Source:    source,
		Key:       manifestRef,
		Metadata:  map[string]any{"job_id": jobID},
	}
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return a.LogEvent(ctx, event)
}

// LogCheckpoint records a checkpoint advancing.
func (a *SlogLogger) LogCheckpoint(ctx context.Context, source, backupType, oldMarker, newMarker string) error {
	return a.LogEvent(ctx, &Event{
		EventType: EventCheckpointAdvanced,
		Action:    "advance_checkpoint",
		Result:    ResultSuccess,
		Source:    source,
		Metadata: map[string]any{
			"backup_type": backupType,
			"old_marker":  oldMarker,
			"new_marker":  newMarker,
		},
	})
}

// LogDrop records a change event excluded from backup.
func (a *SlogLogger) LogDrop(ctx context.Context, source, key, reason string) error {
	return a.LogEvent(ctx, &Event{
		EventType: EventChangeDropped,
		Action:    "drop_change",
		Result:    ResultSuccess,
		Source:    source,
		Key:       key,
		Metadata:  map[string]any{"reason": reason},
	})
}

// NoOpLogger discards all audit events.
type NoOpLogger struct{}

// NewNoOpLogger creates an audit logger that discards everything.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogEvent(ctx context.Context, event *Event) error { return nil }

func (n *NoOpLogger) LogRun(ctx context.Context, eventType EventType, runID string, metadata map[string]any) error {
	return nil
}

func (n *NoOpLogger) LogManifest(ctx context.Context, runID, source, path string, entries int, result Result, err error) error {
	return nil
}

func (n *NoOpLogger) LogJob(ctx context.Context, runID, source, jobID, manifestRef string, result Result, err error) error {
	return nil
}

func (n *NoOpLogger) LogCheckpoint(ctx context.Context, source, backupType, oldMarker, newMarker string) error {
	return nil
}

func (n *NoOpLogger) LogDrop(ctx context.Context, source, key, reason string) error { return nil }

var _ Logger = (*SlogLogger)(nil)
var _ Logger = (*NoOpLogger)(nil)
