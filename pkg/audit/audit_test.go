// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogEventWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Enabled: true, Output: &buf, IncludeMetadata: true})

	err := logger.LogEvent(context.Background(), &Event{
		EventType: EventManifestPersisted,
		Action:    "persist_manifest",
		Result:    ResultSuccess,
		Source:    "photos",
		Key:       "manifests/m.csv",
		Metadata:  map[string]any{"entries": 3},
	})
	require.NoError(t, err)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "MANIFEST_PERSISTED", lines[0]["event_type"])
	assert.Equal(t, "persist_manifest", lines[0]["action"])
	assert.Equal(t, "SUCCESS", lines[0]["result"])
	assert.Equal(t, "photos", lines[0]["source"])
	assert.Contains(t, lines[0]["metadata"], `"entries":3`)
}

func TestLogEventDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Enabled: false, Output: &buf})

	require.NoError(t, logger.LogEvent(context.Background(), &Event{
		EventType: EventRunStarted,
		Action:    "run_started",
		Result:    ResultSuccess,
	}))
	assert.Empty(t, buf.String())
}

func TestLogRunLifecycle(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Enabled: true, Output: &buf, IncludeMetadata: true})

	require.NoError(t, logger.LogRun(context.Background(), EventRunStarted, "run-1", nil))
	require.NoError(t, logger.LogRun(context.Background(), EventRunFinished, "run-1", map[string]any{"submitted": 2}))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "RUN_STARTED", lines[0]["event_type"])
	assert.Equal(t, "run-1", lines[0]["run_id"])
	assert.Equal(t, "RUN_FINISHED", lines[1]["event_type"])
	assert.Contains(t, lines[1]["metadata"], `"submitted":2`)
}

func TestLogJobFailureCarriesError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Enabled: true, Output: &buf})

	boom := errors.New("job engine down")
	require.NoError(t, logger.LogJob(context.Background(), "run-1", "photos", "", "manifests/m.csv", ResultFailure, boom))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "FAILURE", lines[0]["result"])
	assert.Equal(t, "job engine down", lines[0]["error"])
}

func TestLogCheckpointAndDrop(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Enabled: true, Output: &buf, IncludeMetadata: true})

	require.NoError(t, logger.LogCheckpoint(context.Background(), "photos", "incremental", "20250310T0000Z", "20250310T1200Z"))
	require.NoError(t, logger.LogDrop(context.Background(), "photos", "a/old.jpg", "late_arrival"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "CHECKPOINT_ADVANCED", lines[0]["event_type"])
	assert.Contains(t, lines[0]["metadata"], "20250310T1200Z")
	assert.Equal(t, "CHANGE_DROPPED", lines[1]["event_type"])
	assert.Contains(t, lines[1]["metadata"], "late_arrival")
}

func TestNoOpLoggerDiscards(t *testing.T) {
	logger := NewNoOpLogger()
	assert.NoError(t, logger.LogEvent(context.Background(), &Event{Action: "x"}))
	assert.NoError(t, logger.LogRun(context.Background(), EventRunStarted, "run-1", nil))
	assert.NoError(t, logger.LogDrop(context.Background(), "photos", "k", "excluded"))
}
