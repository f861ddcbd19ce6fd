// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gfsbak/gfsbak/pkg/checkpoint"
	"github.com/gfsbak/gfsbak/pkg/orchestrator"
	"github.com/gfsbak/gfsbak/pkg/restore"
	"github.com/gfsbak/gfsbak/pkg/transition"
)

// OutputFormat defines the output format type.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// FormatRunReport renders an orchestration run report.
func FormatRunReport(report *orchestrator.RunReport, format OutputFormat) string {
	if format == FormatJSON {
		return formatJSON(report)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s/%s/%s)\n", report.RunID, report.Criticality, report.BackupType, report.Generation)
	fmt.Fprintf(&b, "Started: %s  Finished: %s\n",
		report.StartedAt.Format(time.RFC3339), report.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Submitted: %d  Skipped: %d  Failed: %d\n", report.Submitted, report.Skipped, report.Failed)
	for _, s := range report.Sources {
		fmt.Fprintf(&b, "  %-20s %-14s entries=%d", s.Source, s.Status, s.Entries)
		if s.JobID != "" {
			fmt.Fprintf(&b, " job=%s", s.JobID)
		}
		if s.Partial {
			b.WriteString(" partial")
		}
		if s.Error != "" {
			fmt.Fprintf(&b, " error=%q", s.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatAggregateResult renders an aggregation session summary.
func FormatAggregateResult(result *AggregateResult, format OutputFormat) string {
	if format == FormatJSON {
		return formatJSON(result)
	}
	return fmt.Sprintf("Batches: %d  Received: %d  Admitted: %d  Dropped: %d  Poison: %d  Manifests: %d\n",
		result.Batches, result.Received, result.Admitted, result.Dropped, result.Poison, result.Manifests)
}

// FormatCheckpoint renders a checkpoint marker.
func FormatCheckpoint(source string, cp *checkpoint.Checkpoint, format OutputFormat) string {
	if format == FormatJSON {
		return formatJSON(map[string]any{
			"source":     source,
			"marker":     cp.Marker,
			"updated_at": cp.UpdatedAt,
		})
	}
	return fmt.Sprintf("Source: %s\nMarker: %s\nUpdated: %s\n",
		source, cp.Marker, cp.UpdatedAt.Format(time.RFC3339))
}

// FormatTransitionReport renders an archive transition pass summary.
func FormatTransitionReport(report *transition.Report, format OutputFormat) string {
	if format == FormatJSON {
		return formatJSON(report)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Transition %s\n", report.Criticality)
	fmt.Fprintf(&b, "Examined: %d  Archived: %d  Failed: %d\n", report.Examined, report.Archived, report.Failed)
	classes := make([]string, 0, len(report.ByClass))
	for class := range report.ByClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		fmt.Fprintf(&b, "  %-14s %d\n", class, report.ByClass[class])
	}
	return b.String()
}

// FormatRestoreReport renders a restore run summary.
func FormatRestoreReport(report *restore.Report, format OutputFormat) string {
	if format == FormatJSON {
		return formatJSON(report)
	}
	return fmt.Sprintf("Restore %s (source %s)\nManifest: %s\nTotal: %d  Restored: %d  Failed: %d\n",
		report.RestoreID, report.Source, report.ManifestPath,
		report.Total, report.Restored, report.Failed)
}

// FormatError renders an error for the terminal.
func FormatError(err error, format OutputFormat) string {
	if format == FormatJSON {
		return formatJSON(map[string]string{"error": err.Error()})
	}
	return "Error: " + err.Error()
}

func formatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(data) + "\n"
}
