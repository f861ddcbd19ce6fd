// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package orchestrator drives one scheduled backup run: discover sources,
// filter them by the trigger's criticality, generate a manifest per source,
// and submit bulk copy jobs for the manifests that have entries.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/audit"
	"github.com/gfsbak/gfsbak/pkg/batchcopy"
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/differ"
	"github.com/gfsbak/gfsbak/pkg/discovery"
	"github.com/gfsbak/gfsbak/pkg/manifest"
	"github.com/gfsbak/gfsbak/pkg/retention"
)

// DefaultWorkers bounds the per-source fan-out of one run.
const DefaultWorkers = 5

// ManifestRunner generates one source's manifest for a trigger. The differ
// implements this.
type ManifestRunner interface {
	Run(ctx context.Context, in *common.TriggerInput) (*differ.RunResult, error)
}

// RunnerFactory builds the ManifestRunner for one discovered source.
type RunnerFactory func(src discovery.Source) (ManifestRunner, error)

// Config configures an Orchestrator.
type Config struct {
	Registry discovery.Registry
	Runners  RunnerFactory
	Copier   batchcopy.BatchCopier

	// Table validates the trigger against the tier's retention rules before
	// any source work starts. Nil uses the default table.
	Table retention.Table

	// Reports persists the run report when set.
	Reports common.Storage

	Logger  adapters.Logger
	Workers int
}

// SourceStatus is the outcome of one source within a run.
type SourceStatus string

const (
	// SourceCompleted means the manifest was persisted and a copy job
	// submitted.
	SourceCompleted SourceStatus = "completed"

	// SourceSkippedEmpty means the manifest was persisted with zero entries
	// and no copy job was submitted.
	SourceSkippedEmpty SourceStatus = "skipped_empty"

	// SourceFailed means manifest generation or job submission failed. Other
	// sources in the run are unaffected.
	SourceFailed SourceStatus = "failed"
)

// SourceReport records one source's outcome.
type SourceReport struct {
	Source       string       `json:"source"`
	Status       SourceStatus `json:"status"`
	ManifestPath string       `json:"manifest_path,omitempty"`
	Entries      int          `json:"entries"`
	Partial      bool         `json:"partial,omitempty"`
	JobID        string       `json:"job_id,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// RunReport summarizes one orchestration run.
type RunReport struct {
	RunID       string             `json:"run_id"`
	BackupType  common.BackupType  `json:"backup_type"`
	Criticality common.Criticality `json:"criticality"`
	Generation  common.Generation  `json:"generation"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`

	Sources   []SourceReport `json:"sources"`
	Submitted int            `json:"submitted"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
}

// Path returns the deterministic report location for this run.
func (r *RunReport) Path() string {
	return fmt.Sprintf("reports/criticality=%s/backup_type=%s/run-%s.json",
		r.Criticality, r.BackupType, r.RunID)
}

// Orchestrator runs the backup state machine.
type Orchestrator struct {
	cfg    Config
	logger adapters.Logger

	now func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("source registry required")
	}
	if cfg.Runners == nil {
		return nil, fmt.Errorf("runner factory required")
	}
	if cfg.Copier == nil {
		return nil, fmt.Errorf("batch copier required")
	}
	if cfg.Table == nil {
		cfg.Table = retention.DefaultTable()
	}
	if err := cfg.Table.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger, now: time.Now}, nil
}

// Run executes one orchestration pass for the trigger. Per-source failures
// land in the report; Run itself fails only when the trigger is invalid, the
// tier forbids the backup type, discovery fails, or the report cannot be
// persisted.
func (o *Orchestrator) Run(ctx context.Context, in *common.TriggerInput) (*RunReport, error) {
	if in == nil {
		return nil, fmt.Errorf("trigger input required")
	}
	if in.Generation == "" {
		in.Generation = common.DefaultGeneration(in.BackupType)
	}
	if in.BackupType == common.BackupTypeIncremental {
		if _, err := o.cfg.Table.IncrementalFrequency(in.Criticality); err != nil {
			return nil, err
		}
	}

	report := &RunReport{
		RunID:       uuid.NewString(),
		BackupType:  in.BackupType,
		Criticality: in.Criticality,
		Generation:  in.Generation,
		StartedAt:   o.now().UTC(),
	}

	sources, err := o.cfg.Registry.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("source discovery failed: %w", err)
	}

	var matched []discovery.Source
	for _, src := range sources {
		if src.Criticality == in.Criticality {
			matched = append(matched, src)
		}
	}

	o.logger.Info(ctx, "run started",
		adapters.Field{Key: "run_id", Value: report.RunID},
		adapters.Field{Key: "backup_type", Value: string(in.BackupType)},
		adapters.Field{Key: "criticality", Value: string(in.Criticality)},
		adapters.Field{Key: "sources", Value: len(matched)})
	_ = audit.FromContext(ctx).LogRun(ctx, audit.EventRunStarted, report.RunID, map[string]any{
		"backup_type": string(in.BackupType),
		"criticality": string(in.Criticality),
		"generation":  string(in.Generation),
		"sources":     len(matched),
	})

	if len(matched) > 0 {
		pool := newSourcePool(o.cfg.Workers, len(matched), o.logger)
		pool.start(ctx, func(ctx context.Context, src discovery.Source) SourceReport {
			return o.processSource(ctx, in, report.RunID, src)
		})
		for _, src := range matched {
			pool.submit(src)
		}
		for i := 0; i < len(matched); i++ {
			report.Sources = append(report.Sources, <-pool.results)
		}
		pool.finish(ctx)
	}

	sort.Slice(report.Sources, func(i, j int) bool {
		return report.Sources[i].Source < report.Sources[j].Source
	})
	for _, sr := range report.Sources {
		switch sr.Status {
		case SourceCompleted:
			report.Submitted++
		case SourceSkippedEmpty:
			report.Skipped++
		case SourceFailed:
			report.Failed++
		}
	}
	report.FinishedAt = o.now().UTC()

	if err := o.persist(ctx, report); err != nil {
		return nil, err
	}

	o.logger.Info(ctx, "run finished",
		adapters.Field{Key: "run_id", Value: report.RunID},
		adapters.Field{Key: "submitted", Value: report.Submitted},
		adapters.Field{Key: "skipped", Value: report.Skipped},
		adapters.Field{Key: "failed", Value: report.Failed})
	_ = audit.FromContext(ctx).LogRun(ctx, audit.EventRunFinished, report.RunID, map[string]any{
		"submitted": report.Submitted,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})
	return report, nil
}

func (o *Orchestrator) processSource(ctx context.Context, in *common.TriggerInput, runID string, src discovery.Source) SourceReport {
	sr := SourceReport{Source: src.ID}

	runner, err := o.cfg.Runners(src)
	if err != nil {
		sr.Status = SourceFailed
		sr.Error = err.Error()
		o.logger.Error(ctx, "runner setup failed",
			adapters.Field{Key: "source", Value: src.ID},
			adapters.Field{Key: "error", Value: err.Error()})
		return sr
	}

	result, err := runner.Run(ctx, in)
	if err != nil {
		sr.Status = SourceFailed
		sr.Error = err.Error()
		o.logger.Error(ctx, "manifest generation failed",
			adapters.Field{Key: "source", Value: src.ID},
			adapters.Field{Key: "error", Value: err.Error()})
		return sr
	}
	sr.ManifestPath = result.ManifestPath
	sr.Entries = result.Entries
	sr.Partial = result.Partial

	if result.Entries == 0 {
		sr.Status = SourceSkippedEmpty
		o.logger.Info(ctx, "empty manifest, skipping copy job",
			adapters.Field{Key: "source", Value: src.ID},
			adapters.Field{Key: "manifest", Value: result.ManifestPath})
		return sr
	}

	prefix := (&manifest.Manifest{
		Criticality: in.Criticality,
		BackupType:  in.BackupType,
		Generation:  in.Generation,
	}).DataPrefix()

	jobID, err := o.cfg.Copier.Submit(ctx, result.ManifestPath, prefix, src.Destination)
	if err != nil {
		sr.Status = SourceFailed
		sr.Error = err.Error()
		o.logger.Error(ctx, "copy job submission failed",
			adapters.Field{Key: "source", Value: src.ID},
			adapters.Field{Key: "manifest", Value: result.ManifestPath},
			adapters.Field{Key: "error", Value: err.Error()})
		_ = audit.FromContext(ctx).LogJob(ctx, runID, src.ID, "", result.ManifestPath, audit.ResultFailure, err)
		return sr
	}

	sr.Status = SourceCompleted
	sr.JobID = jobID
	_ = audit.FromContext(ctx).LogJob(ctx, runID, src.ID, jobID, result.ManifestPath, audit.ResultSuccess, nil)
	return sr
}

func (o *Orchestrator) persist(ctx context.Context, report *RunReport) error {
	if o.cfg.Reports == nil {
		return nil
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	if err := o.cfg.Reports.PutWithContext(ctx, report.Path(), bytes.NewReader(body)); err != nil {
		return fmt.Errorf("failed to persist run report: %w", err)
	}
	return nil
}
