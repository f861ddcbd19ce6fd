// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package restore copies backed-up objects from the central store back into
// a source container. A restore run enumerates the backup data for one
// (source, criticality, backup type, generation) selection, persists a
// restore manifest naming every object, and then copies the objects back to
// the target with bounded concurrency.
package restore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/audit"
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/manifest"
)

var (
	// ErrNoBackupData is returned when the selection matches no backup data.
	ErrNoBackupData = errors.New("no backup data for selection")

	// ErrSourceRequired is returned when restoring without a source container.
	ErrSourceRequired = errors.New("restore source required")
)

const listPageSize = 1000

// TargetResolver maps a source container id to the backend objects are
// restored into.
type TargetResolver func(source string) (common.Storage, error)

// Config configures a Restorer.
type Config struct {
	// Central is the backup store the objects are read from.
	Central common.Storage

	// Targets resolves the destination backend per source container.
	Targets TargetResolver

	Logger adapters.Logger

	// Parallel bounds concurrent object copies. Zero uses 4.
	Parallel int
}

// Request selects which backup data to restore.
type Request struct {
	Source      string
	Criticality common.Criticality
	BackupType  common.BackupType

	// Generation defaults per backup type when empty.
	Generation common.Generation

	// KeyPrefix restricts the restore to keys under the prefix. Empty
	// restores everything the selection holds.
	KeyPrefix string
}

// Report summarizes one restore run.
type Report struct {
	RestoreID    string `json:"restore_id"`
	Source       string `json:"source"`
	ManifestPath string `json:"manifest_path"`
	Total        int    `json:"total"`
	Restored     int    `json:"restored"`
	Failed       int    `json:"failed"`
}

// Restorer executes restore runs against the central store.
type Restorer struct {
	central  common.Storage
	targets  TargetResolver
	logger   adapters.Logger
	parallel int
}

// New creates a Restorer.
func New(cfg Config) (*Restorer, error) {
	if cfg.Central == nil {
		return nil, common.ErrStorageRequired
	}
	if cfg.Targets == nil {
		return nil, fmt.Errorf("target resolver required")
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	return &Restorer{
		central:  cfg.Central,
		targets:  cfg.Targets,
		logger:   cfg.Logger,
		parallel: cfg.Parallel,
	}, nil
}

// Run restores one selection. The restore manifest is persisted before any
// copy starts, so a partially failed run can be re-driven from it.
func (r *Restorer) Run(ctx context.Context, req Request) (*Report, error) {
	if req.Source == "" {
		return nil, ErrSourceRequired
	}
	if _, err := common.ParseCriticality(string(req.Criticality)); err != nil {
		return nil, err
	}
	if _, err := common.ParseBackupType(string(req.BackupType)); err != nil {
		return nil, err
	}
	if req.Generation == "" {
		req.Generation = common.DefaultGeneration(req.BackupType)
	}
	if _, err := common.ParseGeneration(string(req.Generation)); err != nil {
		return nil, err
	}

	target, err := r.targets(req.Source)
	if err != nil {
		return nil, err
	}

	dataPrefix := (&manifest.Manifest{
		Criticality: req.Criticality,
		BackupType:  req.BackupType,
		Generation:  req.Generation,
	}).DataPrefix() + req.Source + "/"

	entries, err := r.collect(ctx, dataPrefix, req)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBackupData, dataPrefix)
	}

	report := &Report{
		RestoreID: uuid.NewString(),
		Source:    req.Source,
		Total:     len(entries),
	}
	report.ManifestPath = fmt.Sprintf("restore/manifests/criticality=%s/source=%s/restore-%s.csv",
		req.Criticality, req.Source, report.RestoreID)

	body, err := (&manifest.Manifest{Entries: entries}).EncodeBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode restore manifest: %w", err)
	}
	if err := r.central.PutWithContext(ctx, report.ManifestPath, bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("failed to persist restore manifest: %w", err)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.parallel)
	var restored, failed int
	var mu sync.Mutex

	for _, entry := range entries {
		wg.Add(1)
		sem <- struct{}{}
		go func(e manifest.Entry) {
			defer wg.Done()
			defer func() { <-sem }()

			err := r.copyBack(ctx, target, dataPrefix, e.Key)
			mu.Lock()
			if err != nil {
				failed++
				r.logger.Warn(ctx, "object restore failed",
					adapters.Field{Key: "source", Value: req.Source},
					adapters.Field{Key: "key", Value: e.Key},
					adapters.Field{Key: "error", Value: err.Error()})
			} else {
				restored++
			}
			mu.Unlock()
		}(entry)
	}
	wg.Wait()

	report.Restored = restored
	report.Failed = failed

	r.logger.Info(ctx, "restore run finished",
		adapters.Field{Key: "restore_id", Value: report.RestoreID},
		adapters.Field{Key: "source", Value: req.Source},
		adapters.Field{Key: "restored", Value: restored},
		adapters.Field{Key: "failed", Value: failed})
	_ = audit.FromContext(ctx).LogEvent(ctx, &audit.Event{
		EventType: audit.EventRestoreCompleted,
		Action:    "restore_source",
		Result:    restoreResult(failed),
		RunID:     report.RestoreID,
		Source:    req.Source,
		Key:       report.ManifestPath,
		Metadata:  map[string]any{"total": report.Total, "restored": restored, "failed": failed},
	})
	return report, nil
}

// collect enumerates the selection's backup keys and maps them back to
// source-relative keys.
func (r *Restorer) collect(ctx context.Context, dataPrefix string, req Request) ([]manifest.Entry, error) {
	var entries []manifest.Entry
	token := ""
	for {
		page, err := r.central.ListWithOptions(ctx, &common.ListOptions{
			Prefix:       dataPrefix,
			MaxResults:   listPageSize,
			ContinueFrom: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list backup data: %w", err)
		}

		for _, obj := range page.Objects {
			key := strings.TrimPrefix(obj.Key, dataPrefix)
			if key == "" {
				continue
			}
			if req.KeyPrefix != "" && !strings.HasPrefix(key, req.KeyPrefix) {
				continue
			}
			entries = append(entries, manifest.Entry{Bucket: req.Source, Key: key})
		}

		if !page.Truncated {
			return entries, nil
		}
		token = page.NextToken
	}
}

func (r *Restorer) copyBack(ctx context.Context, target common.Storage, dataPrefix, key string) error {
	rc, err := r.central.GetWithContext(ctx, dataPrefix+key)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	return target.PutWithContext(ctx, key, rc)
}

func restoreResult(failed int) audit.Result {
	if failed > 0 {
		return audit.ResultFailure
	}
	return audit.ResultSuccess
}
